package mailstore

import (
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikey/sortana/internal/core"
)

func TestMessageIDRoundTrip(t *testing.T) {
	id := MessageID("Lists:golang", 4021)
	assert.Equal(t, "Lists:golang:4021", string(id))

	folder, uid, err := ParseMessageID(id)
	require.NoError(t, err)
	assert.Equal(t, "Lists:golang", folder)
	assert.Equal(t, imap.UID(4021), uid)
}

func TestParseMessageIDRejectsMalformed(t *testing.T) {
	for _, id := range []string{"", "INBOX", ":12", "INBOX:", "INBOX:abc", "INBOX:0"} {
		_, _, err := ParseMessageID(core.MessageID(id))
		assert.Error(t, err, id)
	}
}

func TestKeywordsSkipSystemFlags(t *testing.T) {
	flags := []imap.Flag{imap.FlagSeen, "$label1", imap.FlagFlagged, "$Junk", "work"}
	assert.Equal(t, []string{"$label1", "work"}, keywords(flags))
}
