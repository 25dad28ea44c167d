// Package mailstore provides core.MailStore implementations.
package mailstore

import (
	"context"
	"errors"

	"github.com/mikey/sortana/internal/core"
)

// ErrUnknownFolder is returned when a folder does not exist
var ErrUnknownFolder = errors.New("unknown folder")

// ErrNoOutbox is returned by forward and reply when no relay is configured
var ErrNoOutbox = errors.New("no outbound relay configured")

// Outbox composes and sends forwards and replies of raw messages
type Outbox interface {
	Forward(ctx context.Context, raw []byte, address string) error
	Reply(ctx context.Context, raw []byte, replyType core.ReplyType) error
}

// Keywords used for message state that has no standard IMAP flag
const (
	junkKeyword    = "$Junk"
	notJunkKeyword = "$NotJunk"
)
