package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleEnabledDefaultsToTrue(t *testing.T) {
	var r Rule
	require.NoError(t, json.Unmarshal([]byte(`{"criterion": "is an invoice"}`), &r))
	assert.True(t, r.Enabled)

	require.NoError(t, json.Unmarshal([]byte(`{"criterion": "is an invoice", "enabled": false}`), &r))
	assert.False(t, r.Enabled)
}
