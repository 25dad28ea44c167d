package classcache

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mikey/sortana/internal/core"
)

// Decode parses a stored verdict map in any of its historical shapes
func Decode(raw []byte) (map[string]core.CacheEntry, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode classification cache: %w", err)
	}
	return decodeEntries(m), nil
}

// decodeEntries accepts both the unified entry objects and the older shape
// where a key mapped directly to a bare boolean (or null).
func decodeEntries(raw map[string]json.RawMessage) map[string]core.CacheEntry {
	entries := make(map[string]core.CacheEntry, len(raw))
	for key, value := range raw {
		value = bytes.TrimSpace(value)
		if len(value) > 0 && value[0] == '{' {
			var entry struct {
				Matched json.RawMessage `json:"matched"`
				Reason  json.RawMessage `json:"reason"`
			}
			if err := json.Unmarshal(value, &entry); err != nil {
				continue
			}
			entries[key] = core.CacheEntry{
				Matched: decodeBool(entry.Matched),
				Reason:  decodeString(entry.Reason),
			}
			continue
		}
		entries[key] = core.CacheEntry{Matched: decodeBool(value)}
	}
	return entries
}

// mergeReasons folds reason-only entries into the unified map
func mergeReasons(entries map[string]core.CacheEntry, reasons map[string]string) {
	for key, reason := range reasons {
		entry := entries[key]
		entry.Reason = reason
		entries[key] = entry
	}
}

func decodeBool(raw json.RawMessage) *bool {
	var b *bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil
	}
	return b
}

func decodeString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
