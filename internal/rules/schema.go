package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mikey/sortana/internal/core"
)

// SchemaVersion is the version written by Save
const SchemaVersion = 2

type envelope struct {
	Version int               `json:"version"`
	Rules   []json.RawMessage `json:"rules"`
}

// storedRule accepts every historical rule shape
type storedRule struct {
	Criterion      string          `json:"criterion"`
	Enabled        *bool           `json:"enabled"`
	Actions        core.ActionList `json:"actions"`
	StopProcessing bool            `json:"stopProcessing"`
	UnreadOnly     bool            `json:"unreadOnly"`
	MinAgeDays     *float64        `json:"minAgeDays"`
	MaxAgeDays     *float64        `json:"maxAgeDays"`
	Accounts       []string        `json:"accounts"`
	Folders        []string        `json:"folders"`

	// version 1 carried at most one tag and one move target
	Tag    string `json:"tag"`
	MoveTo string `json:"moveTo"`
}

// Upgrade decodes a stored rule document of any known version into the
// canonical form. upgraded reports whether the stored form was older than
// SchemaVersion and should be rewritten.
func Upgrade(raw []byte) (rules []core.Rule, upgraded bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false, nil
	}

	var items []json.RawMessage
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, false, fmt.Errorf("failed to decode legacy rule list: %w", err)
		}
		upgraded = true
	case '{':
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, false, fmt.Errorf("failed to decode rule envelope: %w", err)
		}
		if env.Version > SchemaVersion {
			return nil, false, fmt.Errorf("unsupported rule schema version %d", env.Version)
		}
		items = env.Rules
		upgraded = env.Version < SchemaVersion
	default:
		return nil, false, fmt.Errorf("unrecognized rule document")
	}

	rules = make([]core.Rule, 0, len(items))
	for _, item := range items {
		rule, ok := decodeRule(item)
		if !ok {
			upgraded = true
			continue
		}
		rules = append(rules, rule)
	}
	return rules, upgraded, nil
}

// decodeRule converts one stored rule; ok is false for entries that cannot be kept
func decodeRule(raw json.RawMessage) (core.Rule, bool) {
	var s storedRule
	if err := json.Unmarshal(raw, &s); err != nil {
		return core.Rule{}, false
	}
	if strings.TrimSpace(s.Criterion) == "" {
		return core.Rule{}, false
	}

	actions := s.Actions
	if len(actions) == 0 {
		if s.Tag != "" {
			actions = append(actions, core.TagAction{TagKey: s.Tag})
		}
		if s.MoveTo != "" {
			actions = append(actions, core.MoveAction{Folder: s.MoveTo})
		}
	}
	if actions == nil {
		actions = core.ActionList{}
	}

	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}

	return core.Rule{
		Criterion:      s.Criterion,
		Enabled:        enabled,
		Actions:        actions,
		StopProcessing: s.StopProcessing,
		UnreadOnly:     s.UnreadOnly,
		MinAgeDays:     s.MinAgeDays,
		MaxAgeDays:     s.MaxAgeDays,
		Accounts:       s.Accounts,
		Folders:        s.Folders,
	}, true
}

// Encode produces the canonical stored document for rules
func Encode(rules []core.Rule) ([]byte, error) {
	if rules == nil {
		rules = []core.Rule{}
	}
	return json.Marshal(struct {
		Version int         `json:"version"`
		Rules   []core.Rule `json:"rules"`
	}{SchemaVersion, rules})
}
