package core

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrEmptyCriterion is returned when a rule without a criterion is persisted
var ErrEmptyCriterion = errors.New("rule criterion must not be empty")

// Rule is one user-defined classification rule
type Rule struct {
	Criterion      string     `json:"criterion"`
	Enabled        bool       `json:"enabled"`
	Actions        ActionList `json:"actions"`
	StopProcessing bool       `json:"stopProcessing"`
	UnreadOnly     bool       `json:"unreadOnly"`
	MinAgeDays     *float64   `json:"minAgeDays,omitempty"`
	MaxAgeDays     *float64   `json:"maxAgeDays,omitempty"`
	Accounts       []string   `json:"accounts,omitempty"`
	Folders        []string   `json:"folders,omitempty"`
}

// UnmarshalJSON decodes a rule; a rule without an "enabled" field is enabled
func (r *Rule) UnmarshalJSON(data []byte) error {
	type plain Rule
	p := plain{Enabled: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Rule(p)
	return nil
}

// Validate checks the invariants required before a rule is persisted
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Criterion) == "" {
		return ErrEmptyCriterion
	}
	return nil
}
