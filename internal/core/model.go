package core

import (
	"time"
)

// MessageID identifies a message inside the mail store
type MessageID string

// Part is one node of a message's MIME tree
type Part struct {
	ContentType string
	Disposition string
	Name        string
	Headers     map[string][]string
	Body        string
	Size        int64
	Parts       []*Part
}

// Message is the structured representation of a full message
type Message struct {
	ID      MessageID
	Headers map[string][]string
	Parts   []*Part
}

// MessageHeader carries the metadata the rule engine filters on
type MessageHeader struct {
	ID      MessageID
	Subject string
	Author  string
	Date    time.Time
	Read    bool
	Junk    bool
	Flagged bool
	Tags    []string
	Account string
	Folder  string
}

// MessageUpdate describes a partial mutation of a message's state.
// Nil fields are left untouched.
type MessageUpdate struct {
	Tags    []string
	Read    *bool
	Junk    *bool
	Flagged *bool
}

// MessagePage is one page of a folder enumeration
type MessagePage struct {
	IDs  []MessageID
	Next string
}

// CacheEntry is a cached verdict for one (message, criterion) pair.
// A nil Matched means the pair has not been classified yet.
type CacheEntry struct {
	Matched *bool  `json:"matched"`
	Reason  string `json:"reason"`
}

// Verdict is the outcome of one classification
type Verdict struct {
	Matched bool
	Reason  string
}

// GenerationParams are the sampling parameters sent with every classification request
type GenerationParams struct {
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	Seed              int     `json:"seed"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	TopK              int     `json:"top_k"`
	MinP              float64 `json:"min_p"`
	PresencePenalty   float64 `json:"presence_penalty"`
	FrequencyPenalty  float64 `json:"frequency_penalty"`
	TypicalP          float64 `json:"typical_p"`
	TFS               float64 `json:"tfs"`
}

// DefaultGenerationParams returns the built-in sampling defaults
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		MaxTokens:         4096,
		Temperature:       0.6,
		TopP:              0.95,
		Seed:              -1,
		RepetitionPenalty: 1.0,
		TopK:              20,
		MinP:              0,
		PresencePenalty:   0,
		FrequencyPenalty:  0,
		TypicalP:          1,
		TFS:               1,
	}
}

// CompletionRequest is what the classifier hands to an LLM backend
type CompletionRequest struct {
	Endpoint string
	Prompt   string
	Params   GenerationParams
}

// TimingStats is the persisted running aggregate of job durations in milliseconds
type TimingStats struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"`
	Total float64 `json:"total"`
	Last  float64 `json:"last"`
}
