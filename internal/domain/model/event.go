// Package model contains the records passed between the service and the journal.
package model

import (
	"encoding/json"
	"time"
)

// TokenUsage is the upstream token accounting of one generation.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ActivityEvent is one user action logged to the daily activity file.
type ActivityEvent struct {
	Timestamp    time.Time      `json:"timestamp"`
	SessionID    string         `json:"session_id"`
	ActivityType string         `json:"activity_type"`
	Data         map[string]any `json:"data"`
}

// GenerationRecord captures one option generation attempt, success or not.
// Request and Options hold JSON documents so the journal stays independent of
// the worksheet package.
type GenerationRecord struct {
	Timestamp  time.Time       `json:"timestamp"`
	SessionID  string          `json:"session_id"`
	Model      string          `json:"model"`
	Request    json.RawMessage `json:"request"`
	Prompt     string          `json:"prompt"`
	Response   string          `json:"response"`
	Options    json.RawMessage `json:"options,omitempty"`
	TokensUsed TokenUsage      `json:"tokens_used"`
	Attempts   int             `json:"attempts"`
	DurationMs int64           `json:"duration_ms"`
	Error      string          `json:"error,omitempty"`
	ErrorKind  string          `json:"error_kind,omitempty"`
}

// ReportRecord is a full worksheet snapshot saved at the end of a session.
type ReportRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id"`
	Step0     json.RawMessage `json:"step0"`
	Step1     json.RawMessage `json:"step1"`
	Step2     json.RawMessage `json:"step2"`
	Step3     json.RawMessage `json:"step3"`
	Step4     json.RawMessage `json:"step4"`
}

// Kind selects the journal file a record goes to.
type Kind string

// Journal kinds.
const (
	KindActivity   Kind = "activity"
	KindGeneration Kind = "generation"
	KindReport     Kind = "report"
)

// Entry is the unit carried on the journal queue.
type Entry struct {
	Kind      Kind
	Timestamp time.Time
	Payload   any
}
