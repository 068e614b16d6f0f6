package domain

import (
	"time"
)

// TelemetryRecord is the privacy-safe structured record of one
// classification. It never carries the raw utterance: only a keyed hash
// of a length-truncated, case/diacritic-normalized copy.
type TelemetryRecord struct {
	TraceID   string    `json:"traceId"`
	Timestamp time.Time `json:"timestamp"`
	Engine    string    `json:"engine"`

	SnapshotVersion int64   `json:"snapshotVersion"`
	Outcome         string  `json:"outcome"`
	RuleID          string  `json:"ruleId,omitempty"`
	Intent          string  `json:"intent,omitempty"`
	CandidateCount  int     `json:"candidateCount"`
	TimeoutCount    int     `json:"timeoutCount,omitempty"`
	Margin          float64 `json:"margin"`

	Language string `json:"language,omitempty"`
	Mixed    bool   `json:"mixed,omitempty"`

	// TextHash is hex(HMAC-SHA256(key, normalized-and-truncated text)).
	TextHash string `json:"textHash"`

	Channel         string `json:"channel,omitempty"`
	AttemptBudgetMs int64  `json:"attemptBudgetMs"`
	DurationUs      int64  `json:"durationUs"`
}
