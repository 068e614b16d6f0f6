package domain

import (
	"time"
)

// Outcome is the kind of classification decision.
type Outcome string

const (
	OutcomeMatched   Outcome = "matched"
	OutcomeAmbiguous Outcome = "ambiguous"
	OutcomeNoMatch   Outcome = "no_match"
)

// Ambiguity reasons.
const (
	ReasonTie = "tie"
)

// Span is a matched region in the normalized input, byte offsets.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// MatchCandidate is the per-request record of one rule's match attempt.
// Ephemeral: it lives for a single classification call and is never stored.
type MatchCandidate struct {
	RuleID      string            `json:"ruleId"`
	Intent      string            `json:"intent"`
	Priority    int               `json:"priority"`
	Specificity int               `json:"specificity"` // structural score + span bonus
	RiskCost    float64           `json:"riskCost"`
	Spans       []Span            `json:"spans,omitempty"`
	Slots       map[string]string `json:"slots,omitempty"`
	TimedOut    bool              `json:"timedOut,omitempty"`
	ElapsedUs   int64             `json:"elapsedUs"`
}

// Decision is the outcome of one classification call. It is returned
// synchronously to the caller; the engine keeps no reference to it.
type Decision struct {
	Outcome Outcome `json:"outcome"`

	// Winner, set when Outcome is matched.
	RuleID      string            `json:"ruleId,omitempty"`
	Intent      string            `json:"intent,omitempty"`
	Slots       map[string]string `json:"slots,omitempty"`
	Specificity int               `json:"specificity,omitempty"`

	// Margin is the specificity gap between the top two ranked
	// candidates. Zero when fewer than two candidates matched.
	Margin float64 `json:"margin"`

	// TopCandidates carries the tied candidates when Outcome is
	// ambiguous, for caller-side disambiguation.
	TopCandidates []MatchCandidate `json:"topCandidates,omitempty"`
	Reason        string           `json:"reason,omitempty"`

	Language string `json:"language,omitempty"`
	Mixed    bool   `json:"mixed,omitempty"`

	CandidatesEvaluated int   `json:"candidatesEvaluated"`
	TimeoutCount        int   `json:"timeoutCount,omitempty"`
	SnapshotVersion     int64 `json:"snapshotVersion"`
	DurationUs          int64 `json:"durationUs"`
}

// RequestMeta carries per-request metadata alongside the utterance.
type RequestMeta struct {
	TraceID    string    `json:"traceId,omitempty"`
	SessionID  string    `json:"sessionId,omitempty"`
	Channel    string    `json:"channel,omitempty"`
	Locale     string    `json:"locale,omitempty"`
	ReceivedAt time.Time `json:"receivedAt,omitempty"`
}
