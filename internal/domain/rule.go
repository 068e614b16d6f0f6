package domain

// LanguageAny marks a rule as applicable regardless of detected language.
const LanguageAny = "any"

// Priority bounds for rule configurations.
const (
	MinPriority = 0
	MaxPriority = 100
)

// RuleConfig defines a single intent-matching rule.
type RuleConfig struct {
	ID     string `json:"id"`
	Intent string `json:"intent"` // conversational node this rule covers
	Name   string `json:"name,omitempty"`

	// Version is a monotonically increasing revision of the pattern body.
	Version int `json:"version"`

	// Priority is coarse precedence within MinPriority..MaxPriority.
	Priority int `json:"priority"`

	// Language restricts applicability ("pt", "es", "en" or "any").
	Language string `json:"language"`

	// Channels optionally restricts which channels the rule serves.
	Channels []string `json:"channels,omitempty"`

	// PrefilterLiteral must occur in normalized input before the pattern
	// is ever evaluated. Required, minimum length enforced at load.
	PrefilterLiteral string `json:"prefilterLiteral"`

	// Pattern is the regex source, compiled once at load time.
	Pattern string `json:"pattern"`

	// Slots declares the named capture groups the pattern must expose.
	Slots []string `json:"slots,omitempty"`

	// Guard is an optional CEL predicate over request metadata
	// (channel, locale, hour). A false or erroring guard excludes the
	// rule from candidacy for that request.
	Guard string `json:"guard,omitempty"`

	// RiskCost is the configured cost of misclassifying into this rule.
	// Zero means the engine default.
	RiskCost float64 `json:"riskCost,omitempty"`

	// Case-insensitive and multiline matching must be declared here,
	// never smuggled in via inline pattern flags.
	CaseInsensitive bool   `json:"caseInsensitive,omitempty"`
	Multiline       bool   `json:"multiline,omitempty"`
	FlagReason      string `json:"flagReason,omitempty"`

	Enabled bool `json:"enabled"`
}

// RuleDocument is the external rule definition document consumed by the
// registry. The whole document loads atomically or not at all.
type RuleDocument struct {
	Version int           `json:"version"`
	Rules   []*RuleConfig `json:"rules"`
}

// RuleMetadata is the read-only surface exposed for coverage auditing:
// enough for an external auditor to diff rule ids and intents against the
// enumerated conversation graph.
type RuleMetadata struct {
	ID       string `json:"id"`
	Intent   string `json:"intent"`
	Version  int    `json:"version"`
	Priority int    `json:"priority"`
	Language string `json:"language"`
	Hits     int64  `json:"hits,omitempty"`
}
