// Package rules provides rule compilation, the literal prefilter index,
// and the candidate matching engine.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/opensource-dialog/shrike/internal/domain"
	"github.com/opensource-dialog/shrike/internal/safety"
	"github.com/opensource-dialog/shrike/internal/text"
)

// LoadError reports one rule that failed validation or compilation.
// Any LoadError fails the entire load; no partial registries are served.
type LoadError struct {
	RuleID string
	Reason string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("rule %s: %s", e.RuleID, e.Reason)
}

// CompiledRule is one validated, compiled rule inside a snapshot.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Pattern *regexp.Regexp
	Profile *safety.Profile

	// Guard is nil when the rule declares none.
	Guard cel.Program

	// RiskCost with the engine default already applied.
	RiskCost float64

	// Literal is the prefilter literal in normalized form.
	Literal string

	channels map[string]struct{}
}

// AppliesTo reports whether the rule serves the detected language and
// request channel. Language tagging is the coarse candidate filter; the
// code-switch detector's output feeds it.
func (r *CompiledRule) AppliesTo(language, channel string) bool {
	if r.Config.Language != domain.LanguageAny && language != "" && r.Config.Language != language {
		return false
	}
	if len(r.channels) > 0 && channel != "" {
		if _, ok := r.channels[channel]; !ok {
			return false
		}
	}
	return true
}

// Snapshot is the immutable compiled rule set. Built once per load,
// swapped atomically, safe for unlimited concurrent readers.
type Snapshot struct {
	Version         int64
	DocumentVersion int
	BuiltAt         time.Time

	rules   []*CompiledRule // sorted by priority desc, then id asc
	byID    map[string]*CompiledRule
	index   *LiteralIndex
	litRule [][]int // literal id -> positions in rules
}

// Len returns the number of rules in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.rules)
}

// Rule returns a rule by id.
func (s *Snapshot) Rule(id string) (*CompiledRule, bool) {
	r, ok := s.byID[id]
	return r, ok
}

// Rules returns the snapshot's rules in candidate order.
func (s *Snapshot) Rules() []*CompiledRule {
	return s.rules
}

// Candidates returns every rule whose prefilter literal occurs in the
// normalized text, in deterministic (priority desc, id asc) order. This
// is the sole admission gate into pattern matching.
func (s *Snapshot) Candidates(normalized string) []*CompiledRule {
	hits := s.index.Hits(normalized)
	if len(hits) == 0 {
		return nil
	}
	seen := make(map[int]struct{})
	positions := make([]int, 0, len(hits))
	for _, lit := range hits {
		for _, pos := range s.litRule[lit] {
			if _, dup := seen[pos]; !dup {
				seen[pos] = struct{}{}
				positions = append(positions, pos)
			}
		}
	}
	sort.Ints(positions) // rules slice is already in candidate order
	out := make([]*CompiledRule, len(positions))
	for i, pos := range positions {
		out[i] = s.rules[pos]
	}
	return out
}

// Metadata returns the coverage-audit surface: rule ids and the intents
// (conversation nodes) they cover.
func (s *Snapshot) Metadata() []domain.RuleMetadata {
	out := make([]domain.RuleMetadata, len(s.rules))
	for i, r := range s.rules {
		out[i] = domain.RuleMetadata{
			ID:       r.Config.ID,
			Intent:   r.Config.Intent,
			Version:  r.Config.Version,
			Priority: r.Config.Priority,
			Language: r.Config.Language,
		}
	}
	return out
}

// Registry owns the active snapshot and the load pipeline: parse, gate,
// compile, index, swap. Loads are atomic; a failed load leaves the
// running snapshot untouched.
type Registry struct {
	validator  *safety.Validator
	guardEnv   *cel.Env
	normalizer *text.Normalizer
	cfg        domain.EngineConfig

	active   atomic.Pointer[Snapshot]
	buildSeq atomic.Int64
}

// NewRegistry creates a registry with an empty active snapshot.
func NewRegistry(cfg domain.EngineConfig, normalizer *text.Normalizer) (*Registry, error) {
	env, err := newGuardEnv()
	if err != nil {
		return nil, err
	}
	r := &Registry{
		validator:  safety.NewValidator(),
		guardEnv:   env,
		normalizer: normalizer,
		cfg:        cfg,
	}
	r.active.Store(&Snapshot{
		BuiltAt: time.Now().UTC(),
		byID:    map[string]*CompiledRule{},
		index:   BuildLiteralIndex(nil),
	})
	return r, nil
}

// Active returns the current snapshot. Never nil.
func (r *Registry) Active() *Snapshot {
	return r.active.Load()
}

// ValidateRule compiles a single rule without touching the active
// snapshot. Used by the API before persisting a new rule.
func (r *Registry) ValidateRule(cfg *domain.RuleConfig) error {
	_, err := r.compileRule(cfg)
	return err
}

// Load builds a snapshot from a rule document and atomically swaps it in.
// The load fails as a whole on the first structural problem of any rule:
// duplicate id, short literal, failed safe-pattern gate, undeclared slot,
// or bad guard. All offending rules are reported.
func (r *Registry) Load(doc *domain.RuleDocument) (*Snapshot, error) {
	if doc == nil {
		return nil, errors.New("rule document is required")
	}

	var (
		errs     []error
		compiled []*CompiledRule
		ids      = make(map[string]struct{})
	)
	for _, cfg := range doc.Rules {
		if cfg == nil || !cfg.Enabled {
			continue
		}
		if _, dup := ids[cfg.ID]; dup {
			errs = append(errs, &LoadError{RuleID: cfg.ID, Reason: "duplicate rule id"})
			continue
		}
		ids[cfg.ID] = struct{}{}

		cr, err := r.compileRule(cfg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		compiled = append(compiled, cr)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	// Deterministic candidate order: priority descending, id ascending.
	sort.Slice(compiled, func(i, j int) bool {
		if compiled[i].Config.Priority != compiled[j].Config.Priority {
			return compiled[i].Config.Priority > compiled[j].Config.Priority
		}
		return compiled[i].Config.ID < compiled[j].Config.ID
	})

	litID := make(map[string]int)
	var literals []string
	var litRule [][]int
	byID := make(map[string]*CompiledRule, len(compiled))
	for pos, cr := range compiled {
		byID[cr.Config.ID] = cr
		id, ok := litID[cr.Literal]
		if !ok {
			id = len(literals)
			litID[cr.Literal] = id
			literals = append(literals, cr.Literal)
			litRule = append(litRule, nil)
		}
		litRule[id] = append(litRule[id], pos)
	}

	snap := &Snapshot{
		Version:         r.buildSeq.Add(1),
		DocumentVersion: doc.Version,
		BuiltAt:         time.Now().UTC(),
		rules:           compiled,
		byID:            byID,
		index:           BuildLiteralIndex(literals),
		litRule:         litRule,
	}
	r.active.Store(snap)
	return snap, nil
}

func (r *Registry) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, &LoadError{RuleID: "(unset)", Reason: "rule id is required"}
	}
	if cfg.Intent == "" {
		return nil, &LoadError{RuleID: cfg.ID, Reason: "intent is required"}
	}
	if cfg.Priority < domain.MinPriority || cfg.Priority > domain.MaxPriority {
		return nil, &LoadError{
			RuleID: cfg.ID,
			Reason: fmt.Sprintf("priority %d outside %d..%d", cfg.Priority, domain.MinPriority, domain.MaxPriority),
		}
	}
	if cfg.Language == "" {
		return nil, &LoadError{RuleID: cfg.ID, Reason: `language is required ("any" to match all)`}
	}
	if (cfg.CaseInsensitive || cfg.Multiline) && cfg.FlagReason == "" {
		return nil, &LoadError{RuleID: cfg.ID, Reason: "declared matching flags require flagReason"}
	}

	literal := r.normalizer.Normalize(cfg.PrefilterLiteral)
	if len([]rune(literal)) < r.cfg.MinLiteralLen {
		return nil, &LoadError{
			RuleID: cfg.ID,
			Reason: fmt.Sprintf("prefilter literal %q shorter than %d runes", cfg.PrefilterLiteral, r.cfg.MinLiteralLen),
		}
	}

	re, profile, err := r.validator.Validate(cfg.Pattern, safety.Flags{
		CaseInsensitive: cfg.CaseInsensitive,
		Multiline:       cfg.Multiline,
	})
	if err != nil {
		return nil, &LoadError{RuleID: cfg.ID, Reason: err.Error()}
	}

	groups := make(map[string]struct{})
	for _, name := range re.SubexpNames() {
		if name != "" {
			groups[name] = struct{}{}
		}
	}
	for _, slot := range cfg.Slots {
		if _, ok := groups[slot]; !ok {
			return nil, &LoadError{
				RuleID: cfg.ID,
				Reason: fmt.Sprintf("declared slot %q has no named capture group", slot),
			}
		}
	}

	var guard cel.Program
	if cfg.Guard != "" {
		guard, err = compileGuard(r.guardEnv, cfg.ID, cfg.Guard)
		if err != nil {
			return nil, &LoadError{RuleID: cfg.ID, Reason: err.Error()}
		}
	}

	risk := cfg.RiskCost
	if risk <= 0 {
		risk = r.cfg.DefaultRiskCost
	}

	var channels map[string]struct{}
	if len(cfg.Channels) > 0 {
		channels = make(map[string]struct{}, len(cfg.Channels))
		for _, ch := range cfg.Channels {
			channels[ch] = struct{}{}
		}
	}

	return &CompiledRule{
		Config:   cfg,
		Pattern:  re,
		Profile:  profile,
		Guard:    guard,
		RiskCost: risk,
		Literal:  literal,
		channels: channels,
	}, nil
}
