// Package rank implements the deterministic ranking and tie-break policy
// that turns match candidates into a single Decision.
package rank

import (
	"math"
	"sort"
	"time"

	"github.com/opensource-dialog/shrike/internal/domain"
)

// Processor applies the ranking policy: priority first, then specificity
// and risk cost inside the priority window. When the top two candidates
// are indistinguishable on both axes the result is Ambiguous; the engine
// never silently guesses between near-equal rules.
type Processor struct {
	// PriorityDelta is the window within which rules rival the
	// top-priority match.
	PriorityDelta int

	// SpecificityDelta and RiskCostDelta define the tie tolerance.
	SpecificityDelta int
	RiskCostDelta    float64
}

// NewProcessor creates a processor from engine configuration.
func NewProcessor(cfg domain.EngineConfig) *Processor {
	return &Processor{
		PriorityDelta:    cfg.PriorityDelta,
		SpecificityDelta: cfg.SpecificityDelta,
		RiskCostDelta:    cfg.RiskCostDelta,
	}
}

// Input is everything a decision needs.
type Input struct {
	Candidates      []domain.MatchCandidate
	Evaluated       int
	Timeouts        int
	SnapshotVersion int64
	Language        string
	Mixed           bool
	StartTime       time.Time
}

// Decide ranks the matched candidates and produces the Decision. Pure:
// identical input always yields an identical decision.
func (p *Processor) Decide(input *Input) *domain.Decision {
	d := &domain.Decision{
		Outcome:             domain.OutcomeNoMatch,
		Language:            input.Language,
		Mixed:               input.Mixed,
		CandidatesEvaluated: input.Evaluated,
		TimeoutCount:        input.Timeouts,
		SnapshotVersion:     input.SnapshotVersion,
	}
	defer func() {
		if !input.StartTime.IsZero() {
			d.DurationUs = time.Since(input.StartTime).Microseconds()
		}
	}()

	if len(input.Candidates) == 0 {
		return d
	}

	// Work on a copy: the input ordering belongs to the caller.
	cands := make([]domain.MatchCandidate, len(input.Candidates))
	copy(cands, input.Candidates)

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Priority != cands[j].Priority {
			return cands[i].Priority > cands[j].Priority
		}
		return cands[i].RuleID < cands[j].RuleID
	})

	top := cands[0]
	pool := []domain.MatchCandidate{top}
	for _, c := range cands[1:] {
		if top.Priority-c.Priority <= p.PriorityDelta {
			pool = append(pool, c)
		}
	}

	if len(pool) == 1 {
		return p.matched(d, top, 0)
	}

	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].Specificity != pool[j].Specificity {
			return pool[i].Specificity > pool[j].Specificity
		}
		if pool[i].RiskCost != pool[j].RiskCost {
			return pool[i].RiskCost < pool[j].RiskCost
		}
		return pool[i].RuleID < pool[j].RuleID
	})

	best, second := pool[0], pool[1]
	margin := float64(best.Specificity - second.Specificity)

	specTied := abs(best.Specificity-second.Specificity) <= p.SpecificityDelta
	riskTied := math.Abs(best.RiskCost-second.RiskCost) <= p.RiskCostDelta
	if specTied && riskTied {
		d.Outcome = domain.OutcomeAmbiguous
		d.Reason = domain.ReasonTie
		d.TopCandidates = []domain.MatchCandidate{best, second}
		d.Margin = margin
		return d
	}

	return p.matched(d, best, margin)
}

func (p *Processor) matched(d *domain.Decision, winner domain.MatchCandidate, margin float64) *domain.Decision {
	d.Outcome = domain.OutcomeMatched
	d.RuleID = winner.RuleID
	d.Intent = winner.Intent
	d.Slots = winner.Slots
	d.Specificity = winner.Specificity
	d.Margin = margin
	return d
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
