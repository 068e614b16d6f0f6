package rules

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/cel-go/common/types"

	"github.com/opensource-dialog/shrike/internal/domain"
	"github.com/opensource-dialog/shrike/internal/text"
)

// Engine runs the per-request matching pipeline: prefilter, candidate
// cap, deadline-bounded pattern attempts. It is a pure function of
// (active snapshot, normalized input) with no per-request mutable state,
// so one Engine serves any number of concurrent callers.
type Engine struct {
	registry   *Registry
	normalizer *text.Normalizer
	detector   *text.Detector
	cfg        domain.EngineConfig
}

// NewEngine creates an engine over a registry.
func NewEngine(registry *Registry, normalizer *text.Normalizer, detector *text.Detector, cfg domain.EngineConfig) *Engine {
	return &Engine{
		registry:   registry,
		normalizer: normalizer,
		detector:   detector,
		cfg:        cfg,
	}
}

// Normalize exposes the engine's normalizer so callers can compute cache
// keys before deciding whether to run the pipeline.
func (e *Engine) Normalize(raw string) string {
	return e.normalizer.Normalize(raw)
}

// Snapshot returns the active compiled rule set.
func (e *Engine) Snapshot() *Snapshot {
	return e.registry.Active()
}

// EvaluateResult carries the surviving candidates plus the
// instrumentation counters the ranking step and telemetry need.
type EvaluateResult struct {
	Candidates []domain.MatchCandidate
	Evaluated  int // pattern attempts actually made
	Timeouts   int
	Normalized string
	Detection  text.Detection
	Snapshot   *Snapshot
}

// Evaluate normalizes raw input and runs the matching pipeline.
func (e *Engine) Evaluate(ctx context.Context, raw string, meta domain.RequestMeta) *EvaluateResult {
	return e.EvaluateNormalized(ctx, e.normalizer.Normalize(raw), meta)
}

// EvaluateNormalized runs the pipeline over already-normalized input.
//
// The per-attempt deadline is cooperative: Go's regexp engine is
// linear-time (RE2 derived, no backtracking), so a single attempt cannot
// blow up combinatorially; elapsed time is checked after each attempt and
// an over-budget attempt is discarded as a timeout for that candidate
// only. The caller's context deadline is honored between attempts.
func (e *Engine) EvaluateNormalized(ctx context.Context, normalized string, meta domain.RequestMeta) *EvaluateResult {
	snap := e.registry.Active()
	res := &EvaluateResult{
		Normalized: normalized,
		Snapshot:   snap,
		Detection:  e.detector.Detect(normalized),
	}
	if normalized == "" {
		return res
	}

	candidates := snap.Candidates(normalized)
	if len(candidates) == 0 {
		return res
	}

	activation := guardActivation(meta, res.Detection)
	admitted := make([]*CompiledRule, 0, len(candidates))
	for _, cr := range candidates {
		if !cr.AppliesTo(res.Detection.Primary, meta.Channel) {
			continue
		}
		if cr.Guard != nil {
			out, _, err := cr.Guard.Eval(activation)
			if err != nil {
				slog.Debug("guard evaluation failed, excluding candidate",
					"rule_id", cr.Config.ID,
					"error", err,
				)
				continue
			}
			if out != types.True {
				continue
			}
		}
		admitted = append(admitted, cr)
	}

	// Bound worst-case latency: drop excess candidates. The slice is in
	// priority order, so the drop keeps the highest-priority rules.
	if len(admitted) > e.cfg.MaxCandidates {
		admitted = admitted[:e.cfg.MaxCandidates]
	}

	for _, cr := range admitted {
		if ctx.Err() != nil {
			// Caller deadline exceeded: return the best decision
			// available from what already completed.
			break
		}

		res.Evaluated++
		start := time.Now()
		loc := cr.Pattern.FindStringSubmatchIndex(normalized)
		elapsed := time.Since(start)

		if e.cfg.AttemptBudget > 0 && elapsed > e.cfg.AttemptBudget {
			res.Timeouts++
			slog.Warn("pattern attempt exceeded budget, candidate excluded",
				"rule_id", cr.Config.ID,
				"elapsed_us", elapsed.Microseconds(),
				"budget_us", e.cfg.AttemptBudget.Microseconds(),
			)
			continue
		}
		if loc == nil {
			continue
		}
		res.Candidates = append(res.Candidates, e.buildCandidate(cr, normalized, loc, elapsed))
	}
	return res
}

func (e *Engine) buildCandidate(cr *CompiledRule, normalized string, loc []int, elapsed time.Duration) domain.MatchCandidate {
	cand := domain.MatchCandidate{
		RuleID:    cr.Config.ID,
		Intent:    cr.Config.Intent,
		Priority:  cr.Config.Priority,
		RiskCost:  cr.RiskCost,
		ElapsedUs: elapsed.Microseconds(),
	}

	spanLen := 0
	names := cr.Pattern.SubexpNames()
	for i := 0; 2*i+1 < len(loc); i++ {
		start, end := loc[2*i], loc[2*i+1]
		if start < 0 || end < 0 {
			continue
		}
		cand.Spans = append(cand.Spans, domain.Span{Start: start, End: end})
		if i == 0 {
			spanLen = end - start
			continue
		}
		if i < len(names) && names[i] != "" {
			if cand.Slots == nil {
				cand.Slots = make(map[string]string)
			}
			cand.Slots[names[i]] = normalized[start:end]
		}
	}

	bonus := 0
	if e.cfg.SpanBonusDivisor > 0 {
		bonus = spanLen / e.cfg.SpanBonusDivisor
	}
	cand.Specificity = cr.Profile.Specificity + bonus
	return cand
}
