// Package telemetry produces privacy-safe classification records.
// Records carry a keyed hash of the normalized utterance, never the raw
// text, and emission is best-effort: a failed publish increments a
// counter and nothing else.
package telemetry

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-dialog/shrike/internal/domain"
	"github.com/opensource-dialog/shrike/internal/text"
)

// Emitter builds and publishes TelemetryRecord values.
type Emitter struct {
	bus        domain.EventBus
	normalizer *text.Normalizer

	engineID      string
	key           []byte
	truncLen      int
	attemptBudget time.Duration

	dropped atomic.Int64
}

// NewEmitter creates an emitter. When no hash key is configured a random
// one is generated, which keeps hashes unlinkable across restarts.
func NewEmitter(bus domain.EventBus, normalizer *text.Normalizer, cfg domain.TelemetryConfig, attemptBudget time.Duration) *Emitter {
	key := cfg.Key
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			// crypto/rand failing is unrecoverable for key material;
			// fall back to a fixed marker so hashing still works.
			key = []byte("shrike-ephemeral")
		}
		slog.Warn("no telemetry hash key configured, generated ephemeral key")
	}
	truncLen := cfg.HashTruncateLen
	if truncLen <= 0 {
		truncLen = 64
	}
	return &Emitter{
		bus:           bus,
		normalizer:    normalizer,
		engineID:      cfg.EngineID,
		key:           key,
		truncLen:      truncLen,
		attemptBudget: attemptBudget,
	}
}

// HashText returns the keyed hash of the truncated, case/diacritic folded
// form of normalized text. Also used as the decision cache key.
func (e *Emitter) HashText(normalized string) string {
	folded := e.normalizer.FoldForHash(normalized, e.truncLen)
	mac := hmac.New(sha256.New, e.key)
	mac.Write([]byte(folded))
	return hex.EncodeToString(mac.Sum(nil))
}

// Record derives a TelemetryRecord from a decision.
func (e *Emitter) Record(d *domain.Decision, meta domain.RequestMeta, normalized string) *domain.TelemetryRecord {
	traceID := meta.TraceID
	if traceID == "" {
		traceID = uuid.New().String()
	}
	return &domain.TelemetryRecord{
		TraceID:         traceID,
		Timestamp:       time.Now().UTC(),
		Engine:          e.engineID,
		SnapshotVersion: d.SnapshotVersion,
		Outcome:         string(d.Outcome),
		RuleID:          d.RuleID,
		Intent:          d.Intent,
		CandidateCount:  d.CandidatesEvaluated,
		TimeoutCount:    d.TimeoutCount,
		Margin:          d.Margin,
		Language:        d.Language,
		Mixed:           d.Mixed,
		TextHash:        e.HashText(normalized),
		Channel:         meta.Channel,
		AttemptBudgetMs: e.attemptBudget.Milliseconds(),
		DurationUs:      d.DurationUs,
	}
}

// Emit publishes the record for a decision. Fire-and-forget: it never
// blocks the response path and never propagates failure.
func (e *Emitter) Emit(d *domain.Decision, meta domain.RequestMeta, normalized string) {
	rec := e.Record(d, meta, normalized)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		payload, err := json.Marshal(rec)
		if err != nil {
			e.dropped.Add(1)
			return
		}
		if err := e.bus.Publish(ctx, domain.TopicTelemetry, payload); err != nil {
			e.dropped.Add(1)
			slog.Debug("telemetry publish failed",
				"trace_id", rec.TraceID,
				"error", err,
			)
		}
	}()
}

// Dropped returns how many records failed to emit.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}
