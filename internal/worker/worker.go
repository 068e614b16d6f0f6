// Package worker provides async message processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-dialog/shrike/internal/domain"
	"github.com/opensource-dialog/shrike/internal/rank"
	"github.com/opensource-dialog/shrike/internal/rules"
	"github.com/opensource-dialog/shrike/internal/telemetry"
)

// Worker classifies utterances arriving on the event bus and persists
// telemetry records published by the emitter.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	engine    *rules.Engine
	processor *rank.Processor
	emitter   *telemetry.Emitter

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, engine *rules.Engine, processor *rank.Processor, emitter *telemetry.Emitter) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		engine:    engine,
		processor: processor,
		emitter:   emitter,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the utterance and telemetry topics.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicUtteranceReceived, w.handleUtterance)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	if w.repo != nil {
		sub, err = w.bus.Subscribe(w.ctx, domain.TopicTelemetry, w.handleTelemetry)
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("worker started", "subscriptions", len(w.subscriptions))
	return nil
}

// UtteranceMessage is the payload on the utterance topic.
type UtteranceMessage struct {
	Text      string `json:"text"`
	TraceID   string `json:"traceId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Locale    string `json:"locale,omitempty"`
}

// handleUtterance classifies an incoming utterance and publishes the
// decision.
func (w *Worker) handleUtterance(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var um UtteranceMessage
	if err := json.Unmarshal(msg.Payload, &um); err != nil {
		slog.Error("failed to parse utterance message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	traceID := um.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	meta := domain.RequestMeta{
		TraceID:    traceID,
		SessionID:  um.SessionID,
		Channel:    um.Channel,
		Locale:     um.Locale,
		ReceivedAt: start,
	}

	res := w.engine.Evaluate(ctx, um.Text, meta)
	decision := w.processor.Decide(&rank.Input{
		Candidates:      res.Candidates,
		Evaluated:       res.Evaluated,
		Timeouts:        res.Timeouts,
		SnapshotVersion: res.Snapshot.Version,
		Language:        res.Detection.Primary,
		Mixed:           res.Detection.Mixed,
		StartTime:       start,
	})

	w.emitter.Emit(decision, meta, res.Normalized)

	topic := domain.TopicDecision
	if decision.Outcome == domain.OutcomeAmbiguous {
		topic = domain.TopicAmbiguous
	}
	payload, _ := json.Marshal(decision)
	if err := w.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish decision",
			"trace_id", traceID,
			"error", err,
		)
	}

	slog.Info("utterance processed",
		"trace_id", traceID,
		"outcome", decision.Outcome,
		"rule_id", decision.RuleID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// handleTelemetry persists emitted telemetry records as the audit log.
func (w *Worker) handleTelemetry(ctx context.Context, msg *domain.Message) error {
	var rec domain.TelemetryRecord
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		slog.Error("failed to parse telemetry record",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if err := w.repo.SaveTelemetryRecord(ctx, &rec); err != nil {
		slog.Error("failed to save telemetry record",
			"trace_id", rec.TraceID,
			"error", err,
		)
		return err
	}
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
