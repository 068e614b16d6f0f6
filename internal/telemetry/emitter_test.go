package telemetry

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/opensource-dialog/shrike/internal/bus"
	"github.com/opensource-dialog/shrike/internal/domain"
	"github.com/opensource-dialog/shrike/internal/text"
)

func testEmitter(b domain.EventBus) *Emitter {
	cfg := domain.TelemetryConfig{
		EngineID:        "shrike-test",
		Key:             []byte("test-key-0123456789"),
		HashTruncateLen: 64,
	}
	return NewEmitter(b, text.NewNormalizer(512), cfg, 2*time.Millisecond)
}

func TestHashTextStable(t *testing.T) {
	e := testEmitter(nil)

	h1 := e.HashText("quero pagar o boleto")
	h2 := e.HashText("quero pagar o boleto")
	if h1 != h2 {
		t.Fatalf("same input hashed differently: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected hex sha256 (64 chars), got %d", len(h1))
	}
	if h1 == e.HashText("quero pagar a fatura") {
		t.Error("different inputs produced the same hash")
	}
}

func TestHashTextFoldsAccents(t *testing.T) {
	e := testEmitter(nil)

	// Hashing folds diacritics and case so near-identical utterances
	// bucket together.
	if e.HashText("não consigo pagar") != e.HashText("NAO consigo pagar") {
		t.Error("folded forms should hash identically")
	}
}

func TestHashTextKeyed(t *testing.T) {
	a := NewEmitter(nil, text.NewNormalizer(512), domain.TelemetryConfig{Key: []byte("key-a")}, 0)
	b := NewEmitter(nil, text.NewNormalizer(512), domain.TelemetryConfig{Key: []byte("key-b")}, 0)

	if a.HashText("quero pagar") == b.HashText("quero pagar") {
		t.Error("different keys must produce different hashes")
	}
}

func TestRecordFields(t *testing.T) {
	e := testEmitter(nil)

	d := &domain.Decision{
		Outcome:             domain.OutcomeMatched,
		RuleID:              "pay-1",
		Intent:              "pay_bill",
		CandidatesEvaluated: 3,
		TimeoutCount:        1,
		Margin:              4,
		Language:            "pt",
		Mixed:               true,
		SnapshotVersion:     9,
		DurationUs:          120,
	}
	meta := domain.RequestMeta{TraceID: "trace-1", Channel: "whatsapp"}

	rec := e.Record(d, meta, "quero pagar o boleto")

	if rec.TraceID != "trace-1" || rec.Engine != "shrike-test" {
		t.Errorf("identity fields wrong: %+v", rec)
	}
	if rec.Outcome != "matched" || rec.RuleID != "pay-1" || rec.Intent != "pay_bill" {
		t.Errorf("decision fields wrong: %+v", rec)
	}
	if rec.CandidateCount != 3 || rec.TimeoutCount != 1 || rec.SnapshotVersion != 9 {
		t.Errorf("counters wrong: %+v", rec)
	}
	if rec.Language != "pt" || !rec.Mixed || rec.Channel != "whatsapp" {
		t.Errorf("context fields wrong: %+v", rec)
	}
	if rec.AttemptBudgetMs != 2 {
		t.Errorf("expected attempt budget 2ms, got %d", rec.AttemptBudgetMs)
	}
	if rec.TextHash != e.HashText("quero pagar o boleto") {
		t.Error("text hash mismatch")
	}
	if rec.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestRecordGeneratesTraceID(t *testing.T) {
	e := testEmitter(nil)

	rec := e.Record(&domain.Decision{Outcome: domain.OutcomeNoMatch}, domain.RequestMeta{}, "oi")
	if rec.TraceID == "" {
		t.Error("expected generated trace id")
	}
}

func TestRecordCarriesNoRawText(t *testing.T) {
	e := testEmitter(nil)

	utterance := "quero pagar o boleto da fatura vencida"
	rec := e.Record(&domain.Decision{Outcome: domain.OutcomeMatched}, domain.RequestMeta{}, utterance)

	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, word := range strings.Fields(utterance) {
		if len(word) > 2 && strings.Contains(string(raw), word) {
			t.Fatalf("serialized record leaks utterance token %q: %s", word, raw)
		}
	}
}

func TestEmitPublishes(t *testing.T) {
	b := bus.NewChannelBus(16)
	defer b.Close()
	e := testEmitter(b)

	received := make(chan *domain.TelemetryRecord, 1)
	_, err := b.Subscribe(context.Background(), domain.TopicTelemetry, func(ctx context.Context, msg *domain.Message) error {
		var rec domain.TelemetryRecord
		if err := json.Unmarshal(msg.Payload, &rec); err != nil {
			t.Errorf("bad payload: %v", err)
			return err
		}
		received <- &rec
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	d := &domain.Decision{Outcome: domain.OutcomeMatched, RuleID: "pay-1"}
	e.Emit(d, domain.RequestMeta{TraceID: "trace-emit"}, "quero pagar")

	select {
	case rec := <-received:
		if rec.TraceID != "trace-emit" || rec.RuleID != "pay-1" {
			t.Errorf("unexpected record: %+v", rec)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("telemetry record never arrived")
	}

	if e.Dropped() != 0 {
		t.Errorf("expected no drops, got %d", e.Dropped())
	}
}

func TestEmitDropOnClosedBus(t *testing.T) {
	b := bus.NewChannelBus(1)
	b.Close()
	e := testEmitter(b)

	e.Emit(&domain.Decision{Outcome: domain.OutcomeNoMatch}, domain.RequestMeta{}, "oi")

	deadline := time.Now().Add(2 * time.Second)
	for e.Dropped() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("drop counter never incremented")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
