package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-dialog/shrike/internal/domain"
	"github.com/opensource-dialog/shrike/internal/rank"
	"github.com/opensource-dialog/shrike/internal/rules"
	"github.com/opensource-dialog/shrike/internal/stats"
	"github.com/opensource-dialog/shrike/internal/telemetry"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	registry  *rules.Registry
	engine    *rules.Engine
	processor *rank.Processor
	emitter   *telemetry.Emitter
	stats     *stats.Service
	version   string

	decisionTTL time.Duration
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, registry *rules.Registry, engine *rules.Engine, processor *rank.Processor, emitter *telemetry.Emitter, statsSvc *stats.Service, version string, decisionTTL time.Duration) *Handler {
	return &Handler{
		repo:        repo,
		cache:       cache,
		bus:         bus,
		registry:    registry,
		engine:      engine,
		processor:   processor,
		emitter:     emitter,
		stats:       statsSvc,
		version:     version,
		decisionTTL: decisionTTL,
	}
}

// ClassifyRequest is the request body for POST /classify.
type ClassifyRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"sessionId,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Locale    string `json:"locale,omitempty"`
}

// ClassifyResponse is the response for POST /classify.
type ClassifyResponse struct {
	*domain.Decision
	TraceID string `json:"traceId"`
	Cached  bool   `json:"cached,omitempty"`
	Version string `json:"version"`
}

// Classify handles POST /classify requests.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var req ClassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "text is required",
		})
		return
	}

	meta := domain.RequestMeta{
		TraceID:    traceID,
		SessionID:  req.SessionID,
		Channel:    req.Channel,
		Locale:     req.Locale,
		ReceivedAt: start,
	}

	normalized := h.engine.Normalize(req.Text)
	textHash := h.emitter.HashText(normalized)
	snap := h.engine.Snapshot()

	// Classification is deterministic for a fixed snapshot, so decisions
	// can be served from cache. Guards also see channel and locale, so
	// both join the key; the hour guard input is only as stale as the TTL.
	cacheKey := textHash + ":" + req.Channel + ":" + req.Locale
	if h.cache != nil {
		if cached, err := h.cache.GetDecision(ctx, snap.Version, cacheKey); err == nil && cached != nil {
			// Cached decisions still count: every served classification
			// emits telemetry and feeds rule hit stats.
			h.emitter.Emit(cached, meta, normalized)
			if cached.Outcome == domain.OutcomeMatched && h.stats != nil {
				h.stats.RecordHit(ctx, cached.RuleID)
			}
			writeJSON(w, http.StatusOK, ClassifyResponse{
				Decision: cached,
				TraceID:  traceID,
				Cached:   true,
				Version:  h.version,
			})
			return
		}
	}

	res := h.engine.EvaluateNormalized(ctx, normalized, meta)
	decision := h.processor.Decide(&rank.Input{
		Candidates:      res.Candidates,
		Evaluated:       res.Evaluated,
		Timeouts:        res.Timeouts,
		SnapshotVersion: res.Snapshot.Version,
		Language:        res.Detection.Primary,
		Mixed:           res.Detection.Mixed,
		StartTime:       start,
	})

	h.emitter.Emit(decision, meta, normalized)

	if decision.Outcome == domain.OutcomeMatched && h.stats != nil {
		h.stats.RecordHit(ctx, decision.RuleID)
	}

	topic := domain.TopicDecision
	if decision.Outcome == domain.OutcomeAmbiguous {
		topic = domain.TopicAmbiguous
	}
	if payload, err := json.Marshal(decision); err == nil {
		if err := h.bus.Publish(ctx, topic, payload); err != nil {
			slog.Debug("decision publish failed", "trace_id", traceID, "error", err)
		}
	}

	if h.cache != nil {
		if err := h.cache.SetDecision(ctx, snap.Version, cacheKey, decision, h.decisionTTL); err != nil {
			slog.Debug("decision cache set failed", "trace_id", traceID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, ClassifyResponse{
		Decision: decision,
		TraceID:  traceID,
		Version:  h.version,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic. The
// engine must have a non-empty active snapshot before it accepts input.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	if snap.Len() == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready":  false,
			"reason": "no rules loaded",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":           true,
		"rules":           snap.Len(),
		"snapshotVersion": snap.Version,
	})
}

// ListRules returns the active snapshot's rule metadata with hit counts.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap := h.engine.Snapshot()

	metadata := snap.Metadata()
	if h.stats != nil {
		for i := range metadata {
			metadata[i].Hits = h.stats.Hits(ctx, metadata[i].ID)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":           metadata,
		"count":           len(metadata),
		"snapshotVersion": snap.Version,
	})
}

// GetRule retrieves a rule by ID from the active snapshot.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")
	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	rule, ok := h.engine.Snapshot().Rule(ruleID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule.Config)
}

// CreateRule validates a rule and saves it to the repository.
// Rules take effect on the next POST /rules/reload.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.RuleConfig
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.registry.ValidateRule(&rule); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}
	if err := h.repo.SaveRuleConfig(ctx, &rule); err != nil {
		slog.Error("failed to save rule config", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("rule created", "id", rule.ID, "intent", rule.Intent)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// DeleteRule soft-deletes a rule in the repository.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")
	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}
	if err := h.repo.DeleteRuleConfig(ctx, ruleID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Rule disabled. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules rebuilds the active snapshot from the repository. The load
// is atomic: any invalid rule fails the whole reload and the running
// snapshot stays in service.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	configs, err := h.repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Error("failed to list rules from repository", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from repository",
		})
		return
	}

	snap, err := h.registry.Load(&domain.RuleDocument{Rules: configs})
	if err != nil {
		slog.Error("rule reload rejected", "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if payload, err := json.Marshal(map[string]any{
		"snapshotVersion": snap.Version,
		"count":           snap.Len(),
	}); err == nil {
		h.bus.Publish(ctx, domain.TopicRulesReloaded, payload)
	}

	slog.Info("rules reloaded", "count", snap.Len(), "snapshot_version", snap.Version)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":         "rules reloaded successfully",
		"count":           snap.Len(),
		"snapshotVersion": snap.Version,
	})
}

// Coverage returns the audit surface: every rule id and the intent it
// covers, for diffing against the conversation graph.
func (h *Handler) Coverage(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	metadata := snap.Metadata()

	intents := make(map[string]int)
	for _, m := range metadata {
		intents[m.Intent]++
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":           metadata,
		"intents":         intents,
		"snapshotVersion": snap.Version,
		"builtAt":         snap.BuiltAt,
	})
}

// GetTelemetryRecord retrieves an audit record by trace ID.
func (h *Handler) GetTelemetryRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := chi.URLParam(r, "traceId")
	if traceID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "trace id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	rec, err := h.repo.GetTelemetryRecord(ctx, traceID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "telemetry record not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// ListTelemetryRecords retrieves recent audit records, optionally
// filtered by rule.
func (h *Handler) ListTelemetryRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	ruleID := r.URL.Query().Get("ruleId")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	since := time.Now().Add(-24 * time.Hour)
	if s := r.URL.Query().Get("since"); s != "" {
		if parsed, err := time.Parse(time.RFC3339, s); err == nil {
			since = parsed
		}
	}

	records, err := h.repo.ListTelemetryRecords(ctx, ruleID, since, limit)
	if err != nil {
		slog.Error("failed to list telemetry records", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list telemetry records",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
