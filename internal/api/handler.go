package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-security/kestrel/internal/decision"
	"github.com/opensource-security/kestrel/internal/domain"
	"github.com/opensource-security/kestrel/internal/features"
	"github.com/opensource-security/kestrel/internal/reputation"
	"github.com/opensource-security/kestrel/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	engine     *decision.Engine
	overrides  *rules.Engine
	reputation *reputation.Provider
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *decision.Engine, overrides *rules.Engine, rep *reputation.Provider, version string) *Handler {
	return &Handler{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		engine:     engine,
		overrides:  overrides,
		reputation: rep,
		version:    version,
	}
}

// EvaluateHandshake handles POST /evaluate/handshake requests.
func (h *Handler) EvaluateHandshake(w http.ResponseWriter, r *http.Request) {
	h.evaluate(w, r, domain.EventHandshake)
}

// EvaluateFile handles POST /evaluate/file requests.
func (h *Handler) EvaluateFile(w http.ResponseWriter, r *http.Request) {
	h.evaluate(w, r, domain.EventFile)
}

// evaluate runs the scoring pipeline for one event. The request body
// is the raw feature mapping exactly as the transfer backend sees it;
// arbitrary keys are accepted. A malformed JSON body is the only error
// surfaced to the caller. Everything past decoding follows the
// fallback contract and always yields HTTP 200 with a result.
func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request, eventType domain.EventType) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var feats map[string]any
	if err := json.NewDecoder(r.Body).Decode(&feats); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// client_ip is request metadata, not a classifier feature.
	clientIP, _ := feats[domain.MetaKeyClientIP].(string)
	delete(feats, domain.MetaKeyClientIP)

	if h.reputation != nil {
		feats = h.reputation.Inject(ctx, tenantID, clientIP, feats)
	}

	event := &domain.Event{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Type:      eventType,
		Features:  feats,
		ClientIP:  clientIP,
		Timestamp: time.Now().UTC(),
		CreatedAt: time.Now().UTC(),
	}

	if h.repo != nil {
		if err := h.repo.SaveEvent(ctx, tenantID, event); err != nil {
			slog.Error("failed to save event", "event_id", event.ID, "error", err)
		}
	}

	evaluation := h.engine.Evaluate(ctx, event)

	if h.repo != nil {
		if err := h.repo.SaveEvaluation(ctx, tenantID, evaluation); err != nil {
			slog.Error("failed to save evaluation", "event_id", event.ID, "error", err)
		}
	}

	if h.bus != nil {
		payload, _ := json.Marshal(evaluation)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicEvaluationCompleted, payload); err != nil {
			slog.Error("failed to publish evaluation", "event_id", event.ID, "error", err)
		}
		if evaluation.Verdict == domain.VerdictSuspicious {
			if err := h.bus.Publish(ctx, tenantID, domain.TopicAlert, payload); err != nil {
				slog.Error("failed to publish alert", "event_id", event.ID, "error", err)
			}
		}
	}

	resp := domain.EvaluationResponse{
		EvaluationID: evaluation.ID,
		EventID:      event.ID,
		AnomalyScore: evaluation.Score,
		Verdict:      evaluation.Verdict,
		Confidence:   evaluation.Confidence,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
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

// Ready returns whether the server is ready to accept traffic.
// The decision engine holds both classifiers, so its presence means
// the model artifacts loaded at startup.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
			"error": "classifiers not loaded",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListSchemas returns the feature schemas for all event types.
func (h *Handler) ListSchemas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"handshake": features.HandshakeSchema,
		"file":      features.FileSchema,
	})
}

// GetSchema returns the feature schema for one event type.
func (h *Handler) GetSchema(w http.ResponseWriter, r *http.Request) {
	eventType := domain.EventType(chi.URLParam(r, "type"))

	schema, err := features.SchemaFor(eventType)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "unknown event type",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"type":    eventType,
		"columns": schema,
		"length":  len(schema),
	})
}

// GetEvaluation retrieves an evaluation by ID.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	evalID := chi.URLParam(r, "id")

	if evalID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "evaluation id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	eval, err := h.repo.GetEvaluation(ctx, tenantID, evalID)
	if err != nil {
		slog.Error("failed to get evaluation", "id", evalID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "evaluation not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

// GetEvent retrieves an event by ID.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	eventID := chi.URLParam(r, "id")

	if eventID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "event id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	event, err := h.repo.GetEvent(ctx, tenantID, eventID)
	if err != nil {
		slog.Error("failed to get event", "id", eventID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "event not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// ListEventEvaluations returns all evaluations recorded for an event.
func (h *Handler) ListEventEvaluations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	eventID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	evals, err := h.repo.ListEvaluationsByEvent(ctx, tenantID, eventID)
	if err != nil {
		slog.Error("failed to list evaluations", "event_id", eventID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list evaluations",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"evaluations": evals,
		"count":       len(evals),
	})
}

// GlobalTenantID is used for override rules that apply to all tenants.
const GlobalTenantID = "*"

// ListOverrides returns all loaded override rules from the engine.
// Rules are loaded from the database at startup and can be reloaded
// via POST /overrides/reload.
func (h *Handler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	if h.overrides == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "override engine not available",
		})
		return
	}

	loaded := h.overrides.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"overrides": loaded,
		"count":     len(loaded),
		"source":    "database",
	})
}

// GetOverride retrieves an override rule by ID from the loaded engine rules.
func (h *Handler) GetOverride(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "override id is required",
		})
		return
	}

	if h.overrides == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "override engine not available",
		})
		return
	}

	for _, rule := range h.overrides.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "override not found",
	})
}

// CreateOverrideRequest is the request body for creating an override rule.
type CreateOverrideRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	EventType   string  `json:"eventType"`
	Expression  string  `json:"expression"`
	Threshold   float64 `json:"threshold"`
	Enabled     bool    `json:"enabled"`
}

// CreateOverride creates a new override rule and saves it to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /overrides/reload to hot-reload into the engine.
func (h *Handler) CreateOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Validate
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	rule := &domain.OverrideRule{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		EventType:   domain.EventType(req.EventType),
		Expression:  req.Expression,
		Threshold:   req.Threshold,
		Enabled:     req.Enabled,
	}

	// Validate event type, threshold range, and CEL expression
	if h.overrides != nil {
		if err := h.overrides.ValidateRule(rule); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid override rule: " + err.Error(),
			})
			return
		}
	}

	// Persist to repository (global tenant ID)
	if h.repo != nil {
		if err := h.repo.SaveOverrideRule(ctx, GlobalTenantID, rule); err != nil {
			slog.Error("failed to save override rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save override",
			})
			return
		}
	}

	slog.Info("override rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"override": rule,
		"message":  "Override created. Call POST /overrides/reload to apply changes.",
	})
}

// DeleteOverride soft-deletes an override rule and auto-reloads the engine.
func (h *Handler) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "override id is required",
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.DeleteOverrideRule(ctx, GlobalTenantID, ruleID); err != nil {
			slog.Error("failed to delete override rule", "id", ruleID, "error", err)
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "override not found",
			})
			return
		}

		// Auto-reload after delete
		if h.overrides != nil {
			dbRules, err := h.repo.ListOverrideRules(ctx, GlobalTenantID)
			if err != nil {
				slog.Error("failed to reload overrides after delete", "error", err)
			} else if err := h.overrides.ReloadRules(dbRules); err != nil {
				slog.Error("failed to reload overrides into engine", "error", err)
			}
		}
	}

	slog.Info("override rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Override deleted and engine reloaded.",
	})
}

// ReloadOverrides reloads all override rules from the database into
// the engine. This enables hot-reloading without server restart.
func (h *Handler) ReloadOverrides(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if h.overrides == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "override engine not available",
		})
		return
	}

	dbRules, err := h.repo.ListOverrideRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list overrides from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load overrides from database",
		})
		return
	}

	if err := h.overrides.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload overrides into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload overrides: " + err.Error(),
		})
		return
	}

	slog.Info("overrides reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "overrides reloaded successfully",
		"count":   len(dbRules),
	})
}

// PutReputationRequest is the request body for PUT /reputations/{ip}.
type PutReputationRequest struct {
	Score  float64 `json:"score"`
	Source string  `json:"source,omitempty"`
}

// PutReputation stores a reputation entry for a client address.
func (h *Handler) PutReputation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ip := chi.URLParam(r, "ip")

	if h.reputation == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "reputation provider not available",
		})
		return
	}

	var req PutReputationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rep := &domain.Reputation{
		IP:        ip,
		Score:     req.Score,
		Source:    req.Source,
		UpdatedAt: time.Now().UTC(),
	}

	if err := h.reputation.Record(ctx, tenantID, rep); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reputation": rep,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
