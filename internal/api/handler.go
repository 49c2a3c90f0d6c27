package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/opensource-finance/keeper/internal/domain"
	"github.com/opensource-finance/keeper/internal/metrics"
	"github.com/opensource-finance/keeper/internal/report"
	"github.com/opensource-finance/keeper/internal/repository"
	"github.com/opensource-finance/keeper/internal/rules"
	"github.com/opensource-finance/keeper/internal/timebucket"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	reports   *report.Service
	metrics   *metrics.Metrics
	validator *validator.Validate
	cfg       domain.MonitoringConfig
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		repo:      deps.Repo,
		cache:     deps.Cache,
		bus:       deps.Bus,
		engine:    deps.Engine,
		reports:   deps.Reports,
		metrics:   deps.Metrics,
		validator: newValidator(),
		cfg:       deps.Monitoring,
		version:   deps.Version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			slog.WarnContext(ctx, "health check failed", "component", name, "error", err)
			checks[name] = "down"
			status = "degraded"
			return
		}
		checks[name] = "up"
	}

	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("event_bus", func() error { return h.bus.Ping(ctx) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready returns whether the server is ready to accept traffic. Without a
// reachable repository no report can be served.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil || h.repo.Ping(r.Context()) != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListRules returns every stored detection rule, enabled or not, along with
// how many are currently loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	stored, err := h.repo.ListDetectionRules(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  stored,
		"count":  len(stored),
		"loaded": h.engine.RulesCount(),
	})
}

// GetRule retrieves a stored rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.repo.GetDetectionRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRuleRequest is the request body for creating a detection rule.
type CreateRuleRequest struct {
	ID          string `json:"id" validate:"omitempty,max=64"`
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression" validate:"required"`
	Severity    string `json:"severity" validate:"required,oneof=low medium high critical"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// CreateRule validates and stores a detection rule. Stored rules take
// effect after POST /monitoring/rules/reload.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validate(req); err != nil {
		h.writeError(w, r, err)
		return
	}

	rule := &domain.DetectionRule{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Severity:    domain.Severity(req.Severity),
		Enabled:     req.Enabled == nil || *req.Enabled,
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	if err := h.engine.ValidateRule(rule); err != nil {
		h.writeError(w, r, domain.NewValidationError("expression", err.Error()))
		return
	}

	if err := h.repo.SaveDetectionRule(ctx, rule); err != nil {
		h.writeError(w, r, err)
		return
	}

	slog.InfoContext(ctx, "detection rule saved", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule saved. Call POST /api/monitoring/rules/reload to apply changes.",
	})
}

// DeleteRule disables a stored rule and drops it from the engine.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if err := h.repo.DeleteDetectionRule(ctx, ruleID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.engine.UnloadRule(ruleID)

	slog.InfoContext(ctx, "detection rule disabled", "id", ruleID)
	w.WriteHeader(http.StatusNoContent)
}

// ReloadRules reloads all stored rules into the engine without a restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stored, err := h.repo.ListDetectionRules(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.engine.ReloadRules(stored); err != nil {
		slog.ErrorContext(ctx, "failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.InfoContext(ctx, "rules reloaded from database", "loaded", h.engine.RulesCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   h.engine.RulesCount(),
	})
}

// decodeJSON reads a bounded JSON body into dst, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return false
	}
	return true
}

// writeError maps service errors onto status codes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
	case errors.Is(err, timebucket.ErrInvalidRange), errors.Is(err, timebucket.ErrTooManyBuckets):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
