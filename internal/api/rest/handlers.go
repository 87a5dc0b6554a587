package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/fortuna/scoreline/internal/cache"
	"github.com/fortuna/scoreline/internal/events"
	"github.com/fortuna/scoreline/internal/reconcile"
	"github.com/fortuna/scoreline/internal/store"
)

const recentLatencyLimit = 20

// Handler contains dependencies for HTTP handlers
type Handler struct {
	deps Deps
}

// NewHandler creates a new handler
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// HealthCheck runs every registered dependency check.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	checks := make(map[string]string, len(h.deps.Checks))
	for name, check := range h.deps.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	respondJSON(w, code, map[string]interface{}{
		"status":  status,
		"service": "scoreline",
		"checks":  checks,
	})
}

// GetLatency returns latency percentiles, overall or for ?type=.
func (h *Handler) GetLatency(w http.ResponseWriter, r *http.Request) {
	mon := h.deps.Monitor
	if mon == nil {
		respondError(w, http.StatusServiceUnavailable, "Latency monitor not configured", nil)
		return
	}

	if raw := r.URL.Query().Get("type"); raw != "" {
		typ := events.Type(raw)
		if !knownType(typ) {
			respondError(w, http.StatusBadRequest, "Unknown event type", errors.New(raw))
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"type":  typ,
			"stats": mon.Stats(typ),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"overall": mon.Stats(""),
		"byType":  mon.AllStats(),
		"pending": mon.Pending(),
		"recent":  mon.Recent(recentLatencyLimit),
	})
}

func knownType(t events.Type) bool {
	for _, known := range events.AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// GetBroadcastHealth returns websocket hub counters.
func (h *Handler) GetBroadcastHealth(w http.ResponseWriter, r *http.Request) {
	if h.deps.Hub == nil {
		respondError(w, http.StatusServiceUnavailable, "Broadcaster not configured", nil)
		return
	}
	respondJSON(w, http.StatusOK, h.deps.Hub.Health())
}

// GetSchedulerStatus returns every job's status plus its last stored result.
func (h *Handler) GetSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Scheduler == nil {
		respondError(w, http.StatusServiceUnavailable, "Scheduler not configured", nil)
		return
	}

	jobs := h.deps.Scheduler.Status()
	results := make(map[string]json.RawMessage, len(jobs))
	if h.deps.Cache != nil {
		for _, job := range jobs {
			var raw json.RawMessage
			found, err := h.deps.Cache.GetJSON(r.Context(), cache.JobResultKey(job.Name), &raw)
			if err != nil || !found {
				continue
			}
			results[job.Name] = raw
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":        jobs,
		"lastResults": results,
	})
}

// GetReconcileMetrics returns reconciliation totals.
func (h *Handler) GetReconcileMetrics(w http.ResponseWriter, r *http.Request) {
	if h.deps.Reconciler == nil {
		respondError(w, http.StatusServiceUnavailable, "Reconciler not configured", nil)
		return
	}
	respondJSON(w, http.StatusOK, h.deps.Reconciler.GetMetrics())
}

// GetPushStats returns push feed counters.
func (h *Handler) GetPushStats(w http.ResponseWriter, r *http.Request) {
	if h.deps.Push == nil {
		respondError(w, http.StatusServiceUnavailable, "Push feed disabled", nil)
		return
	}
	respondJSON(w, http.StatusOK, h.deps.Push.Stats())
}

// GetMatch returns the stored snapshot for one match.
func (h *Handler) GetMatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["matchID"]

	m, err := h.deps.Store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Match not found", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch match", err)
		return
	}

	respondJSON(w, http.StatusOK, m)
}

// RefreshMatch force-refreshes one match from the provider.
func (h *Handler) RefreshMatch(w http.ResponseWriter, r *http.Request) {
	if h.deps.Reconciler == nil {
		respondError(w, http.StatusServiceUnavailable, "Reconciler not configured", nil)
		return
	}
	id := mux.Vars(r)["matchID"]

	res, err := h.deps.Reconciler.ForceRefreshOne(r.Context(), id)
	respondResult(w, res, err)
}

// RefreshStuck force-refreshes every current stuck candidate.
func (h *Handler) RefreshStuck(w http.ResponseWriter, r *http.Request) {
	if h.deps.Reconciler == nil {
		respondError(w, http.StatusServiceUnavailable, "Reconciler not configured", nil)
		return
	}

	res, err := h.deps.Reconciler.ForceRefreshStuck(r.Context())
	respondResult(w, res, err)
}

// respondResult maps a forced refresh to a response. Per-match failures stay
// inside a 200; only a total provider outage is a 502.
func respondResult(w http.ResponseWriter, res *reconcile.Result, err error) {
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, res)
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "Match not found", err)
	case errors.Is(err, reconcile.ErrProviderUnavailable):
		respondJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":   "Provider unavailable",
			"status":  http.StatusBadGateway,
			"details": err.Error(),
			"result":  res,
		})
	default:
		respondError(w, http.StatusInternalServerError, "Refresh failed", err)
	}
}

// OverrideMatch applies an operator correction.
func (h *Handler) OverrideMatch(w http.ResponseWriter, r *http.Request) {
	if h.deps.Reconciler == nil {
		respondError(w, http.StatusServiceUnavailable, "Reconciler not configured", nil)
		return
	}
	id := mux.Vars(r)["matchID"]

	var req reconcile.ManualOverride
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid override", err)
		return
	}

	out, err := h.deps.Reconciler.ApplyManual(r.Context(), id, req)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, out)
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "Match not found", err)
	case errors.Is(err, reconcile.ErrInvalidOverride):
		respondError(w, http.StatusBadRequest, "Override rejected", err)
	default:
		respondError(w, http.StatusInternalServerError, "Override failed", err)
	}
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]interface{}{
		"error":  message,
		"status": status,
	}

	if err != nil {
		response["details"] = err.Error()
	}

	respondJSON(w, status, response)
}
