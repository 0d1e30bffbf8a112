package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/uptimewatch/uptimewatch/internal/middleware"
	"github.com/uptimewatch/uptimewatch/internal/model"
	"github.com/uptimewatch/uptimewatch/internal/repository"
	"github.com/uptimewatch/uptimewatch/internal/service/scheduler"
)

const (
	defaultObservationLimit = 50
	defaultAlertLimit       = 20
	maxListLimit            = 500
)

type monitorStore interface {
	Get(ctx context.Context, ownerID, id int64) (*model.Monitor, error)
	Update(ctx context.Context, ownerID, id int64, patch model.MonitorPatch) (*model.Monitor, error)
}

type observationLister interface {
	ListRecent(ctx context.Context, ownerID, monitorID int64, limit int) ([]model.Observation, error)
}

type alertLister interface {
	ListRecent(ctx context.Context, ownerID, monitorID int64, limit int) ([]model.Alert, error)
}

type monitorStatsService interface {
	MonitorStats(ctx context.Context, ownerID, monitorID int64) (model.MonitorStats, error)
}

type manualChecker interface {
	CheckNow(ctx context.Context, m model.Monitor) (*model.Observation, error)
}

type alertStateResetter interface {
	Forget(monitorID int64)
}

type MonitorHandler struct {
	monitors     monitorStore
	observations observationLister
	alerts       alertLister
	stats        monitorStatsService
	checker      manualChecker
	alertStates  alertStateResetter
}

func NewMonitorHandler(
	monitors monitorStore,
	observations observationLister,
	alerts alertLister,
	stats monitorStatsService,
	checker manualChecker,
	alertStates alertStateResetter,
) *MonitorHandler {
	return &MonitorHandler{
		monitors:     monitors,
		observations: observations,
		alerts:       alerts,
		stats:        stats,
		checker:      checker,
		alertStates:  alertStates,
	}
}

func (h *MonitorHandler) RegisterRoutes(r chi.Router) {
	r.Patch("/monitors/{id}", h.Update)
	r.Get("/monitors/{id}/stats", h.Stats)
	r.Get("/monitors/{id}/observations", h.Observations)
	r.Get("/monitors/{id}/alerts", h.Alerts)
	r.Post("/monitors/{id}/check", h.Check)
}

func (h *MonitorHandler) Update(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := monitorRequest(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB
	var patch model.MonitorPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := patch.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.monitors.Update(r.Context(), owner, id, patch)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "monitor not found")
			return
		}
		if isDuplicateKeyError(err) {
			writeError(w, http.StatusConflict, "monitor for this url already exists")
			return
		}
		slog.Error("failed to update monitor", "monitor_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update monitor")
		return
	}
	if patch.ResetsAlertState() {
		h.alertStates.Forget(id)
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MonitorHandler) Stats(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := monitorRequest(w, r)
	if !ok {
		return
	}
	if _, ok := h.lookup(w, r, owner, id); !ok {
		return
	}

	stats, err := h.stats.MonitorStats(r.Context(), owner, id)
	if err != nil {
		analyticsFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *MonitorHandler) Observations(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := monitorRequest(w, r)
	if !ok {
		return
	}
	if _, ok := h.lookup(w, r, owner, id); !ok {
		return
	}

	limit := queryLimit(r, defaultObservationLimit)
	observations, err := h.observations.ListRecent(r.Context(), owner, id, limit)
	if err != nil {
		slog.Error("failed to list observations", "monitor_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list observations")
		return
	}
	if observations == nil {
		observations = []model.Observation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"observations": observations})
}

func (h *MonitorHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := monitorRequest(w, r)
	if !ok {
		return
	}
	if _, ok := h.lookup(w, r, owner, id); !ok {
		return
	}

	limit := queryLimit(r, defaultAlertLimit)
	alerts, err := h.alerts.ListRecent(r.Context(), owner, id, limit)
	if err != nil {
		slog.Error("failed to list alerts", "monitor_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// Check runs the full pipeline for one monitor immediately, whether or not
// it is due or active.
func (h *MonitorHandler) Check(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := monitorRequest(w, r)
	if !ok {
		return
	}
	m, ok := h.lookup(w, r, owner, id)
	if !ok {
		return
	}

	obs, err := h.checker.CheckNow(r.Context(), *m)
	if err != nil {
		if errors.Is(err, scheduler.ErrCheckInFlight) {
			writeError(w, http.StatusConflict, "a check for this monitor is already running")
			return
		}
		if errors.Is(err, scheduler.ErrNotReady) {
			writeError(w, http.StatusServiceUnavailable, "monitoring pipeline is not ready")
			return
		}
		slog.Error("manual check failed", "monitor_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to check monitor")
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

func (h *MonitorHandler) lookup(w http.ResponseWriter, r *http.Request, owner, id int64) (*model.Monitor, bool) {
	m, err := h.monitors.Get(r.Context(), owner, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "monitor not found")
			return nil, false
		}
		slog.Error("failed to load monitor", "monitor_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load monitor")
		return nil, false
	}
	return m, true
}

func monitorRequest(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	owner, ok := middleware.OwnerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return 0, 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid monitor id")
		return 0, 0, false
	}
	return owner, id, true
}

func queryLimit(r *http.Request, def int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 || limit > maxListLimit {
		return def
	}
	return limit
}
