package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/uptimewatch/uptimewatch/internal/middleware"
	"github.com/uptimewatch/uptimewatch/internal/model"
)

type analyticsService interface {
	Overview(ctx context.Context, ownerID int64, r model.Range) (model.Overview, error)
	UptimeHistory(ctx context.Context, ownerID int64, r model.Range) ([]model.UptimePoint, error)
	ResponseTimeHistory(ctx context.Context, ownerID int64, r model.Range) ([]model.ResponseTimePoint, error)
	AlertHistory(ctx context.Context, ownerID int64, r model.Range) ([]model.AlertHistoryPoint, error)
}

type AnalyticsHandler struct {
	analytics analyticsService
}

func NewAnalyticsHandler(analytics analyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

func (h *AnalyticsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/analytics/overview", h.Overview)
	r.Get("/analytics/uptime", h.Uptime)
	r.Get("/analytics/response-time", h.ResponseTime)
	r.Get("/analytics/alerts", h.Alerts)
}

func (h *AnalyticsHandler) Overview(w http.ResponseWriter, r *http.Request) {
	owner, rng, ok := analyticsRequest(w, r)
	if !ok {
		return
	}
	overview, err := h.analytics.Overview(r.Context(), owner, rng)
	if err != nil {
		analyticsFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (h *AnalyticsHandler) Uptime(w http.ResponseWriter, r *http.Request) {
	owner, rng, ok := analyticsRequest(w, r)
	if !ok {
		return
	}
	points, err := h.analytics.UptimeHistory(r.Context(), owner, rng)
	if err != nil {
		analyticsFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"range": rng, "data": points})
}

func (h *AnalyticsHandler) ResponseTime(w http.ResponseWriter, r *http.Request) {
	owner, rng, ok := analyticsRequest(w, r)
	if !ok {
		return
	}
	points, err := h.analytics.ResponseTimeHistory(r.Context(), owner, rng)
	if err != nil {
		analyticsFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"range": rng, "data": points})
}

func (h *AnalyticsHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	owner, rng, ok := analyticsRequest(w, r)
	if !ok {
		return
	}
	points, err := h.analytics.AlertHistory(r.Context(), owner, rng)
	if err != nil {
		analyticsFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"range": rng, "data": points})
}

// analyticsRequest resolves the caller and the range query parameter,
// writing the error response itself when either is missing or invalid.
func analyticsRequest(w http.ResponseWriter, r *http.Request) (int64, model.Range, bool) {
	owner, ok := middleware.OwnerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return 0, "", false
	}
	rng, err := model.ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, "", false
	}
	return owner, rng, true
}

func analyticsFailure(w http.ResponseWriter, err error) {
	slog.Error("analytics query failed", "error", err)
	if errors.Is(err, context.Canceled) {
		return
	}
	writeError(w, http.StatusServiceUnavailable, "analytics temporarily unavailable")
}
