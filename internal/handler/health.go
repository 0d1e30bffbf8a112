package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HealthHandler reports liveness. A degraded process is alive but has no
// database, so the pipeline is not running.
type HealthHandler struct {
	degraded func() bool
}

func NewHealthHandler(degraded func() bool) *HealthHandler {
	return &HealthHandler{degraded: degraded}
}

func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Health)
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	degraded := h.degraded != nil && h.degraded()
	if degraded {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "degraded": degraded})
}
