package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/uptimewatch/uptimewatch/internal/service/scheduler"
)

type pipelineStatus interface {
	Status() scheduler.Status
}

type PipelineHandler struct {
	scheduler pipelineStatus
}

func NewPipelineHandler(s pipelineStatus) *PipelineHandler {
	return &PipelineHandler{scheduler: s}
}

func (h *PipelineHandler) RegisterRoutes(r chi.Router) {
	r.Get("/pipeline/status", h.Status)
}

func (h *PipelineHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}
