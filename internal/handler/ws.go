package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/uptimewatch/uptimewatch/internal/middleware"
	"github.com/uptimewatch/uptimewatch/internal/service/events"
)

type connector interface {
	HandleConnect(w http.ResponseWriter, r *http.Request, rooms []string)
}

// WSHandler upgrades authenticated requests to live event streams. Every
// connection joins its owner's room; admin tokens also join the global room.
type WSHandler struct {
	hub connector
}

func NewWSHandler(hub connector) *WSHandler {
	return &WSHandler{hub: hub}
}

func (h *WSHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.Connect)
}

func (h *WSHandler) Connect(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.OwnerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.hub.HandleConnect(w, r, Rooms(owner, middleware.IsAdmin(r.Context())))
}

// Rooms lists the event rooms a connection subscribes to.
func Rooms(owner int64, admin bool) []string {
	rooms := []string{events.UserRoom(owner)}
	if admin {
		rooms = append(rooms, events.GlobalRoom)
	}
	return rooms
}
