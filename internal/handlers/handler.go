package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/MaxwellShipley/OS-zoom-app/internal/room"
	"github.com/MaxwellShipley/OS-zoom-app/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	env      string
	accounts store.DataStore
	rooms    *room.Store
	live     func() int // open websocket connections
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(env string, accounts store.DataStore, rooms *room.Store, live func() int) *Handler {
	return &Handler{env: env, accounts: accounts, rooms: rooms, live: live}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
