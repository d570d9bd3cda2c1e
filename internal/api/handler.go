// Package api provides the HTTP handlers of the chat relay.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/shsh-chat/internal/chat"
	"github.com/ashureev/shsh-chat/internal/domain"
	"github.com/ashureev/shsh-chat/internal/shared"
	"github.com/ashureev/shsh-chat/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler serves the authenticated /api routes.
type Handler struct {
	router   *chat.Router
	users    store.UserDirectory
	validate *validator.Validate
}

// NewHandler creates a new Handler.
func NewHandler(router *chat.Router, users store.UserDirectory) *Handler {
	return &Handler{
		router:   router,
		users:    users,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterRoutes registers the API routes. The caller mounts them behind
// identity middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/messages/{roomID}", h.GetRoomMessages)
	r.Put("/messages/read/{roomID}", h.MarkRoomRead)
	r.Get("/users", h.ListUsers)
	r.Get("/me", h.GetMe)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// writeError maps a core error to a status code.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotParticipant):
		Error(w, http.StatusForbidden, "not a participant of this conversation")
	case errors.Is(err, domain.ErrNotFound):
		Error(w, http.StatusNotFound, "not found")
	case shared.IsSQLiteConflictError(err):
		slog.Warn("Database busy", "error", err)
		Error(w, http.StatusServiceUnavailable, "database busy, retry")
	default:
		slog.Error("Request failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
