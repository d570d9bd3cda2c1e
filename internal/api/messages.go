package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ashureev/shsh-chat/internal/domain"
	"github.com/ashureev/shsh-chat/internal/identity"
	"github.com/go-chi/chi/v5"
)

type markReadRequest struct {
	SenderID string `json:"senderId" validate:"omitempty,max=128"`
}

// GetRoomMessages returns the room's messages decrypted for the caller.
func (h *Handler) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	roomID := chi.URLParam(r, "roomID")

	msgs, err := h.router.FetchRoom(r.Context(), roomID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, msgs)
}

// MarkRoomRead marks the caller's inbound messages in the room as read.
func (h *Handler) MarkRoomRead(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	roomID := chi.URLParam(r, "roomID")

	var req markReadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, fmt.Errorf("%w: invalid body: %w", domain.ErrValidation, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, fmt.Errorf("%w: %w", domain.ErrValidation, err))
		return
	}

	n, err := h.router.MarkRoomRead(r.Context(), roomID, userID, req.SenderID)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"roomId":  roomID,
		"updated": n,
	})
}
