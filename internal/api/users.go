package api

import (
	"net/http"

	"github.com/ashureev/shsh-chat/internal/domain"
	"github.com/ashureev/shsh-chat/internal/identity"
)

// ListUsers returns the caller's conversation list.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	convs, err := h.router.ListConversations(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, convs)
}

// GetMe returns the current user's record.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if user == nil {
		writeError(w, domain.ErrNotFound)
		return
	}
	JSON(w, http.StatusOK, user)
}
