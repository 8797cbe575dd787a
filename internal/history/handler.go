package history

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hanjaemi/hanjaemi/internal/api"
	"github.com/hanjaemi/hanjaemi/internal/auth"
)

const defaultListLimit = 100

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// ListSessionMessages returns the caller's messages for one session in
// chronological order. With history disabled this returns an empty list, not
// an error.
func (h *Handler) ListSessionMessages(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		api.HandleError(w, api.NewBadRequestError("missing session ID"))
		return
	}

	limit := defaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	entries, err := h.store.ListBySession(r.Context(), userID, sessionID, limit)
	if err != nil {
		slog.Error("listing session messages", "error", err, "session_id", sessionID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}

	api.JSON(w, http.StatusOK, entries)
}
