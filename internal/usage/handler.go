package usage

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/hanjaemi/hanjaemi/internal/api"
	"github.com/hanjaemi/hanjaemi/internal/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Get reports the caller's current usage against their limits. Read-only:
// calling it any number of times changes nothing.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	st, err := h.svc.Check(r.Context(), userID)
	if err != nil {
		slog.Error("checking usage", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONRaw(w, http.StatusOK, st)
}

// Record is the manual increment for consumers that call the provider
// out-of-band (practice-module graders). Returns the post-increment status.
func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	st, err := h.svc.Check(r.Context(), userID)
	if err != nil {
		slog.Error("checking usage", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if !st.CanMakeRequest {
		WriteLimitExceeded(w, st)
		return
	}

	if err := h.svc.Record(r.Context(), userID); err != nil {
		slog.Error("recording usage", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	st, err = h.svc.Check(r.Context(), userID)
	if err != nil {
		slog.Error("checking usage after record", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONRaw(w, http.StatusOK, st)
}

// WriteLimitExceeded writes the structured 429 quota response.
func WriteLimitExceeded(w http.ResponseWriter, st Status) {
	api.JSONRaw(w, http.StatusTooManyRequests, LimitResponse{
		Error: LimitExceededMessage,
		Usage: st,
	})
}

func callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return uuid.Nil, false
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return uuid.Nil, false
	}
	return userID, true
}
