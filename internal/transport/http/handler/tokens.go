package handler

import (
	"net/http"
	"strings"

	"github.com/farmacy-notify/internal/application/token"
	"github.com/farmacy-notify/internal/domain"
)

// logoutQueue runs the token cleanup of a logout in the background.
type logoutQueue interface {
	EnqueueLogout(userID int64) (string, error)
}

// TokenHandler handles device token registration endpoints.
type TokenHandler struct {
	svc    token.Service
	logout logoutQueue
}

func NewTokenHandler(svc token.Service, logout logoutQueue) *TokenHandler {
	return &TokenHandler{svc: svc, logout: logout}
}

func (h *TokenHandler) Register(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	var req domain.RegisterTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := h.svc.Register(r.Context(), uid, req); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "FCM token registered successfully"})
}

// Unregister removes ?token= from the caller's devices.
func (h *TokenHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	tok := strings.TrimSpace(r.URL.Query().Get("token"))
	if tok == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	removed, err := h.svc.Unregister(r.Context(), uid, tok)
	if err != nil {
		httpError(w, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "token not registered for this user")
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "FCM token unregistered successfully"})
}

// UnregisterAll queues removal of every caller token and answers 202.
func (h *TokenHandler) UnregisterAll(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	taskID, err := h.logout.EnqueueLogout(uid)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ResultEnvelope{Success: true, Message: "token cleanup queued", ID: taskID})
}

func (h *TokenHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	list, err := h.svc.List(r.Context(), uid)
	if err != nil {
		httpError(w, err)
		return
	}
	if list == nil {
		list = []domain.DeviceToken{}
	}
	writeJSON(w, http.StatusOK, list)
}
