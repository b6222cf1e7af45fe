package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/farmacy-notify/internal/application/notification"
	"github.com/farmacy-notify/internal/domain"
	"github.com/farmacy-notify/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
)

// NotificationHandler handles notification endpoints.
type NotificationHandler struct {
	svc notification.Service
	loc *time.Location
	now func() time.Time
}

func NewNotificationHandler(svc notification.Service, loc *time.Location) *NotificationHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &NotificationHandler{svc: svc, loc: loc, now: time.Now}
}

// Create stores a notification for the caller. Admins may target another user through user_id.
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	var req domain.CreateNotificationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if req.UserID == 0 || claims.Role != domain.RoleAdmin {
		req.UserID = uid
	}
	n, err := h.svc.CreateAndSend(r.Context(), req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// List supports skip, limit, type and unread_only query parameters.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := domain.NotificationFilter{Type: domain.NotificationType(q.Get("type"))}
	var err error
	if f.Skip, err = queryInt(q.Get("skip"), 0); err != nil || f.Skip < 0 {
		writeError(w, http.StatusBadRequest, "invalid skip")
		return
	}
	if f.Limit, err = queryInt(q.Get("limit"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if v := q.Get("unread_only"); v != "" {
		if f.UnreadOnly, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid unread_only")
			return
		}
	}
	list, err := h.svc.ListForUser(r.Context(), uid, f)
	if err != nil {
		httpError(w, err)
		return
	}
	if list == nil {
		list = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	updated, err := h.svc.MarkRead(r.Context(), chi.URLParam(r, "id"), uid)
	if err != nil {
		httpError(w, err)
		return
	}
	if !updated {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "notification marked as read"})
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	n, err := h.svc.MarkAllRead(r.Context(), uid)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CountEnvelope{Count: n, Message: "all notifications marked as read"})
}

// SendTest pushes an immediate system alert to the caller.
func (h *NotificationHandler) SendTest(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	n, err := h.svc.CreateAndSend(r.Context(), domain.CreateNotificationRequest{
		UserID:   uid,
		Type:     domain.TypeSystemAlert,
		Priority: domain.PriorityHigh,
		Title:    "Test Notification",
		Message:  "Test notification sent at " + h.now().In(h.loc).Format("15:04:05"),
		Data:     map[string]any{"test": true},
	})
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// ScheduleTest stores a system alert due in ?minutes= (1 to 60, default 1).
func (h *NotificationHandler) ScheduleTest(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	minutes, err := queryInt(r.URL.Query().Get("minutes"), 1)
	if err != nil || minutes < 1 || minutes > 60 {
		writeError(w, http.StatusBadRequest, "minutes must be between 1 and 60")
		return
	}
	at := h.now().In(h.loc).Add(time.Duration(minutes) * time.Minute)
	_, err = h.svc.CreateAndSend(r.Context(), domain.CreateNotificationRequest{
		UserID:       uid,
		Type:         domain.TypeSystemAlert,
		Priority:     domain.PriorityMedium,
		Title:        "Scheduled Test",
		Message:      "This notification was scheduled for " + at.Format("15:04:05"),
		Data:         map[string]any{"test": true, "scheduled": true},
		ScheduledFor: &at,
	})
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: fmt.Sprintf("Test notification scheduled for %s", at.Format("15:04:05"))})
}

// Broadcast sends an admin message to one topic or to any of several topics.
func (h *NotificationHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req domain.BroadcastRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sent, err := h.svc.Broadcast(r.Context(), req)
	if err != nil {
		httpError(w, err)
		return
	}
	if !sent {
		writeError(w, http.StatusBadGateway, "broadcast was not accepted by the push provider")
		return
	}
	writeJSON(w, http.StatusOK, ResultEnvelope{Success: true, Message: "broadcast sent"})
}

func queryInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
