package handler

import (
	"context"
	"net/http"

	"github.com/farmacy-notify/internal/application/topic"
	"github.com/farmacy-notify/internal/domain"
)

// TopicHandler handles topic catalog and subscription endpoints.
type TopicHandler struct {
	svc topic.Service
}

func NewTopicHandler(svc topic.Service) *TopicHandler { return &TopicHandler{svc: svc} }

type subscribeBody struct {
	Name string `json:"name"`
}

func (h *TopicHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTopicRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := h.svc.Create(r.Context(), req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *TopicHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	if list == nil {
		list = []domain.Topic{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *TopicHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.svc.Subscribe, "subscribed to")
}

func (h *TopicHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.svc.Unsubscribe, "unsubscribed from")
}

func (h *TopicHandler) toggle(w http.ResponseWriter, r *http.Request, op func(context.Context, int64, string) (bool, error), verb string) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	var body subscribeBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	done, err := op(r.Context(), uid, body.Name)
	if err != nil {
		httpError(w, err)
		return
	}
	if !done {
		writeError(w, http.StatusBadRequest, "could not update subscription to "+body.Name)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "Successfully " + verb + " " + body.Name})
}

func (h *TopicHandler) Subscriptions(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	list, err := h.svc.ListSubscriptions(r.Context(), uid)
	if err != nil {
		httpError(w, err)
		return
	}
	if list == nil {
		list = []domain.Topic{}
	}
	writeJSON(w, http.StatusOK, list)
}
