package handler

import (
	"net/http"

	"github.com/farmacy-notify/internal/application/jobs"
	"github.com/farmacy-notify/internal/domain"
)

// JobHandler handles per-user test jobs and the admin job listing.
type JobHandler struct {
	svc jobs.Service
}

func NewJobHandler(svc jobs.Service) *JobHandler { return &JobHandler{svc: svc} }

type jobsEnvelope struct {
	Active bool             `json:"active"`
	Jobs   []domain.JobInfo `json:"jobs"`
}

func kindParam(r *http.Request) domain.JobKind {
	if k := r.URL.Query().Get("kind"); k != "" {
		return domain.JobKind(k)
	}
	return domain.JobTestUpdates
}

// Start begins a recurring test job for the caller. Query: kind, interval_seconds.
func (h *JobHandler) Start(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	interval, err := queryInt(r.URL.Query().Get("interval_seconds"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid interval_seconds")
		return
	}
	started, jobID, err := h.svc.StartTestJob(r.Context(), uid, domain.StartTestJobRequest{
		Kind:            kindParam(r),
		IntervalSeconds: interval,
	})
	if err != nil {
		httpError(w, err)
		return
	}
	msg := "test job started"
	if !started {
		msg = "test job already running"
	}
	writeJSON(w, http.StatusOK, ResultEnvelope{Success: started, Message: msg, ID: jobID})
}

func (h *JobHandler) Stop(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	stopped, err := h.svc.StopTestJob(r.Context(), uid, kindParam(r))
	if err != nil {
		httpError(w, err)
		return
	}
	msg := "test job stopped"
	if !stopped {
		msg = "no such test job"
	}
	writeJSON(w, http.StatusOK, ResultEnvelope{Success: stopped, Message: msg})
}

// Active lists the caller's own test jobs.
func (h *JobHandler) Active(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	mine := map[string]bool{
		jobs.TestJobID(domain.JobTestNotifications, uid): true,
		jobs.TestJobID(domain.JobTestUpdates, uid):       true,
	}
	out := []domain.JobInfo{}
	for _, j := range h.svc.ListJobs() {
		if mine[j.ID] {
			out = append(out, j)
		}
	}
	writeJSON(w, http.StatusOK, jobsEnvelope{Active: len(out) > 0, Jobs: out})
}

// List returns every scheduled job.
func (h *JobHandler) List(w http.ResponseWriter, _ *http.Request) {
	list := h.svc.ListJobs()
	if list == nil {
		list = []domain.JobInfo{}
	}
	writeJSON(w, http.StatusOK, jobsEnvelope{Jobs: list})
}
