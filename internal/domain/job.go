package domain

import "time"

type JobKind string

const (
	JobTestNotifications JobKind = "test_notifications"
	JobTestUpdates       JobKind = "test_updates"
)

// JobInfo describes one registered scheduler job.
type JobInfo struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	NextRun *time.Time `json:"next_run,omitempty"`
	Trigger string     `json:"trigger"`
	Running bool       `json:"running"`
}

type StartTestJobRequest struct {
	Kind            JobKind `json:"kind" validate:"required,oneof=test_notifications test_updates"`
	IntervalSeconds int     `json:"interval_seconds" validate:"omitempty,min=10,max=300"`
}
