package domain

import "time"

type NotificationType string

const (
	TypeDailyUpdate  NotificationType = "daily_update"
	TypeDiseaseAlert NotificationType = "disease_alert"
	TypeWeatherAlert NotificationType = "weather_alert"
	TypeMarketUpdate NotificationType = "market_update"
	TypeNewsAlert    NotificationType = "news_alert"
	TypeSystemAlert  NotificationType = "system_alert"
)

// NotificationTypes lists every accepted notification type.
var NotificationTypes = []NotificationType{
	TypeDailyUpdate, TypeDiseaseAlert, TypeWeatherAlert,
	TypeMarketUpdate, TypeNewsAlert, TypeSystemAlert,
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Priorities lists every accepted priority.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

// Elevated reports whether the priority maps to the provider's high delivery lane.
func (p Priority) Elevated() bool {
	return p == PriorityHigh || p == PriorityUrgent
}

type Notification struct {
	ID            string           `json:"id" dynamodbav:"notification_id"`
	UserID        int64            `json:"user_id" dynamodbav:"user_id"`
	Type          NotificationType `json:"type" dynamodbav:"type"`
	Priority      Priority         `json:"priority" dynamodbav:"priority"`
	Title         string           `json:"title" dynamodbav:"title"`
	Message       string           `json:"message" dynamodbav:"message"`
	Data          map[string]any   `json:"data,omitempty" dynamodbav:"data,omitempty"`
	AllDevices    bool             `json:"all_devices" dynamodbav:"all_devices"`
	IsRead        bool             `json:"is_read" dynamodbav:"is_read"`
	ReadAt        *time.Time       `json:"read_at,omitempty" dynamodbav:"read_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at" dynamodbav:"created_at"`
	ScheduledFor  *time.Time       `json:"scheduled_for,omitempty" dynamodbav:"scheduled_for,omitempty"`
	SentAt        *time.Time       `json:"sent_at,omitempty" dynamodbav:"sent_at,omitempty"`
	RetryCount    int              `json:"retry_count" dynamodbav:"retry_count"`
	NextAttemptAt *time.Time       `json:"next_attempt_at,omitempty" dynamodbav:"next_attempt_at,omitempty"`
	FailedAt      *time.Time       `json:"failed_at,omitempty" dynamodbav:"failed_at,omitempty"`
	LastError     string           `json:"last_error,omitempty" dynamodbav:"last_error,omitempty"`
}

// IsDue reports whether the notification should be attempted at now.
func (n *Notification) IsDue(now time.Time) bool {
	if n.SentAt != nil || n.FailedAt != nil {
		return false
	}
	if n.ScheduledFor != nil && n.ScheduledFor.After(now) {
		return false
	}
	return n.NextAttemptAt == nil || !n.NextAttemptAt.After(now)
}

type CreateNotificationRequest struct {
	UserID       int64            `json:"user_id" validate:"required,gt=0"`
	Type         NotificationType `json:"type" validate:"required,notiftype"`
	Priority     Priority         `json:"priority" validate:"omitempty,notifpriority"`
	Title        string           `json:"title" validate:"required,max=200"`
	Message      string           `json:"message" validate:"required,max=1000"`
	Data         map[string]any   `json:"data"`
	ScheduledFor *time.Time       `json:"scheduled_for"`
	AllDevices   bool             `json:"all_devices"`
}

type BroadcastRequest struct {
	Topics   []string         `json:"topics" validate:"required,min=1,max=5,dive,topicname"`
	Type     NotificationType `json:"type" validate:"required,notiftype"`
	Priority Priority         `json:"priority" validate:"omitempty,notifpriority"`
	Title    string           `json:"title" validate:"required,max=200"`
	Message  string           `json:"message" validate:"required,max=1000"`
	Data     map[string]any   `json:"data"`
}

// NotificationFilter narrows a per-user listing.
type NotificationFilter struct {
	Skip       int
	Limit      int
	Type       NotificationType
	UnreadOnly bool
}

// DeliveryFailure is the bookkeeping written after a failed attempt.
type DeliveryFailure struct {
	RetryCount    int
	NextAttemptAt *time.Time
	FailedAt      *time.Time
	Reason        string
}

// PushMessage is the provider-neutral shape handed to the delivery client.
type PushMessage struct {
	Title     string
	Body      string
	Data      map[string]any
	ImageURL  string
	Sound     string
	ChannelID string
	Priority  Priority
}

// MulticastResult sums a fan-out across provider batches.
type MulticastResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
}
