package gormstore

import (
	"encoding/json"
	"time"

	"github.com/farmacy-notify/internal/domain"
	"gorm.io/datatypes"
)

type notificationRow struct {
	ID            string `gorm:"primaryKey;size:26"`
	UserID        int64  `gorm:"not null;index:idx_user_created,priority:1"`
	Type          string `gorm:"size:32;not null"`
	Priority      string `gorm:"size:16;not null"`
	Title         string `gorm:"size:200;not null"`
	Message       string `gorm:"size:1000;not null"`
	Data          datatypes.JSON
	AllDevices    bool      `gorm:"not null"`
	IsRead        bool      `gorm:"not null"`
	ReadAt        *time.Time
	CreatedAt     time.Time `gorm:"not null;index:idx_user_created,priority:2"`
	ScheduledFor  *time.Time
	SentAt        *time.Time `gorm:"index:idx_due,priority:1"`
	FailedAt      *time.Time `gorm:"index:idx_due,priority:2"`
	NextAttemptAt *time.Time
	ClaimedUntil  *time.Time
	RetryCount    int    `gorm:"not null"`
	LastError     string `gorm:"size:500"`
}

func (notificationRow) TableName() string { return "user_notifications" }

func toNotificationRow(n *domain.Notification) (*notificationRow, error) {
	var data datatypes.JSON
	if len(n.Data) > 0 {
		b, err := json.Marshal(n.Data)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return &notificationRow{
		ID:            n.ID,
		UserID:        n.UserID,
		Type:          string(n.Type),
		Priority:      string(n.Priority),
		Title:         n.Title,
		Message:       n.Message,
		Data:          data,
		AllDevices:    n.AllDevices,
		IsRead:        n.IsRead,
		ReadAt:        utcPtr(n.ReadAt),
		CreatedAt:     n.CreatedAt.UTC(),
		ScheduledFor:  utcPtr(n.ScheduledFor),
		SentAt:        utcPtr(n.SentAt),
		FailedAt:      utcPtr(n.FailedAt),
		NextAttemptAt: utcPtr(n.NextAttemptAt),
		RetryCount:    n.RetryCount,
		LastError:     n.LastError,
	}, nil
}

func (r *notificationRow) toDomain() domain.Notification {
	n := domain.Notification{
		ID:            r.ID,
		UserID:        r.UserID,
		Type:          domain.NotificationType(r.Type),
		Priority:      domain.Priority(r.Priority),
		Title:         r.Title,
		Message:       r.Message,
		AllDevices:    r.AllDevices,
		IsRead:        r.IsRead,
		ReadAt:        r.ReadAt,
		CreatedAt:     r.CreatedAt,
		ScheduledFor:  r.ScheduledFor,
		SentAt:        r.SentAt,
		FailedAt:      r.FailedAt,
		NextAttemptAt: r.NextAttemptAt,
		RetryCount:    r.RetryCount,
		LastError:     r.LastError,
	}
	if len(r.Data) > 0 {
		_ = json.Unmarshal(r.Data, &n.Data)
	}
	return n
}

type deviceTokenRow struct {
	ID         string    `gorm:"primaryKey;size:26"`
	UserID     int64     `gorm:"not null;index"`
	Token      string    `gorm:"size:255;not null;uniqueIndex"`
	DeviceType string    `gorm:"size:20"`
	IsActive   bool      `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
	LastUsedAt time.Time `gorm:"not null"`
}

func (deviceTokenRow) TableName() string { return "fcm_tokens" }

func (r *deviceTokenRow) toDomain() domain.DeviceToken {
	return domain.DeviceToken{
		ID:         r.ID,
		UserID:     r.UserID,
		Token:      r.Token,
		DeviceType: r.DeviceType,
		IsActive:   r.IsActive,
		CreatedAt:  r.CreatedAt,
		LastUsedAt: r.LastUsedAt,
	}
}

type topicRow struct {
	ID          string `gorm:"primaryKey;size:26"`
	Name        string `gorm:"size:50;not null;uniqueIndex"`
	Description string `gorm:"size:200"`
	Type        string `gorm:"size:50"`
	IsActive    bool   `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (topicRow) TableName() string { return "notification_topics" }

func (r *topicRow) toDomain() domain.Topic {
	return domain.Topic{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Type:        r.Type,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type subscriptionRow struct {
	UserID    int64  `gorm:"primaryKey;autoIncrement:false"`
	TopicID   string `gorm:"primaryKey;size:26"`
	CreatedAt time.Time
}

func (subscriptionRow) TableName() string { return "user_topic_subscriptions" }

// Read-only views over tables owned by the main application.

type userRow struct {
	ID                    int64 `gorm:"primaryKey"`
	PreferredLanguage     string
	NotificationSettings  datatypes.JSON
	CurrentCropTrackingID *int64
}

func (userRow) TableName() string { return "users" }

func (r *userRow) toDomain() domain.UserProfile {
	u := domain.UserProfile{
		ID:                    r.ID,
		PreferredLanguage:     r.PreferredLanguage,
		CurrentCropTrackingID: r.CurrentCropTrackingID,
	}
	if len(r.NotificationSettings) > 0 {
		_ = json.Unmarshal(r.NotificationSettings, &u.NotificationSettings)
	}
	return u
}

type cropTrackingRow struct {
	ID          int64 `gorm:"primaryKey"`
	UserID      int64
	CropID      int64
	CurrentWeek int
}

func (cropTrackingRow) TableName() string { return "user_crop_tracking" }

type weekRow struct {
	ID         int64 `gorm:"primaryKey"`
	CropID     int64
	WeekNumber int
	ImageURLs  datatypes.JSON `gorm:"column:image_urls"`
}

func (weekRow) TableName() string { return "weeks" }

type weekTranslationRow struct {
	ID       int64 `gorm:"primaryKey"`
	WeekID   int64
	Language string
	Title    string
}

func (weekTranslationRow) TableName() string { return "week_translations" }

type cropTranslationRow struct {
	ID       int64 `gorm:"primaryKey"`
	CropID   int64
	Language string
	Name     string
	Variety  string
}

func (cropTranslationRow) TableName() string { return "crop_translations" }
