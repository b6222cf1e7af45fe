package gormstore

import (
	"context"
	"time"

	"github.com/farmacy-notify/internal/domain"
	"gorm.io/gorm"
)

// NotificationRepo persists notifications and their delivery lifecycle.
type NotificationRepo struct {
	db *gorm.DB
}

func NewNotificationRepo(db *gorm.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

func (r *NotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	row, err := toNotificationRow(n)
	if err != nil {
		return storeErr("encode notification", err)
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return storeErr("create notification", err)
	}
	return nil
}

func (r *NotificationRepo) Get(ctx context.Context, id string) (*domain.Notification, error) {
	var row notificationRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, storeErr("get notification", err)
	}
	n := row.toDomain()
	return &n, nil
}

// ListByUser returns the user's notifications newest first.
func (r *NotificationRepo) ListByUser(ctx context.Context, userID int64, f domain.NotificationFilter) ([]domain.Notification, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if f.Type != "" {
		q = q.Where("type = ?", string(f.Type))
	}
	if f.UnreadOnly {
		q = q.Where("is_read = ?", false)
	}
	var rows []notificationRow
	err := q.Order("created_at DESC").Order("id DESC").
		Offset(f.Skip).Limit(f.Limit).
		Find(&rows).Error
	if err != nil {
		return nil, storeErr("list notifications", err)
	}
	return toNotifications(rows), nil
}

// ListDue returns unsent, unclaimed notifications whose schedule and backoff have elapsed, oldest first.
func (r *NotificationRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	now = now.UTC()
	var rows []notificationRow
	err := r.db.WithContext(ctx).
		Where("sent_at IS NULL AND failed_at IS NULL").
		Where("scheduled_for IS NULL OR scheduled_for <= ?", now).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Where("claimed_until IS NULL OR claimed_until < ?", now).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, storeErr("list due notifications", err)
	}
	return toNotifications(rows), nil
}

// Claim leases an unsent notification to the caller until now+lease.
// It reports false when another worker holds a live claim or the row was already sent.
func (r *NotificationRepo) Claim(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error) {
	now = now.UTC()
	res := r.db.WithContext(ctx).Model(&notificationRow{}).
		Where("id = ? AND sent_at IS NULL AND failed_at IS NULL", id).
		Where("claimed_until IS NULL OR claimed_until < ?", now).
		Update("claimed_until", now.Add(lease))
	if res.Error != nil {
		return false, storeErr("claim notification", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkSent sets sent_at only while it is still NULL, so concurrent callers count one success.
func (r *NotificationRepo) MarkSent(ctx context.Context, id string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&notificationRow{}).
		Where("id = ? AND sent_at IS NULL", id).
		Updates(map[string]interface{}{
			"sent_at":       at.UTC(),
			"claimed_until": nil,
			"last_error":    "",
		})
	if res.Error != nil {
		return false, storeErr("mark notification sent", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RecordFailure stores retry bookkeeping and releases the claim.
func (r *NotificationRepo) RecordFailure(ctx context.Context, id string, f domain.DeliveryFailure) error {
	err := r.db.WithContext(ctx).Model(&notificationRow{}).
		Where("id = ? AND sent_at IS NULL", id).
		Updates(map[string]interface{}{
			"retry_count":     f.RetryCount,
			"next_attempt_at": utcPtr(f.NextAttemptAt),
			"failed_at":       utcPtr(f.FailedAt),
			"last_error":      truncate(f.Reason, 500),
			"claimed_until":   nil,
		}).Error
	if err != nil {
		return storeErr("record delivery failure", err)
	}
	return nil
}

// MarkRead flags one notification as read when it belongs to userID.
func (r *NotificationRepo) MarkRead(ctx context.Context, id string, userID int64, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&notificationRow{}).
		Where("id = ? AND user_id = ? AND is_read = ?", id, userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at.UTC()})
	if res.Error != nil {
		return false, storeErr("mark notification read", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	// Already read still counts as success for the owner.
	var count int64
	if err := r.db.WithContext(ctx).Model(&notificationRow{}).
		Where("id = ? AND user_id = ?", id, userID).Count(&count).Error; err != nil {
		return false, storeErr("check notification owner", err)
	}
	return count > 0, nil
}

func (r *NotificationRepo) MarkAllRead(ctx context.Context, userID int64, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&notificationRow{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at.UTC()})
	if res.Error != nil {
		return 0, storeErr("mark all notifications read", res.Error)
	}
	return res.RowsAffected, nil
}

func toNotifications(rows []notificationRow) []domain.Notification {
	out := make([]domain.Notification, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
