package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/farmacy-notify/internal/domain"
	"github.com/farmacy-notify/internal/pkg/id"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// upsertAttempts bounds retries when two registrations of one token race on the unique index.
const upsertAttempts = 3

// TokenRepo stores push registrations. The token column is unique, so a token has one owner.
type TokenRepo struct {
	db *gorm.DB
}

func NewTokenRepo(db *gorm.DB) *TokenRepo {
	return &TokenRepo{db: db}
}

// Upsert registers token for userID inside one transaction: refresh the row when the
// user already owns it, otherwise delete any other owner's row and insert a new one.
func (r *TokenRepo) Upsert(ctx context.Context, userID int64, token, deviceType string, now time.Time) (*domain.DeviceToken, error) {
	now = now.UTC()
	var out deviceTokenRow
	var err error
	for attempt := 0; attempt < upsertAttempts; attempt++ {
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return upsertTx(tx, userID, token, deviceType, now, &out)
		})
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
	}
	if err != nil {
		return nil, storeErr("register device token", err)
	}
	dt := out.toDomain()
	return &dt, nil
}

func upsertTx(tx *gorm.DB, userID int64, token, deviceType string, now time.Time, out *deviceTokenRow) error {
	var existing deviceTokenRow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("token = ?", token).
		Take(&existing).Error
	switch {
	case err == nil && existing.UserID == userID:
		if deviceType == "" {
			deviceType = existing.DeviceType
		}
		if err := tx.Model(&existing).Updates(map[string]interface{}{
			"device_type":  deviceType,
			"is_active":    true,
			"last_used_at": now,
		}).Error; err != nil {
			return err
		}
		existing.DeviceType = deviceType
		existing.IsActive = true
		existing.LastUsedAt = now
		*out = existing
		return nil
	case err == nil:
		if err := tx.Delete(&existing).Error; err != nil {
			return err
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	*out = deviceTokenRow{
		ID:         id.New(),
		UserID:     userID,
		Token:      token,
		DeviceType: deviceType,
		IsActive:   true,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	return tx.Create(out).Error
}

// Delete removes one (user, token) pair and reports whether a row went away.
func (r *TokenRepo) Delete(ctx context.Context, userID int64, token string) (bool, error) {
	res := r.db.WithContext(ctx).Where("user_id = ? AND token = ?", userID, token).Delete(&deviceTokenRow{})
	if res.Error != nil {
		return false, storeErr("delete device token", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *TokenRepo) DeleteAllForUser(ctx context.Context, userID int64) (int64, error) {
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&deviceTokenRow{})
	if res.Error != nil {
		return 0, storeErr("delete user device tokens", res.Error)
	}
	return res.RowsAffected, nil
}

// ListActive returns the user's active tokens, most recently used first.
func (r *TokenRepo) ListActive(ctx context.Context, userID int64) ([]domain.DeviceToken, error) {
	var rows []deviceTokenRow
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("last_used_at DESC").Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, storeErr("list device tokens", err)
	}
	out := make([]domain.DeviceToken, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// DeleteByToken drops a token regardless of owner. Used when the provider reports it unregistered.
func (r *TokenRepo) DeleteByToken(ctx context.Context, token string) (bool, error) {
	res := r.db.WithContext(ctx).Where("token = ?", token).Delete(&deviceTokenRow{})
	if res.Error != nil {
		return false, storeErr("delete invalid device token", res.Error)
	}
	return res.RowsAffected > 0, nil
}
