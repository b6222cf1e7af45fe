package gormstore

import (
	"context"

	"github.com/farmacy-notify/internal/domain"
	"gorm.io/gorm"
)

const userBatchSize = 500

// UserRepo reads notification preferences from the main app's users table.
type UserRepo struct {
	db *gorm.DB
}

func NewUserRepo(db *gorm.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) Get(ctx context.Context, userID int64) (*domain.UserProfile, error) {
	var row userRow
	if err := r.db.WithContext(ctx).Where("id = ?", userID).Take(&row).Error; err != nil {
		return nil, storeErr("get user", err)
	}
	u := row.toDomain()
	return &u, nil
}

// ListWithCropTracking returns users that have a current crop selection, in id order.
// Preference filtering happens in the caller because the settings live in a JSON blob.
func (r *UserRepo) ListWithCropTracking(ctx context.Context) ([]domain.UserProfile, error) {
	var out []domain.UserProfile
	var rows []userRow
	err := r.db.WithContext(ctx).
		Where("current_crop_tracking_id IS NOT NULL").
		Order("id ASC").
		FindInBatches(&rows, userBatchSize, func(_ *gorm.DB, _ int) error {
			for i := range rows {
				out = append(out, rows[i].toDomain())
			}
			return nil
		}).Error
	if err != nil {
		return nil, storeErr("list tracked users", err)
	}
	return out, nil
}
