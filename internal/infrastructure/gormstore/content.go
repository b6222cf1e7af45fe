package gormstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/farmacy-notify/internal/domain"
	"gorm.io/gorm"
)

// ContentRepo resolves crop tracking and localized week content.
type ContentRepo struct {
	db *gorm.DB
}

func NewContentRepo(db *gorm.DB) *ContentRepo {
	return &ContentRepo{db: db}
}

func (r *ContentRepo) Tracking(ctx context.Context, trackingID int64) (*domain.CropTracking, error) {
	var row cropTrackingRow
	if err := r.db.WithContext(ctx).Where("id = ?", trackingID).Take(&row).Error; err != nil {
		return nil, storeErr("get crop tracking", err)
	}
	return &domain.CropTracking{
		ID:          row.ID,
		UserID:      row.UserID,
		CropID:      row.CropID,
		CurrentWeek: row.CurrentWeek,
	}, nil
}

// WeekContent returns the week title and crop naming in exactly language.
// Missing week, week translation or crop translation all report domain.ErrNotFound.
func (r *ContentRepo) WeekContent(ctx context.Context, cropID int64, week int, language string) (*domain.WeekContent, error) {
	db := r.db.WithContext(ctx)

	var w weekRow
	if err := db.Where("crop_id = ? AND week_number = ?", cropID, week).Take(&w).Error; err != nil {
		return nil, storeErr(fmt.Sprintf("get week %d of crop %d", week, cropID), err)
	}
	var wt weekTranslationRow
	if err := db.Where("week_id = ? AND language = ?", w.ID, language).Take(&wt).Error; err != nil {
		return nil, storeErr("get week translation", err)
	}
	var ct cropTranslationRow
	if err := db.Where("crop_id = ? AND language = ?", cropID, language).Take(&ct).Error; err != nil {
		return nil, storeErr("get crop translation", err)
	}

	wc := &domain.WeekContent{
		CropID:      cropID,
		WeekNumber:  week,
		Language:    language,
		WeekTitle:   wt.Title,
		CropName:    ct.Name,
		CropVariety: ct.Variety,
	}
	if len(w.ImageURLs) > 0 {
		_ = json.Unmarshal(w.ImageURLs, &wc.ImageURLs)
	}
	return wc, nil
}

