package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/farmacy-notify/internal/domain"
	"github.com/sirupsen/logrus"
)

// SendDailyDigest walks users with an active crop selection. Content is resolved in the
// user's own language only; a missing week or translation skips the user.
func (s *service) SendDailyDigest(ctx context.Context, now time.Time) (int, error) {
	users, err := s.users.ListWithCropTracking(ctx)
	if err != nil {
		return 0, err
	}

	created, skipped := 0, 0
	for i := range users {
		if ctx.Err() != nil {
			break
		}
		u := &users[i]
		log := s.log.WithField("user_id", u.ID)

		req, err := s.digestFor(ctx, u)
		if err != nil {
			skipped++
			if errors.Is(err, domain.ErrNotFound) {
				log.WithError(err).Debug("digest skipped")
			} else {
				log.WithError(err).Warn("digest skipped")
			}
			continue
		}
		if req == nil {
			skipped++
			continue
		}
		if _, err := s.CreateAndSend(ctx, *req); err != nil {
			log.WithError(err).Error("create daily digest")
			continue
		}
		created++
	}

	s.log.WithFields(logrus.Fields{
		"candidates": len(users),
		"created":    created,
		"skipped":    skipped,
		"run_at":     now.In(s.loc).Format(time.RFC3339),
	}).Info("daily digest finished")
	return created, ctx.Err()
}

// digestFor builds the daily_update request for u, or nil when u has opted out.
func (s *service) digestFor(ctx context.Context, u *domain.UserProfile) (*domain.CreateNotificationRequest, error) {
	if !u.NotificationSettings.WantsDailyDigest() || u.CurrentCropTrackingID == nil {
		return nil, nil
	}
	tracking, err := s.content.Tracking(ctx, *u.CurrentCropTrackingID)
	if err != nil {
		return nil, err
	}
	wc, err := s.content.WeekContent(ctx, tracking.CropID, tracking.CurrentWeek, u.Language())
	if err != nil {
		return nil, err
	}
	return &domain.CreateNotificationRequest{
		UserID:   u.ID,
		Type:     domain.TypeDailyUpdate,
		Priority: domain.PriorityMedium,
		Title:    DigestTitle(wc),
		Message:  fmt.Sprintf("%s 👋 Here's your tip Today!!", wc.WeekTitle),
		Data:     DigestData(wc),
	}, nil
}

// DigestTitle is shared with the test-update job so both render the same heading.
func DigestTitle(wc *domain.WeekContent) string {
	return fmt.Sprintf("Daily Update - %s (Week %d)", wc.CropName, wc.WeekNumber)
}

// DigestData is the deeplink payload opening the crop week screen.
func DigestData(wc *domain.WeekContent) map[string]any {
	return map[string]any{
		"crop_id":      wc.CropID,
		"week_number":  wc.WeekNumber,
		"crop_name":    wc.CropName,
		"crop_variety": wc.CropVariety,
		"image_url":    wc.FirstImage(),
		"deeplink":     fmt.Sprintf("/crops?crop_id=%d&week_number=%d", wc.CropID, wc.WeekNumber),
	}
}
