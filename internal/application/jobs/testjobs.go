package jobs

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/farmacy-notify/internal/application/notification"
	"github.com/farmacy-notify/internal/domain"
)

// testNotifications sends a numbered system alert to every device of the user.
func (s *service) testNotifications(userID int64) func(context.Context) error {
	var seq atomic.Int64
	return func(ctx context.Context) error {
		n := seq.Add(1)
		_, err := s.notify.CreateAndSend(ctx, domain.CreateNotificationRequest{
			UserID:     userID,
			Type:       domain.TypeSystemAlert,
			Priority:   domain.PriorityMedium,
			Title:      fmt.Sprintf("Test Notification #%d", n),
			Message:    fmt.Sprintf("This is test notification #%d sent at %s", n, s.now().In(s.loc).Format("15:04:05")),
			Data:       map[string]any{"test": true, "sequence": n},
			AllDevices: true,
		})
		return err
	}
}

// testUpdates sends the user's crop update, or a generic one, followed by a simulated weather alert.
func (s *service) testUpdates(userID int64) func(context.Context) error {
	var seq atomic.Int64
	return func(ctx context.Context) error {
		n := seq.Add(1)
		update, err := s.cropUpdate(ctx, userID)
		if err != nil {
			return err
		}
		update.Data["sequence"] = n
		if _, err := s.notify.CreateAndSend(ctx, *update); err != nil {
			return err
		}

		temp := 18 + rand.Intn(20)
		_, err = s.notify.CreateAndSend(ctx, domain.CreateNotificationRequest{
			UserID:     userID,
			Type:       domain.TypeWeatherAlert,
			Priority:   domain.PriorityHigh,
			Title:      "Weather Alert",
			Message:    fmt.Sprintf("Current temperature is %d°C. Plan field work accordingly.", temp),
			Data:       map[string]any{"test": true, "temperature": temp, "sequence": n},
			AllDevices: true,
		})
		return err
	}
}

func (s *service) cropUpdate(ctx context.Context, userID int64) (*domain.CreateNotificationRequest, error) {
	req := &domain.CreateNotificationRequest{
		UserID:     userID,
		Type:       domain.TypeDailyUpdate,
		Priority:   domain.PriorityMedium,
		Title:      "Daily Update",
		Message:    "Check today's tips for your crops.",
		Data:       map[string]any{"test": true},
		AllDevices: true,
	}
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.CurrentCropTrackingID == nil {
		return req, nil
	}
	tracking, err := s.content.Tracking(ctx, *u.CurrentCropTrackingID)
	if err != nil {
		return fallback(req, err)
	}
	wc, err := s.content.WeekContent(ctx, tracking.CropID, tracking.CurrentWeek, u.Language())
	if errors.Is(err, domain.ErrNotFound) && u.Language() != domain.DefaultLanguage {
		// unlike the digest, interactive content falls back to the default language
		wc, err = s.content.WeekContent(ctx, tracking.CropID, tracking.CurrentWeek, domain.DefaultLanguage)
	}
	if err != nil {
		return fallback(req, err)
	}
	req.Title = notification.DigestTitle(wc)
	req.Message = wc.WeekTitle
	for k, v := range notification.DigestData(wc) {
		req.Data[k] = v
	}
	return req, nil
}

// fallback keeps the generic update when content is simply missing.
func fallback(req *domain.CreateNotificationRequest, err error) (*domain.CreateNotificationRequest, error) {
	if errors.Is(err, domain.ErrNotFound) {
		return req, nil
	}
	return nil, err
}
