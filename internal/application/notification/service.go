package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/farmacy-notify/internal/config"
	"github.com/farmacy-notify/internal/domain"
	"github.com/farmacy-notify/internal/pkg/id"
	"github.com/farmacy-notify/internal/pkg/validate"
	"github.com/sirupsen/logrus"
)

const (
	defaultListLimit = 100
	maxListLimit     = 200
)

type Service interface {
	// CreateAndSend persists the notification and, when it is due, attempts delivery
	// before returning. A delivery failure leaves the record pending and is not returned.
	CreateAndSend(ctx context.Context, req domain.CreateNotificationRequest) (*domain.Notification, error)
	// SendScheduledDue attempts every due notification and returns how many were marked sent.
	SendScheduledDue(ctx context.Context, now time.Time) (int, error)
	// SendDailyDigest creates one daily_update per eligible user and returns how many were created.
	SendDailyDigest(ctx context.Context, now time.Time) (int, error)
	ListForUser(ctx context.Context, userID int64, f domain.NotificationFilter) ([]domain.Notification, error)
	MarkRead(ctx context.Context, notificationID string, userID int64) (bool, error)
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	// Broadcast sends to one topic, or to devices in any of up to five topics. No rows are stored.
	Broadcast(ctx context.Context, req domain.BroadcastRequest) (bool, error)
}

type notificationStore interface {
	Create(ctx context.Context, n *domain.Notification) error
	ListByUser(ctx context.Context, userID int64, f domain.NotificationFilter) ([]domain.Notification, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error)
	Claim(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error)
	MarkSent(ctx context.Context, id string, at time.Time) (bool, error)
	RecordFailure(ctx context.Context, id string, f domain.DeliveryFailure) error
	MarkRead(ctx context.Context, id string, userID int64, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID int64, at time.Time) (int64, error)
}

type tokenRegistry interface {
	PrimaryToken(ctx context.Context, userID int64) (string, error)
	ActiveTokens(ctx context.Context, userID int64) ([]string, error)
	RemoveInvalidToken(ctx context.Context, userID int64, token string) error
}

type pushClient interface {
	SendToToken(ctx context.Context, token string, msg domain.PushMessage) error
	SendMulticast(ctx context.Context, tokens []string, msg domain.PushMessage) domain.MulticastResult
	SendToTopic(ctx context.Context, topic string, msg domain.PushMessage) error
	SendToAnyOfTopics(ctx context.Context, topics []string, msg domain.PushMessage) error
}

type userDirectory interface {
	ListWithCropTracking(ctx context.Context) ([]domain.UserProfile, error)
}

type contentProvider interface {
	Tracking(ctx context.Context, trackingID int64) (*domain.CropTracking, error)
	WeekContent(ctx context.Context, cropID int64, week int, language string) (*domain.WeekContent, error)
}

type service struct {
	repo        notificationStore
	tokens      tokenRegistry
	push        pushClient
	users       userDirectory
	content     contentProvider
	loc         *time.Location
	batch       int
	concurrency int
	itemTimeout time.Duration
	lease       time.Duration
	retry       config.RetryConfig
	log         logrus.FieldLogger
	now         func() time.Time
}

type ServiceDeps struct {
	Repo     notificationStore
	Tokens   tokenRegistry
	Push     pushClient
	Users    userDirectory
	Content  contentProvider
	Location *time.Location
	// ItemTimeout bounds one delivery attempt inside a sweep.
	ItemTimeout time.Duration
	Scheduler   config.SchedulerConfig
	Retry       config.RetryConfig
	Logger      logrus.FieldLogger
}

func NewService(deps ServiceDeps) Service {
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	s := &service{
		repo:        deps.Repo,
		tokens:      deps.Tokens,
		push:        deps.Push,
		users:       deps.Users,
		content:     deps.Content,
		loc:         loc,
		batch:       deps.Scheduler.SweepBatch,
		concurrency: deps.Scheduler.SweepConcurrency,
		itemTimeout: deps.ItemTimeout,
		lease:       deps.Scheduler.DeliveryLease,
		retry:       deps.Retry,
		log:         deps.Logger.WithField("component", "notifications"),
		now:         time.Now,
	}
	if s.batch <= 0 {
		s.batch = 200
	}
	if s.concurrency <= 0 {
		s.concurrency = 1
	}
	if s.lease <= 0 {
		s.lease = 2 * time.Minute
	}
	if s.retry.MaxAttempts <= 0 {
		s.retry.MaxAttempts = 5
	}
	return s
}

func (s *service) CreateAndSend(ctx context.Context, req domain.CreateNotificationRequest) (*domain.Notification, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	now := s.now().In(s.loc)
	if req.ScheduledFor != nil && !req.ScheduledFor.After(now) {
		return nil, fmt.Errorf("scheduled_for must be in the future: %w", domain.ErrValidation)
	}
	if req.Priority == "" {
		req.Priority = domain.PriorityMedium
	}

	n := &domain.Notification{
		ID:         id.New(),
		UserID:     req.UserID,
		Type:       req.Type,
		Priority:   req.Priority,
		Title:      req.Title,
		Message:    req.Message,
		Data:       req.Data,
		AllDevices: req.AllDevices,
		CreatedAt:  now,
	}
	if req.ScheduledFor != nil {
		at := req.ScheduledFor.In(s.loc)
		n.ScheduledFor = &at
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{"notification_id": n.ID, "user_id": n.UserID})
	if !n.IsDue(now) {
		log.WithField("scheduled_for", n.ScheduledFor).Info("notification scheduled")
		return n, nil
	}
	sent, err := s.attempt(ctx, n, now)
	switch {
	case err != nil:
		log.WithError(err).Warn("immediate delivery failed, left for sweep")
	case sent:
		n.SentAt = &now
	}
	return n, nil
}

func (s *service) SendScheduledDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.repo.ListDue(ctx, now, s.batch)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	var (
		sent atomic.Int64
		wg   sync.WaitGroup
		sem  = make(chan struct{}, s.concurrency)
	)
dispatch:
	for i := range due {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}
		wg.Add(1)
		go func(n *domain.Notification) {
			defer wg.Done()
			defer func() { <-sem }()
			ok, err := s.attempt(ctx, n, now)
			if err != nil {
				s.log.WithFields(logrus.Fields{"notification_id": n.ID, "user_id": n.UserID}).
					WithError(err).Warn("scheduled delivery failed")
				return
			}
			if ok {
				sent.Add(1)
			}
		}(&due[i])
	}
	wg.Wait()

	total := int(sent.Load())
	s.log.WithFields(logrus.Fields{"due": len(due), "sent": total}).Info("due sweep finished")
	return total, ctx.Err()
}

// attempt claims n, delivers it and records the outcome. It returns true only when
// this caller flipped sent_at from NULL.
func (s *service) attempt(ctx context.Context, n *domain.Notification, now time.Time) (bool, error) {
	claimed, err := s.repo.Claim(ctx, n.ID, now, s.lease)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	sendCtx := ctx
	if s.itemTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, s.itemTimeout)
		defer cancel()
	}
	if derr := s.deliver(sendCtx, n); derr != nil {
		if err := s.repo.RecordFailure(context.WithoutCancel(ctx), n.ID, s.failure(n, now, derr)); err != nil {
			s.log.WithField("notification_id", n.ID).WithError(err).Error("record delivery failure")
		}
		return false, derr
	}
	return s.repo.MarkSent(context.WithoutCancel(ctx), n.ID, s.now())
}

func (s *service) deliver(ctx context.Context, n *domain.Notification) error {
	msg := pushMessage(n)
	if n.AllDevices {
		return s.deliverAll(ctx, n, msg)
	}

	token, err := s.tokens.PrimaryToken(ctx, n.UserID)
	if err != nil {
		return err
	}
	if token == "" {
		return domain.NewDeliveryError(domain.DeliveryNoToken, "", nil)
	}
	err = s.push.SendToToken(ctx, token, msg)
	if domain.IsInvalidToken(err) {
		s.dropToken(ctx, n.UserID, token)
	}
	return err
}

func (s *service) deliverAll(ctx context.Context, n *domain.Notification, msg domain.PushMessage) error {
	tokens, err := s.tokens.ActiveTokens(ctx, n.UserID)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return domain.NewDeliveryError(domain.DeliveryNoToken, "", nil)
	}
	res := s.push.SendMulticast(ctx, tokens, msg)
	for _, t := range res.InvalidTokens {
		s.dropToken(ctx, n.UserID, t)
	}
	if res.SuccessCount > 0 {
		return nil
	}
	kind := domain.DeliveryUnavailable
	if len(res.InvalidTokens) == len(tokens) {
		kind = domain.DeliveryInvalidToken
	}
	return domain.NewDeliveryError(kind, "", fmt.Errorf("0 of %d devices accepted", len(tokens)))
}

func (s *service) dropToken(ctx context.Context, userID int64, token string) {
	if err := s.tokens.RemoveInvalidToken(context.WithoutCancel(ctx), userID, token); err != nil {
		s.log.WithField("user_id", userID).WithError(err).Error("remove invalid token")
	}
}

// failure computes the retry bookkeeping after a failed attempt: exponential
// backoff from the base delay, capped, until the attempt budget is spent.
// Invalid and missing tokens are terminal on the first failure.
func (s *service) failure(n *domain.Notification, now time.Time, cause error) domain.DeliveryFailure {
	f := domain.DeliveryFailure{RetryCount: n.RetryCount + 1, Reason: cause.Error()}
	if terminal(cause) || f.RetryCount >= s.retry.MaxAttempts {
		at := now
		f.FailedAt = &at
		return f
	}
	next := now.Add(Backoff(f.RetryCount, s.retry.BaseDelay, s.retry.MaxDelay))
	f.NextAttemptAt = &next
	return f
}

func terminal(err error) bool {
	switch domain.DeliveryKindOf(err) {
	case domain.DeliveryInvalidToken, domain.DeliveryNoToken:
		return true
	}
	return false
}

// Backoff returns base * 2^(attempt-1), capped at ceiling.
func Backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if base <= 0 {
		base = time.Minute
	}
	if ceiling < base {
		ceiling = base
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return d
}

func (s *service) ListForUser(ctx context.Context, userID int64, f domain.NotificationFilter) ([]domain.Notification, error) {
	if f.Skip < 0 {
		f.Skip = 0
	}
	switch {
	case f.Limit <= 0:
		f.Limit = defaultListLimit
	case f.Limit > maxListLimit:
		f.Limit = maxListLimit
	}
	return s.repo.ListByUser(ctx, userID, f)
}

func (s *service) MarkRead(ctx context.Context, notificationID string, userID int64) (bool, error) {
	return s.repo.MarkRead(ctx, notificationID, userID, s.now())
}

func (s *service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID, s.now())
}

func (s *service) Broadcast(ctx context.Context, req domain.BroadcastRequest) (bool, error) {
	if err := validate.Struct(req); err != nil {
		return false, err
	}
	if req.Priority == "" {
		req.Priority = domain.PriorityMedium
	}
	msg := domain.PushMessage{
		Title:    req.Title,
		Body:     req.Message,
		Data:     withMeta(req.Data, "", req.Type, req.Priority),
		Priority: req.Priority,
	}
	var err error
	if len(req.Topics) == 1 {
		err = s.push.SendToTopic(ctx, req.Topics[0], msg)
	} else {
		err = s.push.SendToAnyOfTopics(ctx, req.Topics, msg)
	}
	if err != nil {
		s.log.WithField("topics", req.Topics).WithError(err).Warn("topic broadcast failed")
		if errors.Is(err, domain.ErrDelivery) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func pushMessage(n *domain.Notification) domain.PushMessage {
	return domain.PushMessage{
		Title:    n.Title,
		Body:     n.Message,
		Data:     withMeta(n.Data, n.ID, n.Type, n.Priority),
		Priority: n.Priority,
	}
}

// withMeta copies data and adds the keys every client expects.
func withMeta(data map[string]any, notificationID string, t domain.NotificationType, p domain.Priority) map[string]any {
	out := make(map[string]any, len(data)+3)
	for k, v := range data {
		out[k] = v
	}
	if notificationID != "" {
		out["notification_id"] = notificationID
	}
	out["type"] = string(t)
	out["priority"] = string(p)
	return out
}
