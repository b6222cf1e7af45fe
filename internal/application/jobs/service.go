package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/farmacy-notify/internal/config"
	"github.com/farmacy-notify/internal/domain"
	"github.com/farmacy-notify/internal/pkg/validate"
	"github.com/farmacy-notify/internal/scheduler"
	"github.com/farmacy-notify/internal/worker"
	"github.com/sirupsen/logrus"
)

const (
	SweepJobID  = "send_scheduled_notifications"
	DigestJobID = "daily_crop_updates"
)

// TestJobID is the stable key for one (kind, user) test job.
func TestJobID(kind domain.JobKind, userID int64) string {
	return fmt.Sprintf("%s_%d", kind, userID)
}

type Service interface {
	// RegisterSystemJobs adds the due sweep and the daily digest.
	RegisterSystemJobs() error
	// StartTestJob is a no-op reporting false when the (kind, user) job already runs.
	StartTestJob(ctx context.Context, userID int64, req domain.StartTestJobRequest) (bool, string, error)
	StopTestJob(ctx context.Context, userID int64, kind domain.JobKind) (bool, error)
	ListJobs() []domain.JobInfo
	// EnqueueLogout clears the user's device tokens on the worker pool.
	EnqueueLogout(userID int64) (string, error)
}

type jobScheduler interface {
	Add(job scheduler.Job) error
	AddIfAbsent(job scheduler.Job) (bool, error)
	Remove(id string) bool
	Jobs() []domain.JobInfo
}

type notifier interface {
	CreateAndSend(ctx context.Context, req domain.CreateNotificationRequest) (*domain.Notification, error)
	SendScheduledDue(ctx context.Context, now time.Time) (int, error)
	SendDailyDigest(ctx context.Context, now time.Time) (int, error)
}

type userStore interface {
	Get(ctx context.Context, userID int64) (*domain.UserProfile, error)
}

type contentProvider interface {
	Tracking(ctx context.Context, trackingID int64) (*domain.CropTracking, error)
	WeekContent(ctx context.Context, cropID int64, week int, language string) (*domain.WeekContent, error)
}

type tokenCleaner interface {
	UnregisterAll(ctx context.Context, userID int64) (bool, error)
}

type taskQueue interface {
	Submit(t worker.Task) (string, error)
}

// locker guards runs that must happen once across replicas.
type locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

type service struct {
	sched   jobScheduler
	notify  notifier
	users   userStore
	content contentProvider
	tokens  tokenCleaner
	queue   taskQueue
	lock    locker
	cfg     config.SchedulerConfig
	loc     *time.Location
	log     logrus.FieldLogger
	now     func() time.Time
}

type ServiceDeps struct {
	Scheduler     jobScheduler
	Notifications notifier
	Users         userStore
	Content       contentProvider
	Tokens        tokenCleaner
	Queue         taskQueue
	// Lock is optional; nil runs every firing locally.
	Lock     locker
	Config   config.SchedulerConfig
	Location *time.Location
	Logger   logrus.FieldLogger
}

func NewService(deps ServiceDeps) Service {
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return &service{
		sched:   deps.Scheduler,
		notify:  deps.Notifications,
		users:   deps.Users,
		content: deps.Content,
		tokens:  deps.Tokens,
		queue:   deps.Queue,
		lock:    deps.Lock,
		cfg:     deps.Config,
		loc:     loc,
		log:     deps.Logger.WithField("component", "jobs"),
		now:     time.Now,
	}
}

func (s *service) RegisterSystemJobs() error {
	digestAt, err := scheduler.ParseDaily(s.cfg.DigestTime, s.loc)
	if err != nil {
		return err
	}
	sweepEvery := s.cfg.SweepInterval
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	if err := s.sched.Add(scheduler.Job{
		ID:      SweepJobID,
		Name:    "Send scheduled notifications",
		Trigger: scheduler.Every(sweepEvery),
		Run:     s.guarded(SweepJobID, true, s.runSweep),
	}); err != nil {
		return err
	}
	return s.sched.Add(scheduler.Job{
		ID:      DigestJobID,
		Name:    "Send daily crop updates",
		Trigger: digestAt,
		Run:     s.guarded(DigestJobID, false, s.runDigest),
	})
}

func (s *service) runSweep(ctx context.Context) error {
	_, err := s.notify.SendScheduledDue(ctx, s.now())
	return err
}

func (s *service) runDigest(ctx context.Context) error {
	_, err := s.notify.SendDailyDigest(ctx, s.now())
	return err
}

// guarded wraps run with the cross-replica lock. failOpen runs locally when the
// lock backend errors; otherwise the firing is skipped.
func (s *service) guarded(name string, failOpen bool, run func(context.Context) error) func(context.Context) error {
	if s.lock == nil {
		return run
	}
	return func(ctx context.Context) error {
		release, ok, err := s.lock.TryLock(ctx, name, s.lockTTL())
		defer release()
		switch {
		case err != nil && failOpen:
			s.log.WithField("job_id", name).WithError(err).Warn("job lock unavailable, running locally")
		case err != nil:
			return err
		case !ok:
			s.log.WithField("job_id", name).Debug("job held by another replica")
			return nil
		}
		return run(ctx)
	}
}

func (s *service) lockTTL() time.Duration {
	if s.cfg.LockTTL > 0 {
		return s.cfg.LockTTL
	}
	return 10 * time.Minute
}

func (s *service) StartTestJob(ctx context.Context, userID int64, req domain.StartTestJobRequest) (bool, string, error) {
	if err := validate.Struct(req); err != nil {
		return false, "", err
	}
	if userID <= 0 {
		return false, "", fmt.Errorf("user id must be positive: %w", domain.ErrValidation)
	}
	every, err := s.testInterval(req.IntervalSeconds)
	if err != nil {
		return false, "", err
	}
	if _, err := s.users.Get(ctx, userID); err != nil {
		return false, "", err
	}

	jobID := TestJobID(req.Kind, userID)
	job := scheduler.Job{ID: jobID, Trigger: scheduler.Every(every)}
	switch req.Kind {
	case domain.JobTestNotifications:
		job.Name = fmt.Sprintf("Test notifications for user %d", userID)
		job.Run = s.testNotifications(userID)
	case domain.JobTestUpdates:
		job.Name = fmt.Sprintf("Test crop updates for user %d", userID)
		job.Run = s.testUpdates(userID)
	}
	added, err := s.sched.AddIfAbsent(job)
	if err != nil {
		return false, "", err
	}
	if added {
		s.log.WithFields(logrus.Fields{"job_id": jobID, "user_id": userID, "interval": every.String()}).Info("test job started")
	}
	return added, jobID, nil
}

func (s *service) testInterval(seconds int) (time.Duration, error) {
	if seconds == 0 {
		if s.cfg.TestJobDefault > 0 {
			return s.cfg.TestJobDefault, nil
		}
		return 30 * time.Second, nil
	}
	d := time.Duration(seconds) * time.Second
	if (s.cfg.TestJobMin > 0 && d < s.cfg.TestJobMin) || (s.cfg.TestJobMax > 0 && d > s.cfg.TestJobMax) {
		return 0, fmt.Errorf("interval %s outside [%s, %s]: %w", d, s.cfg.TestJobMin, s.cfg.TestJobMax, domain.ErrValidation)
	}
	return d, nil
}

func (s *service) StopTestJob(_ context.Context, userID int64, kind domain.JobKind) (bool, error) {
	if kind != domain.JobTestNotifications && kind != domain.JobTestUpdates {
		return false, fmt.Errorf("unknown job kind %q: %w", kind, domain.ErrValidation)
	}
	jobID := TestJobID(kind, userID)
	removed := s.sched.Remove(jobID)
	if removed {
		s.log.WithFields(logrus.Fields{"job_id": jobID, "user_id": userID}).Info("test job stopped")
	}
	return removed, nil
}

func (s *service) ListJobs() []domain.JobInfo {
	return s.sched.Jobs()
}

func (s *service) EnqueueLogout(userID int64) (string, error) {
	id, err := s.queue.Submit(worker.Task{
		Name: "unregister_all_tokens",
		Run: func(ctx context.Context) error {
			_, err := s.tokens.UnregisterAll(ctx, userID)
			return err
		},
	})
	if errors.Is(err, worker.ErrQueueFull) || errors.Is(err, worker.ErrStopped) {
		return "", fmt.Errorf("logout cleanup not queued: %v: %w", err, domain.ErrUnavailable)
	}
	return id, err
}
