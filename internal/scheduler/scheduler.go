// Package scheduler runs recurring jobs on timers. Each job owns one timer
// goroutine; every firing executes on its own goroutine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/farmacy-notify/internal/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Job is one recurring unit of work. Run receives a context that outlives
// the job's own removal and is cancelled only when Stop abandons in-flight runs.
type Job struct {
	ID      string
	Name    string
	Trigger Trigger
	Run     func(ctx context.Context) error
}

type entry struct {
	job     Job
	stop    context.CancelFunc
	next    atomic.Pointer[time.Time]
	running atomic.Bool
}

type Scheduler struct {
	loc *time.Location
	log logrus.FieldLogger
	now func() time.Time

	mu      sync.Mutex
	jobs    map[string]*entry
	started bool
	loopCtx context.Context
	stopAll context.CancelFunc
	runCtx  context.Context
	abandon context.CancelFunc

	loops sync.WaitGroup
	runs  sync.WaitGroup
}

func New(loc *time.Location, log logrus.FieldLogger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		loc:  loc,
		log:  log.WithField("component", "scheduler"),
		now:  time.Now,
		jobs: make(map[string]*entry),
	}
}

// Add registers job, replacing and stopping any job with the same id.
func (s *Scheduler) Add(job Job) error {
	if err := check(job); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.jobs[job.ID]; ok {
		s.halt(old)
	}
	s.insert(job)
	return nil
}

// AddIfAbsent registers job unless one with the same id exists. It reports whether job was added.
func (s *Scheduler) AddIfAbsent(job Job) (bool, error) {
	if err := check(job); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return false, nil
	}
	s.insert(job)
	return true, nil
}

// Remove stops future firings of id. A run already in flight completes.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return false
	}
	s.halt(e)
	delete(s.jobs, id)
	s.log.WithField("job_id", id).Info("job removed")
	return true
}

// Jobs returns a snapshot of registered jobs ordered by id.
func (s *Scheduler) Jobs() []domain.JobInfo {
	s.mu.Lock()
	out := make([]domain.JobInfo, 0, len(s.jobs))
	for _, e := range s.jobs {
		info := domain.JobInfo{
			ID:      e.job.ID,
			Name:    e.job.Name,
			Trigger: e.job.Trigger.String(),
			Running: e.running.Load(),
		}
		if next := e.next.Load(); next != nil {
			t := next.In(s.loc)
			info.NextRun = &t
		}
		out = append(out, info)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start arms every registered job. Jobs added later are armed immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.loopCtx, s.stopAll = context.WithCancel(ctx)
	s.runCtx, s.abandon = context.WithCancel(context.WithoutCancel(ctx))
	s.started = true
	for _, e := range s.jobs {
		s.arm(e)
	}
	s.log.WithField("jobs", len(s.jobs)).Info("scheduler started")
	return nil
}

// Stop disarms every timer and waits for in-flight runs. When ctx expires first the
// runs' context is cancelled and ctx.Err() is returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.stopAll()
	s.mu.Unlock()

	s.loops.Wait()
	s.mu.Lock()
	for _, e := range s.jobs {
		e.next.Store(nil)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.abandon()
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.abandon()
		s.log.WithError(ctx.Err()).Warn("scheduler stopped with runs still in flight")
		return ctx.Err()
	}
}

func check(job Job) error {
	if job.ID == "" || job.Trigger == nil || job.Run == nil {
		return fmt.Errorf("job needs id, trigger and run: %w", domain.ErrBadRequest)
	}
	return nil
}

// insert must be called with s.mu held.
func (s *Scheduler) insert(job Job) {
	e := &entry{job: job}
	s.jobs[job.ID] = e
	if s.started {
		s.arm(e)
	}
	s.log.WithFields(logrus.Fields{"job_id": job.ID, "trigger": job.Trigger.String()}).Info("job registered")
}

// arm must be called with s.mu held and the scheduler started.
func (s *Scheduler) arm(e *entry) {
	ctx, cancel := context.WithCancel(s.loopCtx)
	e.stop = cancel
	first := e.job.Trigger.Next(s.now())
	e.next.Store(&first)
	s.loops.Add(1)
	go s.loop(ctx, e)
}

func (s *Scheduler) halt(e *entry) {
	if e.stop != nil {
		e.stop()
	}
	e.next.Store(nil)
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	defer s.loops.Done()
	for {
		next := e.next.Load()
		if next == nil {
			return
		}
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.fire(e)
		following := e.job.Trigger.Next(s.now())
		if ctx.Err() != nil {
			return
		}
		e.next.Store(&following)
	}
}

// fire runs the job on its own goroutine unless the previous run is still going.
func (s *Scheduler) fire(e *entry) {
	log := s.log.WithField("job_id", e.job.ID)
	if !e.running.CompareAndSwap(false, true) {
		log.Warn("previous run still active, skipping firing")
		return
	}
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer e.running.Store(false)
		runLog := log.WithField("run_id", uuid.NewString())
		defer func() {
			if r := recover(); r != nil {
				runLog.WithField("panic", r).WithField("stack", string(debug.Stack())).Error("job panicked")
			}
		}()
		started := time.Now()
		if err := e.job.Run(s.runCtx); err != nil {
			runLog.WithError(err).Error("job run failed")
			return
		}
		runLog.WithField("took", time.Since(started).String()).Debug("job run finished")
	}()
}
