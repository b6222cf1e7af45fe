// Package worker executes background tasks handed off by request handlers.
package worker

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull = errors.New("worker queue full")
	ErrStopped   = errors.New("worker pool stopped")
)

// Task is one unit of background work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

type queued struct {
	id   string
	task Task
}

type Pool struct {
	log    logrus.FieldLogger
	queue  chan queued
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// New starts size workers reading from a queue of the given capacity.
func New(size, queue int, log logrus.FieldLogger) *Pool {
	if size <= 0 {
		size = 1
	}
	if queue < 0 {
		queue = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		log:    log.WithField("component", "worker"),
		queue:  make(chan queued, queue),
		ctx:    ctx,
		cancel: cancel,
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.work()
	}
	return p
}

// Submit enqueues t without blocking and returns its task id.
func (p *Pool) Submit(t Task) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return "", ErrStopped
	}
	q := queued{id: uuid.NewString(), task: t}
	select {
	case p.queue <- q:
		return q.id, nil
	default:
		p.log.WithField("task", t.Name).Warn("queue full, task rejected")
		return "", ErrQueueFull
	}
}

// Stop refuses new tasks, drains the queue and waits for workers. When ctx
// expires first, running tasks see their context cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

func (p *Pool) work() {
	defer p.wg.Done()
	for q := range p.queue {
		p.run(q)
	}
}

func (p *Pool) run(q queued) {
	log := p.log.WithFields(logrus.Fields{"task": q.task.Name, "task_id": q.id})
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).WithField("stack", string(debug.Stack())).Error("task panicked")
		}
	}()
	if err := q.task.Run(p.ctx); err != nil {
		log.WithError(err).Error("task failed")
	}
}
