// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jason-s-yu/courier/internal/workers"
	"github.com/sirupsen/logrus"
)

// Kind names a class of deferred action.
type Kind string

const (
	KindReminder    Kind = "reminder"
	KindHourlyStats Kind = "hourly_stats"
	KindSweep       Kind = "sweep"
)

// Task is the immutable payload handed to a handler when a timer fires.
// Handlers must re-check the state they act on; the room may be gone.
type Task struct {
	Kind        Kind
	RoomID      string
	UserID      int64
	ScheduledAt time.Time
	FireAt      time.Time
}

// Handler processes a fired task on a pool worker.
type Handler func(ctx context.Context, task Task) error

// Submitter is the part of the worker pool the scheduler needs.
type Submitter interface {
	Submit(ctx context.Context, fn workers.Task) error
}

// ReminderKey and StatsKey identify the per-room one-shots.
func ReminderKey(roomID string) string { return "reminder:" + roomID }

func StatsKey(roomID string) string { return "stats:" + roomID }

// Scheduler arms keyed one-shot timers and periodic jobs. Fired timers are
// dispatched into the worker pool rather than run on the timer goroutine.
type Scheduler struct {
	pool Submitter
	log  logrus.FieldLogger
	now  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	handlers map[Kind]Handler
	pending  map[string]*time.Timer
	stopped  bool
}

// New returns a scheduler submitting into pool.
func New(pool Submitter, log logrus.FieldLogger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		pool:     pool,
		log:      log,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[Kind]Handler),
		pending:  make(map[string]*time.Timer),
	}
}

// Handle registers the handler for kind, replacing any previous one.
func (s *Scheduler) Handle(kind Kind, h Handler) {
	s.mu.Lock()
	s.handlers[kind] = h
	s.mu.Unlock()
}

// Once arms a one-shot under key. While a timer with the same key is pending
// the call is a no-op and returns false.
func (s *Scheduler) Once(key string, delay time.Duration, task Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if _, armed := s.pending[key]; armed {
		return false
	}
	now := s.now()
	task.ScheduledAt = now
	task.FireAt = now.Add(delay)

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		// stale timer: cancelled or replaced since it was armed
		if s.pending[key] != timer {
			s.mu.Unlock()
			return
		}
		delete(s.pending, key)
		s.mu.Unlock()
		s.dispatch(task)
	})
	s.pending[key] = timer
	s.log.WithFields(logrus.Fields{"key": key, "kind": task.Kind, "delay": delay}).Debug("timer armed")
	return true
}

// Pending reports whether a one-shot is armed under key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Cancel disarms the one-shot under key.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.pending[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(s.pending, key)
	return true
}

// Every dispatches task after first and then once per interval until Stop.
func (s *Scheduler) Every(task Task, first, interval time.Duration) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(first)
		defer timer.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-timer.C:
				t := task
				t.ScheduledAt = s.now()
				t.FireAt = t.ScheduledAt
				s.dispatch(t)
				timer.Reset(interval)
			}
		}
	}()
}

func (s *Scheduler) dispatch(task Task) {
	s.mu.Lock()
	h, ok := s.handlers[task.Kind]
	s.mu.Unlock()
	entry := s.log.WithFields(logrus.Fields{"kind": task.Kind, "room_id": task.RoomID})
	if !ok {
		entry.Warn("no handler registered for fired task")
		return
	}
	err := s.pool.Submit(s.ctx, func(ctx context.Context) error {
		if err := h(ctx, task); err != nil {
			return fmt.Errorf("%s task for room %q: %w", task.Kind, task.RoomID, err)
		}
		return nil
	})
	if err != nil && s.ctx.Err() == nil {
		entry.WithError(err).Error("failed to dispatch fired task")
	}
}

// Stop disarms every pending timer and ends periodic jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for key, timer := range s.pending {
		timer.Stop()
		delete(s.pending, key)
	}
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
