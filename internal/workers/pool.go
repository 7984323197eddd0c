// internal/workers/pool.go
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrTaskPanic is returned to the submitter of a task that panicked.
	ErrTaskPanic = errors.New("task panicked")
	// ErrPoolStopped is returned when submitting to a pool that is not running.
	ErrPoolStopped = errors.New("worker pool stopped")
)

// Task is a unit of work run by the pool.
type Task func(ctx context.Context) error

type job struct {
	ctx  context.Context
	fn   Task
	done chan error // nil for fire-and-forget submissions
}

// Pool runs user actions and timer callbacks on a fixed set of goroutines.
// A panicking task is recovered and reported as ErrTaskPanic to its own
// submitter only; the worker keeps serving.
type Pool struct {
	size  int
	queue chan job
	log   logrus.FieldLogger

	mu      sync.RWMutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a pool with size workers and a queue of queueSize pending tasks.
func NewPool(size, queueSize int, log logrus.FieldLogger) *Pool {
	if size < 1 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		size:  size,
		queue: make(chan job, queueSize),
		log:   log,
	}
}

// Start launches the workers. They exit when ctx is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.stopped {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	for i := range p.size {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	p.log.WithField("workers", p.size).Info("worker pool started")
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.queue:
			err := p.run(j)
			if j.done != nil {
				j.done <- err
			} else if err != nil {
				p.log.WithError(err).WithField("worker", id).Warn("background task failed")
			}
		}
	}
}

func (p *Pool) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("panic", r).Error("recovered panic in task")
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	if err := j.ctx.Err(); err != nil {
		return err
	}
	return j.fn(j.ctx)
}

func (p *Pool) enqueue(ctx context.Context, j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return ErrPoolStopped
	}
	select {
	case p.queue <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues fn without waiting for it to run. It blocks while the queue is
// full, until ctx is done.
func (p *Pool) Submit(ctx context.Context, fn Task) error {
	return p.enqueue(ctx, job{ctx: context.WithoutCancel(ctx), fn: fn})
}

// Do queues fn and waits for its result.
func (p *Pool) Do(ctx context.Context, fn Task) error {
	done := make(chan error, 1)
	if err := p.enqueue(ctx, job{ctx: ctx, fn: fn, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the workers and waits for running tasks to return. Tasks still
// queued are dropped.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.stopped = true
		p.mu.Unlock()
		return
	}
	p.running = false
	p.stopped = true
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
	p.log.Info("worker pool stopped")
}
