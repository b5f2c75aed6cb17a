package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrPoolStopped is returned by Stop when called twice.
var ErrPoolStopped = errors.New("worker pool stopped")

// Handler processes one job. A returned error makes the pool retry the job
// with backoff.
type Handler func(ctx context.Context, messageID string) error

// PoolConfig sizes the pool.
type PoolConfig struct {
	Workers   int
	QueueSize int
	Backoff   *ExponentialBackoff
}

// Pool runs jobs with bounded concurrency. A message id is queued at most once
// at a time; duplicate submissions are dropped.
type Pool struct {
	cfg     PoolConfig
	handler Handler
	jobs    chan string
	sem     *semaphore.Weighted
	log     *slog.Logger

	mu      sync.Mutex
	queued  map[string]struct{}
	stopped bool

	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewPool creates a pool. Call Start before submitting.
func NewPool(cfg PoolConfig, handler Handler) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultBackoff(3)
	}
	return &Pool{
		cfg:     cfg,
		handler: handler,
		jobs:    make(chan string, cfg.QueueSize),
		sem:     semaphore.NewWeighted(int64(cfg.Workers)),
		log:     slog.Default().With("component", "worker_pool"),
		queued:  make(map[string]struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs the dispatcher until ctx is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.dispatch(ctx)
}

// Submit queues a job. It returns false when the job is already queued or
// running, when the queue is full, or after Stop.
func (p *Pool) Submit(messageID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return false
	}
	if _, ok := p.queued[messageID]; ok {
		return false
	}

	select {
	case p.jobs <- messageID:
		p.queued[messageID] = struct{}{}
		return true
	default:
		p.log.Warn("Job queue full, leaving message for the next sweep", "message_id", messageID)
		return false
	}
}

// Len returns the number of jobs queued or running.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queued)
}

// Stop stops accepting jobs and waits for running ones until ctx expires.
// Queued jobs that never started are dropped; their messages stay persisted.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	p.stopped = true
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
		<-p.done
	}

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) dispatch(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.jobs:
			if err := p.sem.Acquire(ctx, 1); err != nil {
				p.release(id)
				return
			}
			p.wg.Add(1)
			go p.process(ctx, id)
		}
	}
}

func (p *Pool) process(ctx context.Context, id string) {
	defer p.wg.Done()
	defer p.sem.Release(1)
	defer p.release(id)

	// Handlers finish their current attempt even when the pool is stopping
	runCtx := context.WithoutCancel(ctx)

	for attempt := 1; ; attempt++ {
		err := p.handler(runCtx, id)
		if err == nil {
			return
		}

		if !p.cfg.Backoff.ShouldRetry(err, attempt) {
			p.log.Error("Job failed, giving up", "message_id", id, "attempts", attempt, "error", err)
			return
		}

		delay := p.cfg.Backoff.GetDelay(attempt - 1)
		p.log.Warn("Job failed, retrying", "message_id", id, "attempt", attempt, "backoff", delay, "error", err)

		if !wait(ctx, delay) {
			p.log.Warn("Pool stopping, abandoning job retry", "message_id", id)
			return
		}
	}
}

func (p *Pool) release(id string) {
	p.mu.Lock()
	delete(p.queued, id)
	p.mu.Unlock()
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
