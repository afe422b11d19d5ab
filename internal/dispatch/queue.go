// Package dispatch runs background jobs on per-key work queues. Jobs that
// share a key run one at a time in submission order; different keys run in
// parallel up to a global limit.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrQueueFull is returned when a key already has Depth jobs waiting.
	ErrQueueFull = errors.New("dispatch queue full")
	// ErrClosed is returned after Shutdown has started.
	ErrClosed = errors.New("dispatch queue closed")
)

// Job is a unit of work. Every accepted job is called exactly once; the
// context is cancelled when Shutdown gives up waiting, possibly before the
// job starts.
type Job func(ctx context.Context)

// Options configure a Queue.
type Options struct {
	// Depth is the number of jobs that may wait per key. Default 8.
	Depth int
	// Concurrency caps jobs running at once across all keys. Default 16.
	Concurrency int
	// IdleTimeout stops a key's worker after this long without work. Default 1m.
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

type worker struct {
	jobs chan Job
}

// Queue owns one lazily started worker goroutine per key.
type Queue struct {
	opts   Options
	sem    *semaphore.Weighted
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup
}

// New returns a running Queue.
func New(opts Options) *Queue {
	if opts.Depth <= 0 {
		opts.Depth = 8
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 16
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
		logger:  opts.Logger,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]*worker),
	}
}

// Submit enqueues job on key's queue without blocking.
func (q *Queue) Submit(key string, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	w, ok := q.workers[key]
	if !ok {
		w = &worker{jobs: make(chan Job, q.opts.Depth)}
		q.workers[key] = w
		q.wg.Add(1)
		go q.run(key, w)
	}
	select {
	case w.jobs <- job:
		return nil
	default:
		return fmt.Errorf("%w: key %s", ErrQueueFull, key)
	}
}

// Pending returns the number of jobs waiting for key.
func (q *Queue) Pending(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if w, ok := q.workers[key]; ok {
		return len(w.jobs)
	}
	return 0
}

func (q *Queue) run(key string, w *worker) {
	defer q.wg.Done()
	idle := time.NewTimer(q.opts.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case job, ok := <-w.jobs:
			if !ok {
				return
			}
			q.execute(key, job)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(q.opts.IdleTimeout)
		case <-idle.C:
			// Exit only if nothing slipped in; Submit holds the same lock.
			q.mu.Lock()
			if len(w.jobs) == 0 && !q.closed {
				delete(q.workers, key)
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			idle.Reset(q.opts.IdleTimeout)
		}
	}
}

func (q *Queue) execute(key string, job Job) {
	if err := q.sem.Acquire(q.ctx, 1); err != nil {
		// Shutdown gave up waiting. The job still runs, with a cancelled
		// context, so its cleanup is not skipped.
		q.logger.Warn("running job after shutdown deadline", "key", key)
	} else {
		defer q.sem.Release(1)
	}
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("job panicked", "key", key, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	job(q.ctx)
}

// Shutdown stops accepting jobs and waits for queued jobs to finish.
// If ctx ends first, the job context is cancelled: running jobs see it, and
// every job still queued is called once with it so it can release what it
// holds. Shutdown returns after all of them have returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		for _, w := range q.workers {
			close(w.jobs)
		}
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}
