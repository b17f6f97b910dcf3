// Package background runs detached tasks that must not affect the
// request that spawned them.
package background

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/piggy-diary/piggy/internal/metrics"
)

// DefaultTimeout bounds each task.
const DefaultTimeout = 30 * time.Second

// Runner starts detached tasks. A task's error or panic is logged,
// counted, and dropped. Tasks run on the runner's base context, so a
// finished or cancelled request does not cut them short.
type Runner struct {
	base    context.Context
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup

	mu    sync.Mutex
	tails map[string]chan struct{}
}

// NewRunner creates a runner whose tasks derive from base. Cancelling
// base cancels every running task.
func NewRunner(base context.Context, timeout time.Duration, logger *slog.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{base: base, timeout: timeout, logger: logger, tails: make(map[string]chan struct{})}
}

// Go starts fn in its own goroutine and returns immediately.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.exec(name, fn)
	}()
}

// GoOrdered is like Go, but tasks sharing key run one at a time in the
// order they were started. Tasks with different keys run concurrently.
func (r *Runner) GoOrdered(key, name string, fn func(ctx context.Context) error) {
	done := make(chan struct{})
	r.mu.Lock()
	prev := r.tails[key]
	r.tails[key] = done
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			if r.tails[key] == done {
				delete(r.tails, key)
			}
			r.mu.Unlock()
			close(done)
		}()

		if prev != nil {
			select {
			case <-prev:
			case <-r.base.Done():
			}
		}
		r.exec(name, fn)
	}()
}

// exec runs fn under the task timeout and records the result.
func (r *Runner) exec(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(r.base, r.timeout)
	defer cancel()

	start := time.Now()
	err := r.run(ctx, fn)
	if err != nil {
		metrics.BackgroundTasksTotal.WithLabelValues(name, "error").Inc()
		r.logger.Warn("background task failed", "task", name, "error", err, "elapsed", time.Since(start))
		return
	}
	metrics.BackgroundTasksTotal.WithLabelValues(name, "ok").Inc()
	r.logger.Debug("background task done", "task", name, "elapsed", time.Since(start))
}

func (r *Runner) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			r.logger.Error("background task panicked", "panic", p, "stack", string(debug.Stack()))
		}
	}()
	return fn(ctx)
}

// Wait blocks until all started tasks finish or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
