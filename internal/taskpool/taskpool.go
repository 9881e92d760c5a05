// Package taskpool runs named long-lived background tasks as goroutines.
//
// A Pool plays the role of the scheduler the relay is started on: it hands
// out a Task handle per spawned function, recovers panics, and cancels and
// waits for every task on Shutdown.
package taskpool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/postalsys/udp-relay/internal/logging"
	"github.com/postalsys/udp-relay/internal/recovery"
)

// Task is a handle to a spawned function.
type Task struct {
	name string
	done chan struct{}
}

// Name returns the name the task was spawned with.
func (t *Task) Name() string {
	return t.name
}

// Done is closed once the task function has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Pool runs tasks until Shutdown.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	running atomic.Int64

	onPanic func(task string)
}

// New creates a pool. onPanic, if not nil, is called with the task name after
// a panic in that task has been recovered and logged.
func New(logger *slog.Logger, onPanic func(task string)) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		ctx:     ctx,
		cancel:  cancel,
		logger:  logging.OrNop(logger).With(logging.KeyComponent, "taskpool"),
		onPanic: onPanic,
	}
}

// Spawn starts fn in its own goroutine. The context passed to fn is cancelled
// on Shutdown. Spawning on a pool that has been shut down returns a task that
// is already done and never runs fn.
func (p *Pool) Spawn(name string, fn func(ctx context.Context)) *Task {
	t := &Task{name: name, done: make(chan struct{})}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Warn("spawn on closed pool", logging.KeyTask, name)
		close(t.done)
		return t
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.running.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(t.done)
		defer p.running.Add(-1)
		defer recovery.RecoverWithCallback(p.logger, name, func(any) {
			if p.onPanic != nil {
				p.onPanic(name)
			}
		})

		p.logger.Debug("task started", logging.KeyTask, name)
		fn(p.ctx)
		p.logger.Debug("task finished", logging.KeyTask, name)
	}()

	return t
}

// Running returns the number of tasks that have not yet returned.
func (p *Pool) Running() int {
	return int(p.running.Load())
}

// Shutdown cancels every task and waits for them to return or for ctx to be
// done, whichever comes first.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
