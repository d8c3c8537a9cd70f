package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// ErrStopped is returned when work is submitted to a stopped queue.
var ErrStopped = errors.New("dispatch queue stopped")

// Queue runs submitted functions one at a time on a dedicated goroutine.
// The backlog is unbounded so submitting never blocks, including from
// work that is itself running on the queue.
type Queue struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending []func()
	stopped bool

	wake chan struct{}
	done chan struct{}
}

// NewQueue creates a queue and starts its consumer goroutine
func NewQueue(logger *slog.Logger) *Queue {
	q := &Queue{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	go q.loop()

	return q
}

// Async schedules fn and returns immediately. It reports false if the
// queue has been stopped and fn will never run.
func (q *Queue) Async(fn func()) bool {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return true
}

// Sync schedules fn and waits for it to finish or for ctx to end.
// Must not be called from work running on the same queue.
func (q *Queue) Sync(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !q.Async(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// After schedules fn on the queue once d has elapsed.
func (q *Queue) After(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() {
		q.Async(fn)
	})
}

// Len returns the number of functions waiting to run
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stop rejects new work, runs everything already queued and waits for the
// consumer goroutine to exit. Safe to call more than once.
// Must not be called from work running on the same queue; use Close there.
func (q *Queue) Stop() {
	q.Close()
	<-q.done
}

// Close rejects new work and returns without waiting. Work already queued
// still runs. Safe to call from work running on the queue.
func (q *Queue) Close() {
	q.mu.Lock()
	alreadyStopped := q.stopped
	q.stopped = true
	q.mu.Unlock()

	if !alreadyStopped {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
}

// Done is closed once the consumer goroutine has exited
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) loop() {
	defer close(q.done)

	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		stopped := q.stopped
		q.mu.Unlock()

		for _, fn := range batch {
			q.safeCall(fn)
		}

		if len(batch) > 0 {
			continue
		}

		if stopped {
			return
		}

		<-q.wake
	}
}

// safeCall runs fn and recovers from panics so one bad callback cannot
// stop delivery to everything queued behind it.
func (q *Queue) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Dispatch queue work panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn()
}
