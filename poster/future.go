package poster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrPosterClosed is the default cause used when a poster is closed without
// an explicit one.
var ErrPosterClosed = errors.New("poster closed")

// TaskError wraps the error (or recovered panic) raised by a posted task.
// The original error is available via Unwrap, so errors.Is and errors.As see
// through it.
type TaskError struct {
	Seq   uint64 // Submission sequence number of the failed task.
	Cause error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("posted task %d failed: %v", e.Seq, e.Cause)
}

func (e *TaskError) Unwrap() error {
	return e.Cause
}

// Future is the one-shot result cell of a posted task. It transitions from
// pending to fulfilled exactly once: fulfilled by the main context (or by
// poster closure), read by the submitting thread.
type Future struct {
	done    chan struct{}
	once    sync.Once
	awaited atomic.Bool

	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// fulfilled builds an already-fulfilled Future, used for inline self-posts
// and for posts rejected after closure.
func fulfilled(value any, err error) *Future {
	f := newFuture()
	f.fulfill(value, err)
	return f
}

// fulfill resolves the Future. Later calls are no-ops; the first value wins.
func (f *Future) fulfill(value any, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Done returns a channel closed when the Future is fulfilled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the Future is fulfilled or ctx is done, then returns the
// task's value or its error. A failing task surfaces as a *TaskError wrapping
// the original cause.
func (f *Future) Await(ctx context.Context) (any, error) {
	f.awaited.Store(true)

	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// observed reports whether the Future has been awaited or its result read.
func (f *Future) observed() bool {
	return f.awaited.Load()
}
