// Package poster marshals work onto the host application's single logical
// main execution context. Any goroutine submits a zero-argument task with
// Post and optionally blocks on the returned Future; the main context drains
// the mailbox in submission order while it is cooperatively idle.
//
// The mailbox is the only shared structure; one mutex guards enqueue and
// snapshot-and-clear draining. Tasks posted while a batch is executing run in
// the next idle cycle, so a task that posts more work cannot starve the loop.
package poster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mechlink/mechlink/observability"
)

// Poster event types.
const (
	EventTaskFailed     observability.EventType = "poster.task.failed"
	EventTaskUnobserved observability.EventType = "poster.task.unobserved"
	EventClosed         observability.EventType = "poster.closed"
)

// Func is a task executed on the main execution context. The context it
// receives is marked as main, so nested Posts run inline.
type Func func(ctx context.Context) (any, error)

type task struct {
	fn     Func
	future *Future
	seq    uint64
}

// Option configures a Poster.
type Option func(*Poster)

// WithObserver overrides the default no-op observer.
func WithObserver(o observability.Observer) Option {
	return func(p *Poster) { p.observer = o }
}

// Poster is the mailbox. Post may be called from any goroutine;
// DrainAndExecute and Close only from the main execution context.
type Poster struct {
	mu         sync.Mutex
	queue      []*task
	seq        uint64
	closed     bool
	closeCause error
	failed     []*Future

	observer observability.Observer
	metrics  *Metrics
}

// New creates an open Poster.
func New(opts ...Option) *Poster {
	p := &Poster{
		observer: observability.NoOpObserver{},
		metrics:  NewMetrics(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Post submits fn for execution on the main execution context and returns its
// Future. Post never blocks on fn.
//
// When ctx is already the main context, fn runs inline and the returned
// Future is already fulfilled; the mailbox is not touched, so a task posting
// to its own poster cannot deadlock. After Close, the returned Future is
// pre-fulfilled with the close cause.
func (p *Poster) Post(ctx context.Context, fn Func) *Future {
	if OnMain(ctx) {
		p.mu.Lock()
		if p.closed {
			cause := p.closeCause
			p.mu.Unlock()
			p.metrics.rejected.Add(1)
			return fulfilled(nil, cause)
		}
		p.seq++
		seq := p.seq
		p.mu.Unlock()

		value, err := runTask(ctx, fn, seq)
		p.metrics.inline.Add(1)
		if err != nil {
			p.metrics.failed.Add(1)
		}
		return fulfilled(value, err)
	}

	p.mu.Lock()
	if p.closed {
		cause := p.closeCause
		p.mu.Unlock()
		p.metrics.rejected.Add(1)
		return fulfilled(nil, cause)
	}
	p.seq++
	t := &task{fn: fn, future: newFuture(), seq: p.seq}
	p.queue = append(p.queue, t)
	p.mu.Unlock()

	p.metrics.posted.Add(1)
	return t.future
}

// DrainAndExecute pops every currently queued task and executes the batch in
// submission order, fulfilling each Future with the task's value or error.
// Tasks posted during the batch are left for the next cycle. A failing task
// does not stop the batch. Returns the number of tasks executed.
//
// Must only be called on the main execution context.
func (p *Poster) DrainAndExecute(ctx context.Context) int {
	p.mu.Lock()
	batch := p.queue
	p.queue = nil
	p.mu.Unlock()

	ctx = WithMainContext(ctx)
	for _, t := range batch {
		value, err := runTask(ctx, t.fn, t.seq)
		t.future.fulfill(value, err)
		p.metrics.executed.Add(1)

		if err != nil {
			p.metrics.failed.Add(1)
			p.recordFailure(t.future)
			p.observer.OnEvent(ctx, observability.Event{
				Type:      EventTaskFailed,
				Level:     observability.LevelVerbose,
				Timestamp: time.Now(),
				Source:    "poster.DrainAndExecute",
				Data:      map[string]any{"seq": t.seq, "error": err.Error()},
			})
		}
	}
	return len(batch)
}

// Pending returns the number of queued tasks.
func (p *Poster) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Metrics returns a snapshot of the poster's counters.
func (p *Poster) Metrics() MetricsSnapshot {
	return p.metrics.Snapshot()
}

// Close rejects further posts and fulfills every pending Future with cause
// (ErrPosterClosed when nil), so no submitter is left blocked forever. Task
// failures nobody awaited are reported through the observer, since their
// errors would otherwise go unobserved.
func (p *Poster) Close(ctx context.Context, cause error) {
	if cause == nil {
		cause = ErrPosterClosed
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.closeCause = cause
	pending := p.queue
	p.queue = nil
	failed := p.failed
	p.failed = nil
	p.mu.Unlock()

	for _, t := range pending {
		t.future.fulfill(nil, cause)
	}

	unobserved := 0
	for _, f := range failed {
		if !f.observed() {
			unobserved++
			p.observer.OnEvent(ctx, observability.Event{
				Type:      EventTaskUnobserved,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "poster.Close",
				Data:      map[string]any{"error": f.err.Error()},
			})
		}
	}

	p.observer.OnEvent(ctx, observability.Event{
		Type:      EventClosed,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "poster.Close",
		Data: map[string]any{
			"pending":    len(pending),
			"unobserved": unobserved,
		},
	})
}

func (p *Poster) recordFailure(f *Future) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, f)
}

// runTask executes fn, converting a returned error or recovered panic into a
// *TaskError carrying the original cause.
func runTask(ctx context.Context, fn Func, seq uint64) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TaskError{Seq: seq, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()

	value, taskErr := fn(ctx)
	if taskErr != nil {
		return nil, &TaskError{Seq: seq, Cause: taskErr}
	}
	return value, nil
}
