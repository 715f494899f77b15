package poster

import (
	"context"
	"time"
)

const defaultInterval = 10 * time.Millisecond

// Sleeper is the blocking idle primitive of the host application's main
// loop. The default implementation is a plain timer sleep; an embedding
// adapter substitutes the host's own idle call.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to the Sleeper interface.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

func timerSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoopOption configures a MainLoop.
type LoopOption func(*MainLoop)

// WithInterval sets the drain interval for idle waits.
func WithInterval(d time.Duration) LoopOption {
	return func(l *MainLoop) { l.interval = d }
}

// WithSleeper substitutes the host application's idle primitive for the
// default timer sleep.
func WithSleeper(s Sleeper) LoopOption {
	return func(l *MainLoop) { l.sleeper = s }
}

// MainLoop drives a Poster from the main execution context. Its methods must
// only be called on the goroutine acting as that context.
type MainLoop struct {
	poster   *Poster
	interval time.Duration
	sleeper  Sleeper
}

// NewMainLoop creates a MainLoop draining p.
func NewMainLoop(p *Poster, opts ...LoopOption) *MainLoop {
	l := &MainLoop{
		poster:   p,
		interval: defaultInterval,
		sleeper:  SleeperFunc(timerSleep),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Poster returns the loop's poster.
func (l *MainLoop) Poster() *Poster {
	return l.poster
}

// IdleWait cedes the main context for d, draining the mailbox every interval
// so posted work is not starved for the full duration. The duration is a
// floor: IdleWait drains at least once but never returns early because work
// was available. Returns ctx.Err() if ctx is done before d elapses.
func (l *MainLoop) IdleWait(ctx context.Context, d time.Duration) error {
	deadline := time.Now().Add(d)

	for {
		l.poster.DrainAndExecute(ctx)

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}

		step := l.interval
		if remaining < step {
			step = remaining
		}
		if err := l.sleeper.Sleep(ctx, step); err != nil {
			return err
		}
	}
}

// Run drains the mailbox on every interval until ctx is done, then returns
// nil. This is the serving mode used when the main context has nothing to do
// but receive posted work.
func (l *MainLoop) Run(ctx context.Context) error {
	for {
		l.poster.DrainAndExecute(ctx)

		if err := l.sleeper.Sleep(ctx, l.interval); err != nil {
			return nil
		}
	}
}
