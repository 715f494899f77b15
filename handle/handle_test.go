package handle_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mechlink/mechlink/handle"
)

// fakeEpoch is a generation authority with a controllable rebuild gate.
type fakeEpoch struct {
	generation atomic.Uint64

	mu         sync.Mutex
	rebuilding bool
	stableCh   chan struct{}
}

func newFakeEpoch() *fakeEpoch {
	e := &fakeEpoch{}
	e.generation.Store(1)
	return e
}

func (e *fakeEpoch) Generation() uint64 { return e.generation.Load() }

func (e *fakeEpoch) AwaitStable(ctx context.Context) error {
	for {
		e.mu.Lock()
		if !e.rebuilding {
			e.mu.Unlock()
			return nil
		}
		stable := e.stableCh
		e.mu.Unlock()

		select {
		case <-stable:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", handle.ErrGraphNotReady, ctx.Err())
		}
	}
}

func (e *fakeEpoch) beginRebuild() {
	e.mu.Lock()
	e.rebuilding = true
	e.stableCh = make(chan struct{})
	e.mu.Unlock()
}

func (e *fakeEpoch) finishRebuild() {
	e.mu.Lock()
	e.generation.Add(1)
	e.rebuilding = false
	close(e.stableCh)
	e.mu.Unlock()
}

func (e *fakeEpoch) advance() {
	e.generation.Add(1)
}

func TestHandle_CachesWhileGenerationSteady(t *testing.T) {
	epoch := newFakeEpoch()

	var calls atomic.Int64
	h := handle.New(epoch, func(_ context.Context) (string, error) {
		calls.Add(1)
		return fmt.Sprintf("ref-gen-%d", epoch.Generation()), nil
	})

	for i := 0; i < 5; i++ {
		v, err := h.Resolve(context.Background())
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if v != "ref-gen-1" {
			t.Fatalf("Resolve() = %q, want %q", v, "ref-gen-1")
		}
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("resolver ran %d times, want 1 (steady generation must hit the cache)", got)
	}
}

func TestHandle_ReresolvesAfterGenerationAdvance(t *testing.T) {
	epoch := newFakeEpoch()

	h := handle.New(epoch, func(_ context.Context) (string, error) {
		return fmt.Sprintf("ref-gen-%d", epoch.Generation()), nil
	})

	before, err := h.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	epoch.advance()

	after, err := h.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if before == after {
		t.Errorf("handle served the pre-rebuild reference %q after the generation advanced", after)
	}
	if after != "ref-gen-2" {
		t.Errorf("Resolve() = %q, want %q", after, "ref-gen-2")
	}
}

func TestHandle_InvalidateForcesReresolution(t *testing.T) {
	epoch := newFakeEpoch()

	var calls atomic.Int64
	h := handle.New(epoch, func(_ context.Context) (int, error) {
		return int(calls.Add(1)), nil
	})

	if _, err := h.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	h.Invalidate()

	v, err := h.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if v != 2 {
		t.Errorf("after Invalidate, Resolve() = %d, want 2 (resolver must re-run)", v)
	}
}

func TestHandle_ResolverErrorIsGraphNotReady(t *testing.T) {
	epoch := newFakeEpoch()
	cause := errors.New("graph not initialized")

	h := handle.New(epoch, func(_ context.Context) (string, error) {
		return "", cause
	})

	_, err := h.Resolve(context.Background())
	if !errors.Is(err, handle.ErrGraphNotReady) {
		t.Errorf("Resolve() error = %v, want ErrGraphNotReady", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Resolve() error must preserve the resolver's cause, got %v", err)
	}
}

func TestHandle_BlocksDuringRebuild(t *testing.T) {
	epoch := newFakeEpoch()
	h := handle.New(epoch, func(_ context.Context) (uint64, error) {
		return epoch.Generation(), nil
	})

	epoch.beginRebuild()

	resolved := make(chan uint64, 1)
	go func() {
		v, err := h.Resolve(context.Background())
		if err != nil {
			return
		}
		resolved <- v
	}()

	select {
	case v := <-resolved:
		t.Fatalf("Resolve() returned %d during a rebuild", v)
	case <-time.After(50 * time.Millisecond):
	}

	epoch.finishRebuild()

	select {
	case v := <-resolved:
		if v != 2 {
			t.Errorf("Resolve() = %d, want 2 (post-rebuild generation)", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Resolve() never completed after the rebuild finished")
	}
}

func TestHandle_BoundedWaitExpiresAsGraphNotReady(t *testing.T) {
	epoch := newFakeEpoch()
	h := handle.New(epoch, func(_ context.Context) (int, error) { return 0, nil })

	epoch.beginRebuild()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.Resolve(ctx)
	if !errors.Is(err, handle.ErrGraphNotReady) {
		t.Errorf("Resolve() error = %v, want ErrGraphNotReady after bounded wait", err)
	}

	epoch.finishRebuild()
}

func TestHandle_RetriesWhenGenerationMovesMidResolve(t *testing.T) {
	epoch := newFakeEpoch()

	var calls atomic.Int64
	h := handle.New(epoch, func(_ context.Context) (uint64, error) {
		if calls.Add(1) == 1 {
			// A rebuild completes while the first resolution is in flight.
			epoch.advance()
		}
		return epoch.Generation(), nil
	})

	v, err := h.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if v != 2 {
		t.Errorf("Resolve() = %d, want 2 (stale mid-resolve reference must be retried)", v)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("resolver ran %d times, want 2", got)
	}
}

func TestHandle_DoForwardsToCurrentReference(t *testing.T) {
	epoch := newFakeEpoch()
	h := handle.New(epoch, func(_ context.Context) (string, error) {
		return fmt.Sprintf("ref-gen-%d", epoch.Generation()), nil
	})

	var seen string
	err := h.Do(context.Background(), func(v string) error {
		seen = v
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if seen != "ref-gen-1" {
		t.Errorf("Do() forwarded %q, want %q", seen, "ref-gen-1")
	}

	epoch.advance()

	got, err := handle.View(context.Background(), h, func(v string) (string, error) {
		return v, nil
	})
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if got != "ref-gen-2" {
		t.Errorf("View() = %q, want %q", got, "ref-gen-2")
	}
}
