// Package handle provides redirecting handles: stable proxies over references
// into a generation-tagged external resource. A handle caches the reference
// it resolved together with the generation it resolved at; when the owning
// epoch's generation advances (the host discarded and rebuilt its object
// graph), the next access re-resolves instead of forwarding to the dead
// reference.
package handle

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrGraphNotReady reports that resolution ran before or during graph
// initialization and the bounded wait for a stable graph expired.
var ErrGraphNotReady = errors.New("object graph not ready")

// Epoch is the generation authority a handle is bound to, implemented by the
// embedding session. Generation must be published with release semantics
// after a rebuild completes, so an observer of generation N also observes the
// rebuilt graph.
type Epoch interface {
	// Generation returns the current graph generation.
	Generation() uint64
	// AwaitStable blocks while a graph rebuild is in progress, bounded by
	// ctx. It returns an error when the wait expires or the epoch is closed.
	AwaitStable(ctx context.Context) error
}

// Resolver returns the live native reference for a handle's target at the
// current generation.
type Resolver[T any] func(ctx context.Context) (T, error)

// Handle is a redirecting proxy over a T owned by an Epoch. It is safe for
// concurrent use; the resolver's own thread-affinity rules still apply to
// what callers do with the resolved value.
type Handle[T any] struct {
	epoch   Epoch
	resolve Resolver[T]

	mu        sync.Mutex
	cached    T
	cachedGen uint64
	valid     bool
}

// New creates a Handle bound to epoch. The resolver is not invoked until the
// first access.
func New[T any](epoch Epoch, resolver Resolver[T]) *Handle[T] {
	return &Handle[T]{epoch: epoch, resolve: resolver}
}

// Resolve returns a reference current as of this call. The cached reference
// is reused while the generation matches; otherwise the resolver runs again.
// Resolve blocks (bounded by ctx) while a rebuild is in progress and retries
// if a rebuild starts under it, so it never returns a mid-rebuild reference.
func (h *Handle[T]) Resolve(ctx context.Context) (T, error) {
	var zero T

	for {
		if err := h.epoch.AwaitStable(ctx); err != nil {
			return zero, err
		}
		gen := h.epoch.Generation()

		h.mu.Lock()
		if h.valid && h.cachedGen == gen {
			cached := h.cached
			h.mu.Unlock()
			return cached, nil
		}
		h.mu.Unlock()

		resolved, err := h.resolve(ctx)
		if err != nil {
			return zero, fmt.Errorf("%w: %w", ErrGraphNotReady, err)
		}

		// A rebuild may have started while the resolver ran; only a
		// reference resolved at a still-current generation may be cached
		// or returned.
		if h.epoch.Generation() != gen {
			continue
		}

		h.mu.Lock()
		h.cached = resolved
		h.cachedGen = gen
		h.valid = true
		h.mu.Unlock()
		return resolved, nil
	}
}

// Invalidate discards the cached reference, forcing the next Resolve to
// re-run the resolver regardless of generation match. The session calls it
// immediately after swapping graphs, before the new generation becomes
// observable.
func (h *Handle[T]) Invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()

	var zero T
	h.cached = zero
	h.valid = false
}

// Do resolves the handle and applies fn to the current reference. This is the
// forwarding form for mutation-free access; mutation must be routed through
// the session's poster.
func (h *Handle[T]) Do(ctx context.Context, fn func(T) error) error {
	v, err := h.Resolve(ctx)
	if err != nil {
		return err
	}
	return fn(v)
}

// View resolves the handle and returns fn's result for the current reference.
func View[T, R any](ctx context.Context, h *Handle[T], fn func(T) (R, error)) (R, error) {
	var zero R
	v, err := h.Resolve(ctx)
	if err != nil {
		return zero, err
	}
	return fn(v)
}
