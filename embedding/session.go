// Package embedding runs the host application in-process and exposes it
// through a Session: a generation-counted view of the host's object graph,
// redirecting handles over its roots, and a poster that marshals work onto
// the host's single-threaded main execution context.
//
//	cfg := embedding.DefaultConfig()
//	s, err := embedding.New(ctx, &cfg)
//	defer s.Dispose(ctx)
//
// Graph mutation and document operations (NewFile, Open, Save) are
// thread-affine to the main execution context. Goroutines off that context
// route work through Execute, and hold graph references only through the
// handles returned by DataModel and Model, which stay valid across NewFile
// and Open.
package embedding

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mechlink/mechlink/handle"
	"github.com/mechlink/mechlink/host"
	"github.com/mechlink/mechlink/observability"
	"github.com/mechlink/mechlink/poster"
)

const lockFileName = ".mech_lock"

type invalidator interface {
	Invalidate()
}

// Option configures a Session after config-driven initialization.
type Option func(*Session)

// WithProvider overrides the default in-memory host provider.
func WithProvider(p host.Provider) Option {
	return func(s *Session) { s.provider = p }
}

// WithObserver overrides the config-selected observer.
func WithObserver(o observability.Observer) Option {
	return func(s *Session) { s.observer = o }
}

// WithSleeper substitutes the host's idle primitive for the default timer
// sleep in the main loop.
func WithSleeper(sl poster.Sleeper) Option {
	return func(s *Session) { s.sleeper = sl }
}

// Session is one live embedded instance of the host application.
type Session struct {
	id       string
	cfg      Config
	provider host.Provider
	observer observability.Observer
	sleeper  poster.Sleeper

	post *poster.Poster
	loop *poster.MainLoop

	// generation is written only on the main execution context and read
	// anywhere; a reader observing generation N also observes the rebuild
	// that produced it.
	generation atomic.Uint64
	closed     atomic.Bool
	done       chan struct{}

	mu         sync.Mutex
	graph      host.Graph
	rebuilding bool
	stableCh   chan struct{}
	handles    []invalidator
	savePath   string
	lockPath   string

	dataModel     *handle.Handle[host.Node]
	dataModelOnce sync.Once
	model         *handle.Handle[host.Node]
	modelOnce     sync.Once
}

// New creates a Session from configuration, builds the initial object graph,
// and claims the process-wide instance slot unless AllowMultiple is set.
// Functional options applied after initialization can override the provider,
// observer, or idle primitive.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Session, error) {
	if cfg.Version < MinSupportedVersion {
		return nil, fmt.Errorf("version %d is not supported, minimum is %d", cfg.Version, MinSupportedVersion)
	}

	observer, err := observability.GetObserver(cfg.Observer)
	if err != nil {
		return nil, fmt.Errorf("failed to select observer: %w", err)
	}

	s := &Session{
		id:       uuid.Must(uuid.NewV7()).String(),
		cfg:      *cfg,
		provider: host.NewMemProvider(),
		observer: observer,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.post = poster.New(poster.WithObserver(s.observer))
	loopOpts := []poster.LoopOption{poster.WithInterval(s.cfg.IdleInterval)}
	if s.sleeper != nil {
		loopOpts = append(loopOpts, poster.WithSleeper(s.sleeper))
	}
	s.loop = poster.NewMainLoop(s.post, loopOpts...)

	graph, err := s.provider.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build initial object graph: %w", err)
	}
	s.graph = graph
	s.generation.Store(1)

	if !s.cfg.AllowMultiple {
		if err := claimInstance(s); err != nil {
			return nil, err
		}
	}

	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventStart,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "embedding.New",
		Data: map[string]any{
			"session_id": s.id,
			"version":    s.cfg.Version,
			"read_only":  s.cfg.ReadOnly,
		},
	})

	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Version returns the host application version.
func (s *Session) Version() int { return s.cfg.Version }

// ReadOnly reports whether the session was attached without a modification
// license.
func (s *Session) ReadOnly() bool { return s.cfg.ReadOnly }

// Generation returns the current object graph generation. It increases by
// one on every NewFile or Open.
func (s *Session) Generation() uint64 { return s.generation.Load() }

// Poster returns the session's mailbox.
func (s *Session) Poster() *poster.Poster { return s.post }

// Done returns a channel closed when the session is disposed.
func (s *Session) Done() <-chan struct{} { return s.done }

// AwaitStable blocks while a graph rebuild is in progress. The wait is
// bounded by ctx, or by the configured ResolveTimeout when ctx carries no
// deadline; expiry surfaces handle.ErrGraphNotReady.
func (s *Session) AwaitStable(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && s.cfg.ResolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ResolveTimeout)
		defer cancel()
	}

	for {
		if s.closed.Load() {
			return ErrSessionClosed
		}

		s.mu.Lock()
		if !s.rebuilding {
			s.mu.Unlock()
			return nil
		}
		stable := s.stableCh
		s.mu.Unlock()

		select {
		case <-stable:
		case <-ctx.Done():
			return fmt.Errorf("%w: rebuild still in progress: %w", handle.ErrGraphNotReady, ctx.Err())
		}
	}
}

// DataModel returns the redirecting handle over the data model root. The
// handle stays valid across NewFile and Open.
func (s *Session) DataModel() *handle.Handle[host.Node] {
	s.dataModelOnce.Do(func() {
		s.dataModel = s.NodeHandle(host.RootDataModel)
	})
	return s.dataModel
}

// Model returns the redirecting handle over the model root.
func (s *Session) Model() *handle.Handle[host.Node] {
	s.modelOnce.Do(func() {
		s.model = s.NodeHandle(host.RootModel)
	})
	return s.model
}

// NodeHandle creates a redirecting handle over a named graph root and
// registers it for invalidation on rebuild.
func (s *Session) NodeHandle(root string) *handle.Handle[host.Node] {
	h := handle.New(s, func(ctx context.Context) (host.Node, error) {
		s.mu.Lock()
		graph := s.graph
		s.mu.Unlock()
		if graph == nil {
			return nil, fmt.Errorf("no object graph")
		}
		return graph.Root(root)
	})

	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	return h
}

// Execute routes fn onto the main execution context through the poster and
// waits for its result. When ctx is already the main context, fn runs inline.
func (s *Session) Execute(ctx context.Context, fn poster.Func) (any, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	return s.post.Post(ctx, fn).Await(ctx)
}

// NewFile discards the current object graph and builds a fresh one. Every
// outstanding handle re-resolves on its next access.
//
// Must be called on the main execution context.
func (s *Session) NewFile(ctx context.Context) error {
	return s.rebuild(ctx, "", func(ctx context.Context) (host.Graph, error) {
		return s.provider.New(ctx)
	})
}

// Open loads a saved project, discarding the current object graph.
//
// Must be called on the main execution context.
func (s *Session) Open(ctx context.Context, path string) error {
	return s.rebuild(ctx, path, func(ctx context.Context) (host.Graph, error) {
		return s.provider.Open(ctx, path)
	})
}

// SaveAs persists the project to path, which becomes the target of later
// Save calls, and takes the project lock.
func (s *Session) SaveAs(ctx context.Context, path string) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.mu.Lock()
	graph := s.graph
	s.mu.Unlock()

	if err := s.provider.Save(ctx, graph, path); err != nil {
		return err
	}
	if err := s.takeLock(path); err != nil {
		return err
	}

	s.mu.Lock()
	s.savePath = path
	s.mu.Unlock()

	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventSave,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "embedding.SaveAs",
		Data:      map[string]any{"session_id": s.id, "path": path},
	})
	return nil
}

// Save persists the project to its existing path. Fails with
// ErrNoProjectPath when the project was never saved.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	path := s.savePath
	s.mu.Unlock()

	if path == "" {
		return ErrNoProjectPath
	}
	return s.SaveAs(ctx, path)
}

// ProjectDirectory returns the directory backing the open project, or ""
// for an unsaved project.
func (s *Session) ProjectDirectory(ctx context.Context) (string, error) {
	if err := s.AwaitStable(ctx); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.graph == nil {
		return "", nil
	}
	return s.graph.ProjectDirectory(), nil
}

// RunScript evaluates a host script string on the main execution context and
// returns its result. Fails with ErrNoScripting when the provider has no
// scripting engine.
func (s *Session) RunScript(ctx context.Context, script string) (any, error) {
	scripter, ok := s.provider.(host.Scripter)
	if !ok {
		return nil, ErrNoScripting
	}

	return s.Execute(ctx, func(ctx context.Context) (any, error) {
		if err := s.AwaitStable(ctx); err != nil {
			return nil, err
		}
		s.mu.Lock()
		graph := s.graph
		s.mu.Unlock()
		return scripter.Eval(ctx, graph, script)
	})
}

// IdleWait cedes the main execution context for d while draining posted
// work. Must be called on the main execution context.
func (s *Session) IdleWait(ctx context.Context, d time.Duration) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	return s.loop.IdleWait(ctx, d)
}

// Run drains posted work until ctx is done or the session is disposed. This
// is the serving mode for a goroutine dedicated to acting as the main
// execution context.
func (s *Session) Run(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	return s.loop.Run(ctx)
}

// Dispose shuts the session down: further operations fail with
// ErrSessionClosed, every pending Future is fulfilled with ErrSessionClosed,
// the project lock is removed, and the process instance slot is released.
// Dispose is idempotent.
func (s *Session) Dispose(ctx context.Context) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)

	s.post.Close(ctx, ErrSessionClosed)

	s.mu.Lock()
	lockPath := s.lockPath
	s.lockPath = ""
	s.graph = nil
	if s.rebuilding {
		s.rebuilding = false
		close(s.stableCh)
	}
	s.mu.Unlock()

	if lockPath != "" {
		removeLock(lockPath)
	}
	releaseInstance(s)

	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventDispose,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "embedding.Dispose",
		Data:      map[string]any{"session_id": s.id},
	})
}

// rebuild swaps in a graph produced by buildFn. Handles are invalidated
// before the new generation becomes observable, so no caller can pair the
// new generation with a stale reference. On build failure the old graph
// stays in place.
func (s *Session) rebuild(ctx context.Context, path string, buildFn func(context.Context) (host.Graph, error)) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.mu.Lock()
	if s.rebuilding {
		s.mu.Unlock()
		return fmt.Errorf("rebuild already in progress")
	}
	s.rebuilding = true
	s.stableCh = make(chan struct{})
	s.mu.Unlock()

	graph, err := buildFn(ctx)

	// Dispose may have run while buildFn was in flight; it already released
	// the rebuild gate, and a disposed session must not receive a new graph.
	s.mu.Lock()
	disposed := s.closed.Load()
	if err == nil && !disposed {
		s.graph = graph
		s.savePath = path
		for _, h := range s.handles {
			h.Invalidate()
		}
		s.generation.Add(1)
	}
	if s.rebuilding {
		s.rebuilding = false
		close(s.stableCh)
	}
	s.mu.Unlock()

	if disposed {
		return ErrSessionClosed
	}

	if err != nil {
		s.observer.OnEvent(ctx, observability.Event{
			Type:      EventError,
			Level:     observability.LevelError,
			Timestamp: time.Now(),
			Source:    "embedding.rebuild",
			Data:      map[string]any{"session_id": s.id, "error": err.Error()},
		})
		return err
	}

	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventRebuild,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "embedding.rebuild",
		Data: map[string]any{
			"session_id": s.id,
			"generation": s.generation.Load(),
			"path":       path,
		},
	})
	return nil
}

func (s *Session) takeLock(projectPath string) error {
	lockPath := filepath.Join(filepath.Dir(projectPath), lockFileName)

	s.mu.Lock()
	previous := s.lockPath
	s.lockPath = lockPath
	s.mu.Unlock()

	if previous != "" && previous != lockPath {
		removeLock(previous)
	}
	return writeLock(lockPath, s.id)
}
