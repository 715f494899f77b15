// Package remote exposes an embedded session over the network for
// out-of-process control, and the matching typed client. The RPC framework is
// connect; the wire protocol is script-in/JSON-out, carried entirely by
// protobuf well-known types so no generated stubs are vendored.
package remote

import (
	"context"
	"errors"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/mechlink/mechlink/embedding"
	"github.com/mechlink/mechlink/handle"
	"github.com/mechlink/mechlink/observability"
	"github.com/mechlink/mechlink/poster"
)

// Procedure paths of the control service.
const (
	ProcedureRunScript        = "/mechlink.v1.MechanicalService/RunScript"
	ProcedureProjectDirectory = "/mechlink.v1.MechanicalService/ProjectDirectory"
	ProcedureHealth           = "/mechlink.v1.MechanicalService/Health"
	ProcedureExit             = "/mechlink.v1.MechanicalService/Exit"
)

// Remote event types.
const (
	EventRequest       observability.EventType = "remote.request"
	EventRequestFailed observability.EventType = "remote.request.failed"
)

// Info describes the live session behind the service.
type Info struct {
	SessionID  string
	Version    int
	ReadOnly   bool
	Generation uint64
}

// Engine is the execution surface the server drives. The embedding session
// satisfies it through SessionEngine.
type Engine interface {
	RunScript(ctx context.Context, script string) (any, error)
	ProjectDirectory(ctx context.Context) (string, error)
	Info(ctx context.Context) (Info, error)
	Exit(ctx context.Context, force bool) error
}

// SessionEngine adapts an embedding session to the Engine interface.
type SessionEngine struct {
	session *embedding.Session
}

// NewSessionEngine wraps s for serving.
func NewSessionEngine(s *embedding.Session) *SessionEngine {
	return &SessionEngine{session: s}
}

func (e *SessionEngine) RunScript(ctx context.Context, script string) (any, error) {
	return e.session.RunScript(ctx, script)
}

func (e *SessionEngine) ProjectDirectory(ctx context.Context) (string, error) {
	return e.session.ProjectDirectory(ctx)
}

func (e *SessionEngine) Info(_ context.Context) (Info, error) {
	return Info{
		SessionID:  e.session.ID(),
		Version:    e.session.Version(),
		ReadOnly:   e.session.ReadOnly(),
		Generation: e.session.Generation(),
	}, nil
}

func (e *SessionEngine) Exit(ctx context.Context, force bool) error {
	e.session.Dispose(ctx)
	return nil
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerObserver overrides the default no-op observer.
func WithServerObserver(o observability.Observer) ServerOption {
	return func(s *Server) { s.observer = o }
}

// Server mounts the control service over an Engine.
type Server struct {
	engine   Engine
	observer observability.Observer
	mux      *http.ServeMux
}

// NewServer creates a Server for engine with all procedures mounted.
func NewServer(engine Engine, opts ...ServerOption) *Server {
	s := &Server{
		engine:   engine,
		observer: observability.NoOpObserver{},
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.Handle(ProcedureRunScript, connect.NewUnaryHandler(
		ProcedureRunScript, s.runScript,
	))
	s.mux.Handle(ProcedureProjectDirectory, connect.NewUnaryHandler(
		ProcedureProjectDirectory, s.projectDirectory,
	))
	s.mux.Handle(ProcedureHealth, connect.NewUnaryHandler(
		ProcedureHealth, s.health,
	))
	s.mux.Handle(ProcedureExit, connect.NewUnaryHandler(
		ProcedureExit, s.exit,
	))
	return s
}

// Handler returns the service as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{Addr: addr, Handler: s.mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func (s *Server) runScript(ctx context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Value], error) {
	script := req.Msg.GetValue()
	s.emit(ctx, ProcedureRunScript, map[string]any{"script_length": len(script)})

	result, err := s.engine.RunScript(ctx, script)
	if err != nil {
		return nil, s.fail(ctx, ProcedureRunScript, err)
	}

	value, err := structpb.NewValue(result)
	if err != nil {
		return nil, s.fail(ctx, ProcedureRunScript, err)
	}
	return connect.NewResponse(value), nil
}

func (s *Server) projectDirectory(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[wrapperspb.StringValue], error) {
	s.emit(ctx, ProcedureProjectDirectory, nil)

	dir, err := s.engine.ProjectDirectory(ctx)
	if err != nil {
		return nil, s.fail(ctx, ProcedureProjectDirectory, err)
	}
	return connect.NewResponse(wrapperspb.String(dir)), nil
}

func (s *Server) health(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	s.emit(ctx, ProcedureHealth, nil)

	info, err := s.engine.Info(ctx)
	if err != nil {
		return nil, s.fail(ctx, ProcedureHealth, err)
	}

	payload, err := structpb.NewStruct(map[string]any{
		"session_id": info.SessionID,
		"version":    info.Version,
		"read_only":  info.ReadOnly,
		"generation": int(info.Generation),
	})
	if err != nil {
		return nil, s.fail(ctx, ProcedureHealth, err)
	}
	return connect.NewResponse(payload), nil
}

func (s *Server) exit(ctx context.Context, req *connect.Request[wrapperspb.BoolValue]) (*connect.Response[emptypb.Empty], error) {
	s.emit(ctx, ProcedureExit, map[string]any{"force": req.Msg.GetValue()})

	if err := s.engine.Exit(ctx, req.Msg.GetValue()); err != nil {
		return nil, s.fail(ctx, ProcedureExit, err)
	}
	return connect.NewResponse(&emptypb.Empty{}), nil
}

func (s *Server) emit(ctx context.Context, procedure string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["procedure"] = procedure
	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventRequest,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "remote.Server",
		Data:      data,
	})
}

// fail maps an engine error to a connect error code. Script and task errors
// surface with the original cause message, so remote callers see what the
// host raised.
func (s *Server) fail(ctx context.Context, procedure string, err error) error {
	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventRequestFailed,
		Level:     observability.LevelWarning,
		Timestamp: time.Now(),
		Source:    "remote.Server",
		Data:      map[string]any{"procedure": procedure, "error": err.Error()},
	})

	var taskErr *poster.TaskError
	switch {
	case errors.Is(err, embedding.ErrSessionClosed):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, handle.ErrGraphNotReady):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.As(err, &taskErr):
		return connect.NewError(connect.CodeUnknown, taskErr.Cause)
	default:
		return connect.NewError(connect.CodeUnknown, err)
	}
}
