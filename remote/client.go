package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ErrClientExited is returned by every call after Exit.
var ErrClientExited = errors.New("remote session has exited")

// Client is the typed client of the control service.
type Client struct {
	exited atomic.Bool

	runScript  *connect.Client[wrapperspb.StringValue, structpb.Value]
	projectDir *connect.Client[emptypb.Empty, wrapperspb.StringValue]
	health     *connect.Client[emptypb.Empty, structpb.Struct]
	exit       *connect.Client[wrapperspb.BoolValue, emptypb.Empty]
}

// NewClient creates a Client for the service at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string) *Client {
	return &Client{
		runScript: connect.NewClient[wrapperspb.StringValue, structpb.Value](
			httpClient, baseURL+ProcedureRunScript,
		),
		projectDir: connect.NewClient[emptypb.Empty, wrapperspb.StringValue](
			httpClient, baseURL+ProcedureProjectDirectory,
		),
		health: connect.NewClient[emptypb.Empty, structpb.Struct](
			httpClient, baseURL+ProcedureHealth,
		),
		exit: connect.NewClient[wrapperspb.BoolValue, emptypb.Empty](
			httpClient, baseURL+ProcedureExit,
		),
	}
}

// RunScript evaluates a script string in the remote session and returns its
// result decoded from JSON.
func (c *Client) RunScript(ctx context.Context, script string) (any, error) {
	if c.exited.Load() {
		return nil, ErrClientExited
	}

	resp, err := c.runScript.CallUnary(ctx, connect.NewRequest(wrapperspb.String(script)))
	if err != nil {
		return nil, err
	}
	return resp.Msg.AsInterface(), nil
}

// RunScriptFromFile evaluates the script stored at path.
func (c *Client) RunScriptFromFile(ctx context.Context, path string) (any, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script file: %w", err)
	}
	return c.RunScript(ctx, string(script))
}

// ProjectDirectory returns the remote session's project directory.
func (c *Client) ProjectDirectory(ctx context.Context) (string, error) {
	if c.exited.Load() {
		return "", ErrClientExited
	}

	resp, err := c.projectDir.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return "", err
	}
	return resp.Msg.GetValue(), nil
}

// Health returns the remote session's status fields.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	if c.exited.Load() {
		return nil, ErrClientExited
	}

	resp, err := c.health.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.AsMap(), nil
}

// Exit disposes the remote session. After a successful Exit the client is
// unusable and every later call fails with ErrClientExited; a failed Exit
// leaves the client open for retry.
func (c *Client) Exit(ctx context.Context, force bool) error {
	if c.exited.Load() {
		return ErrClientExited
	}

	if _, err := c.exit.CallUnary(ctx, connect.NewRequest(wrapperspb.Bool(force))); err != nil {
		return err
	}
	c.exited.Store(true)
	return nil
}

// Exited reports whether Exit has been called.
func (c *Client) Exited() bool {
	return c.exited.Load()
}
