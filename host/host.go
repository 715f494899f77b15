// Package host abstracts the host application's object graph. The embedding
// layer never sees the host runtime directly; it reaches the graph through
// the Provider and Graph interfaces, and the graph's nodes through Node.
//
// All graph mutation is thread-affine to the host application's main
// execution context. Callers off that context must route mutation through the
// poster; the host package itself does not enforce affinity.
package host

import "context"

// Root names exposed by every graph.
const (
	RootDataModel = "DataModel"
	RootModel     = "Model"
)

// Node is an opaque reference into the host application's object graph.
// References become invalid when the host discards and rebuilds the graph;
// callers hold them through redirecting handles, never directly across a
// rebuild.
type Node interface {
	// Name returns the node's display name.
	Name() string
	// Get reads a named field.
	Get(field string) (any, error)
	// Set writes a named field.
	Set(field string, value any) error
	// Child returns a named child node.
	Child(name string) (Node, error)
}

// Graph is one generation of the host application's object graph. A Graph and
// every Node reached through it are discarded wholesale when the host rebuilds
// its document model.
type Graph interface {
	// Root returns a named root node (RootDataModel, RootModel).
	Root(name string) (Node, error)
	// ProjectDirectory returns the directory backing the open project, or ""
	// for an unsaved project.
	ProjectDirectory() string
}

// Provider creates and persists graphs. It is the embedding layer's only view
// of the host runtime's document operations.
type Provider interface {
	// New returns a fresh, empty graph.
	New(ctx context.Context) (Graph, error)
	// Open loads a graph from a previously saved project file.
	Open(ctx context.Context, path string) (Graph, error)
	// Save persists the graph to the given project file.
	Save(ctx context.Context, g Graph, path string) error
}

// Scripter is an optional capability of a Provider: evaluation of a host
// script string against a graph. Hosts without a scripting engine simply do
// not implement it.
type Scripter interface {
	Eval(ctx context.Context, g Graph, script string) (any, error)
}
