package host

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// MemProvider is an in-memory Provider with JSON persistence. It stands in
// for the real host runtime in tests, examples, and server mode without a
// host installation. It also implements Scripter with a small get/set
// expression language (`DataModel.Project.Name`,
// `DataModel.Project.Name = "foo"`).
type MemProvider struct{}

// NewMemProvider creates an in-memory graph provider.
func NewMemProvider() *MemProvider {
	return &MemProvider{}
}

func (p *MemProvider) New(_ context.Context) (Graph, error) {
	return newMemGraph(""), nil
}

func (p *MemProvider) Open(_ context.Context, path string) (Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open project: %w", err)
	}

	var doc graphDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("open project %s: %w", path, err)
	}

	g := newMemGraph(filepath.Dir(path))
	for name, nd := range doc.Roots {
		root, ok := g.roots[name]
		if !ok {
			root = &memNode{graph: g, fields: map[string]any{}, children: map[string]*memNode{}}
			g.roots[name] = root
		}
		root.fromDoc(nd)
	}
	return g, nil
}

func (p *MemProvider) Save(_ context.Context, g Graph, path string) error {
	mg, ok := g.(*memGraph)
	if !ok {
		return fmt.Errorf("save project: graph is not a memory graph")
	}

	mg.mu.Lock()
	doc := graphDoc{Roots: make(map[string]nodeDoc, len(mg.roots))}
	for name, root := range mg.roots {
		doc.Roots[name] = root.toDoc()
	}
	mg.dir = filepath.Dir(path)
	mg.mu.Unlock()

	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save project: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("save project: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save project: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save project: %w", err)
	}

	return nil
}

// Eval evaluates a get or set expression against the graph. The left-hand
// side is a dot path rooted at a graph root; assignment values are parsed as
// JSON, falling back to a bare string.
func (p *MemProvider) Eval(_ context.Context, g Graph, script string) (any, error) {
	script = strings.TrimSpace(script)
	if script == "" {
		return nil, fmt.Errorf("eval: empty script")
	}

	if path, literal, isAssign := splitAssignment(script); isAssign {
		node, field, err := walkPath(g, path)
		if err != nil {
			return nil, err
		}
		value := parseLiteral(literal)
		if err := node.Set(field, value); err != nil {
			return nil, err
		}
		return value, nil
	}

	node, field, err := walkPath(g, script)
	if err != nil {
		return nil, err
	}
	return node.Get(field)
}

// splitAssignment splits "path = literal" at the first = not inside quotes.
func splitAssignment(script string) (path, literal string, ok bool) {
	inQuote := false
	for i, r := range script {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == '=' && !inQuote:
			return strings.TrimSpace(script[:i]), strings.TrimSpace(script[i+1:]), true
		}
	}
	return "", "", false
}

func parseLiteral(literal string) any {
	var v any
	if err := json.Unmarshal([]byte(literal), &v); err == nil {
		return v
	}
	return literal
}

func walkPath(g Graph, path string) (Node, string, error) {
	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return nil, "", fmt.Errorf("eval: path %q needs at least root and field", path)
	}

	node, err := g.Root(parts[0])
	if err != nil {
		return nil, "", err
	}
	for _, name := range parts[1 : len(parts)-1] {
		node, err = node.Child(name)
		if err != nil {
			return nil, "", err
		}
	}
	return node, parts[len(parts)-1], nil
}

type graphDoc struct {
	Roots map[string]nodeDoc `json:"roots"`
}

type nodeDoc struct {
	Fields   map[string]any     `json:"fields,omitempty"`
	Children map[string]nodeDoc `json:"children,omitempty"`
}

type memGraph struct {
	mu    sync.RWMutex
	roots map[string]*memNode
	dir   string
}

// newMemGraph builds the default document: a DataModel root holding a Project
// node, and a Model root.
func newMemGraph(dir string) *memGraph {
	g := &memGraph{roots: map[string]*memNode{}, dir: dir}

	project := &memNode{
		graph:    g,
		fields:   map[string]any{"Name": "Project"},
		children: map[string]*memNode{},
	}
	g.roots[RootDataModel] = &memNode{
		graph:    g,
		fields:   map[string]any{"Name": RootDataModel},
		children: map[string]*memNode{"Project": project},
	}
	g.roots[RootModel] = &memNode{
		graph:    g,
		fields:   map[string]any{"Name": RootModel},
		children: map[string]*memNode{},
	}
	return g
}

func (g *memGraph) Root(name string) (Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	root, ok := g.roots[name]
	if !ok {
		return nil, fmt.Errorf("graph has no root %q", name)
	}
	return root, nil
}

func (g *memGraph) ProjectDirectory() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dir
}

type memNode struct {
	graph    *memGraph
	fields   map[string]any
	children map[string]*memNode
}

func (n *memNode) Name() string {
	n.graph.mu.RLock()
	defer n.graph.mu.RUnlock()

	if name, ok := n.fields["Name"].(string); ok {
		return name
	}
	return ""
}

func (n *memNode) Get(field string) (any, error) {
	n.graph.mu.RLock()
	defer n.graph.mu.RUnlock()

	v, ok := n.fields[field]
	if !ok {
		return nil, fmt.Errorf("node %q has no field %q", n.nameLocked(), field)
	}
	return v, nil
}

func (n *memNode) Set(field string, value any) error {
	n.graph.mu.Lock()
	defer n.graph.mu.Unlock()

	n.fields[field] = value
	return nil
}

func (n *memNode) Child(name string) (Node, error) {
	n.graph.mu.RLock()
	defer n.graph.mu.RUnlock()

	child, ok := n.children[name]
	if !ok {
		return nil, fmt.Errorf("node %q has no child %q", n.nameLocked(), name)
	}
	return child, nil
}

// nameLocked reads the Name field without taking the graph lock; callers hold it.
func (n *memNode) nameLocked() string {
	if name, ok := n.fields["Name"].(string); ok {
		return name
	}
	return ""
}

func (n *memNode) toDoc() nodeDoc {
	doc := nodeDoc{}
	if len(n.fields) > 0 {
		doc.Fields = make(map[string]any, len(n.fields))
		for k, v := range n.fields {
			doc.Fields[k] = v
		}
	}
	if len(n.children) > 0 {
		doc.Children = make(map[string]nodeDoc, len(n.children))
		for k, c := range n.children {
			doc.Children[k] = c.toDoc()
		}
	}
	return doc
}

func (n *memNode) fromDoc(doc nodeDoc) {
	for k, v := range doc.Fields {
		n.fields[k] = v
	}
	for name, childDoc := range doc.Children {
		child, ok := n.children[name]
		if !ok {
			child = &memNode{graph: n.graph, fields: map[string]any{}, children: map[string]*memNode{}}
			n.children[name] = child
		}
		child.fromDoc(childDoc)
	}
}
