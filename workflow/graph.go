package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrWorkflowNotFound is returned by a WorkflowLoader when no definition matches the id.
var ErrWorkflowNotFound = errors.New("workflow not found")

// Position is editor metadata; the engine ignores it.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a unit of work in the graph: an instance of a node implementation
// plus its static configuration.
type Node struct {
	ID       string         `json:"id" yaml:"id"`
	Type     string         `json:"type" yaml:"type"`
	Data     map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
	Position *Position      `json:"position,omitempty" yaml:"position,omitempty"`
}

// Edge connects an output port of one node to another node.
// An empty FromPort means the single non-error output of the source
// implementation; sources that offer a choice need an explicit port.
type Edge struct {
	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
	From     string `json:"from" yaml:"from"`
	FromPort string `json:"fromPort,omitempty" yaml:"fromPort,omitempty"`
	To       string `json:"to" yaml:"to"`
}

// EdgeID returns the edge id, deriving a stable one when none was assigned.
func (e Edge) EdgeID() string {
	if e.ID != "" {
		return e.ID
	}
	return EdgeIDFor(e.From, e.FromPort, e.To)
}

// EdgeIDFor builds the deterministic id used for edges without an explicit one.
func EdgeIDFor(from, port, to string) string {
	if port == "" {
		return from + "->" + to
	}
	return from + ":" + port + "->" + to
}

// Graph is a workflow definition body: nodes plus directed named-port edges.
type Graph struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes: make([]Node, 0),
		Edges: make([]Edge, 0),
	}
}

// AddNode appends a node, replacing any node with the same id.
func (g *Graph) AddNode(node Node) *Graph {
	for i := range g.Nodes {
		if g.Nodes[i].ID == node.ID {
			g.Nodes[i] = node
			return g
		}
	}
	g.Nodes = append(g.Nodes, node)
	return g
}

// Connect adds an edge from (from, port) to the destination node. A destination
// accepts one incoming edge, so an existing edge into `to` is replaced.
func (g *Graph) Connect(from, port, to string) *Graph {
	edge := Edge{ID: EdgeIDFor(from, port, to), From: from, FromPort: port, To: to}
	for i := range g.Edges {
		if g.Edges[i].To == to {
			g.Edges[i] = edge
			return g
		}
	}
	g.Edges = append(g.Edges, edge)
	return g
}

// RemoveNode drops a node and every edge touching it.
func (g *Graph) RemoveNode(id string) *Graph {
	nodes := g.Nodes[:0]
	for _, n := range g.Nodes {
		if n.ID != id {
			nodes = append(nodes, n)
		}
	}
	g.Nodes = nodes

	edges := g.Edges[:0]
	for _, e := range g.Edges {
		if e.From != id && e.To != id {
			edges = append(edges, e)
		}
	}
	g.Edges = edges
	return g
}

// Node looks up a node by id.
func (g *Graph) Node(id string) (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// Roots returns the nodes no edge targets, in declaration order.
func (g *Graph) Roots() []Node {
	targeted := make(map[string]bool, len(g.Edges))
	for _, e := range g.Edges {
		targeted[e.To] = true
	}

	roots := make([]Node, 0)
	for _, n := range g.Nodes {
		if !targeted[n.ID] {
			roots = append(roots, n)
		}
	}
	return roots
}

// Outgoing returns the edges leaving `from` on `port`. Edges without a
// port match only when fallback is non-empty and equals port.
func (g *Graph) Outgoing(from, port, fallback string) []Edge {
	out := make([]Edge, 0)
	for _, e := range g.Edges {
		if e.From != from {
			continue
		}
		edgePort := e.FromPort
		if edgePort == "" {
			if fallback == "" {
				continue
			}
			edgePort = fallback
		}
		if edgePort == port {
			out = append(out, e)
		}
	}
	return out
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	clone := &Graph{
		Nodes: make([]Node, len(g.Nodes)),
		Edges: make([]Edge, len(g.Edges)),
	}
	for i, n := range g.Nodes {
		cp := n
		cp.Data = cloneMap(n.Data)
		if n.Position != nil {
			pos := *n.Position
			cp.Position = &pos
		}
		clone.Nodes[i] = cp
	}
	copy(clone.Edges, g.Edges)
	return clone
}

// Definition is the persisted form of a workflow.
type Definition struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Version     int       `json:"version,omitempty" yaml:"version,omitempty"`
	Data        Graph     `json:"data" yaml:"data"`
	CreatedAt   time.Time `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// WorkflowLoader resolves sub-workflow references. Implementations return
// ErrWorkflowNotFound (possibly wrapped) for unknown ids.
type WorkflowLoader interface {
	GetWorkflowByID(ctx context.Context, id string) (*Definition, error)
}

// LoaderFunc adapts a function to WorkflowLoader.
type LoaderFunc func(ctx context.Context, id string) (*Definition, error)

// GetWorkflowByID implements WorkflowLoader.
func (f LoaderFunc) GetWorkflowByID(ctx context.Context, id string) (*Definition, error) {
	return f(ctx, id)
}

// MapLoader serves definitions from an in-memory map keyed by id.
type MapLoader map[string]*Definition

// GetWorkflowByID implements WorkflowLoader.
func (m MapLoader) GetWorkflowByID(_ context.Context, id string) (*Definition, error) {
	def, ok := m[id]
	if !ok || def == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return def, nil
}
