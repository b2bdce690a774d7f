// Package graph runs typed processing pipelines laid out as a directed
// acyclic graph.
//
// Nodes are stored by id and referenced by id from a separate edge list. Each
// node declares the kinds it accepts and the kind it emits; Build rejects
// graphs whose edges connect incompatible kinds, contain a cycle, or leave a
// node unreachable from the start node. A built Graph is immutable and may be
// executed concurrently; each Execute call returns an independent Execution.
package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
)

// ErrInvalidGraph wraps every topology or typing error reported by Build.
var ErrInvalidGraph = errors.New("invalid graph")

// ErrDestroyed is returned by Execute once the graph has been destroyed.
var ErrDestroyed = errors.New("graph destroyed")

// Kind is the payload type carried along an edge.
type Kind int

const (
	KindText Kind = iota + 1
	KindJSON
	KindTextStream
	KindSpeechStream
	KindAudio
	KindChat
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindJSON:
		return "json"
	case KindTextStream:
		return "text_stream"
	case KindSpeechStream:
		return "speech_stream"
	case KindAudio:
		return "audio"
	case KindChat:
		return "chat"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsStream reports whether values of this kind are pulled lazily and so may
// only have a single consumer.
func (k Kind) IsStream() bool {
	return k == KindTextStream || k == KindSpeechStream
}

// Processor does one node's work. in holds the values of every fired
// incoming edge, in edge declaration order; the start node receives the
// execution input as its only element.
type Processor interface {
	Process(ctx context.Context, in []any) (any, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, in []any) (any, error)

func (f ProcessorFunc) Process(ctx context.Context, in []any) (any, error) {
	return f(ctx, in)
}

// Node is one stage of a graph. A Processor that also implements io.Closer
// is closed by Graph.Destroy.
type Node struct {
	ID        string
	Inputs    []Kind
	Output    Kind
	Processor Processor
}

// Accepts reports whether the node takes values of kind k.
func (n Node) Accepts(k Kind) bool {
	return slices.Contains(n.Inputs, k)
}

// Edge connects two nodes by id. A nil Condition always passes.
type Edge struct {
	From      string
	To        string
	Condition func(value any) bool
	// Label is shown in DOT output for conditional edges.
	Label string
}

func (e Edge) allows(v any) bool {
	return e.Condition == nil || e.Condition(v)
}

// Graph is a validated pipeline. Build it with Build.
type Graph struct {
	name      string
	nodes     map[string]Node
	order     []string // declaration order
	topo      []string
	edges     []Edge
	incoming  map[string][]int // node id -> indexes into edges
	start     string
	terminals []string

	mu        sync.RWMutex
	destroyed bool
}

// Build validates the nodes and edges and returns an executable Graph.
// Every returned error wraps ErrInvalidGraph.
func Build(name string, nodes []Node, edges []Edge, start string, terminals []string) (*Graph, error) {
	g := &Graph{
		name:      name,
		nodes:     make(map[string]Node, len(nodes)),
		edges:     slices.Clone(edges),
		incoming:  make(map[string][]int),
		start:     start,
		terminals: slices.Clone(terminals),
	}
	for _, n := range nodes {
		if n.ID == "" {
			return nil, invalid("node with empty id")
		}
		if n.Processor == nil {
			return nil, invalid("node %q has no processor", n.ID)
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, invalid("duplicate node id %q", n.ID)
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}

	if start == "" {
		return nil, invalid("no start node")
	}
	if _, ok := g.nodes[start]; !ok {
		return nil, invalid("start node %q not found", start)
	}
	if len(terminals) == 0 {
		return nil, invalid("no terminal nodes")
	}
	isTerminal := make(map[string]bool, len(terminals))
	for _, id := range terminals {
		if _, ok := g.nodes[id]; !ok {
			return nil, invalid("terminal node %q not found", id)
		}
		if isTerminal[id] {
			return nil, invalid("terminal node %q listed twice", id)
		}
		isTerminal[id] = true
	}

	outgoing := make(map[string][]int)
	for i, e := range g.edges {
		from, ok := g.nodes[e.From]
		if !ok {
			return nil, invalid("edge %s->%s: unknown node %q", e.From, e.To, e.From)
		}
		to, ok := g.nodes[e.To]
		if !ok {
			return nil, invalid("edge %s->%s: unknown node %q", e.From, e.To, e.To)
		}
		if e.To == start {
			return nil, invalid("edge %s->%s: start node cannot have inputs", e.From, e.To)
		}
		if !to.Accepts(from.Output) {
			return nil, invalid("edge %s->%s: %s does not accept %s", e.From, e.To, e.To, from.Output)
		}
		outgoing[e.From] = append(outgoing[e.From], i)
		g.incoming[e.To] = append(g.incoming[e.To], i)
	}

	for _, id := range g.order {
		n := g.nodes[id]
		out := len(outgoing[id])
		if out == 0 && !isTerminal[id] {
			return nil, invalid("node %q has no outgoing edge and is not terminal", id)
		}
		consumers := out
		if isTerminal[id] {
			consumers++
		}
		if n.Output.IsStream() && consumers > 1 {
			return nil, invalid("node %q emits a %s and can feed only one consumer", id, n.Output)
		}
	}

	topo, err := g.sort(outgoing)
	if err != nil {
		return nil, err
	}
	g.topo = topo

	reached := map[string]bool{start: true}
	for _, id := range topo {
		if !reached[id] {
			continue
		}
		for _, i := range outgoing[id] {
			reached[g.edges[i].To] = true
		}
	}
	for _, id := range g.order {
		if !reached[id] {
			return nil, invalid("node %q is unreachable from %q", id, start)
		}
	}
	return g, nil
}

// sort orders nodes topologically (Kahn), breaking ties by declaration order.
func (g *Graph) sort(outgoing map[string][]int) ([]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	for _, e := range g.edges {
		indegree[e.To]++
	}
	var ready []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	out := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		out = append(out, id)
		for _, i := range outgoing[id] {
			to := g.edges[i].To
			indegree[to]--
			if indegree[to] == 0 {
				ready = append(ready, to)
			}
		}
	}
	if len(out) != len(g.nodes) {
		return nil, invalid("graph contains a cycle")
	}
	return out, nil
}

// Name is the name given to Build.
func (g *Graph) Name() string { return g.name }

// Start is the start node id.
func (g *Graph) Start() string { return g.start }

// Terminals returns the terminal node ids in declaration order.
func (g *Graph) Terminals() []string { return slices.Clone(g.terminals) }

// Nodes returns node ids in topological order.
func (g *Graph) Nodes() []string { return slices.Clone(g.topo) }

// Destroy closes every node processor that implements io.Closer. The graph
// cannot be executed afterwards. Destroy is idempotent; executions already
// running are not interrupted.
func (g *Graph) Destroy() error {
	g.mu.Lock()
	if g.destroyed {
		g.mu.Unlock()
		return nil
	}
	g.destroyed = true
	g.mu.Unlock()

	var errs []error
	for _, id := range slices.Backward(g.topo) {
		if c, ok := g.nodes[id].Processor.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close node %q: %w", id, err))
			}
		}
	}
	return errors.Join(errs...)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidGraph, fmt.Sprintf(format, args...))
}
