package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ent0n29/cadence/internal/graph"

// StageError reports the node that failed during an execution.
type StageError struct {
	NodeID string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %q: %v", e.NodeID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Output is one value produced by a terminal node.
type Output struct {
	NodeID string
	Kind   Kind
	Value  any
}

type correlationKey struct{}

// CorrelationID returns the correlation id of the execution running in ctx.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

type nodeState int

const (
	pending nodeState = iota
	fired
	skipped
)

// Execution is one run of a Graph against one input. Nodes run lazily on the
// caller's goroutine as Next asks for terminal outputs. An Execution is not
// safe for concurrent use and cannot be restarted.
type Execution struct {
	graph         *Graph
	ctx           context.Context
	cancel        context.CancelFunc
	span          trace.Span
	correlationID string
	input         any

	state    map[string]nodeState
	values   map[string]any
	terminal int
	err      error

	closeOnce sync.Once
	closers   []io.Closer
	closeErr  error
}

// Execute starts a run with input delivered to the start node. No node runs
// until Next is called. The caller must Close the execution.
func (g *Graph) Execute(ctx context.Context, input any, correlationID string) (*Execution, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.destroyed {
		return nil, ErrDestroyed
	}

	ctx = context.WithValue(ctx, correlationKey{}, correlationID)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "graph.execute",
		trace.WithAttributes(
			attribute.String("graph.name", g.name),
			attribute.String("correlation_id", correlationID),
		))
	ctx, cancel := context.WithCancel(ctx)
	return &Execution{
		graph:         g,
		ctx:           ctx,
		cancel:        cancel,
		span:          span,
		correlationID: correlationID,
		input:         input,
		state:         make(map[string]nodeState, len(g.nodes)),
		values:        make(map[string]any, len(g.nodes)),
	}, nil
}

// CorrelationID is the id passed to Execute.
func (x *Execution) CorrelationID() string { return x.correlationID }

// Context is the context nodes of this execution run under. It is cancelled
// by Close.
func (x *Execution) Context() context.Context { return x.ctx }

// Next returns the next terminal output, in terminal declaration order.
// Terminals whose branch did not fire are skipped. Next returns io.EOF once
// every terminal has been visited. A node failure is returned as a
// *StageError and repeated on later calls.
func (x *Execution) Next() (Output, error) {
	if x.err != nil {
		return Output{}, x.err
	}
	for x.terminal < len(x.graph.terminals) {
		id := x.graph.terminals[x.terminal]
		x.terminal++
		if err := x.resolve(id); err != nil {
			x.fail(err)
			return Output{}, x.err
		}
		if x.state[id] == fired {
			n := x.graph.nodes[id]
			return Output{NodeID: id, Kind: n.Output, Value: x.values[id]}, nil
		}
	}
	x.err = io.EOF
	return Output{}, io.EOF
}

// resolve runs id and whatever upstream nodes it depends on. Nodes are
// visited at most once per execution.
func (x *Execution) resolve(id string) error {
	if x.state[id] != pending {
		return nil
	}
	if err := x.ctx.Err(); err != nil {
		return err
	}

	var in []any
	if id == x.graph.start {
		in = []any{x.input}
	} else {
		for _, i := range x.graph.incoming[id] {
			e := x.graph.edges[i]
			if err := x.resolve(e.From); err != nil {
				return err
			}
			if x.state[e.From] != fired {
				continue
			}
			v := x.values[e.From]
			if e.allows(v) {
				in = append(in, v)
			}
		}
		if len(in) == 0 {
			x.state[id] = skipped
			return nil
		}
	}

	out, err := x.run(id, in)
	if err != nil {
		return &StageError{NodeID: id, Err: err}
	}
	if c, ok := out.(io.Closer); ok {
		x.closers = append(x.closers, c)
	}
	x.values[id] = out
	x.state[id] = fired
	return nil
}

func (x *Execution) run(id string, in []any) (any, error) {
	ctx, span := otel.Tracer(tracerName).Start(x.ctx, "graph.node",
		trace.WithAttributes(attribute.String("graph.node", id)))
	defer span.End()

	out, err := x.graph.nodes[id].Processor.Process(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (x *Execution) fail(err error) {
	x.err = err
	x.span.RecordError(err)
	x.span.SetStatus(codes.Error, err.Error())
}

// Fired returns the ids of the nodes that ran so far, in topological order.
func (x *Execution) Fired() []string {
	var out []string
	for _, id := range x.graph.topo {
		if x.state[id] == fired {
			out = append(out, id)
		}
	}
	return out
}

// Close cancels the execution context and closes every closable value the
// run produced, newest first. It is safe to call more than once.
func (x *Execution) Close() error {
	x.closeOnce.Do(func() {
		x.cancel()
		var errs []error
		for _, c := range slices.Backward(x.closers) {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		x.closers = nil
		x.closeErr = errors.Join(errs...)
		if x.err == nil {
			x.err = io.EOF
		}
		x.span.End()
	})
	return x.closeErr
}
