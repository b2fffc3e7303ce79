// Package workflow runs the chart pipeline as a small state graph: nodes
// return updates that are merged into the shared conversation state, and
// conditional edges pick the next node from the merged state. Execution is
// delegated to an eino compose graph; this package keeps the routing table,
// the recursion limit and per-step reporting.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/cloudwego/eino/compose"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"sqlchart-agent/internal/domain"
)

var tracer = otel.Tracer("sqlchart-agent/internal/workflow")

// End is the terminal pseudo-node.
const End = "__end__"

const DefaultRecursionLimit = 150

var (
	ErrRecursionLimit = errors.New("workflow: recursion limit reached")
	ErrNoEdge         = errors.New("workflow: no edge for route")
	ErrNoEntry        = errors.New("workflow: entry point not set")
	ErrUnknownNode    = errors.New("workflow: unknown node")
)

// NodeFunc executes one node against the current state.
type NodeFunc func(ctx context.Context, state domain.State) (domain.Update, error)

// RouterFunc picks a route key from the state after a node ran.
type RouterFunc func(state domain.State) string

type conditionalEdge struct {
	router  RouterFunc
	targets map[string]string
}

// Step is reported after every node execution.
type Step struct {
	Node   string
	Update domain.Update
}

type Graph struct {
	// RecursionLimit caps the number of node executions in one run.
	RecursionLimit int

	nodes map[string]NodeFunc
	order []string
	edges map[string]conditionalEdge
	entry string
}

func NewGraph() *Graph {
	return &Graph{
		RecursionLimit: DefaultRecursionLimit,
		nodes:          make(map[string]NodeFunc),
		edges:          make(map[string]conditionalEdge),
	}
}

func (g *Graph) AddNode(name string, fn NodeFunc) error {
	switch name {
	case "", End, compose.START, compose.END:
		return fmt.Errorf("workflow: invalid node name %q", name)
	}
	if fn == nil {
		return fmt.Errorf("workflow: node %q has no function", name)
	}
	if _, dup := g.nodes[name]; dup {
		return fmt.Errorf("workflow: duplicate node %q", name)
	}
	g.nodes[name] = fn
	g.order = append(g.order, name)
	return nil
}

// AddConditionalEdges routes out of from: the router's key is looked up in
// targets to find the next node (or End).
func (g *Graph) AddConditionalEdges(from string, router RouterFunc, targets map[string]string) error {
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, from)
	}
	if router == nil {
		return fmt.Errorf("workflow: node %q has no router", from)
	}
	for key, to := range targets {
		if _, ok := g.nodes[to]; !ok && to != End {
			return fmt.Errorf("%w: %q (route %q from %q)", ErrUnknownNode, to, key, from)
		}
	}
	cp := make(map[string]string, len(targets))
	for k, v := range targets {
		cp[k] = v
	}
	g.edges[from] = conditionalEdge{router: router, targets: cp}
	return nil
}

func (g *Graph) SetEntryPoint(name string) error {
	if _, ok := g.nodes[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, name)
	}
	g.entry = name
	return nil
}

// runState is the per-invocation local state of the compiled graph.
type runState struct {
	state domain.State
	steps int
	limit int
	emit  func(Step) error
	err   error
}

type runStateKey struct{}

func runStateFrom(ctx context.Context) *runState {
	if rs, ok := ctx.Value(runStateKey{}).(*runState); ok {
		return rs
	}
	return &runState{limit: DefaultRecursionLimit}
}

// fail records the first error of a run so it survives the engine's own
// wrapping, and returns it.
func fail(ctx context.Context, err error) error {
	record := func(_ context.Context, rs *runState) error {
		if rs.err == nil {
			rs.err = err
		}
		return nil
	}
	if compose.ProcessState[*runState](ctx, record) != nil {
		_ = record(ctx, runStateFrom(ctx))
	}
	return err
}

// Run executes the graph to completion and returns the final state.
func (g *Graph) Run(ctx context.Context, initial domain.State) (domain.State, error) {
	return g.Stream(ctx, initial, nil)
}

// Stream executes the graph, calling fn after every node with the update it
// produced. A non-nil error from fn stops the run. The returned state holds
// everything merged up to the point the run stopped.
func (g *Graph) Stream(ctx context.Context, initial domain.State, fn func(Step) error) (domain.State, error) {
	state := domain.State{
		Messages: append([]domain.Message(nil), initial.Messages...),
		Sender:   initial.Sender,
	}
	if g.entry == "" {
		return state, ErrNoEntry
	}
	limit := g.RecursionLimit
	if limit <= 0 {
		limit = DefaultRecursionLimit
	}

	runnable, err := g.compile(ctx, limit)
	if err != nil {
		return state, err
	}

	rs := &runState{state: state, limit: limit, emit: fn}
	out, err := runnable.Invoke(context.WithValue(ctx, runStateKey{}, rs), state)
	switch {
	case rs.err != nil:
		return rs.state, rs.err
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rs.state, ctxErr
		}
		return rs.state, fmt.Errorf("workflow: run: %w", err)
	}
	return out, nil
}

// compile lowers the routing table onto an eino graph. Every node carries a
// branch; a node without conditional edges gets one that always fails with
// ErrNoEdge.
func (g *Graph) compile(ctx context.Context, limit int) (compose.Runnable[domain.State, domain.State], error) {
	cg := compose.NewGraph[domain.State, domain.State](
		compose.WithGenLocalState(func(ctx context.Context) *runState {
			return runStateFrom(ctx)
		}),
	)
	for _, name := range g.order {
		if err := cg.AddLambdaNode(name, compose.InvokableLambda(g.lambda(name)), compose.WithNodeName(name)); err != nil {
			return nil, fmt.Errorf("workflow: add node %q: %w", name, err)
		}
	}
	if err := cg.AddEdge(compose.START, g.entry); err != nil {
		return nil, fmt.Errorf("workflow: entry %q: %w", g.entry, err)
	}
	for _, name := range g.order {
		ends := map[string]bool{compose.END: true}
		for _, to := range g.edges[name].targets {
			ends[engineKey(to)] = true
		}
		if err := cg.AddBranch(name, compose.NewGraphBranch(g.branch(name), ends)); err != nil {
			return nil, fmt.Errorf("workflow: edges from %q: %w", name, err)
		}
	}
	// The engine's own step budget only backs up the recursion limit.
	return cg.Compile(ctx,
		compose.WithGraphName("chart-pipeline"),
		compose.WithNodeTriggerMode(compose.AnyPredecessor),
		compose.WithMaxRunSteps(2*limit+2),
	)
}

func engineKey(name string) string {
	if name == End {
		return compose.END
	}
	return name
}

// lambda wraps a node: it enforces the recursion limit, merges the update
// into a copy of the incoming state and reports the step.
func (g *Graph) lambda(name string) func(ctx context.Context, in domain.State) (domain.State, error) {
	fn := g.nodes[name]
	return func(ctx context.Context, in domain.State) (domain.State, error) {
		if err := ctx.Err(); err != nil {
			return in, fail(ctx, err)
		}
		err := compose.ProcessState[*runState](ctx, func(_ context.Context, rs *runState) error {
			if rs.steps >= rs.limit {
				return fmt.Errorf("%w: %d steps without reaching the end", ErrRecursionLimit, rs.limit)
			}
			rs.steps++
			return nil
		})
		if err != nil {
			return in, fail(ctx, err)
		}

		update, err := runNode(ctx, name, fn, in)
		if err != nil {
			return in, fail(ctx, err)
		}

		out := domain.State{
			Messages: append([]domain.Message(nil), in.Messages...),
			Sender:   in.Sender,
		}
		out.Apply(update)

		err = compose.ProcessState[*runState](ctx, func(_ context.Context, rs *runState) error {
			rs.state = out
			if rs.emit != nil {
				return rs.emit(Step{Node: name, Update: update})
			}
			return nil
		})
		if err != nil {
			return out, fail(ctx, err)
		}
		return out, nil
	}
}

func (g *Graph) branch(from string) func(ctx context.Context, state domain.State) (string, error) {
	return func(ctx context.Context, state domain.State) (string, error) {
		edge, ok := g.edges[from]
		if !ok {
			return "", fail(ctx, fmt.Errorf("%w: node %q has no outgoing edges", ErrNoEdge, from))
		}
		route := edge.router(state)
		to, ok := edge.targets[route]
		if !ok {
			return "", fail(ctx, fmt.Errorf("%w: %q from %q", ErrNoEdge, route, from))
		}
		slog.DebugContext(ctx, "workflow transition", "from", from, "to", to, "messages", len(state.Messages))
		return engineKey(to), nil
	}
}

func runNode(ctx context.Context, name string, fn NodeFunc, state domain.State) (domain.Update, error) {
	ctx, span := tracer.Start(ctx, "run node", trace.WithAttributes(attribute.String("workflow.node", name)))
	defer span.End()

	update, err := fn(ctx, state)
	if err != nil {
		err = fmt.Errorf("workflow: node %q: %w", name, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Update{}, err
	}
	span.SetAttributes(attribute.Int("workflow.messages_added", len(update.Messages)))
	return update, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
