// Package graph implements the workflow engine (C7): an explicit directed
// graph of stages, supporting sequential edges, conditional routing,
// map-send fan-out, deferred fan-in ("barrier") nodes, and cooperative
// cancellation. Modeled as an explicit data structure — nodes, edges,
// router functions, defer flags — rather than relying on an ambient
// framework, per the map-reduce-with-deferred-join design note.
package graph

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/dimensional-research/orchestrator/governor"
	"github.com/dimensional-research/orchestrator/state"
	"github.com/dimensional-research/orchestrator/telemetry"
)

// End is the sentinel target name a router returns to signal the graph has
// reached its terminal node.
const End = "__end__"

// Send is a single dispatch record: a target node name and an opaque
// argument handed to that node when invoked. A router returning a single
// Send with Arg == nil models a plain sequential transition; a router
// returning N Sends targeting the same mapper node models fan-out.
type Send struct {
	Target string
	Arg    any
}

// UnaryFunc executes a single-predecessor, single-successor (or barrier)
// stage, returning the partial state update it contributes.
type UnaryFunc func(ctx context.Context, s state.WorkflowState) (state.Update, error)

// RouterFunc determines what runs next after a unary node. It inspects the
// merged state (post the node's own update) and returns the set of sends to
// dispatch. Returning a single Send{Target: someName} models a plain edge;
// returning Send{Target: End} terminates the graph.
type RouterFunc func(ctx context.Context, s state.WorkflowState) ([]Send, error)

// MapperFunc executes one child task of a fan-out, given the argument from
// its originating Send.
type MapperFunc func(ctx context.Context, s state.WorkflowState, arg any) (state.Update, error)

type nodeKind int

const (
	kindUnary nodeKind = iota
	kindMapper
)

type node struct {
	kind   nodeKind
	unary  UnaryFunc
	mapper MapperFunc
	router RouterFunc
}

// Graph is the explicit node/edge structure the engine executes. Build one
// with New, AddNode, AddMapperNode, and AddBarrier, then pass it to Run.
type Graph struct {
	entry string
	nodes map[string]*node
	// barrierOf maps a mapper node name to the name of the barrier node that
	// gathers its fan-out. A barrier is just a unary node reached only once
	// every in-flight send to its mapper has completed.
	barrierOf map[string]string
}

// New creates an empty Graph with the given entry node name.
func New(entry string) *Graph {
	return &Graph{entry: entry, nodes: make(map[string]*node), barrierOf: make(map[string]string)}
}

// AddNode registers a unary stage. router must not be nil: Run calls it
// after every execution of the node. If next is always a fixed single
// node, use AddEdge instead (AddEdge is sugar over a fixed-target router).
func (g *Graph) AddNode(name string, handler UnaryFunc, router RouterFunc) {
	g.nodes[name] = &node{kind: kindUnary, unary: handler, router: router}
}

// AddEdge registers a unary stage with a single static successor.
func (g *Graph) AddEdge(name string, handler UnaryFunc, next string) {
	g.AddNode(name, handler, func(context.Context, state.WorkflowState) ([]Send, error) {
		return []Send{{Target: next}}, nil
	})
}

// AddMapperNode registers a fan-out target: a node invoked once per Send
// whose Target is name, each under its own governor permit (stage name ==
// node name).
func (g *Graph) AddMapperNode(name string, handler MapperFunc) {
	g.nodes[name] = &node{kind: kindMapper, mapper: handler}
}

// AddBarrier registers a deferred fan-in node: it only runs once every send
// dispatched to mapperName in the current round has completed (success or
// graceful per-child failure). router determines what runs after the
// barrier, same contract as AddNode.
func (g *Graph) AddBarrier(name string, mapperName string, handler UnaryFunc, router RouterFunc) {
	g.AddNode(name, handler, router)
	g.barrierOf[mapperName] = name
}

// maxSteps bounds total node executions per run (spec §5 "global
// recursion/step limit", floor of 50 for the outer graph).
const maxSteps = 200

// Engine executes Graphs. It holds the concurrency governor shared across
// every run it drives.
type Engine struct {
	Governor *governor.Governor
}

// NewEngine constructs an Engine with a fresh governor.
func NewEngine() *Engine {
	return &Engine{Governor: governor.New()}
}

type fanoutAccumulator struct {
	mu       sync.Mutex
	expected int
	done     int
	merged   state.WorkflowState
	errs     error
}

// Run executes g starting from its entry node with the given initial state,
// returning the final merged state once the graph reaches End. It honors
// ctx cancellation: an in-flight Acquire or handler call that observes
// ctx.Done() unwinds the run with ctx.Err().
func (e *Engine) Run(ctx context.Context, g *Graph, initial state.WorkflowState) (state.WorkflowState, error) {
	bundle := telemetry.FromContext(ctx)
	current := g.entry
	merged := initial
	steps := 0

	for current != End {
		steps++
		if steps > maxSteps {
			return merged, fmt.Errorf("graph: exceeded step limit (%d) at node %q", maxSteps, current)
		}
		select {
		case <-ctx.Done():
			return merged, ctx.Err()
		default:
		}

		n, ok := g.nodes[current]
		if !ok {
			return merged, fmt.Errorf("graph: unknown node %q", current)
		}
		if n.kind != kindUnary {
			return merged, fmt.Errorf("graph: node %q is a mapper target, not a reachable unary node", current)
		}

		bundle.Logger.Info(ctx, "graph: entering node", "node", current)
		update, err := n.unary(ctx, merged)
		if err != nil {
			return merged, fmt.Errorf("%s: %w", current, err)
		}
		merged, err = state.Merge(merged, update)
		if err != nil {
			return merged, fmt.Errorf("%s: %w", current, err)
		}

		sends, err := n.router(ctx, merged)
		if err != nil {
			return merged, fmt.Errorf("%s: router: %w", current, err)
		}
		if len(sends) == 0 {
			return merged, fmt.Errorf("%s: router returned no sends", current)
		}

		next, merged2, err := e.dispatch(ctx, g, sends, merged)
		if err != nil {
			return merged, err
		}
		merged = merged2
		current = next
	}

	bundle.Logger.Info(ctx, "graph: reached end")
	return merged, nil
}

// dispatch runs the sends produced by a router. A single Send targeting a
// unary node is a plain transition; multiple sends targeting the same
// mapper node are a fan-out, collected by the mapper's associated barrier.
func (e *Engine) dispatch(ctx context.Context, g *Graph, sends []Send, merged state.WorkflowState) (string, state.WorkflowState, error) {
	if len(sends) == 1 && sends[0].Target == End {
		return End, merged, nil
	}

	target := sends[0].Target
	n, ok := g.nodes[target]
	if !ok {
		return "", merged, fmt.Errorf("graph: router dispatched to unknown node %q", target)
	}

	if n.kind == kindUnary {
		if len(sends) != 1 {
			return "", merged, fmt.Errorf("graph: node %q is unary but received %d sends", target, len(sends))
		}
		return target, merged, nil
	}

	// Mapper fan-out: run every send concurrently, gated by the governor
	// under the mapper's own name as the stage, then hand results to the
	// associated barrier.
	barrierName, ok := g.barrierOf[target]
	if !ok {
		return "", merged, fmt.Errorf("graph: mapper node %q has no associated barrier", target)
	}

	acc := &fanoutAccumulator{expected: len(sends), merged: merged}
	var wg sync.WaitGroup
	for _, send := range sends {
		wg.Add(1)
		go func(arg any) {
			defer wg.Done()
			e.runMapperChild(ctx, target, n.mapper, merged, arg, acc)
		}(send.Arg)
	}
	wg.Wait()

	if acc.errs != nil {
		return "", acc.merged, fmt.Errorf("graph: fan-out into %q: %w", target, acc.errs)
	}
	return barrierName, acc.merged, nil
}

func (e *Engine) runMapperChild(ctx context.Context, stage string, fn MapperFunc, base state.WorkflowState, arg any, acc *fanoutAccumulator) {
	bundle := telemetry.FromContext(ctx)
	release, err := e.Governor.Acquire(ctx, stage)
	if err != nil {
		acc.record(state.Update{}, fmt.Errorf("%s: %w", stage, err))
		return
	}
	defer release()

	update, err := fn(ctx, base, arg)
	if err != nil {
		bundle.Logger.Warn(ctx, "graph: mapper child failed", "stage", stage, "error", err)
		acc.record(state.Update{}, fmt.Errorf("%s: %w", stage, err))
		return
	}
	acc.record(update, nil)
}

func (a *fanoutAccumulator) record(update state.Update, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.errs = multierr.Append(a.errs, err)
	} else {
		merged, mergeErr := state.Merge(a.merged, update)
		if mergeErr != nil {
			a.errs = multierr.Append(a.errs, mergeErr)
		} else {
			a.merged = merged
		}
	}
	a.done++
}
