// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package workflow implements a directed-graph executor for the ingestion,
// retrieval, and optimization state machines. A graph is a set of named
// nodes wired by unconditional and conditional edges between the Start and
// End sentinels; Compile validates connectivity and Invoke runs the graph
// single-threaded, recording a per-node trace.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Sentinel node names anchoring graph entry and exit.
const (
	Start = "__start__"
	End   = "__end__"
)

// State is the contract graph states must satisfy. Node failures are
// recorded on the state and execution continues; downstream nodes check
// for required inputs and degrade.
type State interface {
	// RecordError appends a non-fatal error to the state's error list.
	RecordError(msg string)
}

// NodeFunc executes one node. It receives the running state and returns
// the updated state; a returned error marks the node failed and is
// recorded on the state without aborting the graph.
type NodeFunc[S State] func(ctx context.Context, state S) (S, error)

// RouterFunc inspects the state after a node completes and returns a
// label resolved against the conditional edge mapping.
type RouterFunc[S State] func(state S) string

type conditionalEdge[S State] struct {
	router  RouterFunc[S]
	mapping map[string]string
}

// Graph is a mutable graph definition. Build it with AddNode/AddEdge/
// AddConditionalEdges, then Compile into a Runnable.
type Graph[S State] struct {
	name        string
	nodes       map[string]NodeFunc[S]
	edges       map[string]string
	conditional map[string]conditionalEdge[S]

	// diagram is rendered lazily and reset on recompile
	diagram *Diagram
}

// New creates an empty graph definition.
func New[S State](name string) *Graph[S] {
	return &Graph[S]{
		name:        name,
		nodes:       make(map[string]NodeFunc[S]),
		edges:       make(map[string]string),
		conditional: make(map[string]conditionalEdge[S]),
	}
}

// Name returns the graph name.
func (g *Graph[S]) Name() string { return g.name }

// AddNode registers a named node.
func (g *Graph[S]) AddNode(name string, fn NodeFunc[S]) error {
	if name == Start || name == End {
		return fmt.Errorf("node name %q is reserved", name)
	}
	if fn == nil {
		return fmt.Errorf("node %q: function is required", name)
	}
	if _, exists := g.nodes[name]; exists {
		return fmt.Errorf("node %q already registered", name)
	}
	g.nodes[name] = fn
	return nil
}

// AddEdge registers an unconditional transition.
func (g *Graph[S]) AddEdge(from, to string) error {
	if err := g.checkEndpoint(from, false); err != nil {
		return err
	}
	if err := g.checkEndpoint(to, true); err != nil {
		return err
	}
	if _, exists := g.edges[from]; exists {
		return fmt.Errorf("node %q already has an outgoing edge", from)
	}
	if _, exists := g.conditional[from]; exists {
		return fmt.Errorf("node %q already has conditional edges", from)
	}
	g.edges[from] = to
	return nil
}

// AddConditionalEdges registers a routing predicate for a node. The
// router's label must be a key of mapping; values are destination nodes.
func (g *Graph[S]) AddConditionalEdges(from string, router RouterFunc[S], mapping map[string]string) error {
	if err := g.checkEndpoint(from, false); err != nil {
		return err
	}
	if router == nil {
		return fmt.Errorf("node %q: router is required", from)
	}
	if len(mapping) == 0 {
		return fmt.Errorf("node %q: mapping is required", from)
	}
	if _, exists := g.edges[from]; exists {
		return fmt.Errorf("node %q already has an outgoing edge", from)
	}
	if _, exists := g.conditional[from]; exists {
		return fmt.Errorf("node %q already has conditional edges", from)
	}
	for label, to := range mapping {
		if err := g.checkEndpoint(to, true); err != nil {
			return fmt.Errorf("mapping %q: %w", label, err)
		}
	}
	g.conditional[from] = conditionalEdge[S]{router: router, mapping: mapping}
	return nil
}

func (g *Graph[S]) checkEndpoint(name string, isDestination bool) error {
	switch name {
	case Start:
		if isDestination {
			return fmt.Errorf("edge into %s is not allowed", Start)
		}
		return nil
	case End:
		if !isDestination {
			return fmt.Errorf("edge out of %s is not allowed", End)
		}
		return nil
	}
	if _, ok := g.nodes[name]; !ok {
		return fmt.Errorf("unknown node %q", name)
	}
	return nil
}

// Runnable is a compiled, executable graph.
type Runnable[S State] struct {
	graph *Graph[S]
}

// Compile validates graph connectivity and returns an executable.
// Every node must be reachable from Start and must reach End.
func (g *Graph[S]) Compile() (*Runnable[S], error) {
	if len(g.nodes) == 0 {
		return nil, fmt.Errorf("graph %q has no nodes", g.name)
	}
	if _, ok := g.successors(Start); !ok {
		return nil, fmt.Errorf("graph %q has no entry edge from %s", g.name, Start)
	}

	// Forward reachability from Start.
	reachable := g.reach(Start, func(n string) []string {
		succ, _ := g.successors(n)
		return succ
	})
	for name := range g.nodes {
		if !reachable[name] {
			return nil, fmt.Errorf("graph %q: node %q is unreachable from %s", g.name, name, Start)
		}
	}
	if !reachable[End] {
		return nil, fmt.Errorf("graph %q: %s is unreachable", g.name, End)
	}

	// Backward reachability from End.
	reaching := g.reach(End, g.predecessors)
	for name := range g.nodes {
		if !reaching[name] {
			return nil, fmt.Errorf("graph %q: node %q cannot reach %s", g.name, name, End)
		}
	}

	// Recompiling invalidates any cached diagram.
	g.diagram = nil

	return &Runnable[S]{graph: g}, nil
}

func (g *Graph[S]) successors(node string) ([]string, bool) {
	if to, ok := g.edges[node]; ok {
		return []string{to}, true
	}
	if cond, ok := g.conditional[node]; ok {
		dests := make([]string, 0, len(cond.mapping))
		for _, to := range cond.mapping {
			dests = append(dests, to)
		}
		sort.Strings(dests)
		return dests, true
	}
	return nil, false
}

func (g *Graph[S]) predecessors(node string) []string {
	var preds []string
	for from, to := range g.edges {
		if to == node {
			preds = append(preds, from)
		}
	}
	for from, cond := range g.conditional {
		for _, to := range cond.mapping {
			if to == node {
				preds = append(preds, from)
				break
			}
		}
	}
	sort.Strings(preds)
	return preds
}

func (g *Graph[S]) reach(from string, next func(string) []string) map[string]bool {
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, m := range next(n) {
			if !seen[m] {
				seen[m] = true
				stack = append(stack, m)
			}
		}
	}
	return seen
}

// Invoke runs the graph to completion and returns the final state.
func (r *Runnable[S]) Invoke(ctx context.Context, state S) (S, error) {
	final, _, err := r.InvokeTraced(ctx, state, "")
	return final, err
}

// InvokeTraced runs the graph and additionally returns the execution
// trace. Node errors are recorded on the state and in the trace; the
// returned error is reserved for fatal conditions (cancelled context,
// broken routing).
func (r *Runnable[S]) InvokeTraced(ctx context.Context, state S, sessionID string) (S, *Trace, error) {
	g := r.graph
	trace := newTrace(g.name, sessionID)
	defer trace.finish()

	current, _ := g.edges[Start]
	if current == "" {
		if cond, ok := g.conditional[Start]; ok {
			var err error
			current, err = route(cond, state)
			if err != nil {
				return state, trace, err
			}
		}
	}

	// Bounded by node count times a generous revisit allowance; compiled
	// graphs are acyclic in practice but routing bugs must not spin.
	maxSteps := (len(g.nodes) + 1) * 10

	for steps := 0; current != End; steps++ {
		if steps >= maxSteps {
			return state, trace, fmt.Errorf("graph %q exceeded %d steps at node %q", g.name, maxSteps, current)
		}
		if err := ctx.Err(); err != nil {
			return state, trace, fmt.Errorf("graph %q cancelled at node %q: %w", g.name, current, err)
		}

		fn, ok := g.nodes[current]
		if !ok {
			return state, trace, fmt.Errorf("graph %q routed to unknown node %q", g.name, current)
		}

		nodeTrace := trace.startNode(current, state)
		next, err := fn(ctx, state)
		if err != nil {
			state.RecordError(fmt.Sprintf("%s: %v", current, err))
			trace.failNode(nodeTrace, state, err)
			slog.Warn("Workflow node failed",
				"graph", g.name,
				"node", current,
				"error", err)
		} else {
			state = next
			trace.completeNode(nodeTrace, state)
		}

		if to, ok := g.edges[current]; ok {
			current = to
			continue
		}
		cond, ok := g.conditional[current]
		if !ok {
			return state, trace, fmt.Errorf("graph %q: node %q has no outgoing edge", g.name, current)
		}
		current, err = route(cond, state)
		if err != nil {
			return state, trace, fmt.Errorf("graph %q: %w", g.name, err)
		}
	}

	return state, trace, nil
}

func route[S State](cond conditionalEdge[S], state S) (string, error) {
	label := cond.router(state)
	to, ok := cond.mapping[label]
	if !ok {
		return "", fmt.Errorf("router returned unmapped label %q", label)
	}
	return to, nil
}

// elapsedMS converts a duration to whole milliseconds for trace output.
func elapsedMS(start, end time.Time) int64 {
	return end.Sub(start).Milliseconds()
}
