package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// End is the implicit terminal node.
const End = "__end__"

// StepFunc runs a plain node.
type StepFunc func(ctx context.Context, s *State) (Update, error)

// FanOutFunc emits one Send per dynamic branch.
type FanOutFunc func(ctx context.Context, s *State) ([]Send, error)

// BranchFunc runs one dynamic branch. s is shared by all sibling branches
// and must only be read.
type BranchFunc func(ctx context.Context, s *State, arg any) (Update, error)

// Send dispatches arg to the fan-out's branch node.
type Send struct {
	Arg any
}

// Node is one named step of a graph. Exactly one of Step, FanOut or Branch
// is set.
type Node struct {
	Name string
	// Phase is entered when the node starts, if set.
	Phase Phase

	Step StepFunc

	FanOut FanOutFunc
	Target string // Branch node every Send of the fan-out runs on
	Joined Phase  // Entered once all branches are merged, if set

	Branch BranchFunc
}

// Hook observes node boundaries. A Before error aborts the run.
type Hook func(ctx context.Context, node string, s *State) error

// Graph is a set of nodes connected by explicit edges.
type Graph struct {
	nodes map[string]Node
	order []string
	edges map[string]string
	entry string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]Node), edges: make(map[string]string)}
}

// AddNode registers n. Duplicate names are reported by Compile.
func (g *Graph) AddNode(n Node) *Graph {
	if _, dup := g.nodes[n.Name]; dup {
		g.order = append(g.order, n.Name) // Flagged in Compile
		return g
	}
	g.nodes[n.Name] = n
	g.order = append(g.order, n.Name)
	return g
}

// AddEdge connects from to to. A fan-out's continuation is the edge out of
// its branch node.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges[from] = to
	return g
}

// SetEntry names the first node.
func (g *Graph) SetEntry(name string) *Graph {
	g.entry = name
	return g
}

// Options tune a compiled graph.
type Options struct {
	MaxConcurrency int
	Before         Hook
	After          Hook
}

// Compiled is a validated, runnable graph.
type Compiled struct {
	g    *Graph
	path []string
	opts Options
}

// Compile validates the graph: the entry exists, every node kind is
// consistent, every edge target exists, every node is reachable and the
// main path ends at End without cycles.
func (g *Graph) Compile(opts Options) (*Compiled, error) {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return nil, fmt.Errorf("graph: entry %q not defined", g.entry)
	}

	seen := make(map[string]bool)
	for _, name := range g.order {
		if seen[name] {
			return nil, fmt.Errorf("graph: duplicate node %q", name)
		}
		seen[name] = true
		n := g.nodes[name]
		kinds := 0
		for _, set := range []bool{n.Step != nil, n.FanOut != nil, n.Branch != nil} {
			if set {
				kinds++
			}
		}
		if kinds != 1 {
			return nil, fmt.Errorf("graph: node %q must have exactly one of Step, FanOut, Branch", name)
		}
		if n.FanOut != nil {
			t, ok := g.nodes[n.Target]
			if !ok || t.Branch == nil {
				return nil, fmt.Errorf("graph: fan-out %q targets %q, which is not a branch node", name, n.Target)
			}
			if _, ok := g.edges[name]; ok {
				return nil, fmt.Errorf("graph: fan-out %q continues through its branch node, not an edge", name)
			}
		}
	}
	for from, to := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("graph: edge from undefined node %q", from)
		}
		if _, ok := g.nodes[to]; !ok && to != End {
			return nil, fmt.Errorf("graph: edge %q -> undefined node %q", from, to)
		}
	}

	var path []string
	visited := make(map[string]bool)
	for cur := g.entry; cur != End; {
		if visited[cur] {
			return nil, fmt.Errorf("graph: cycle at %q", cur)
		}
		visited[cur] = true
		path = append(path, cur)

		n := g.nodes[cur]
		if n.Branch != nil {
			return nil, fmt.Errorf("graph: branch node %q reached by a plain edge", cur)
		}
		from := cur
		if n.FanOut != nil {
			visited[n.Target] = true
			from = n.Target
		}
		next, ok := g.edges[from]
		if !ok {
			return nil, fmt.Errorf("graph: node %q has no outgoing edge", from)
		}
		cur = next
	}
	for _, name := range g.order {
		if !visited[name] {
			return nil, fmt.Errorf("graph: node %q is unreachable", name)
		}
	}

	return &Compiled{g: g, path: path, opts: opts}, nil
}

// Path returns the main-path node names in execution order.
func (c *Compiled) Path() []string {
	return append([]string(nil), c.path...)
}

// Run executes the graph over s, one node at a time.
func (c *Compiled) Run(ctx context.Context, s *State) error {
	for _, name := range c.path {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		n := c.g.nodes[name]
		if n.Phase != "" {
			Apply(s, PhaseUpdate(n.Phase))
		}
		if c.opts.Before != nil {
			if err := c.opts.Before(ctx, name, s); err != nil {
				return err
			}
		}

		start := time.Now()
		if err := c.runNode(ctx, n, s); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		slog.Debug("Pipeline: node done", "node", name, "phase", s.Phase, "took", time.Since(start).Round(time.Millisecond))

		if c.opts.After != nil {
			if err := c.opts.After(ctx, name, s); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Compiled) runNode(ctx context.Context, n Node, s *State) error {
	if n.Step != nil {
		u, err := n.Step(ctx, s)
		if err != nil {
			return err
		}
		Apply(s, u)
		return nil
	}

	sends, err := n.FanOut(ctx, s)
	if err != nil {
		return err
	}
	updates, err := c.fanOut(ctx, c.g.nodes[n.Target], s, sends)
	if err != nil {
		return err
	}
	// Submission order, not completion order
	for _, u := range updates {
		Apply(s, u)
	}
	if n.Joined != "" {
		Apply(s, PhaseUpdate(n.Joined))
	}
	return nil
}

// fanOut runs every send concurrently and returns their updates indexed by
// submission order. The first branch error cancels its siblings.
func (c *Compiled) fanOut(ctx context.Context, target Node, s *State, sends []Send) ([]Update, error) {
	updates := make([]Update, len(sends))
	if len(sends) == 0 {
		return updates, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.MaxConcurrency)
	for i, send := range sends {
		g.Go(func() error {
			u, err := target.Branch(gctx, s, send.Arg)
			if err != nil {
				return err
			}
			updates[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// A sibling's context.Canceled may win the race; prefer the cause
		if cause := context.Cause(ctx); cause != nil && errors.Is(err, context.Canceled) {
			return nil, cause
		}
		return nil, err
	}
	slog.Debug("Pipeline: fan-in", "node", target.Name, "branches", len(sends))
	return updates, nil
}
