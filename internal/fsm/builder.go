package fsm

import (
	"errors"
	"fmt"
)

// Builder assembles nodes and transitions into a Graph bound to one Runtime.
//
// Wiring errors are collected rather than returned one by one; Build
// reports all of them at once.
type Builder struct {
	rt          *Runtime
	roots       []*Node
	rootNames   map[string]bool
	root        *Node
	transitions []*Transition
	errs        []error
}

// NewBuilder creates a builder for graphs running on rt.
func NewBuilder(rt *Runtime) *Builder {
	return &Builder{rt: rt, rootNames: make(map[string]bool)}
}

// Node creates a top-level node.
func (b *Builder) Node(name string, behavior Behavior, opts ...NodeOption) *Node {
	n := NewNode(name, behavior, opts...)
	if b.rootNames[name] {
		b.errs = append(b.errs, &EngineError{
			Code:    ErrCodeDuplicateName,
			Message: fmt.Sprintf("top-level node %q declared twice", name),
			Node:    name,
		})
	}
	b.rootNames[name] = true
	b.roots = append(b.roots, n)
	return n
}

// Child creates a node owned by parent.
func (b *Builder) Child(parent *Node, name string, behavior Behavior, opts ...NodeOption) *Node {
	n := NewNode(name, behavior, opts...)
	if err := parent.AddChild(n); err != nil {
		b.errs = append(b.errs, err)
	}
	return n
}

// Root designates the node Graph.Start starts. Defaults to the first
// top-level node.
func (b *Builder) Root(n *Node) {
	b.root = n
}

// Wire connects t from the given sources to the given destinations.
func (b *Builder) Wire(t *Transition, from, to []*Node) *Transition {
	for _, n := range from {
		if err := t.AddSource(n); err != nil {
			b.errs = append(b.errs, err)
		}
	}
	for _, n := range to {
		if err := t.AddDestination(n); err != nil {
			b.errs = append(b.errs, err)
		}
	}
	b.transitions = append(b.transitions, t)
	return t
}

// Fail records an error found while assembling, such as a rejected
// NewTimer, so that Build reports it with the rest.
func (b *Builder) Fail(err error) {
	if err != nil {
		b.errs = append(b.errs, err)
	}
}

// Build validates the wiring and binds every node and transition to the
// runtime. The returned error joins every configuration error found.
func (b *Builder) Build() (*Graph, error) {
	errs := append([]error(nil), b.errs...)
	for _, t := range b.transitions {
		if err := t.validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(b.roots) == 0 {
		errs = append(errs, &EngineError{Code: ErrCodeMissingEndpoint, Message: "graph has no nodes"})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	g := &Graph{
		rt:          b.rt,
		roots:       b.roots,
		root:        b.root,
		transitions: b.transitions,
		byPath:      make(map[string]*Node),
	}
	if g.root == nil {
		g.root = b.roots[0]
	}
	for _, r := range b.roots {
		r.bind(b.rt)
		g.index(r)
	}
	for _, t := range b.transitions {
		t.rt = b.rt
	}
	return g, nil
}

// Graph is a built, runnable set of nodes and transitions.
type Graph struct {
	rt          *Runtime
	roots       []*Node
	root        *Node
	nodes       []*Node
	byPath      map[string]*Node
	transitions []*Transition
}

func (g *Graph) index(n *Node) {
	g.nodes = append(g.nodes, n)
	g.byPath[n.Path()] = n
	for _, c := range n.children {
		g.index(c)
	}
}

// Runtime returns the runtime the graph is bound to.
func (g *Graph) Runtime() *Runtime { return g.rt }

// Root returns the node Start starts.
func (g *Graph) Root() *Node { return g.root }

// Roots returns the top-level nodes in declaration order.
func (g *Graph) Roots() []*Node { return g.roots }

// Lookup finds a node by its slash-separated path.
func (g *Graph) Lookup(path string) (*Node, bool) {
	n, ok := g.byPath[path]
	return n, ok
}

// Nodes returns every node, depth first in declaration order.
func (g *Graph) Nodes() []*Node { return g.nodes }

// Transitions returns every transition in wiring order.
func (g *Graph) Transitions() []*Transition { return g.transitions }

// Start starts the root node. Must run on the timeline goroutine.
func (g *Graph) Start(ev *Event) {
	g.root.Start(ev)
}

// Stop stops every top-level node. Must run on the timeline goroutine.
func (g *Graph) Stop() {
	for _, r := range g.roots {
		r.Stop()
	}
}
