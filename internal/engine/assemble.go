package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/statenet/internal/behaviors"
	"github.com/roach88/statenet/internal/compiler"
	"github.com/roach88/statenet/internal/fsm"
	"github.com/roach88/statenet/internal/ir"
)

// Assemble builds the runnable graph a description declares, on rt.
//
// The description is validated first and every behavior name is resolved
// against reg; all problems are returned together, joined. Children are
// added in declaration order, which is the order StartFirst and StartAll
// use.
func Assemble(spec *ir.GraphSpec, reg *behaviors.Registry, rt *fsm.Runtime) (*fsm.Graph, error) {
	if errs := Check(spec, reg); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = e
		}
		return nil, errors.Join(joined...)
	}

	b := fsm.NewBuilder(rt)
	nodes := make(map[string]*fsm.Node, len(spec.Nodes))

	var create func(ns ir.NodeSpec) *fsm.Node
	create = func(ns ir.NodeSpec) *fsm.Node {
		if n, ok := nodes[ns.Name]; ok {
			return n
		}
		// Check already proved both of these.
		policy, _ := fsm.ParseChildPolicy(ns.Children)
		behavior, err := reg.New(ns.Behavior, ns.Params)
		if err != nil {
			b.Fail(fmt.Errorf("node %q: %w", ns.Name, err))
		}

		var n *fsm.Node
		if ns.Parent == "" {
			n = b.Node(ns.Name, behavior, fsm.WithChildPolicy(policy))
		} else {
			parentSpec, _ := spec.Node(ns.Parent)
			n = b.Child(create(parentSpec), ns.Name, behavior, fsm.WithChildPolicy(policy))
		}
		nodes[ns.Name] = n
		return n
	}
	for _, ns := range spec.Nodes {
		create(ns)
	}

	if root := spec.RootName(); root != "" {
		b.Root(nodes[root])
	}

	for _, ts := range spec.Transitions {
		t, err := newTransition(ts)
		if err != nil {
			b.Fail(fmt.Errorf("transition %q: %w", ts.Name, err))
			continue
		}
		b.Wire(t.Named(ts.Name), pick(nodes, ts.From), pick(nodes, ts.To))
	}

	return b.Build()
}

// Check runs the compiler's validation plus the behavior lookups only a
// registry can answer.
func Check(spec *ir.GraphSpec, reg *behaviors.Registry) []compiler.ValidationError {
	errs := compiler.Validate(spec)
	for i, ns := range spec.Nodes {
		if !reg.Has(ns.Behavior) {
			errs = append(errs, compiler.ValidationError{
				Field:   fmt.Sprintf("nodes[%d].behavior", i),
				Message: fmt.Sprintf("node %q uses unknown behavior %q", ns.Name, ns.Behavior),
				Code:    compiler.ErrUnknownBehavior,
			})
		}
	}
	return errs
}

func newTransition(ts ir.TransitionSpec) (*fsm.Transition, error) {
	switch ts.Kind {
	case "immediate":
		return fsm.NewImmediate(), nil
	case "completion":
		return fsm.NewCompletion(ts.Count), nil
	case "success":
		return fsm.NewSuccess(ts.Count), nil
	case "failure":
		return fsm.NewFailure(ts.Count), nil
	case "timer":
		d, err := time.ParseDuration(ts.Duration)
		if err != nil {
			return nil, err
		}
		return fsm.NewTimer(d)
	case "tap":
		filter, _ := ts.Match.(string)
		return fsm.NewTap(filter), nil
	case "data":
		return fsm.NewData(ts.Match), nil
	case "text":
		filter, _ := ts.Match.(string)
		return fsm.NewTextMsg(filter), nil
	case "random":
		return fsm.NewRandom(), nil
	default:
		return nil, fmt.Errorf("unknown transition kind %q", ts.Kind)
	}
}

func pick(nodes map[string]*fsm.Node, names []string) []*fsm.Node {
	out := make([]*fsm.Node, 0, len(names))
	for _, name := range names {
		out = append(out, nodes[name])
	}
	return out
}
