// Package compiler turns CUE graph descriptions into ir.GraphSpec values
// and checks them before anything is built from them.
package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/statenet/internal/ir"
)

// CompileGraph parses a CUE value into a GraphSpec.
// Uses the CUE SDK's Go API directly (not a CLI subprocess).
//
// The CUE value should be the graph struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`graph: patrol: { node: { ... } }`)
//	spec, err := CompileGraph(v.LookupPath(cue.ParsePath("graph.patrol")))
//
// Nodes and transitions keep their declaration order. CompileGraph checks
// shapes only; use Validate for the cross-references.
func CompileGraph(v cue.Value) (*ir.GraphSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.GraphSpec{}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = labels[len(labels)-1].Unquoted()
	}

	rootVal := v.LookupPath(cue.ParsePath("root"))
	if rootVal.Exists() {
		root, err := rootVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		spec.Root = root
	}

	var err error
	spec.Nodes, err = parseNodes(v)
	if err != nil {
		return nil, err
	}
	if len(spec.Nodes) == 0 {
		return nil, &CompileError{
			Field:   "node",
			Message: "at least one node is required",
			Pos:     v.Pos(),
		}
	}

	spec.Transitions, err = parseTransitions(v)
	if err != nil {
		return nil, err
	}

	return spec, nil
}

// parseNodes extracts node declarations.
func parseNodes(v cue.Value) ([]ir.NodeSpec, error) {
	var nodes []ir.NodeSpec

	nodeVal := v.LookupPath(cue.ParsePath("node"))
	if !nodeVal.Exists() {
		return nodes, nil
	}

	iter, err := nodeVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		name := iter.Selector().Unquoted()
		nv := iter.Value()
		field := "node." + name

		node := ir.NodeSpec{Name: name}
		if node.Parent, err = optionalString(nv, "parent", field); err != nil {
			return nil, err
		}
		if node.Behavior, err = optionalString(nv, "behavior", field); err != nil {
			return nil, err
		}
		if node.Children, err = optionalString(nv, "children", field); err != nil {
			return nil, err
		}

		paramsVal := nv.LookupPath(cue.ParsePath("params"))
		if paramsVal.Exists() {
			if paramsVal.IncompleteKind() != cue.StructKind {
				return nil, &CompileError{
					Field:   field + ".params",
					Message: "params must be a struct",
					Pos:     paramsVal.Pos(),
				}
			}
			params := map[string]any{}
			if err := paramsVal.Decode(&params); err != nil {
				return nil, formatCUEError(err)
			}
			node.Params = params
		}

		nodes = append(nodes, node)
	}

	return nodes, nil
}

// parseTransitions extracts transition declarations.
func parseTransitions(v cue.Value) ([]ir.TransitionSpec, error) {
	var transitions []ir.TransitionSpec

	transVal := v.LookupPath(cue.ParsePath("transition"))
	if !transVal.Exists() {
		return transitions, nil
	}

	iter, err := transVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		name := iter.Selector().Unquoted()
		tv := iter.Value()
		field := "transition." + name

		t := ir.TransitionSpec{Name: name}

		kindVal := tv.LookupPath(cue.ParsePath("kind"))
		if !kindVal.Exists() {
			return nil, &CompileError{
				Field:   field + ".kind",
				Message: "transition kind is required",
				Pos:     tv.Pos(),
			}
		}
		if t.Kind, err = kindVal.String(); err != nil {
			return nil, formatCUEError(err)
		}

		if t.From, err = endpoints(tv, "from", field); err != nil {
			return nil, err
		}
		if t.To, err = endpoints(tv, "to", field); err != nil {
			return nil, err
		}

		countVal := tv.LookupPath(cue.ParsePath("count"))
		if countVal.Exists() {
			n, err := countVal.Int64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			t.Count = int(n)
		}

		if t.Duration, err = optionalString(tv, "duration", field); err != nil {
			return nil, err
		}

		matchVal := tv.LookupPath(cue.ParsePath("match"))
		if matchVal.Exists() {
			var match any
			if err := matchVal.Decode(&match); err != nil {
				return nil, formatCUEError(err)
			}
			t.Match = match
		}

		transitions = append(transitions, t)
	}

	return transitions, nil
}

// endpoints accepts either a single node name or a list of names.
func endpoints(v cue.Value, name, field string) ([]string, error) {
	ev := v.LookupPath(cue.ParsePath(name))
	if !ev.Exists() {
		return nil, &CompileError{
			Field:   field + "." + name,
			Message: name + " is required",
			Pos:     v.Pos(),
		}
	}

	if s, err := ev.String(); err == nil {
		return []string{s}, nil
	}

	iter, err := ev.List()
	if err != nil {
		return nil, &CompileError{
			Field:   field + "." + name,
			Message: "must be a node name or a list of node names",
			Pos:     ev.Pos(),
		}
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

func optionalString(v cue.Value, name, field string) (string, error) {
	sv := v.LookupPath(cue.ParsePath(name))
	if !sv.Exists() {
		return "", nil
	}
	s, err := sv.String()
	if err != nil {
		return "", &CompileError{
			Field:   field + "." + name,
			Message: fmt.Sprintf("%s must be a string", name),
			Pos:     sv.Pos(),
		}
	}
	return s, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// First error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
