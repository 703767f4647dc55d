package compiler

import (
	"fmt"
	"time"

	"github.com/roach88/statenet/internal/ir"
)

// Validation error codes (E200-E299)
const (
	// Node errors (E201-E209)
	ErrRootInvalid     = "E201" // root missing, ambiguous, or not top level
	ErrDuplicateNode   = "E202" // duplicate node name
	ErrUnknownParent   = "E203" // parent names no declared node
	ErrParentCycle     = "E204" // node is its own ancestor
	ErrChildPolicy     = "E205" // unknown children policy
	ErrUnknownBehavior = "E206" // behavior not registered

	// Transition errors (E210-E219)
	ErrUnknownKind         = "E210" // unknown transition kind
	ErrUnknownEndpoint     = "E211" // from/to names no declared node
	ErrEmptyEndpoints      = "E212" // from or to is empty
	ErrInvalidDuration     = "E213" // bad or misplaced duration
	ErrInvalidCount        = "E214" // bad or misplaced count
	ErrNotSiblings         = "E215" // endpoints do not share a parent
	ErrMatchNotAllowed     = "E216" // match on a kind that takes none, or wrong type
	ErrDuplicateTransition = "E217" // duplicate transition name
)

// ValidationError represents a graph validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled graph for structural errors.
// Returns all errors found (does not fail-fast).
func Validate(spec *ir.GraphSpec) []ValidationError {
	var errs []ValidationError
	errs = append(errs, validateNodes(spec)...)
	errs = append(errs, validateRoot(spec)...)
	errs = append(errs, validateTransitions(spec)...)
	return errs
}

func validateNodes(spec *ir.GraphSpec) []ValidationError {
	var errs []ValidationError

	names := make(map[string]bool)
	for i, n := range spec.Nodes {
		field := fmt.Sprintf("nodes[%d]", i)

		// E202: duplicate node
		if names[n.Name] {
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("duplicate node name: %q", n.Name),
				Code:    ErrDuplicateNode,
			})
		}
		names[n.Name] = true

		// E205: children policy
		if !ir.ValidChildPolicies[n.Children] {
			errs = append(errs, ValidationError{
				Field:   field + ".children",
				Message: fmt.Sprintf("invalid children policy %q, must be \"first\", \"all\", or \"none\"", n.Children),
				Code:    ErrChildPolicy,
			})
		}
	}

	for i, n := range spec.Nodes {
		if n.Parent == "" {
			continue
		}
		field := fmt.Sprintf("nodes[%d].parent", i)

		// E203: unknown parent
		if !names[n.Parent] {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("node %q has unknown parent %q", n.Name, n.Parent),
				Code:    ErrUnknownParent,
			})
			continue
		}

		// E204: parent cycle
		if inParentCycle(spec, n.Name) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("node %q is its own ancestor", n.Name),
				Code:    ErrParentCycle,
			})
		}
	}

	return errs
}

// inParentCycle walks up from name and reports whether it comes back.
func inParentCycle(spec *ir.GraphSpec, name string) bool {
	seen := map[string]bool{}
	cur := name
	for {
		n, ok := spec.Node(cur)
		if !ok || n.Parent == "" {
			return false
		}
		if n.Parent == name {
			return true
		}
		if seen[n.Parent] {
			// A cycle above us that does not include name.
			return false
		}
		seen[n.Parent] = true
		cur = n.Parent
	}
}

func validateRoot(spec *ir.GraphSpec) []ValidationError {
	top := spec.Children("")

	if spec.Root == "" {
		switch {
		case len(top) == 0:
			return []ValidationError{{
				Field:   "root",
				Message: "graph has no top-level node",
				Code:    ErrRootInvalid,
			}}
		case len(top) > 1:
			return []ValidationError{{
				Field:   "root",
				Message: fmt.Sprintf("graph has %d top-level nodes, declare root to pick one", len(top)),
				Code:    ErrRootInvalid,
			}}
		}
		return nil
	}

	n, ok := spec.Node(spec.Root)
	if !ok {
		return []ValidationError{{
			Field:   "root",
			Message: fmt.Sprintf("root %q is not a declared node", spec.Root),
			Code:    ErrRootInvalid,
		}}
	}
	if n.Parent != "" {
		return []ValidationError{{
			Field:   "root",
			Message: fmt.Sprintf("root %q has parent %q", spec.Root, n.Parent),
			Code:    ErrRootInvalid,
		}}
	}
	return nil
}

func validateTransitions(spec *ir.GraphSpec) []ValidationError {
	var errs []ValidationError

	names := make(map[string]bool)
	for i, t := range spec.Transitions {
		field := fmt.Sprintf("transitions[%d]", i)

		// E217: duplicate transition
		if names[t.Name] {
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("duplicate transition name: %q", t.Name),
				Code:    ErrDuplicateTransition,
			})
		}
		names[t.Name] = true

		// E210: kind
		if !ir.ValidTransitionKinds[t.Kind] {
			errs = append(errs, ValidationError{
				Field:   field + ".kind",
				Message: fmt.Sprintf("unknown transition kind %q", t.Kind),
				Code:    ErrUnknownKind,
			})
		}

		errs = append(errs, validateEndpoints(spec, t, field)...)
		errs = append(errs, validateArguments(t, field)...)
	}

	return errs
}

func validateEndpoints(spec *ir.GraphSpec, t ir.TransitionSpec, field string) []ValidationError {
	var errs []ValidationError

	// E212: both ends required
	if len(t.From) == 0 {
		errs = append(errs, ValidationError{
			Field:   field + ".from",
			Message: fmt.Sprintf("transition %q has no source", t.Name),
			Code:    ErrEmptyEndpoints,
		})
	}
	if len(t.To) == 0 {
		errs = append(errs, ValidationError{
			Field:   field + ".to",
			Message: fmt.Sprintf("transition %q has no destination", t.Name),
			Code:    ErrEmptyEndpoints,
		})
	}

	// E211 and E215: endpoints exist and share a parent
	var parent string
	first := true
	check := func(side string, names []string) {
		for j, name := range names {
			n, ok := spec.Node(name)
			if !ok {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.%s[%d]", field, side, j),
					Message: fmt.Sprintf("transition %q names unknown node %q", t.Name, name),
					Code:    ErrUnknownEndpoint,
				})
				continue
			}
			if first {
				parent, first = n.Parent, false
				continue
			}
			if n.Parent != parent {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.%s[%d]", field, side, j),
					Message: fmt.Sprintf("transition %q joins %q, which is not a sibling of its other endpoints", t.Name, name),
					Code:    ErrNotSiblings,
				})
			}
		}
	}
	check("from", t.From)
	check("to", t.To)

	return errs
}

func validateArguments(t ir.TransitionSpec, field string) []ValidationError {
	var errs []ValidationError

	// E213: duration belongs to timers, and timers need one
	switch {
	case t.Kind == "timer":
		d, err := time.ParseDuration(t.Duration)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   field + ".duration",
				Message: fmt.Sprintf("timer %q needs a valid duration, got %q", t.Name, t.Duration),
				Code:    ErrInvalidDuration,
			})
		} else if d < 0 {
			errs = append(errs, ValidationError{
				Field:   field + ".duration",
				Message: fmt.Sprintf("timer %q has negative duration %s", t.Name, d),
				Code:    ErrInvalidDuration,
			})
		}
	case t.Duration != "":
		errs = append(errs, ValidationError{
			Field:   field + ".duration",
			Message: fmt.Sprintf("duration is only allowed on timer transitions, not %q", t.Kind),
			Code:    ErrInvalidDuration,
		})
	}

	// E214: count belongs to joins and cannot exceed the source count
	if isJoin(t.Kind) {
		if t.Count < 0 || t.Count > len(t.From) {
			errs = append(errs, ValidationError{
				Field:   field + ".count",
				Message: fmt.Sprintf("count %d must be between 0 and the %d sources of %q", t.Count, len(t.From), t.Name),
				Code:    ErrInvalidCount,
			})
		}
	} else if t.Count != 0 {
		errs = append(errs, ValidationError{
			Field:   field + ".count",
			Message: fmt.Sprintf("count is only allowed on completion, success, and failure transitions, not %q", t.Kind),
			Code:    ErrInvalidCount,
		})
	}

	// E216: match
	if t.Match != nil {
		switch {
		case !ir.MatchKinds[t.Kind]:
			errs = append(errs, ValidationError{
				Field:   field + ".match",
				Message: fmt.Sprintf("match is not allowed on %q transitions", t.Kind),
				Code:    ErrMatchNotAllowed,
			})
		case t.Kind == "tap" || t.Kind == "text":
			if _, ok := t.Match.(string); !ok {
				errs = append(errs, ValidationError{
					Field:   field + ".match",
					Message: fmt.Sprintf("%s match must be a string, got %T", t.Kind, t.Match),
					Code:    ErrMatchNotAllowed,
				})
			}
		}
	}

	return errs
}

func isJoin(kind string) bool {
	return kind == "completion" || kind == "success" || kind == "failure"
}
