package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/statenet/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, event)
		}
	}

	return buf.String()
}

// assertStarted checks that the node started at least once.
func assertStarted(result *Result, assertion Assertion) error {
	if starts := countStarts(result.Trace, assertion.Node); starts == 0 {
		return &AssertionError{
			Type:     AssertStarted,
			Expected: fmt.Sprintf("node %s to start", assertion.Node),
			Actual:   "never started",
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertStartedCount checks that the node started exactly Count times.
func assertStartedCount(result *Result, assertion Assertion) error {
	if assertion.Count == nil {
		return fmt.Errorf("started_count assertion requires count")
	}
	starts := countStarts(result.Trace, assertion.Node)
	if starts != *assertion.Count {
		return &AssertionError{
			Type:     AssertStartedCount,
			Expected: fmt.Sprintf("%d starts of %s", *assertion.Count, assertion.Node),
			Actual:   fmt.Sprintf("%d starts", starts),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertStartOrder checks that the nodes first started in the given order.
// Starts need not be consecutive; other nodes may start in between.
func assertStartOrder(result *Result, assertion Assertion) error {
	// Find first start position of each expected node, 1-indexed.
	positions := make(map[string]int)
	for i, event := range result.Trace {
		if event.Type != ir.RecordNodeStarted {
			continue
		}
		for _, node := range assertion.Nodes {
			if event.Node == node && positions[node] == 0 {
				positions[node] = i + 1
			}
		}
	}

	for _, node := range assertion.Nodes {
		if positions[node] == 0 {
			return &AssertionError{
				Type:     AssertStartOrder,
				Expected: fmt.Sprintf("all nodes started: %v", assertion.Nodes),
				Actual:   fmt.Sprintf("never started: %s", node),
				Trace:    result.Trace,
			}
		}
	}

	for i := 1; i < len(assertion.Nodes); i++ {
		prev := assertion.Nodes[i-1]
		curr := assertion.Nodes[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertStartOrder,
				Expected: fmt.Sprintf("nodes started in order: %v", assertion.Nodes),
				Actual: fmt.Sprintf("%s (pos %d) should start before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: result.Trace,
			}
		}
	}
	return nil
}

// assertRunning checks the node was running after the last step.
func assertRunning(result *Result, assertion Assertion) error {
	state, ok := result.Nodes[assertion.Node]
	if !ok {
		return unknownNode(AssertRunning, assertion.Node)
	}
	if !state.Running {
		return &AssertionError{
			Type:     AssertRunning,
			Expected: fmt.Sprintf("node %s running after the last step", assertion.Node),
			Actual:   fmt.Sprintf("not running (started %d times)", state.Starts),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertNotStarted checks the node never started.
func assertNotStarted(result *Result, assertion Assertion) error {
	state, ok := result.Nodes[assertion.Node]
	if !ok {
		return unknownNode(AssertNotStarted, assertion.Node)
	}
	if state.Starts > 0 {
		return &AssertionError{
			Type:     AssertNotStarted,
			Expected: fmt.Sprintf("node %s never started", assertion.Node),
			Actual:   fmt.Sprintf("started %d times", state.Starts),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertFired checks the transition fired at least once, or exactly Count
// times when Count is set.
func assertFired(result *Result, assertion Assertion) error {
	fires := 0
	for _, event := range result.Trace {
		if event.Type == ir.RecordTransitionFired && event.Transition == assertion.Transition {
			fires++
		}
	}

	switch {
	case assertion.Count == nil && fires == 0:
		return &AssertionError{
			Type:     AssertFired,
			Expected: fmt.Sprintf("transition %s to fire", assertion.Transition),
			Actual:   "never fired",
			Trace:    result.Trace,
		}
	case assertion.Count != nil && fires != *assertion.Count:
		return &AssertionError{
			Type:     AssertFired,
			Expected: fmt.Sprintf("%d firings of %s", *assertion.Count, assertion.Transition),
			Actual:   fmt.Sprintf("%d firings", fires),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertOutcome checks how the run ended.
func assertOutcome(result *Result, assertion Assertion) error {
	if result.Outcome != assertion.Outcome {
		return &AssertionError{
			Type:     AssertOutcome,
			Expected: fmt.Sprintf("outcome %s", assertion.Outcome),
			Actual:   fmt.Sprintf("outcome %s", result.Outcome),
			Trace:    result.Trace,
		}
	}
	return nil
}

func countStarts(trace []TraceEvent, node string) int {
	n := 0
	for _, event := range trace {
		if event.Type == ir.RecordNodeStarted && event.Node == node {
			n++
		}
	}
	return n
}

func unknownNode(typ, node string) error {
	return &AssertionError{
		Type:     typ,
		Expected: fmt.Sprintf("node %s in the graph", node),
		Actual:   "no such node",
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertStarted:
			err = assertStarted(result, assertion)
		case AssertStartedCount:
			err = assertStartedCount(result, assertion)
		case AssertStartOrder:
			err = assertStartOrder(result, assertion)
		case AssertRunning:
			err = assertRunning(result, assertion)
		case AssertNotStarted:
			err = assertNotStarted(result, assertion)
		case AssertFired:
			err = assertFired(result, assertion)
		case AssertOutcome:
			err = assertOutcome(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
