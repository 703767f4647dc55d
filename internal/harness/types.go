package harness

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/statenet/internal/ir"
)

// TraceEvent is one recorded step of a scenario run.
type TraceEvent struct {
	Seq        int64         `json:"seq"`
	At         time.Duration `json:"at"`
	Type       ir.RecordType `json:"type"`
	Node       string        `json:"node,omitempty"`
	Transition string        `json:"transition,omitempty"`
	Kind       string        `json:"kind,omitempty"`
	Payload    string        `json:"payload,omitempty"`
}

// String renders the event as one trace line:
//
//	<at> <type> <node or -> [transition=...] [kind=...] [payload=...]
func (e TraceEvent) String() string {
	var b strings.Builder
	node := e.Node
	if node == "" {
		node = "-"
	}
	fmt.Fprintf(&b, "%s %s %s", e.At, e.Type, node)
	if e.Transition != "" {
		fmt.Fprintf(&b, " transition=%s", e.Transition)
	}
	if e.Kind != "" {
		fmt.Fprintf(&b, " kind=%s", e.Kind)
	}
	if e.Payload != "" {
		fmt.Fprintf(&b, " payload=%s", e.Payload)
	}
	return b.String()
}

// NodeState is a node as it stood when the last step finished.
type NodeState struct {
	Running bool `json:"running"`
	Starts  int  `json:"starts"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if the run did not abort and every assertion held.
	Pass bool `json:"pass"`

	// RunID is the run the trace was recorded under.
	RunID string `json:"run_id"`

	// Outcome is the run outcome as stored: the root's outcome kind,
	// or stopped, aborted or quota_exceeded.
	Outcome string `json:"outcome"`

	// Trace contains every recorded step, in seq order.
	Trace []TraceEvent `json:"trace"`

	// Nodes maps node paths to their state after the last step, before
	// the graph was stopped.
	Nodes map[string]NodeState `json:"nodes"`

	// Output is everything the print behavior wrote.
	Output string `json:"output,omitempty"`

	// Errors contains step and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Nodes:  make(map[string]NodeState),
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func traceFromRecords(records []ir.Record) []TraceEvent {
	trace := make([]TraceEvent, len(records))
	for i, r := range records {
		trace[i] = TraceEvent{
			Seq:        r.Seq,
			At:         time.Duration(r.AtNS),
			Type:       r.Type,
			Node:       r.Node,
			Transition: r.Transition,
			Kind:       r.Kind,
			Payload:    r.Payload,
		}
	}
	return trace
}
