package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/statenet/internal/ir"
	"github.com/roach88/statenet/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Node     string   // optional - filter to one node path
	Types    []string // optional - filter to record types
	Diff     string   // optional - run to compare against
}

// TraceStep is one record rendered for output.
type TraceStep struct {
	Seq        int64  `json:"seq"`
	At         string `json:"at"`
	Type       string `json:"type"`
	Node       string `json:"node,omitempty"`
	Transition string `json:"transition,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Payload    string `json:"payload,omitempty"`
}

// TraceResult holds the complete trace output of one run.
type TraceResult struct {
	Run      ir.Run      `json:"run"`
	Timeline []TraceStep `json:"timeline"`
	Stats    TraceStats  `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalRecords int `json:"total_records"`
	NodeStarts   int `json:"node_starts"`
	NodeStops    int `json:"node_stops"`
	Events       int `json:"events"`
	Firings      int `json:"firings"`
}

// DiffResult reports where two runs part ways.
type DiffResult struct {
	Left      string     `json:"left"`
	Right     string     `json:"right"`
	Identical bool       `json:"identical"`
	Index     int        `json:"index,omitempty"`
	LeftStep  *TraceStep `json:"left_step,omitempty"`
	RightStep *TraceStep `json:"right_step,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [run-id]",
		Short: "Show recorded runs",
		Long: `Show runs recorded in a statenet database.

Without a run ID, lists every run. With one (or "latest"), shows the run's
timeline: node starts and stops, posted events, and transition firings in
the order they happened.

With --diff, compares two runs step by step and reports the first step
where they differ. Run IDs and sequence numbers are ignored.

Examples:
  statenet trace --db ./runs.db
  statenet trace --db ./runs.db latest
  statenet trace --db ./runs.db 0190a5c2-... --node main/walk
  statenet trace --db ./runs.db 0190a5c2-... --type transition_fired
  statenet trace --db ./runs.db 0190a5c2-... --diff 0190a5c3-...`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Node, "node", "", "filter to one node path")
	cmd.Flags().StringSliceVar(&opts.Types, "type", nil, "filter to record types (node_started, node_stopped, event_posted, transition_fired)")
	cmd.Flags().StringVar(&opts.Diff, "diff", "", "compare the run with this one")

	return cmd
}

func runTrace(opts *TraceOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)

	// Open database
	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	if len(args) == 0 {
		if opts.Diff != "" {
			return NewExitError(ExitCommandError, "--diff needs a run ID to compare")
		}
		return listRuns(ctx, st, formatter)
	}

	run, err := resolveRun(ctx, st, args[0])
	if err != nil {
		_ = formatter.Error(ErrCodeNoRun, err.Error(), nil)
		return WrapExitError(ExitCommandError, "run not found", err)
	}

	if opts.Diff != "" {
		other, err := resolveRun(ctx, st, opts.Diff)
		if err != nil {
			_ = formatter.Error(ErrCodeNoRun, err.Error(), nil)
			return WrapExitError(ExitCommandError, "run not found", err)
		}
		return diffRuns(ctx, st, run, other, formatter)
	}

	var types []ir.RecordType
	for _, t := range opts.Types {
		types = append(types, ir.RecordType(t))
	}
	records, err := st.ReadRecords(ctx, run.ID, types...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}

	result := TraceResult{Run: run, Timeline: []TraceStep{}}
	for _, r := range records {
		if opts.Node != "" && r.Node != opts.Node {
			continue
		}
		result.Timeline = append(result.Timeline, stepOf(r))
		result.Stats.count(r.Type)
	}

	// Output results
	if formatter.JSON() {
		return formatter.Encode(CLIResponse{Status: "ok", Data: result, RunID: run.ID})
	}
	return outputTraceText(formatter, result)
}

// openExisting opens the database at path, refusing to create one.
func openExisting(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// resolveRun reads the run with the given ID; "latest" names the most
// recently started run.
func resolveRun(ctx context.Context, st *store.Store, id string) (ir.Run, error) {
	var (
		run ir.Run
		err error
	)
	if id == "latest" {
		run, err = st.LatestRun(ctx)
	} else {
		run, err = st.ReadRun(ctx, id)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Run{}, fmt.Errorf("no run %q", id)
	}
	return run, err
}

func listRuns(ctx context.Context, st *store.Store, formatter *OutputFormatter) error {
	runs, err := st.ListRuns(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	if formatter.JSON() {
		return formatter.Encode(CLIResponse{Status: "ok", Data: runs})
	}

	w := formatter.Writer
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	for _, r := range runs {
		outcome := r.Outcome
		if outcome == "" {
			outcome = "(running)"
		}
		started := time.UnixMilli(r.StartedAt).UTC().Format(time.RFC3339)
		fmt.Fprintf(w, "%s  %-16s %-14s %s\n", r.ID, r.Graph, outcome, started)
	}
	return nil
}

func diffRuns(ctx context.Context, st *store.Store, left, right ir.Run, formatter *OutputFormatter) error {
	div, err := st.CompareRuns(ctx, left.ID, right.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compare runs", err)
	}

	result := DiffResult{Left: left.ID, Right: right.ID, Identical: div == nil}
	if div != nil {
		result.Index = div.Index
		if div.Left != nil {
			step := stepOf(*div.Left)
			result.LeftStep = &step
		}
		if div.Right != nil {
			step := stepOf(*div.Right)
			result.RightStep = &step
		}
	}

	if formatter.JSON() {
		if err := formatter.Encode(CLIResponse{Status: "ok", Data: result}); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		if result.Identical {
			fmt.Fprintf(w, "✓ runs %s and %s took identical steps\n", left.ID, right.ID)
		} else {
			fmt.Fprintf(w, "✗ runs diverge at step %d\n", result.Index+1)
			fmt.Fprintf(w, "  %s: %s\n", left.ID, describeStep(result.LeftStep))
			fmt.Fprintf(w, "  %s: %s\n", right.ID, describeStep(result.RightStep))
		}
	}

	if !result.Identical {
		return NewExitError(ExitFailure, "runs diverge")
	}
	return nil
}

func stepOf(r ir.Record) TraceStep {
	return TraceStep{
		Seq:        r.Seq,
		At:         time.Duration(r.AtNS).String(),
		Type:       string(r.Type),
		Node:       r.Node,
		Transition: r.Transition,
		Kind:       r.Kind,
		Payload:    r.Payload,
	}
}

func describeStep(s *TraceStep) string {
	if s == nil {
		return "(run ended)"
	}
	node := s.Node
	if node == "" {
		node = "-"
	}
	desc := fmt.Sprintf("%s %s %s", s.At, s.Type, node)
	if s.Transition != "" {
		desc += " transition=" + s.Transition
	}
	if s.Kind != "" {
		desc += " kind=" + s.Kind
	}
	if s.Payload != "" {
		desc += " payload=" + s.Payload
	}
	return desc
}

func (s *TraceStats) count(t ir.RecordType) {
	s.TotalRecords++
	switch t {
	case ir.RecordNodeStarted:
		s.NodeStarts++
	case ir.RecordNodeStopped:
		s.NodeStops++
	case ir.RecordEventPosted:
		s.Events++
	case ir.RecordTransitionFired:
		s.Firings++
	}
}

// outputTraceText outputs the trace in human-readable format.
func outputTraceText(formatter *OutputFormatter, result TraceResult) error {
	w := formatter.Writer
	outcome := result.Run.Outcome
	if outcome == "" {
		outcome = "(running)"
	}

	fmt.Fprintf(w, "Run: %s\n", result.Run.ID)
	fmt.Fprintf(w, "Graph: %s (%s)\n", result.Run.Graph, result.Run.GraphDigest)
	fmt.Fprintf(w, "Outcome: %s\n", outcome)
	fmt.Fprintln(w)

	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "No records match.")
		return nil
	}

	fmt.Fprintln(w, "Timeline:")
	for _, step := range result.Timeline {
		fmt.Fprintf(w, "  [%d] %s\n", step.Seq, describeStep(&step))
	}

	kinds := []string{}
	if result.Stats.NodeStarts > 0 {
		kinds = append(kinds, fmt.Sprintf("%d starts", result.Stats.NodeStarts))
	}
	if result.Stats.NodeStops > 0 {
		kinds = append(kinds, fmt.Sprintf("%d stops", result.Stats.NodeStops))
	}
	if result.Stats.Events > 0 {
		kinds = append(kinds, fmt.Sprintf("%d events", result.Stats.Events))
	}
	if result.Stats.Firings > 0 {
		kinds = append(kinds, fmt.Sprintf("%d firings", result.Stats.Firings))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Stats: %d records", result.Stats.TotalRecords)
	for _, k := range kinds {
		fmt.Fprintf(w, ", %s", k)
	}
	fmt.Fprintln(w)
	return nil
}
