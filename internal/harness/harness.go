package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/statenet/internal/behaviors"
	"github.com/roach88/statenet/internal/compiler"
	"github.com/roach88/statenet/internal/engine"
	"github.com/roach88/statenet/internal/fsm"
	"github.com/roach88/statenet/internal/ir"
	"github.com/roach88/statenet/internal/store"
	"github.com/roach88/statenet/internal/testutil"
)

// Harness is the test execution engine.
// It runs one scenario on virtual time with a fixed run ID.
type Harness struct {
	store  *store.Store
	sess   *engine.Session
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation, on a
// timeline that only moves when an advance step says so.
//
// Execution flow:
// 1. Load and compile the graph
// 2. Create fresh in-memory database and prepare the run
// 3. Start the root and execute steps
// 4. Snapshot node states, then stop the graph and record the outcome
// 5. Evaluate assertions against the recorded trace
func Run(scenario *Scenario) (*Result, error) {
	spec, err := LoadGraph(scenario.Graph, scenario.GraphName)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	var output bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithRegistry(behaviors.Default(behaviors.WithOutput(&output))),
		engine.WithStore(st),
		engine.WithRunIDs(testutil.NewFixedRunIDGenerator(scenario.RunID)),
	}
	if scenario.Seed != nil {
		opts = append(opts, engine.WithSeed(*scenario.Seed))
	}
	if scenario.Debounce != "" {
		// validateScenario already parsed it.
		d, _ := time.ParseDuration(scenario.Debounce)
		opts = append(opts, engine.WithDebounce(d))
	}

	ctx := context.Background()
	sess, err := engine.New(spec, opts...).Prepare(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare run: %w", err)
	}

	h := &Harness{store: st, sess: sess, logger: logger}
	result := NewResult()
	result.RunID = sess.RunID()

	runErr := h.executeSteps(scenario.Steps, result)

	for _, n := range sess.Graph().Nodes() {
		result.Nodes[n.Path()] = NodeState{Running: n.Running(), Starts: n.Starts()}
	}

	_, finishErr := sess.Finish(ctx, runErr)
	if runErr != nil {
		result.AddError(fmt.Sprintf("run aborted: %v", runErr))
	} else if finishErr != nil {
		return nil, finishErr
	}

	run, err := st.ReadRun(ctx, sess.RunID())
	if err != nil {
		return nil, fmt.Errorf("failed to read run: %w", err)
	}
	result.Outcome = run.Outcome

	records, err := st.ReadRecords(ctx, sess.RunID())
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	result.Trace = traceFromRecords(records)
	result.Output = output.String()

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

// executeSteps starts the root and runs every step, draining the timeline
// after each. It stops at the first step the timeline aborts on and
// returns that error.
func (h *Harness) executeSteps(steps []Step, result *Result) error {
	sched := h.sess.Scheduler()
	h.sess.Start()
	if err := sched.RunUntilIdle(); err != nil {
		return err
	}

	for i, step := range steps {
		if err := h.executeStep(step); err != nil {
			result.AddError(fmt.Sprintf("step %d: %v", i, err))
			continue
		}
		if err := sched.RunUntilIdle(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		h.logger.Info("step completed", "step", i, "now", sched.Now())
	}
	return nil
}

func (h *Harness) executeStep(step Step) error {
	rt := h.sess.Runtime()
	switch {
	case step.Advance != "":
		d, _ := time.ParseDuration(step.Advance)
		return h.sess.Scheduler().Advance(d)

	case step.Text != nil:
		rt.Post(fsm.NewEvent(fsm.KindText, nil, *step.Text))

	case step.Tap != "":
		rt.Post(fsm.NewEvent(fsm.KindTap, nil, step.Tap))

	case step.Post != nil:
		var source *fsm.Node
		if step.Post.Node != "" {
			n, err := h.lookup(step.Post.Node)
			if err != nil {
				return err
			}
			source = n
		}
		rt.Post(fsm.NewEvent(fsm.Kind(step.Post.Kind), source, step.Post.Payload))

	case step.Start != "":
		n, err := h.lookup(step.Start)
		if err != nil {
			return err
		}
		n.Start(nil)

	case step.Stop != "":
		n, err := h.lookup(step.Stop)
		if err != nil {
			return err
		}
		n.Stop()
	}
	return nil
}

func (h *Harness) lookup(path string) (*fsm.Node, error) {
	n, ok := h.sess.Graph().Lookup(path)
	if !ok {
		return nil, fmt.Errorf("unknown node %q", path)
	}
	return n, nil
}

// LoadGraph compiles the graph at path, a CUE file or a directory holding
// one CUE package. name picks a graph when the source declares several.
func LoadGraph(path, name string) (*ir.GraphSpec, error) {
	result, errs := compiler.LoadPath(path, compiler.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to load graph %s: %w", path, errs[0])
	}
	spec, err := result.Select(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return spec, nil
}
