// Package harness runs behavior test scenarios against graphs.
//
// A scenario names a CUE graph, drives it on virtual time with a list of
// steps, and asserts on the recorded trace and on the node states left
// after the last step. Runs are fully deterministic, so traces can be
// compared against golden files.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: patrol_look_again
//	description: "What this scenario validates"
//	graph: ../graphs/patrol.cue
//	graph_name: patrol       # when the file declares several graphs
//	seed: 7                  # random transitions
//	debounce: 250ms          # unfiltered taps
//	run_id: run-patrol
//	steps:
//	  - advance: 1s
//	  - text: look again
//	  - tap: cube1
//	  - post: {kind: data, node: main/count, payload: 3}
//	  - start: main/look
//	  - stop: main/walk
//	assertions:
//	  - type: start_order
//	    nodes: [main, main/look, main/walk]
//	  - type: fired
//	    transition: again
//	    count: 1
//
// The root is started before the first step, and the timeline is drained
// after every step.
//
// # Assertion Types
//
//   - started: the node started at least once
//   - started_count: the node started exactly count times
//   - start_order: the nodes first started in the given order
//   - running: the node is running after the last step
//   - not_started: the node never started
//   - fired: the transition fired at least once, or exactly count times
//   - outcome: the run ended with the given outcome
//
// # Deterministic Testing
//
// The harness uses:
//   - Virtual time (advance steps) instead of the wall clock
//   - A fixed run ID (from scenario.run_id or testutil.DefaultRunID)
//   - A fixed seed for random transitions when the scenario sets one
//   - In-memory SQLite database (isolated per run)
//
// This ensures identical traces across runs for golden file comparison.
package harness
