// Package fsm implements the behavior graph engine: events, the event bus,
// state nodes and transitions.
//
// A graph is a tree of Nodes (parents own their named children) plus a set
// of Transitions wired from source nodes to destination nodes. Starting a
// node arms its outgoing transitions; when a transition's condition holds it
// fires, stopping its sources and starting its destinations. Execution
// propagates through the graph this way until a node with no outgoing
// transitions is reached.
//
// Every graph runs on one sched.Scheduler through an explicitly constructed
// Runtime. There is no package-level state: independent graphs, each with
// its own Runtime, can run side by side in one process.
//
// Event Processing Flow:
//  1. A behavior reports an outcome (Node.PostSuccess and friends)
//  2. The Bus stamps the event with a seq and delivers it synchronously, in
//     registration order, to every armed listener for (kind, source)
//  3. A listener whose condition now holds fires inside the same call stack
//  4. Events posted while a dispatch is running are queued and delivered,
//     FIFO, once the current dispatch completes
//
// Error Taxonomy:
//   - configuration errors (EngineError, IsConfigError) are returned while
//     the graph is built and prevent it from running
//   - contract violations (IsContractViolation) abort the timeline
//   - domain failures are ordinary KindFailure events
package fsm
