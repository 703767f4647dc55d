// Package engine runs graph descriptions.
//
// Assemble turns an ir.GraphSpec into an fsm.Graph, resolving behavior
// names through a behaviors.Registry. Engine wraps that with everything a
// run needs: a fresh timeline, a seeded runtime, the trace recorder, and
// the watch that ends the run when the root node posts its outcome.
//
// ARCHITECTURE:
//
// Single-Writer Timeline:
// Every node, transition and observer of a run executes on the goroutine
// that calls Session.Run (or that drives the scheduler directly, as the
// harness does). This gives:
// - Reproducible traces for a given seed and stimulus sequence
// - No locks inside the engine
// - Simple reasoning about causality
//
// Run Flow:
// 1. Engine.Prepare validates and assembles the graph, writes the run header
// 2. Stimulus sources attach to the session's runtime and inject events
// 3. Session.Run starts the root and drives the timeline on the wall clock
// 4. The root's completion, success or failure closes the timeline
// 5. Session.Finish stops the graph and stores the outcome
//
// Ordering uses the scheduler's logical seqs; wall time only decides when
// timers become due.
package engine
