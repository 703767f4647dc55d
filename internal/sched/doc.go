// Package sched implements the single cooperative timeline every graph runs on.
//
// ARCHITECTURE:
//
// Single Timeline:
// All engine work executes as callbacks on one Scheduler, from one goroutine.
// There is no preemption and no locking inside the engine. The only
// thread-safe entry point is Inject, which moves work from other goroutines
// (HTTP handlers, pub/sub bridges) onto the timeline.
//
// Suspension Points:
//   - Soon: run on the next tick (FIFO, registration order)
//   - After: run once the timeline's clock reaches a deadline
//     (deadline order, ties broken by registration order)
//
// Every scheduling call returns a Handle so owners can cancel exactly the
// callbacks they scheduled.
//
// Driving the Timeline:
//   - RunUntilIdle and Advance drive virtual time (tests, scenario harness)
//   - Run drives wall-clock time until the context ends or Close is called
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Every scheduled callback is stamped with a seq from Clock.Next(). Ties
// between equal deadlines are broken by seq, never by map or heap iteration.
//
// Tick Quota:
// RunUntilIdle refuses to spin forever on work that keeps re-scheduling
// itself on the next tick (for example an immediate transition looping back
// to its own source). The quota is per idle cycle, see WithMaxTicks.
package sched
