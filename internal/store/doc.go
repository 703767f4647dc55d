// Package store provides SQLite-backed durable storage for run traces.
//
// The store is an append-only log with:
//   - Runs: one header per graph run (graph name, digest, outcome)
//   - Records: the ordered steps of a run (node starts and stops, posted
//     events, fired transitions)
//
// # Ordering
//
// Records are ordered by their logical seq within a run, NEVER by at_ns.
// Every read uses ORDER BY seq ASC so the same run reads back identically.
//
// # Idempotency
//
// Inserts use ON CONFLICT DO NOTHING: writing a run or a record twice is
// harmless.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
