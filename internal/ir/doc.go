// Package ir provides the data-driven description of a behavior graph and
// the trace record types shared by the store, the harness and the CLI.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This ensures IR remains the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - declaration order is preserved everywhere (nodes, transitions, endpoints)
//   - durations are Go duration strings, parsed by the compiler and assembler
//   - all JSON tags use snake_case
//   - trace records carry logical seqs; at_ns is timeline time, not wall time
package ir
