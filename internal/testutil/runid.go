package testutil

// DefaultRunID is what FixedRunIDGenerator returns when given no ID.
const DefaultRunID = "test-run"

// FixedRunIDGenerator generates the same run ID every time.
//
// This enables deterministic test execution and golden snapshot comparison.
// The same scenario with the same FixedRunIDGenerator produces byte-identical
// traces.
//
// Unlike engine.FixedGenerator which returns IDs in sequence, this generator
// never runs out, so one scenario can be run any number of times.
//
// Thread-safety: FixedRunIDGenerator is stateless and safe for concurrent use.
type FixedRunIDGenerator struct {
	id string
}

// NewFixedRunIDGenerator creates a fixed run ID generator.
//
// The ID is typically set in the scenario YAML:
//
//	run_id: "patrol-1"
//
// If id is empty, Generate() returns DefaultRunID.
func NewFixedRunIDGenerator(id string) *FixedRunIDGenerator {
	if id == "" {
		id = DefaultRunID
	}
	return &FixedRunIDGenerator{id: id}
}

// Generate returns the fixed run ID.
//
// Implements engine.RunIDGenerator.
func (g *FixedRunIDGenerator) Generate() string {
	return g.id
}
