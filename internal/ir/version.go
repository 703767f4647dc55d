package ir

// Version constants for IR schema and engine.
const (
	// IRVersion is the graph description schema version.
	IRVersion = "1"

	// EngineVersion is the statenet engine version.
	EngineVersion = "0.1.0"
)
