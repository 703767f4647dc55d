package ir

// RecordType tags a trace record.
type RecordType string

const (
	RecordNodeStarted     RecordType = "node_started"
	RecordNodeStopped     RecordType = "node_stopped"
	RecordEventPosted     RecordType = "event_posted"
	RecordTransitionFired RecordType = "transition_fired"
)

// Run is the header of one recorded run.
type Run struct {
	ID          string `json:"id"`           // UUIDv7
	Graph       string `json:"graph"`        // graph name
	GraphDigest string `json:"graph_digest"` // GraphDigest of the description that ran
	StartedAt   int64  `json:"started_at"`   // unix millis, informational only
	Outcome     string `json:"outcome,omitempty"`
}

// Record is one step of a run, ordered by Seq.
type Record struct {
	RunID      string     `json:"run_id"`
	Seq        int64      `json:"seq"`
	AtNS       int64      `json:"at_ns"` // timeline time since the run started
	Type       RecordType `json:"type"`
	Node       string     `json:"node,omitempty"`       // node path, event source, or the parent of a fired transition
	Transition string     `json:"transition,omitempty"` // fired transition name
	Kind       string     `json:"kind,omitempty"`       // event kind or transition kind
	Payload    string     `json:"payload,omitempty"`    // rendered event payload
}
