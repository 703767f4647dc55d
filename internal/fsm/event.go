package fsm

import (
	"fmt"
	"strings"
)

// Kind tags an event. Custom kinds are any other non-empty string.
type Kind string

const (
	// KindCompletion signals a node finished without a success/failure verdict.
	KindCompletion Kind = "completion"
	// KindSuccess signals a node accomplished its task.
	KindSuccess Kind = "success"
	// KindFailure signals a node could not accomplish its task.
	KindFailure Kind = "failure"
	// KindTap is an externally produced tap stimulus; payload is the tapped object id.
	KindTap Kind = "tap"
	// KindData carries a data item broadcast by a node.
	KindData Kind = "data"
	// KindText is an externally produced text message; payload is the message.
	KindText Kind = "text"
)

// IsOutcome reports whether k is one of the three node outcome kinds.
func (k Kind) IsOutcome() bool {
	return k == KindCompletion || k == KindSuccess || k == KindFailure
}

// Event is an immutable tagged message.
//
// Source is the node that produced the event, or nil for external stimuli.
// Seq is stamped by the Bus when the event is posted.
type Event struct {
	kind    Kind
	source  *Node
	payload any
	seq     int64
}

// NewEvent creates an event. Seq stays zero until the event is posted.
func NewEvent(kind Kind, source *Node, payload any) Event {
	return Event{kind: kind, source: source, payload: payload}
}

// Kind returns the event's tag.
func (e Event) Kind() Kind { return e.kind }

// Source returns the producing node, nil for external stimuli.
func (e Event) Source() *Node { return e.source }

// Payload returns the optional domain data carried by the event.
func (e Event) Payload() any { return e.payload }

// Seq returns the logical seq assigned when the event was posted.
func (e Event) Seq() int64 { return e.seq }

func (e Event) withSeq(seq int64) Event {
	e.seq = seq
	return e
}

// String renders the event as kind(source[, payload]).
func (e Event) String() string {
	var sb strings.Builder
	sb.WriteString(string(e.kind))
	sb.WriteByte('(')
	if e.source != nil {
		sb.WriteString(e.source.Path())
	} else {
		sb.WriteString("external")
	}
	if e.payload != nil {
		fmt.Fprintf(&sb, ", %v", e.payload)
	}
	sb.WriteByte(')')
	return sb.String()
}

// payloadString returns the payload as text, for tap and text matching.
func payloadString(v any) (string, bool) {
	switch p := v.(type) {
	case string:
		return p, true
	case fmt.Stringer:
		return p.String(), true
	default:
		return "", false
	}
}
