package fsm

import (
	"reflect"

	"github.com/roach88/statenet/internal/sched"
)

// Listener receives events from the Bus.
//
// A returned error means the listener was handed an event it cannot
// handle at all (a wiring defect). The Bus reports it and stops
// dispatching; it is never used for domain failures.
type Listener interface {
	HandleEvent(ev Event) error
}

// ListenerFunc adapts a function to the Listener interface.
// Function values are not comparable, so a ListenerFunc is never
// deduplicated and cannot be removed with Unsubscribe.
type ListenerFunc func(ev Event) error

// HandleEvent calls f(ev).
func (f ListenerFunc) HandleEvent(ev Event) error {
	return f(ev)
}

// registration is one (kind, source, listener) entry.
// A nil source matches events from any source, including external ones.
type registration struct {
	seq      int64
	kind     Kind
	source   *Node
	listener Listener
}

// Bus maps (kind, source) to the listeners interested in it.
//
// Delivery is synchronous and follows registration order. Events posted
// while a dispatch is running are queued and delivered after it, FIFO, so
// no listener ever sees events out of posting order.
//
// INVARIANTS:
//   - a listener appears at most once per (kind, source)
//   - Unsubscribe removes every registration of a listener at once
//   - a registration removed mid-dispatch receives nothing more
type Bus struct {
	clock *sched.Clock
	regs  map[Kind][]*registration
	// active tracks live registrations by seq
	active map[int64]bool

	pending     []Event
	dispatching bool
	err         error

	onPost  func(Event)
	onError func(error)
}

// NewBus creates an empty bus stamping events from clock.
func NewBus(clock *sched.Clock) *Bus {
	return &Bus{
		clock:  clock,
		regs:   make(map[Kind][]*registration),
		active: make(map[int64]bool),
	}
}

// Subscribe registers l for events of kind produced by source.
// A nil source subscribes to that kind from any source.
// Returns false if the exact registration already exists.
func (b *Bus) Subscribe(kind Kind, source *Node, l Listener) bool {
	for _, r := range b.regs[kind] {
		if r.source == source && sameListener(r.listener, l) {
			return false
		}
	}
	r := &registration{seq: b.clock.Next(), kind: kind, source: source, listener: l}
	b.regs[kind] = append(b.regs[kind], r)
	b.active[r.seq] = true
	return true
}

// Unsubscribe removes every registration held by l.
// Returns the number of registrations removed.
func (b *Bus) Unsubscribe(l Listener) int {
	removed := 0
	for kind, regs := range b.regs {
		kept := regs[:0]
		for _, r := range regs {
			if sameListener(r.listener, l) {
				delete(b.active, r.seq)
				removed++
				continue
			}
			kept = append(kept, r)
		}
		// Clear the tail so removed registrations can be collected.
		for i := len(kept); i < len(regs); i++ {
			regs[i] = nil
		}
		if len(kept) == 0 {
			delete(b.regs, kind)
		} else {
			b.regs[kind] = kept
		}
	}
	return removed
}

// Listeners returns, in registration order, the listeners an event of kind
// from source would be delivered to.
func (b *Bus) Listeners(kind Kind, source *Node) []Listener {
	var out []Listener
	for _, r := range b.regs[kind] {
		if r.source == nil || r.source == source {
			out = append(out, r.listener)
		}
	}
	return out
}

// Len returns the total number of live registrations.
func (b *Bus) Len() int {
	return len(b.active)
}

// Err returns the listener error that stopped the bus, if any.
func (b *Bus) Err() error {
	return b.err
}

// Post stamps ev with the next seq and delivers it.
//
// If a dispatch is already running (a listener posted while handling an
// event) ev is queued and delivered after the current dispatch completes.
// Returns the stamped event.
func (b *Bus) Post(ev Event) Event {
	ev = ev.withSeq(b.clock.Next())
	if b.err != nil {
		return ev
	}

	b.pending = append(b.pending, ev)
	if b.dispatching {
		return ev
	}

	b.dispatching = true
	defer func() { b.dispatching = false }()

	for len(b.pending) > 0 && b.err == nil {
		next := b.pending[0]
		b.pending[0] = Event{}
		b.pending = b.pending[1:]
		b.deliver(next)
	}
	b.pending = nil
	return ev
}

// deliver hands ev to a snapshot of the matching registrations.
// Listeners registered during this dispatch do not see ev.
func (b *Bus) deliver(ev Event) {
	if b.onPost != nil {
		b.onPost(ev)
	}

	var matched []*registration
	for _, r := range b.regs[ev.kind] {
		if r.source == nil || r.source == ev.source {
			matched = append(matched, r)
		}
	}

	for _, r := range matched {
		if !b.active[r.seq] {
			continue
		}
		if err := r.listener.HandleEvent(ev); err != nil {
			b.err = err
			if b.onError != nil {
				b.onError(err)
			}
			return
		}
	}
}

// sameListener compares listeners without panicking on uncomparable
// dynamic types such as ListenerFunc.
func sameListener(a, b Listener) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta == nil || ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
