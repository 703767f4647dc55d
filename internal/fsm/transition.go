package fsm

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/statenet/internal/sched"
)

// TransitionKind names a transition's firing rule.
type TransitionKind string

const (
	TransitionImmediate  TransitionKind = "immediate"
	TransitionCompletion TransitionKind = "completion"
	TransitionSuccess    TransitionKind = "success"
	TransitionFailure    TransitionKind = "failure"
	TransitionTimer      TransitionKind = "timer"
	TransitionTap        TransitionKind = "tap"
	TransitionData       TransitionKind = "data"
	TransitionText       TransitionKind = "text"
	TransitionRandom     TransitionKind = "random"
)

// TransitionKinds lists every kind in a stable order.
var TransitionKinds = []TransitionKind{
	TransitionImmediate,
	TransitionCompletion,
	TransitionSuccess,
	TransitionFailure,
	TransitionTimer,
	TransitionTap,
	TransitionData,
	TransitionText,
	TransitionRandom,
}

// IsJoin reports whether k is one of the event-joined kinds.
func (k TransitionKind) IsJoin() bool {
	return k == TransitionCompletion || k == TransitionSuccess || k == TransitionFailure
}

// Transition is the wiring primitive between sibling nodes.
//
// A transition is armed when one of its sources starts and fires at most
// once per arming. Firing disarms it, stops every source and then starts
// the destinations its trigger picks.
//
// INVARIANTS:
//   - every bus registration and scheduled callback is released on disarm
//   - HandleEvent and Fire on a disarmed transition do nothing
type Transition struct {
	name         string
	sources      []*Node
	destinations []*Node
	trig         trigger

	armed   bool
	fires   int
	rt      *Runtime
	handles []*sched.Handle
}

func newTransition(trig trigger) *Transition {
	return &Transition{trig: trig}
}

// NewImmediate fires on the tick after it is armed.
func NewImmediate() *Transition {
	return newTransition(immediateTrigger{})
}

// NewCompletion fires once count distinct sources have posted completion.
// A count of 0 means every source.
func NewCompletion(count int) *Transition {
	return newTransition(&joinTrigger{event: KindCompletion, count: count})
}

// NewSuccess fires once count distinct sources have posted success.
// A count of 0 means every source.
func NewSuccess(count int) *Transition {
	return newTransition(&joinTrigger{event: KindSuccess, count: count})
}

// NewFailure fires once count distinct sources have posted failure.
// A count of 0 means every source.
func NewFailure(count int) *Transition {
	return newTransition(&joinTrigger{event: KindFailure, count: count})
}

// NewTimer fires once d has elapsed since it was armed.
// A negative d is a configuration error.
func NewTimer(d time.Duration) (*Transition, error) {
	if d < 0 {
		return nil, &EngineError{
			Code:    ErrCodeInvalidDuration,
			Message: fmt.Sprintf("timer duration %s is negative", d),
		}
	}
	return newTransition(timerTrigger{d: d}), nil
}

// NewTap fires on a tap whose payload equals filter.
// An empty filter accepts any tap, and firing is then debounced by the
// runtime's debounce delay after the first tap.
func NewTap(filter string) *Transition {
	return newTransition(&tapTrigger{filter: filter})
}

// NewData fires on a data event from a source whose payload equals
// filter. A nil filter accepts any payload. Numbers compare by value
// across Go types, so a filter of 1 matches a payload of 1.0 or int64(1);
// other payloads compare with reflect.DeepEqual.
func NewData(filter any) *Transition {
	return newTransition(dataTrigger{filter: filter})
}

// NewTextMsg fires on a text message equal to filter after Unicode
// normalization. An empty filter accepts any message.
func NewTextMsg(filter string) *Transition {
	return newTransition(textTrigger{filter: normalizeText(filter)})
}

// NewRandom fires on the tick after it is armed and starts exactly one
// destination, chosen uniformly at random.
func NewRandom() *Transition {
	return newTransition(randomTrigger{})
}

// Named sets the transition's name and returns it.
func (t *Transition) Named(name string) *Transition {
	t.name = name
	return t
}

// Name returns the transition's name, or a name derived from its endpoints.
func (t *Transition) Name() string {
	if t.name != "" {
		return t.name
	}
	return fmt.Sprintf("%s:%s->%s", t.Kind(), joinNames(t.sources), joinNames(t.destinations))
}

// Kind returns the firing rule.
func (t *Transition) Kind() TransitionKind { return t.trig.kind() }

// Sources returns the source nodes in wiring order.
func (t *Transition) Sources() []*Node { return t.sources }

// Destinations returns the destination nodes in wiring order.
func (t *Transition) Destinations() []*Node { return t.destinations }

// Armed reports whether the transition is waiting to fire.
func (t *Transition) Armed() bool { return t.armed }

// Fires returns how many times the transition has fired.
func (t *Transition) Fires() int { return t.fires }

// Threshold returns the number of distinct sources a join needs, 0 for
// other kinds.
func (t *Transition) Threshold() int {
	if j, ok := t.trig.(*joinTrigger); ok {
		return j.threshold(t)
	}
	return 0
}

func (t *Transition) String() string {
	return fmt.Sprintf("%s[%s: %s -> %s]", t.Name(), t.Kind(), joinNames(t.sources), joinNames(t.destinations))
}

// AddSource wires n as a source. Sources and destinations must share a parent.
func (t *Transition) AddSource(n *Node) error {
	if err := t.checkSibling(n); err != nil {
		return err
	}
	for _, s := range t.sources {
		if s == n {
			return nil
		}
	}
	t.sources = append(t.sources, n)
	n.addTransition(t)
	return nil
}

// AddDestination wires n as a destination.
func (t *Transition) AddDestination(n *Node) error {
	if err := t.checkSibling(n); err != nil {
		return err
	}
	for _, d := range t.destinations {
		if d == n {
			return nil
		}
	}
	t.destinations = append(t.destinations, n)
	return nil
}

func (t *Transition) checkSibling(n *Node) error {
	var ref *Node
	switch {
	case len(t.sources) > 0:
		ref = t.sources[0]
	case len(t.destinations) > 0:
		ref = t.destinations[0]
	default:
		return nil
	}
	if ref.parent != n.parent {
		return &EngineError{
			Code:       ErrCodeNotSiblings,
			Message:    fmt.Sprintf("%s and %s do not share a parent", ref.Path(), n.Path()),
			Node:       n.Path(),
			Transition: t.Name(),
		}
	}
	return nil
}

// validate checks the wiring once building is complete.
func (t *Transition) validate() error {
	if len(t.sources) == 0 || len(t.destinations) == 0 {
		return &EngineError{
			Code:       ErrCodeMissingEndpoint,
			Message:    "transition needs at least one source and one destination",
			Transition: t.Name(),
		}
	}
	return t.trig.validate(t)
}

// Start arms the transition. Start on an armed transition is a no-op.
func (t *Transition) Start(ev *Event) {
	if t.armed {
		return
	}
	if t.rt == nil {
		panic(fmt.Sprintf("fsm: transition %q used before its graph was built", t.Name()))
	}
	t.armed = true
	t.trig.arm(t, ev)
}

// Stop disarms the transition, unless another source is still running.
func (t *Transition) Stop() {
	if !t.armed {
		return
	}
	for _, s := range t.sources {
		if s.Running() {
			return
		}
	}
	t.disarm()
}

func (t *Transition) disarm() {
	t.armed = false
	t.rt.bus.Unsubscribe(t)
	for _, h := range t.handles {
		h.Cancel()
	}
	t.handles = nil
}

// Fire stops every source and starts the destinations the trigger picks,
// handing them ev. Fire on a disarmed transition is a no-op.
func (t *Transition) Fire(ev *Event) {
	if !t.armed {
		return
	}
	t.disarm()
	t.fires++
	t.rt.transitionFired(t, ev)

	for _, s := range t.sources {
		s.Stop()
	}
	for _, d := range t.trig.pick(t) {
		d.Start(ev)
	}
}

// HandleEvent implements Listener.
func (t *Transition) HandleEvent(ev Event) error {
	if !t.armed {
		return nil
	}
	return t.trig.handle(t, ev)
}

func (t *Transition) subscribe(kind Kind, source *Node) {
	t.rt.bus.Subscribe(kind, source, t)
}

func (t *Transition) hold(h *sched.Handle) {
	t.handles = append(t.handles, h)
}

func (t *Transition) isSource(n *Node) bool {
	for _, s := range t.sources {
		if s == n {
			return true
		}
	}
	return false
}

func joinNames(nodes []*Node) string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.name
	}
	return strings.Join(names, ",")
}
