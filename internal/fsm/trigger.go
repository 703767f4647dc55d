package fsm

import (
	"fmt"
	"reflect"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/statenet/internal/sched"
)

// trigger is the part of a transition that differs between kinds.
type trigger interface {
	kind() TransitionKind
	validate(t *Transition) error
	arm(t *Transition, ev *Event)
	handle(t *Transition, ev Event) error
	pick(t *Transition) []*Node
}

// allDestinations is the default pick.
type allDestinations struct{}

func (allDestinations) pick(t *Transition) []*Node { return t.destinations }

// rejectEvents is embedded by triggers that never subscribe to the bus.
type rejectEvents struct{}

func (rejectEvents) handle(t *Transition, ev Event) error {
	return newContractViolation(t, ev, "no events")
}

type noValidation struct{}

func (noValidation) validate(*Transition) error { return nil }

// immediateTrigger fires one tick after arming, so sibling startup work
// finishes before the sources are stopped.
type immediateTrigger struct {
	allDestinations
	rejectEvents
	noValidation
}

func (immediateTrigger) kind() TransitionKind { return TransitionImmediate }

func (immediateTrigger) arm(t *Transition, _ *Event) {
	t.hold(t.rt.sched.Soon(func() { t.Fire(nil) }))
}

// randomTrigger arms like immediateTrigger but picks one destination.
type randomTrigger struct {
	rejectEvents
	noValidation
}

func (randomTrigger) kind() TransitionKind { return TransitionRandom }

func (randomTrigger) arm(t *Transition, _ *Event) {
	t.hold(t.rt.sched.Soon(func() { t.Fire(nil) }))
}

func (randomTrigger) pick(t *Transition) []*Node {
	i := t.rt.rng.IntN(len(t.destinations))
	return t.destinations[i : i+1]
}

// joinTrigger is the barrier behind completion, success and failure
// transitions: it fires once count distinct sources have reported.
type joinTrigger struct {
	allDestinations
	event    Kind
	count    int
	observed map[*Node]bool
}

func (j *joinTrigger) kind() TransitionKind { return TransitionKind(j.event) }

func (j *joinTrigger) threshold(t *Transition) int {
	if j.count == 0 {
		return len(t.sources)
	}
	return j.count
}

func (j *joinTrigger) validate(t *Transition) error {
	if j.count < 0 || j.count > len(t.sources) {
		return &EngineError{
			Code:       ErrCodeInvalidThreshold,
			Message:    fmt.Sprintf("threshold %d outside 0..%d sources", j.count, len(t.sources)),
			Transition: t.Name(),
		}
	}
	return nil
}

func (j *joinTrigger) arm(t *Transition, _ *Event) {
	j.observed = make(map[*Node]bool, len(t.sources))
	for _, s := range t.sources {
		t.subscribe(j.event, s)
	}
}

func (j *joinTrigger) handle(t *Transition, ev Event) error {
	if ev.kind != j.event {
		return newContractViolation(t, ev, string(j.event))
	}
	if !t.isSource(ev.source) {
		return newContractViolation(t, ev, "an event from a source")
	}
	j.observed[ev.source] = true
	if len(j.observed) >= j.threshold(t) {
		t.Fire(&ev)
	}
	return nil
}

// timerTrigger fires unconditionally once its duration has elapsed.
type timerTrigger struct {
	allDestinations
	rejectEvents
	noValidation
	d time.Duration
}

func (timerTrigger) kind() TransitionKind { return TransitionTimer }

func (tt timerTrigger) arm(t *Transition, _ *Event) {
	t.hold(t.rt.sched.After(tt.d, func() { t.Fire(nil) }))
}

// tapTrigger listens for taps from any source. Without a filter the first
// tap starts a debounce delay and the transition fires when it expires.
type tapTrigger struct {
	allDestinations
	noValidation
	filter  string
	pending *sched.Handle
}

func (*tapTrigger) kind() TransitionKind { return TransitionTap }

func (tp *tapTrigger) arm(t *Transition, _ *Event) {
	tp.pending = nil
	t.subscribe(KindTap, nil)
}

func (tp *tapTrigger) handle(t *Transition, ev Event) error {
	if ev.kind != KindTap {
		return newContractViolation(t, ev, string(KindTap))
	}
	if tp.filter != "" {
		if id, ok := payloadString(ev.payload); ok && id == tp.filter {
			t.Fire(&ev)
		}
		return nil
	}
	if tp.pending.Pending() {
		return nil
	}
	tp.pending = t.rt.sched.After(t.rt.debounce, func() { t.Fire(&ev) })
	t.hold(tp.pending)
	return nil
}

// dataTrigger listens for data posted by its sources.
type dataTrigger struct {
	allDestinations
	noValidation
	filter any
}

func (dataTrigger) kind() TransitionKind { return TransitionData }

func (dataTrigger) arm(t *Transition, _ *Event) {
	for _, s := range t.sources {
		t.subscribe(KindData, s)
	}
}

func (dt dataTrigger) handle(t *Transition, ev Event) error {
	if ev.kind != KindData {
		return newContractViolation(t, ev, string(KindData))
	}
	if dt.filter == nil || payloadEqual(dt.filter, ev.payload) {
		t.Fire(&ev)
	}
	return nil
}

// textTrigger listens for text messages from any source.
type textTrigger struct {
	allDestinations
	noValidation
	filter string
}

func (textTrigger) kind() TransitionKind { return TransitionText }

func (textTrigger) arm(t *Transition, _ *Event) {
	t.subscribe(KindText, nil)
}

func (tx textTrigger) handle(t *Transition, ev Event) error {
	if ev.kind != KindText {
		return newContractViolation(t, ev, string(KindText))
	}
	msg, ok := payloadString(ev.payload)
	if !ok {
		return nil
	}
	if tx.filter == "" || normalizeText(msg) == tx.filter {
		t.Fire(&ev)
	}
	return nil
}

func normalizeText(s string) string {
	return norm.NFC.String(s)
}

// payloadEqual compares payloads structurally, treating numbers of
// different Go types as equal when their values are.
func payloadEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	return okA && okB && fa == fb
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	default:
		return 0, false
	}
}
