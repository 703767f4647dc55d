package fsm

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/roach88/statenet/internal/sched"
)

// DefaultDebounce is how long an unfiltered tap transition waits after the
// first tap before firing.
const DefaultDebounce = 100 * time.Millisecond

// Runtime is the execution context shared by every node and transition of
// a graph: the timeline, the event bus, the agent handle and the observers.
//
// A Runtime is explicitly constructed and explicitly passed; nothing in this
// package is process-wide. Give each independent graph its own Runtime.
type Runtime struct {
	sched     *sched.Scheduler
	bus       *Bus
	agent     any
	logger    *slog.Logger
	observers []Observer
	rng       *rand.Rand
	debounce  time.Duration
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithAgent sets the handle behaviors use to reach their domain resources.
// The engine never interprets it.
func WithAgent(agent any) RuntimeOption {
	return func(rt *Runtime) {
		rt.agent = agent
	}
}

// WithLogger sets the logger for engine diagnostics.
func WithLogger(logger *slog.Logger) RuntimeOption {
	return func(rt *Runtime) {
		rt.logger = logger
	}
}

// WithObserver adds an observer. Observers are notified in the order added.
func WithObserver(o Observer) RuntimeOption {
	return func(rt *Runtime) {
		rt.observers = append(rt.observers, o)
	}
}

// WithRand sets the random source used by random transitions.
func WithRand(r *rand.Rand) RuntimeOption {
	return func(rt *Runtime) {
		rt.rng = r
	}
}

// WithSeed seeds the random source used by random transitions.
func WithSeed(seed uint64) RuntimeOption {
	return func(rt *Runtime) {
		rt.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithDebounce sets the delay used by unfiltered tap transitions.
func WithDebounce(d time.Duration) RuntimeOption {
	return func(rt *Runtime) {
		rt.debounce = d
	}
}

// NewRuntime creates a runtime on the given timeline with a fresh bus.
func NewRuntime(s *sched.Scheduler, opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		sched:    s,
		bus:      NewBus(s.Clock()),
		logger:   slog.Default(),
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.rng == nil {
		seed := uint64(time.Now().UnixNano())
		rt.rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	rt.bus.onPost = rt.eventPosted
	rt.bus.onError = rt.abort
	return rt
}

// Scheduler returns the runtime's timeline.
func (rt *Runtime) Scheduler() *sched.Scheduler { return rt.sched }

// Bus returns the runtime's event bus.
func (rt *Runtime) Bus() *Bus { return rt.bus }

// Agent returns the agent handle set with WithAgent.
func (rt *Runtime) Agent() any { return rt.agent }

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.logger }

// Now returns the current time on the runtime's timeline.
func (rt *Runtime) Now() time.Duration { return rt.sched.Now() }

// AddObserver adds an observer after construction.
// Must be called from the timeline goroutine or before the graph starts.
func (rt *Runtime) AddObserver(o Observer) {
	rt.observers = append(rt.observers, o)
}

// Post delivers ev on the timeline. Must be called from the timeline goroutine.
func (rt *Runtime) Post(ev Event) Event {
	return rt.bus.Post(ev)
}

// Inject posts ev from any goroutine. The event is delivered on the next tick.
// Returns false once the timeline no longer accepts work.
func (rt *Runtime) Inject(ev Event) bool {
	return rt.sched.Inject(func() {
		rt.bus.Post(ev)
	})
}

// ErrTimelineClosed is returned by Do when the timeline no longer accepts work.
var ErrTimelineClosed = errors.New("timeline closed")

// Do runs fn on the timeline from another goroutine and waits until it has
// run or ctx is done. Calling Do from the timeline goroutine deadlocks.
func (rt *Runtime) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !rt.sched.Inject(func() {
		defer close(done)
		fn()
	}) {
		return ErrTimelineClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rt *Runtime) abort(err error) {
	rt.logger.Error("contract violation", "err", err)
	rt.sched.Abort(err)
}

func (rt *Runtime) nodeStarted(n *Node, ev *Event) {
	for _, o := range rt.observers {
		o.NodeStarted(n, ev)
	}
}

func (rt *Runtime) nodeStopped(n *Node) {
	for _, o := range rt.observers {
		o.NodeStopped(n)
	}
}

func (rt *Runtime) eventPosted(ev Event) {
	for _, o := range rt.observers {
		o.EventPosted(ev)
	}
}

func (rt *Runtime) transitionFired(t *Transition, ev *Event) {
	for _, o := range rt.observers {
		o.TransitionFired(t, ev)
	}
}
