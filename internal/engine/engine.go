package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/statenet/internal/behaviors"
	"github.com/roach88/statenet/internal/fsm"
	"github.com/roach88/statenet/internal/ir"
	"github.com/roach88/statenet/internal/sched"
	"github.com/roach88/statenet/internal/store"
)

// Engine turns a graph description into runs.
//
// Each call to Prepare builds a fresh scheduler, runtime and graph, so one
// Engine can run the same description many times.
type Engine struct {
	spec      *ir.GraphSpec
	registry  *behaviors.Registry
	logger    *slog.Logger
	store     *store.Store
	ids       RunIDGenerator
	observers []fsm.Observer

	seed     uint64
	seeded   bool
	debounce time.Duration
	maxTicks int
	agent    any
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for the engine, its scheduler and its runtime.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithRegistry sets the behavior registry. Defaults to behaviors.Default().
func WithRegistry(reg *behaviors.Registry) Option {
	return func(e *Engine) {
		e.registry = reg
	}
}

// WithStore records every run in s.
func WithStore(s *store.Store) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithRunIDs sets the run ID generator. Defaults to UUIDv7Generator.
func WithRunIDs(gen RunIDGenerator) Option {
	return func(e *Engine) {
		e.ids = gen
	}
}

// WithObserver attaches an observer to every run.
func WithObserver(o fsm.Observer) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, o)
	}
}

// WithSeed makes random transitions reproducible.
func WithSeed(seed uint64) Option {
	return func(e *Engine) {
		e.seed = seed
		e.seeded = true
	}
}

// WithDebounce sets the delay unfiltered tap transitions wait.
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) {
		e.debounce = d
	}
}

// WithMaxTicks bounds how many ticks may pass without the timeline going
// idle before the run is aborted.
func WithMaxTicks(n int) Option {
	return func(e *Engine) {
		e.maxTicks = n
	}
}

// WithAgent sets the handle behaviors reach through Node.Agent.
func WithAgent(agent any) Option {
	return func(e *Engine) {
		e.agent = agent
	}
}

// New creates an Engine for spec.
func New(spec *ir.GraphSpec, opts ...Option) *Engine {
	e := &Engine{
		spec:   spec,
		logger: slog.Default(),
		ids:    UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = behaviors.Default()
	}
	return e
}

// Spec returns the description the engine runs.
func (e *Engine) Spec() *ir.GraphSpec { return e.spec }

// Outcome reports how a run ended.
type Outcome struct {
	RunID string
	// Kind is the root's outcome event kind, or empty when the run ended
	// without one.
	Kind    fsm.Kind
	Payload any
	At      time.Duration
}

// Session is one prepared run: its timeline, runtime and graph.
//
// Stimulus sources attach to Runtime before Run; everything they do must
// go through Runtime.Inject or Runtime.Do.
type Session struct {
	runID    string
	spec     *ir.GraphSpec
	sched    *sched.Scheduler
	rt       *fsm.Runtime
	graph    *fsm.Graph
	store    *store.Store
	recorder *store.Recorder
	logger   *slog.Logger
	outcome  Outcome
	status   string
	started  bool
}

// Prepare builds a session. Nothing runs until Run, Start or Advance.
func (e *Engine) Prepare(ctx context.Context) (*Session, error) {
	digest, err := ir.GraphDigest(e.spec)
	if err != nil {
		return nil, err
	}

	runID := e.ids.Generate()
	logger := e.logger.With("run", runID, "graph", e.spec.Name)

	schedOpts := []sched.Option{sched.WithLogger(logger)}
	if e.maxTicks > 0 {
		schedOpts = append(schedOpts, sched.WithMaxTicks(e.maxTicks))
	}
	s := sched.New(schedOpts...)

	rtOpts := []fsm.RuntimeOption{fsm.WithLogger(logger), fsm.WithAgent(e.agent)}
	if e.seeded {
		rtOpts = append(rtOpts, fsm.WithSeed(e.seed))
	}
	if e.debounce > 0 {
		rtOpts = append(rtOpts, fsm.WithDebounce(e.debounce))
	}
	rt := fsm.NewRuntime(s, rtOpts...)

	g, err := Assemble(e.spec, e.registry, rt)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		runID:  runID,
		spec:   e.spec,
		sched:  s,
		rt:     rt,
		graph:  g,
		store:  e.store,
		logger: logger,
	}
	sess.outcome.RunID = runID

	if e.store != nil {
		if err := e.store.WriteRun(ctx, ir.Run{
			ID:          runID,
			Graph:       e.spec.Name,
			GraphDigest: digest,
			StartedAt:   time.Now().UnixMilli(),
		}); err != nil {
			return nil, err
		}
		// Records keep landing after the run's context ends, for the final stops.
		sess.recorder = store.NewRecorder(context.WithoutCancel(ctx), e.store, runID, rt.Now)
		rt.AddObserver(sess.recorder)
	}
	for _, o := range e.observers {
		rt.AddObserver(o)
	}
	rt.AddObserver(&outcomeWatch{sess: sess})

	return sess, nil
}

// RunID returns the session's run ID.
func (s *Session) RunID() string { return s.runID }

// Spec returns the description the session runs.
func (s *Session) Spec() *ir.GraphSpec { return s.spec }

// Runtime returns the session's runtime.
func (s *Session) Runtime() *fsm.Runtime { return s.rt }

// Graph returns the session's graph.
func (s *Session) Graph() *fsm.Graph { return s.graph }

// Scheduler returns the session's timeline.
func (s *Session) Scheduler() *sched.Scheduler { return s.sched }

// Outcome returns the outcome so far.
func (s *Session) Outcome() Outcome { return s.outcome }

// Status returns the outcome recorded for the run: the root's outcome
// kind, or stopped, cancelled, aborted or quota_exceeded. Empty until
// Finish has run.
func (s *Session) Status() string { return s.status }

// Done reports whether the root has posted its outcome.
func (s *Session) Done() bool { return s.outcome.Kind != "" }

// Start starts the root node. Use it when driving the timeline directly
// with the scheduler's Advance; Run starts the root itself.
func (s *Session) Start() {
	if s.started {
		return
	}
	s.started = true
	s.graph.Start(nil)
}

// Run starts the root on the timeline and drives it against the wall
// clock until the root posts an outcome, the timeline aborts, or ctx ends.
//
// Must be called from exactly one goroutine.
func (s *Session) Run(ctx context.Context) (Outcome, error) {
	s.sched.Soon(s.Start)
	s.logger.Info("run started")

	err := s.sched.Run(ctx)
	if errors.Is(err, sched.ErrClosed) {
		err = nil
	}
	return s.Finish(ctx, err)
}

// Finish stops the graph and records the outcome. runErr is the error the
// timeline ended with, if any; it is returned, joined with any store error.
func (s *Session) Finish(ctx context.Context, runErr error) (Outcome, error) {
	// Stimuli arriving from now on are refused instead of queued.
	s.sched.Close()
	s.graph.Stop()

	outcome := string(s.outcome.Kind)
	switch {
	case sched.IsQuotaError(runErr):
		outcome = "quota_exceeded"
	case runErr != nil && errors.Is(runErr, ctx.Err()):
		outcome = "cancelled"
	case runErr != nil:
		outcome = "aborted"
	case outcome == "":
		outcome = "stopped"
	}
	s.status = outcome
	s.logger.Info("run finished", "outcome", outcome, "at", s.sched.Now())

	if s.store == nil {
		return s.outcome, runErr
	}
	// The run's own context may be done; the trace still has to land.
	storeCtx := context.WithoutCancel(ctx)
	var storeErr error
	if s.recorder != nil && s.recorder.Err() != nil {
		storeErr = s.recorder.Err()
	}
	if err := s.store.FinishRun(storeCtx, s.runID, outcome); err != nil {
		storeErr = errors.Join(storeErr, err)
	}
	if storeErr != nil {
		return s.outcome, errors.Join(runErr, fmt.Errorf("record run %s: %w", s.runID, storeErr))
	}
	return s.outcome, runErr
}

// outcomeWatch ends the run when the root posts its outcome.
type outcomeWatch struct {
	fsm.NopObserver
	sess *Session
}

func (w *outcomeWatch) EventPosted(ev fsm.Event) {
	s := w.sess
	if s.Done() || !ev.Kind().IsOutcome() || ev.Source() != s.graph.Root() {
		return
	}
	s.outcome.Kind = ev.Kind()
	s.outcome.Payload = ev.Payload()
	s.outcome.At = s.sched.Now()
	s.sched.Close()
}
