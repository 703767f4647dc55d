package sched

import (
	"container/heap"
	"context"
	"log/slog"
	"time"
)

// DefaultMaxTicks bounds how many ticks RunUntilIdle may execute before the
// timeline must go idle.
const DefaultMaxTicks = 10000

// task is one scheduled callback.
type task struct {
	seq       int64
	at        time.Duration // deadline, only meaningful for timers
	fn        func()
	timer     bool
	index     int // position in the timer heap, -1 when not queued
	cancelled bool
	done      bool
}

// Handle cancels a callback returned by Soon or After.
// A nil Handle is valid and behaves as an already-finished callback.
type Handle struct {
	t *task
	s *Scheduler
}

// Cancel prevents the callback from running.
// Returns false if it already ran or was already cancelled.
func (h *Handle) Cancel() bool {
	if h == nil || h.t == nil || h.t.done || h.t.cancelled {
		return false
	}
	h.t.cancelled = true
	if h.t.timer && h.t.index >= 0 {
		heap.Remove(&h.s.timers, h.t.index)
	}
	return true
}

// Pending reports whether the callback is still waiting to run.
func (h *Handle) Pending() bool {
	return h != nil && h.t != nil && !h.t.done && !h.t.cancelled
}

// timerHeap orders timers by (deadline, seq).
type timerHeap []*task

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Scheduler is the cooperative single-threaded timeline.
//
// Thread-safety model:
//   - Inject(), Close(): safe from any goroutine
//   - everything else: must be called from the timeline goroutine only
//
// INVARIANTS:
//   - callbacks scheduled with Soon during a tick run on a later tick
//   - timers run in (deadline, seq) order
//   - once aborted, no further callback runs
type Scheduler struct {
	clock  *Clock
	now    time.Duration
	ready  []*task
	timers timerHeap
	inbox  *inbox
	logger *slog.Logger

	maxTicks int
	wall     func() time.Time

	err error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used for timeline diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithMaxTicks sets the tick quota per idle cycle.
//
// Default: 10000 ticks (DefaultMaxTicks)
// Use WithMaxTicks(10) in tests that exercise runaway loops.
func WithMaxTicks(n int) Option {
	return func(s *Scheduler) {
		s.maxTicks = n
	}
}

// WithWallClock overrides the wall clock used by Run.
func WithWallClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.wall = now
	}
}

// New creates an idle scheduler at time zero.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:    NewClock(),
		inbox:    newInbox(),
		logger:   slog.Default(),
		maxTicks: DefaultMaxTicks,
		wall:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clock returns the logical clock shared by everything on this timeline.
func (s *Scheduler) Clock() *Clock {
	return s.clock
}

// Now returns the timeline's current time, measured from its start.
func (s *Scheduler) Now() time.Duration {
	return s.now
}

// Err returns the error the timeline was aborted with, if any.
func (s *Scheduler) Err() error {
	return s.err
}

// Soon schedules fn to run on the next tick.
func (s *Scheduler) Soon(fn func()) *Handle {
	t := &task{seq: s.clock.Next(), fn: fn, index: -1}
	s.ready = append(s.ready, t)
	return &Handle{t: t, s: s}
}

// After schedules fn to run once d has elapsed on the timeline.
// A negative d is treated as zero; callers that must reject negative
// durations validate them before scheduling.
func (s *Scheduler) After(d time.Duration, fn func()) *Handle {
	if d < 0 {
		d = 0
	}
	t := &task{seq: s.clock.Next(), at: s.now + d, fn: fn, timer: true, index: -1}
	heap.Push(&s.timers, t)
	return &Handle{t: t, s: s}
}

// Inject hands fn to the timeline from any goroutine.
// fn runs on the tick following its arrival. Returns false after Close.
func (s *Scheduler) Inject(fn func()) bool {
	return s.inbox.Push(fn)
}

// Abort stops the timeline. The first error wins; later calls are ignored.
func (s *Scheduler) Abort(err error) {
	if err == nil || s.err != nil {
		return
	}
	s.err = err
	s.logger.Error("timeline aborted", "err", err, "now", s.now)
}

// Close stops accepting injected work. Run returns ErrClosed once the
// timeline has no ready work left.
func (s *Scheduler) Close() {
	s.inbox.Close()
}

// Idle reports whether there is nothing to run without advancing time.
func (s *Scheduler) Idle() bool {
	return len(s.ready) == 0 && s.inbox.Len() == 0
}

// PendingTimers returns the number of armed timers.
func (s *Scheduler) PendingTimers() int {
	return len(s.timers)
}

// NextDeadline returns the earliest timer deadline.
func (s *Scheduler) NextDeadline() (time.Duration, bool) {
	if len(s.timers) == 0 {
		return 0, false
	}
	return s.timers[0].at, true
}

// Tick runs one pass of the ready queue.
//
// Injected work is appended first, then the current ready queue is
// snapshotted: callbacks scheduled while the pass runs wait for the next
// tick. Returns the number of callbacks executed.
func (s *Scheduler) Tick() int {
	for _, fn := range s.inbox.Drain() {
		s.ready = append(s.ready, &task{seq: s.clock.Next(), fn: fn, index: -1})
	}

	batch := s.ready
	s.ready = nil

	ran := 0
	for i, t := range batch {
		if s.err != nil {
			// Drop everything else in this pass.
			for _, rest := range batch[i:] {
				rest.cancelled = true
			}
			break
		}
		if t.cancelled {
			continue
		}
		t.done = true
		t.fn()
		ran++
	}
	return ran
}

// RunUntilIdle ticks until no ready work remains, without advancing time.
func (s *Scheduler) RunUntilIdle() error {
	ticks := 0
	for s.err == nil && !s.Idle() {
		if ticks >= s.maxTicks {
			s.Abort(&QuotaError{Ticks: ticks, MaxTicks: s.maxTicks, Now: s.now.String()})
			break
		}
		s.Tick()
		ticks++
	}
	return s.err
}

// fireNext runs the earliest timer if its deadline is at or before limit.
func (s *Scheduler) fireNext(limit time.Duration) bool {
	if len(s.timers) == 0 || s.timers[0].at > limit {
		return false
	}
	t := heap.Pop(&s.timers).(*task)
	if t.at > s.now {
		s.now = t.at
	}
	t.done = true
	t.fn()
	return true
}

// Advance moves virtual time forward by d.
//
// Due timers run one at a time in (deadline, seq) order; the ready queue is
// drained after each so the work a timer triggers completes before the next
// timer fires.
func (s *Scheduler) Advance(d time.Duration) error {
	if err := s.RunUntilIdle(); err != nil {
		return err
	}
	target := s.now + d
	for s.err == nil && s.fireNext(target) {
		if err := s.RunUntilIdle(); err != nil {
			return err
		}
	}
	if s.err == nil && target > s.now {
		s.now = target
	}
	return s.err
}

// Run drives the timeline against the wall clock.
//
// Blocks until ctx is done, the timeline aborts, or Close is called and no
// ready work remains. Returns ctx.Err(), the abort error, or ErrClosed.
//
// CRITICAL: must be called from exactly one goroutine; every callback on
// this timeline executes inside it.
func (s *Scheduler) Run(ctx context.Context) error {
	origin := s.wall().Add(-s.now)
	s.logger.Debug("timeline running", "now", s.now)

	for {
		if err := s.RunUntilIdle(); err != nil {
			return err
		}

		// Timers never run behind the logical clock.
		if elapsed := s.wall().Sub(origin); elapsed > s.now {
			s.now = elapsed
		}
		if s.fireNext(s.now) {
			continue
		}

		if s.inbox.Closed() && s.inbox.Len() == 0 {
			s.logger.Debug("timeline stopping: closed", "now", s.now)
			return ErrClosed
		}

		var (
			timer *time.Timer
			wake  <-chan time.Time
		)
		if next, ok := s.NextDeadline(); ok {
			timer = time.NewTimer(next - s.now)
			wake = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			s.logger.Debug("timeline stopping: context done", "now", s.now)
			return ctx.Err()
		case <-s.inbox.Wait():
		case <-wake:
		}
		stopTimer(timer)
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
