package fsm

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/statenet/internal/sched"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRuntime(t *testing.T, opts ...RuntimeOption) (*Runtime, *sched.Scheduler) {
	t.Helper()
	logger := discardLogger()
	s := sched.New(sched.WithLogger(logger))
	opts = append([]RuntimeOption{WithLogger(logger), WithSeed(1)}, opts...)
	return NewRuntime(s, opts...), s
}

// trace records what the engine did, in order.
type trace struct {
	NopObserver
	started []string
	stopped []string
	fired   []string
}

func (tr *trace) NodeStarted(n *Node, _ *Event) { tr.started = append(tr.started, n.Path()) }
func (tr *trace) NodeStopped(n *Node)           { tr.stopped = append(tr.stopped, n.Path()) }
func (tr *trace) TransitionFired(t *Transition, _ *Event) {
	tr.fired = append(tr.fired, t.Name())
}

func mustBuild(t *testing.T, b *Builder) *Graph {
	t.Helper()
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func succeedNow() Behavior {
	return BehaviorFunc(func(n *Node, _ *Event) { n.PostSuccess(nil) })
}

func nodes(ns ...*Node) []*Node { return ns }
