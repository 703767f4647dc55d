package engine

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statenet/internal/behaviors"
	"github.com/roach88/statenet/internal/compiler"
	"github.com/roach88/statenet/internal/fsm"
	"github.com/roach88/statenet/internal/ir"
	"github.com/roach88/statenet/internal/sched"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRuntime() (*sched.Scheduler, *fsm.Runtime) {
	logger := quietLogger()
	s := sched.New(sched.WithLogger(logger))
	return s, fsm.NewRuntime(s, fsm.WithLogger(logger))
}

// patrolSpec walks main/look -> main/walk on completion, then succeeds
// after the walk's wait elapses.
func patrolSpec() *ir.GraphSpec {
	return &ir.GraphSpec{
		Name: "patrol",
		Root: "main",
		Nodes: []ir.NodeSpec{
			{Name: "main"},
			{Name: "look", Parent: "main", Behavior: "print", Params: map[string]any{"text": "looking"}},
			{Name: "walk", Parent: "main", Behavior: "wait", Params: map[string]any{"duration": "2s"}},
			{Name: "done", Parent: "main", Behavior: "parent_succeeds"},
		},
		Transitions: []ir.TransitionSpec{
			{Name: "start", Kind: "completion", From: []string{"look"}, To: []string{"walk"}},
			{Name: "tired", Kind: "completion", From: []string{"walk"}, To: []string{"done"}},
			{Name: "word", Kind: "text", From: []string{"walk"}, To: []string{"look"}, Match: "again"},
		},
	}
}

func TestAssemble_Patrol(t *testing.T) {
	var out bytes.Buffer
	reg := behaviors.Default(behaviors.WithOutput(&out))
	s, rt := newTestRuntime()

	g, err := Assemble(patrolSpec(), reg, rt)
	require.NoError(t, err)

	assert.Equal(t, "main", g.Root().Path())
	look, ok := g.Lookup("main/look")
	require.True(t, ok)
	walk, ok := g.Lookup("main/walk")
	require.True(t, ok)
	done, ok := g.Lookup("main/done")
	require.True(t, ok)

	var names []string
	for _, tr := range g.Transitions() {
		names = append(names, tr.Name())
	}
	assert.Equal(t, []string{"start", "tired", "word"}, names)

	g.Start(nil)
	require.NoError(t, s.RunUntilIdle())
	assert.Equal(t, "looking\n", out.String())
	assert.False(t, look.Running())
	assert.True(t, walk.Running())

	require.NoError(t, s.Advance(2*time.Second))
	assert.False(t, walk.Running())
	assert.Equal(t, 1, done.Starts())
}

func TestAssemble_TextRestartsLook(t *testing.T) {
	var out bytes.Buffer
	reg := behaviors.Default(behaviors.WithOutput(&out))
	s, rt := newTestRuntime()

	g, err := Assemble(patrolSpec(), reg, rt)
	require.NoError(t, err)
	g.Start(nil)
	require.NoError(t, s.RunUntilIdle())

	rt.Post(fsm.NewEvent(fsm.KindText, nil, "again"))
	require.NoError(t, s.RunUntilIdle())

	look, _ := g.Lookup("main/look")
	assert.Equal(t, 2, look.Starts())
	assert.Equal(t, "looking\nlooking\n", out.String())
}

func TestAssemble_DeclaredRoot(t *testing.T) {
	spec := patrolSpec()
	spec.Nodes = append(spec.Nodes, ir.NodeSpec{Name: "spare"})
	spec.Root = "spare"

	_, rt := newTestRuntime()
	g, err := Assemble(spec, behaviors.Default(behaviors.WithOutput(io.Discard)), rt)
	require.NoError(t, err)
	assert.Equal(t, "spare", g.Root().Path())
	assert.Len(t, g.Roots(), 2)

	spec.Root = ""
	_, rt = newTestRuntime()
	_, err = Assemble(spec, behaviors.Default(), rt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(compiler.ErrRootInvalid))
}

func TestAssemble_ChildrenDeclaredBeforeParent(t *testing.T) {
	spec := &ir.GraphSpec{
		Name: "late",
		Nodes: []ir.NodeSpec{
			{Name: "leaf", Parent: "mid"},
			{Name: "mid", Parent: "top", Children: "all"},
			{Name: "top"},
		},
	}
	_, rt := newTestRuntime()
	g, err := Assemble(spec, behaviors.Default(), rt)
	require.NoError(t, err)

	leaf, ok := g.Lookup("top/mid/leaf")
	require.True(t, ok)
	assert.Equal(t, fsm.StartAll, leaf.Parent().ChildPolicy())
	assert.Equal(t, "top", g.Root().Path())
}

func TestAssemble_UnknownBehavior(t *testing.T) {
	spec := patrolSpec()
	spec.Nodes[1].Behavior = "dance"

	_, rt := newTestRuntime()
	_, err := Assemble(spec, behaviors.Default(), rt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(compiler.ErrUnknownBehavior))
	assert.Contains(t, err.Error(), `unknown behavior "dance"`)
}

func TestAssemble_CollectsAllErrors(t *testing.T) {
	spec := patrolSpec()
	spec.Nodes[1].Behavior = "dance"
	spec.Transitions[0].To = []string{"ghost"}
	spec.Transitions[1].Count = 5

	_, rt := newTestRuntime()
	_, err := Assemble(spec, behaviors.Default(), rt)
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, string(compiler.ErrUnknownBehavior))
	assert.Contains(t, msg, string(compiler.ErrUnknownEndpoint))
	assert.Contains(t, msg, string(compiler.ErrInvalidCount))
}

func TestAssemble_BadParams(t *testing.T) {
	spec := patrolSpec()
	spec.Nodes[2].Params = map[string]any{"duration": "-1s"}

	_, rt := newTestRuntime()
	_, err := Assemble(spec, behaviors.Default(), rt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `node "walk"`)
	assert.Contains(t, err.Error(), "negative")
}

func TestCheck_EmptyBehaviorIsKnown(t *testing.T) {
	errs := Check(patrolSpec(), behaviors.Default())
	assert.Empty(t, errs)
}

func TestNewTransition_Kinds(t *testing.T) {
	for _, kind := range []string{"immediate", "completion", "success", "failure", "tap", "data", "text", "random"} {
		tr, err := newTransition(ir.TransitionSpec{Kind: kind})
		require.NoError(t, err, kind)
		assert.Equal(t, fsm.TransitionKind(kind), tr.Kind())
	}

	tr, err := newTransition(ir.TransitionSpec{Kind: "timer", Duration: "150ms"})
	require.NoError(t, err)
	assert.Equal(t, fsm.TransitionTimer, tr.Kind())

	_, err = newTransition(ir.TransitionSpec{Kind: "timer", Duration: "soon"})
	assert.Error(t, err)
	_, err = newTransition(ir.TransitionSpec{Kind: "teleport"})
	assert.Error(t, err)
}
