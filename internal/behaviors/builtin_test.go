package behaviors

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statenet/internal/fsm"
	"github.com/roach88/statenet/internal/sched"
)

// posted records every event posted on the bus.
type posted struct {
	fsm.NopObserver
	events []fsm.Event
}

func (p *posted) EventPosted(ev fsm.Event) { p.events = append(p.events, ev) }

func (p *posted) strings() []string {
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.String()
	}
	return out
}

func newRuntime(t *testing.T) (*fsm.Runtime, *sched.Scheduler, *posted) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := sched.New(sched.WithLogger(logger))
	obs := &posted{}
	return fsm.NewRuntime(s, fsm.WithLogger(logger), fsm.WithSeed(1), fsm.WithObserver(obs)), s, obs
}

func mustNew(t *testing.T, r *Registry, name string, params map[string]any) fsm.Behavior {
	t.Helper()
	b, err := r.New(name, params)
	require.NoError(t, err)
	return b
}

func TestRegistry_Names(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{
		"complete", "emit", "fail", "iterate", "noop",
		"parent_completes", "parent_fails", "parent_succeeds",
		"print", "succeed", "wait",
	}, r.Names())
	assert.True(t, r.Has(""))
	assert.False(t, r.Has("dance"))
}

func TestRegistry_Unknown(t *testing.T) {
	_, err := Default().New("dance", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownBehavior))
}

func TestRegistry_EmptyNameIsNoop(t *testing.T) {
	b, err := Default().New("", nil)
	require.NoError(t, err)
	assert.NotNil(t, b)
}

func TestRegistry_ParamErrors(t *testing.T) {
	tests := []struct {
		name     string
		behavior string
		params   map[string]any
	}{
		{"unknown key", "print", map[string]any{"txt": "hi"}},
		{"params on complete", "complete", map[string]any{"x": 1}},
		{"bad duration", "wait", map[string]any{"duration": "soon"}},
		{"negative duration", "wait", map[string]any{"duration": "-1s"}},
		{"emit without data", "emit", nil},
		{"items and count", "iterate", map[string]any{"items": []any{1}, "count": 2}},
		{"negative count", "iterate", map[string]any{"count": -1}},
		{"count too large", "iterate", map[string]any{"count": MaxIterateCount + 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Default().New(tt.behavior, tt.params)
			assert.Error(t, err)
		})
	}
}

func TestRegistry_RegisterOverrides(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register("custom", func(map[string]any) (fsm.Behavior, error) {
		return fsm.BehaviorFunc(func(*fsm.Node, *fsm.Event) { called = true }), nil
	})

	rt, s, _ := newRuntime(t)
	b := fsm.NewBuilder(rt)
	b.Node("n", mustNew(t, r, "custom", nil))
	g, err := b.Build()
	require.NoError(t, err)

	g.Start(nil)
	require.NoError(t, s.RunUntilIdle())
	assert.True(t, called)
}

func TestPrint(t *testing.T) {
	var out bytes.Buffer
	r := Default(WithOutput(&out))

	rt, s, obs := newRuntime(t)
	b := fsm.NewBuilder(rt)
	main := b.Node("main", nil)
	b.Child(main, "hello", mustNew(t, r, "print", map[string]any{"text": "hi there"}))
	g, err := b.Build()
	require.NoError(t, err)

	g.Start(nil)
	require.NoError(t, s.RunUntilIdle())

	assert.Equal(t, "hi there\n", out.String())
	assert.Equal(t, []string{"completion(main/hello)"}, obs.strings())
}

func TestPrint_DefaultsToPath(t *testing.T) {
	var out bytes.Buffer
	r := Default(WithOutput(&out))

	rt, s, _ := newRuntime(t)
	b := fsm.NewBuilder(rt)
	main := b.Node("main", nil)
	b.Child(main, "quiet", mustNew(t, r, "print", nil))
	g, err := b.Build()
	require.NoError(t, err)

	g.Start(nil)
	require.NoError(t, s.RunUntilIdle())
	assert.Equal(t, "main/quiet\n", out.String())
}

func TestOutcomes(t *testing.T) {
	tests := []struct {
		behavior string
		params   map[string]any
		want     string
	}{
		{"complete", nil, "completion(main/n)"},
		{"succeed", map[string]any{"details": "ok"}, "success(main/n, ok)"},
		{"fail", nil, "failure(main/n)"},
		{"emit", map[string]any{"data": "x"}, "data(main/n, x)"},
		{"parent_completes", nil, "completion(main)"},
		{"parent_succeeds", nil, "success(main)"},
		{"parent_fails", nil, "failure(main)"},
	}

	for _, tt := range tests {
		t.Run(tt.behavior, func(t *testing.T) {
			rt, s, obs := newRuntime(t)
			b := fsm.NewBuilder(rt)
			main := b.Node("main", nil)
			b.Child(main, "n", mustNew(t, Default(), tt.behavior, tt.params))
			g, err := b.Build()
			require.NoError(t, err)

			g.Start(nil)
			require.NoError(t, s.RunUntilIdle())
			assert.Equal(t, []string{tt.want}, obs.strings())
		})
	}
}

func TestParentOutcome_TopLevelIsSilent(t *testing.T) {
	rt, s, obs := newRuntime(t)
	b := fsm.NewBuilder(rt)
	b.Node("alone", mustNew(t, Default(), "parent_completes", nil))
	g, err := b.Build()
	require.NoError(t, err)

	g.Start(nil)
	require.NoError(t, s.RunUntilIdle())
	assert.Empty(t, obs.events)
}

func TestWait(t *testing.T) {
	rt, s, obs := newRuntime(t)
	b := fsm.NewBuilder(rt)
	main := b.Node("main", nil)
	b.Child(main, "pause", mustNew(t, Default(), "wait", map[string]any{"duration": "2s"}))
	g, err := b.Build()
	require.NoError(t, err)

	g.Start(nil)
	require.NoError(t, s.Advance(1999*time.Millisecond))
	assert.Empty(t, obs.events)

	require.NoError(t, s.Advance(time.Millisecond))
	assert.Equal(t, []string{"completion(main/pause)"}, obs.strings())
}

func TestWait_CancelledByStop(t *testing.T) {
	rt, s, obs := newRuntime(t)
	b := fsm.NewBuilder(rt)
	main := b.Node("main", nil)
	b.Child(main, "pause", mustNew(t, Default(), "wait", map[string]any{"duration": "1s"}))
	g, err := b.Build()
	require.NoError(t, err)

	g.Start(nil)
	require.NoError(t, s.Advance(500*time.Millisecond))
	g.Stop()
	require.NoError(t, s.Advance(time.Second))

	assert.Empty(t, obs.events)
	assert.Equal(t, 0, s.PendingTimers())
}

// iterateLoop wires it --data--> body --completion--> it, and
// it --completion--> done.
func iterateLoop(t *testing.T, params map[string]any) (*fsm.Graph, *sched.Scheduler, *posted) {
	t.Helper()
	rt, s, obs := newRuntime(t)
	b := fsm.NewBuilder(rt)
	main := b.Node("main", nil)
	it := b.Child(main, "it", mustNew(t, Default(), "iterate", params))
	body := b.Child(main, "body", mustNew(t, Default(), "complete", nil))
	done := b.Child(main, "done", nil)
	b.Wire(fsm.NewData(nil), []*fsm.Node{it}, []*fsm.Node{body})
	b.Wire(fsm.NewCompletion(0), []*fsm.Node{body}, []*fsm.Node{it})
	b.Wire(fsm.NewCompletion(0), []*fsm.Node{it}, []*fsm.Node{done})
	g, err := b.Build()
	require.NoError(t, err)
	return g, s, obs
}

func dataFrom(obs *posted, path string) []any {
	var out []any
	for _, ev := range obs.events {
		if ev.Kind() == fsm.KindData && ev.Source().Path() == path {
			out = append(out, ev.Payload())
		}
	}
	return out
}

func TestIterate_Items(t *testing.T) {
	g, s, obs := iterateLoop(t, map[string]any{"items": []any{"a", "b", "c"}})

	g.Start(nil)
	require.NoError(t, s.RunUntilIdle())

	assert.Equal(t, []any{"a", "b", "c"}, dataFrom(obs, "main/it"))
	done, ok := g.Lookup("main/done")
	require.True(t, ok)
	assert.True(t, done.Running())
}

func TestIterate_Count(t *testing.T) {
	g, s, obs := iterateLoop(t, map[string]any{"count": 3})

	g.Start(nil)
	require.NoError(t, s.RunUntilIdle())

	assert.Equal(t, []any{0, 1, 2}, dataFrom(obs, "main/it"))
}

func TestIterate_RestartsAfterExhaustion(t *testing.T) {
	g, s, obs := iterateLoop(t, map[string]any{"items": []any{"x"}})

	g.Start(nil)
	require.NoError(t, s.RunUntilIdle())
	g.Stop()
	g.Start(nil)
	require.NoError(t, s.RunUntilIdle())

	assert.Equal(t, []any{"x", "x"}, dataFrom(obs, "main/it"))
}

func TestIterate_ItemsFromData(t *testing.T) {
	rt, s, obs := newRuntime(t)
	b := fsm.NewBuilder(rt)
	main := b.Node("main", nil)
	src := b.Child(main, "src", mustNew(t, Default(), "emit", map[string]any{"data": []any{"p", "q"}}))
	it := b.Child(main, "it", mustNew(t, Default(), "iterate", nil))
	b.Wire(fsm.NewData(nil), []*fsm.Node{src}, []*fsm.Node{it})
	g, err := b.Build()
	require.NoError(t, err)

	g.Start(nil)
	require.NoError(t, s.RunUntilIdle())

	assert.Equal(t, []any{"p"}, dataFrom(obs, "main/it"))
}

func TestIterate_OversizedDataIsIgnored(t *testing.T) {
	for _, payload := range []any{float64(1e15), float64(MaxIterateCount + 1), int64(1) << 40, -3, 2.5} {
		rt, s, obs := newRuntime(t)
		b := fsm.NewBuilder(rt)
		main := b.Node("main", nil)
		src := b.Child(main, "src", mustNew(t, Default(), "emit", map[string]any{"data": payload}))
		it := b.Child(main, "it", mustNew(t, Default(), "iterate", map[string]any{"items": []any{"kept"}}))
		b.Wire(fsm.NewData(nil), []*fsm.Node{src}, []*fsm.Node{it})
		g, err := b.Build()
		require.NoError(t, err)

		assert.NotPanics(t, func() {
			g.Start(nil)
			require.NoError(t, s.RunUntilIdle())
		}, "payload %v", payload)
		assert.Equal(t, []any{"kept"}, dataFrom(obs, "main/it"), "payload %v", payload)
	}
}

func TestAsItems_Bounds(t *testing.T) {
	items, ok := asItems(float64(3))
	require.True(t, ok)
	assert.Equal(t, []any{0, 1, 2}, items)

	items, ok = asItems(MaxIterateCount)
	require.True(t, ok)
	assert.Len(t, items, MaxIterateCount)

	for _, v := range []any{MaxIterateCount + 1, int64(-1), float64(1e15), float64(-1), "3"} {
		_, ok := asItems(v)
		assert.False(t, ok, "%v", v)
	}
}
