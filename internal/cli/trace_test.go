package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statenet/internal/behaviors"
	"github.com/roach88/statenet/internal/engine"
	"github.com/roach88/statenet/internal/fsm"
	"github.com/roach88/statenet/internal/ir"
	"github.com/roach88/statenet/internal/store"
)

// patrolSpec succeeds after main/walk has waited one second, unless a
// "rest" text arrives first.
func patrolSpec() *ir.GraphSpec {
	return &ir.GraphSpec{
		Name: "patrol",
		Nodes: []ir.NodeSpec{
			{Name: "main"},
			{Name: "walk", Parent: "main", Behavior: "wait", Params: map[string]any{"duration": "1s"}},
			{Name: "home", Parent: "main", Behavior: "parent_succeeds"},
			{Name: "bench", Parent: "main", Behavior: "parent_completes"},
		},
		Transitions: []ir.TransitionSpec{
			{Name: "arrive", Kind: "completion", From: []string{"walk"}, To: []string{"home"}},
			{Name: "sit", Kind: "text", From: []string{"walk"}, To: []string{"bench"}, Match: "rest"},
		},
	}
}

// seedRuns records run-1 and run-2 walking home and run-3 sitting down,
// all on virtual time, and returns the database path.
func seedRuns(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	eng := engine.New(patrolSpec(),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithRegistry(behaviors.Default(behaviors.WithOutput(io.Discard))),
		engine.WithStore(st),
		engine.WithRunIDs(engine.NewFixedGenerator("run-1", "run-2", "run-3")),
	)
	for i := 0; i < 3; i++ {
		sess, err := eng.Prepare(ctx)
		require.NoError(t, err)
		sess.Start()
		require.NoError(t, sess.Scheduler().RunUntilIdle())
		if i == 2 {
			sess.Runtime().Post(fsm.NewEvent(fsm.KindText, nil, "rest"))
		}
		require.NoError(t, sess.Scheduler().Advance(time.Second))
		_, err = sess.Finish(ctx, nil)
		require.NoError(t, err)
	}
	return dbPath
}

func executeTrace(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTraceCommand_RequiresDB(t *testing.T) {
	_, err := executeTrace(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestTraceCommand_MissingDatabase(t *testing.T) {
	_, err := executeTrace(t, "text", "--db", filepath.Join(t.TempDir(), "none.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}

func TestTraceCommand_ListRuns(t *testing.T) {
	dbPath := seedRuns(t)

	out, err := executeTrace(t, "text", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "run-3")
	assert.Contains(t, out, "patrol")
	assert.Contains(t, out, "completion")

	out, err = executeTrace(t, "json", "--db", dbPath)
	require.NoError(t, err)
	var resp struct {
		Data []ir.Run `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Len(t, resp.Data, 3)
}

func TestTraceCommand_ListEmpty(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := executeTrace(t, "text", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")
}

func TestTraceCommand_ShowRun(t *testing.T) {
	dbPath := seedRuns(t)

	out, err := executeTrace(t, "text", "--db", dbPath, "run-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Run: run-1")
	assert.Contains(t, out, "Graph: patrol (")
	assert.Contains(t, out, "Outcome: success")
	assert.Contains(t, out, "Timeline:")
	assert.Contains(t, out, "transition_fired main transition=arrive kind=completion")
	assert.Contains(t, out, "1s node_started main/home")
	assert.Contains(t, out, "Stats: ")
}

func TestTraceCommand_ShowJSON(t *testing.T) {
	dbPath := seedRuns(t)

	out, err := executeTrace(t, "json", "--db", dbPath, "run-1")
	require.NoError(t, err)

	var resp struct {
		Data  TraceResult `json:"data"`
		RunID string      `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "success", resp.Data.Run.Outcome)
	require.NotEmpty(t, resp.Data.Timeline)

	first := resp.Data.Timeline[0]
	assert.Equal(t, "node_started", first.Type)
	assert.Equal(t, "main", first.Node)
	assert.Equal(t, "0s", first.At)

	stats := resp.Data.Stats
	assert.Equal(t, len(resp.Data.Timeline), stats.TotalRecords)
	assert.Equal(t, 3, stats.NodeStarts, "main, walk and home")
	assert.Equal(t, 1, stats.Firings)
	assert.Equal(t, stats.TotalRecords, stats.NodeStarts+stats.NodeStops+stats.Events+stats.Firings)
}

func TestTraceCommand_Latest(t *testing.T) {
	dbPath := seedRuns(t)

	out, err := executeTrace(t, "text", "--db", dbPath, "latest")
	require.NoError(t, err)
	assert.Contains(t, out, "Run: run-3")
	assert.Contains(t, out, "Outcome: completion")
}

func TestTraceCommand_UnknownRun(t *testing.T) {
	dbPath := seedRuns(t)

	out, err := executeTrace(t, "text", "--db", dbPath, "run-9")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, `no run "run-9"`)
}

func TestTraceCommand_Filters(t *testing.T) {
	dbPath := seedRuns(t)

	out, err := executeTrace(t, "json", "--db", dbPath, "run-1", "--node", "main/walk")
	require.NoError(t, err)
	var resp struct {
		Data TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.Data.Timeline)
	for _, step := range resp.Data.Timeline {
		assert.Equal(t, "main/walk", step.Node)
	}

	out, err = executeTrace(t, "json", "--db", dbPath, "run-3", "--type", "transition_fired")
	require.NoError(t, err)
	resp = struct {
		Data TraceResult `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Timeline, 1)
	assert.Equal(t, "sit", resp.Data.Timeline[0].Transition)

	out, err = executeTrace(t, "text", "--db", dbPath, "run-1", "--node", "nowhere")
	require.NoError(t, err)
	assert.Contains(t, out, "No records match.")
}

func TestTraceCommand_DiffIdentical(t *testing.T) {
	dbPath := seedRuns(t)

	out, err := executeTrace(t, "text", "--db", dbPath, "run-1", "--diff", "run-2")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ runs run-1 and run-2 took identical steps")
}

func TestTraceCommand_DiffDivergent(t *testing.T) {
	dbPath := seedRuns(t)

	out, err := executeTrace(t, "text", "--db", dbPath, "run-1", "--diff", "run-3")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ runs diverge at step")
	assert.Contains(t, out, "run-1: ")
	assert.Contains(t, out, "run-3: ")

	out, err = executeTrace(t, "json", "--db", dbPath, "run-1", "--diff", "run-3")
	require.Error(t, err)
	var resp struct {
		Data DiffResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.False(t, resp.Data.Identical)
	require.NotNil(t, resp.Data.LeftStep)
	require.NotNil(t, resp.Data.RightStep)
	assert.NotEqual(t, *resp.Data.LeftStep, *resp.Data.RightStep)
}

func TestTraceCommand_DiffNeedsRun(t *testing.T) {
	dbPath := seedRuns(t)

	_, err := executeTrace(t, "text", "--db", dbPath, "--diff", "run-2")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
