package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/roach88/statenet/internal/ir"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRun(id string, startedAt int64) ir.Run {
	return ir.Run{
		ID:          id,
		Graph:       "patrol",
		GraphDigest: "digest",
		StartedAt:   startedAt,
	}
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"runs", "records"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("foreign_keys", "1"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	defer s.Close()

	if err := s.WriteRun(context.Background(), testRun("r1", 1)); err != nil {
		t.Fatalf("WriteRun() failed: %v", err)
	}
}

func TestWriteRun_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.WriteRun(ctx, testRun("r1", 10)); err != nil {
			t.Fatalf("WriteRun() #%d failed: %v", i, err)
		}
	}

	runs, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
}

func TestFinishRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.WriteRun(ctx, testRun("r1", 10)); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishRun(ctx, "r1", "success"); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}
	// The first outcome wins.
	if err := s.FinishRun(ctx, "r1", "failure"); err != nil {
		t.Fatalf("second FinishRun() failed: %v", err)
	}

	run, err := s.ReadRun(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if run.Outcome != "success" {
		t.Errorf("outcome = %q, want %q", run.Outcome, "success")
	}

	err = s.FinishRun(ctx, "missing", "success")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("FinishRun(missing) = %v, want sql.ErrNoRows", err)
	}
}

func TestReadRun_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadRun(context.Background(), "nope")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("ReadRun() = %v, want sql.ErrNoRows", err)
	}
	_, err = s.LatestRun(context.Background())
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("LatestRun() = %v, want sql.ErrNoRows", err)
	}
}

func TestListRuns_Order(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, run := range []ir.Run{testRun("c", 20), testRun("b", 10), testRun("a", 20)} {
		if err := s.WriteRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	want := []string{"b", "a", "c"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}

	latest, err := s.LatestRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != "c" {
		t.Errorf("latest = %q, want %q", latest.ID, "c")
	}
}

func TestListRuns_Empty(t *testing.T) {
	s := createTestStore(t)

	runs, err := s.ListRuns(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if runs == nil || len(runs) != 0 {
		t.Errorf("ListRuns() = %#v, want empty non-nil slice", runs)
	}
}

func TestRecords_OrderAndFilter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.WriteRun(ctx, testRun("r1", 1)); err != nil {
		t.Fatal(err)
	}
	recs := []ir.Record{
		{RunID: "r1", Seq: 3, Type: ir.RecordNodeStopped, Node: "main/a"},
		{RunID: "r1", Seq: 1, Type: ir.RecordNodeStarted, Node: "main"},
		{RunID: "r1", Seq: 2, Type: ir.RecordEventPosted, Node: "main/a", Kind: "success", Payload: `"ok"`},
	}
	for _, rec := range recs {
		if err := s.WriteRecord(ctx, rec); err != nil {
			t.Fatalf("WriteRecord(%d) failed: %v", rec.Seq, err)
		}
	}
	// Duplicate seq is ignored.
	if err := s.WriteRecord(ctx, ir.Record{RunID: "r1", Seq: 1, Type: ir.RecordNodeStopped}); err != nil {
		t.Fatalf("duplicate WriteRecord() failed: %v", err)
	}

	got, err := s.ReadRecords(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	for i, rec := range got {
		if rec.Seq != int64(i+1) {
			t.Errorf("record %d has seq %d", i, rec.Seq)
		}
	}
	if got[0].Type != ir.RecordNodeStarted {
		t.Errorf("duplicate write replaced record 1: %+v", got[0])
	}
	if got[1].Payload != `"ok"` {
		t.Errorf("payload = %q", got[1].Payload)
	}

	filtered, err := s.ReadRecords(ctx, "r1", ir.RecordNodeStarted, ir.RecordNodeStopped)
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 2 || filtered[0].Seq != 1 || filtered[1].Seq != 3 {
		t.Errorf("filtered = %+v", filtered)
	}
}

func TestWriteRecord_RequiresRun(t *testing.T) {
	s := createTestStore(t)

	err := s.WriteRecord(context.Background(), ir.Record{RunID: "ghost", Seq: 1, Type: ir.RecordNodeStarted})
	if err == nil {
		t.Error("WriteRecord() for unknown run should fail the foreign key")
	}
}

func TestFirstDivergence(t *testing.T) {
	a := []ir.Record{
		{RunID: "x", Seq: 1, Type: ir.RecordNodeStarted, Node: "main"},
		{RunID: "x", Seq: 2, Type: ir.RecordNodeStarted, Node: "main/a"},
	}
	b := []ir.Record{
		{RunID: "y", Seq: 1, Type: ir.RecordNodeStarted, Node: "main"},
		{RunID: "y", Seq: 2, Type: ir.RecordNodeStarted, Node: "main/b"},
	}

	if d := FirstDivergence(a, a[:2]); d != nil {
		t.Errorf("identical runs diverged at %d", d.Index)
	}

	d := FirstDivergence(a, b)
	if d == nil || d.Index != 1 || d.Left.Node != "main/a" || d.Right.Node != "main/b" {
		t.Errorf("divergence = %+v", d)
	}

	d = FirstDivergence(a, a[:1])
	if d == nil || d.Index != 1 || d.Right != nil {
		t.Errorf("shorter right run: %+v", d)
	}
}
