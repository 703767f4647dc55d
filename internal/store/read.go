package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/statenet/internal/ir"
)

// ReadRun retrieves a single run header by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (ir.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, graph, graph_digest, started_at, outcome
		FROM runs
		WHERE id = ?
	`, id)

	var run ir.Run
	if err := row.Scan(&run.ID, &run.Graph, &run.GraphDigest, &run.StartedAt, &run.Outcome); err != nil {
		if err == sql.ErrNoRows {
			return ir.Run{}, err
		}
		return ir.Run{}, fmt.Errorf("scan run: %w", err)
	}
	return run, nil
}

// ListRuns returns every run, oldest first. Runs started in the same
// millisecond are ordered by ID, which for UUIDv7 is creation order.
//
// Returns empty slice (not nil) if the store holds no runs.
func (s *Store) ListRuns(ctx context.Context) ([]ir.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, graph, graph_digest, started_at, outcome
		FROM runs
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []ir.Run{}
	for rows.Next() {
		var run ir.Run
		if err := rows.Scan(&run.ID, &run.Graph, &run.GraphDigest, &run.StartedAt, &run.Outcome); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LatestRun returns the most recently started run.
// Returns sql.ErrNoRows if the store holds no runs.
func (s *Store) LatestRun(ctx context.Context) (ir.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, graph, graph_digest, started_at, outcome
		FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY DESC
		LIMIT 1
	`)
	var run ir.Run
	if err := row.Scan(&run.ID, &run.Graph, &run.GraphDigest, &run.StartedAt, &run.Outcome); err != nil {
		if err == sql.ErrNoRows {
			return ir.Run{}, err
		}
		return ir.Run{}, fmt.Errorf("scan run: %w", err)
	}
	return run, nil
}

// ReadRecords returns the records of a run ordered by seq.
// When types is non-empty only records of those types are returned.
//
// Returns empty slice (not nil) if no records exist for the run.
func (s *Store) ReadRecords(ctx context.Context, runID string, types ...ir.RecordType) ([]ir.Record, error) {
	query := `
		SELECT run_id, seq, at_ns, type, node, transition, kind, payload
		FROM records
		WHERE run_id = ?`
	args := []any{runID}
	if len(types) > 0 {
		query += " AND type IN (?"
		args = append(args, string(types[0]))
		for _, t := range types[1:] {
			query += ", ?"
			args = append(args, string(t))
		}
		query += ")"
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []ir.Record{}
	for rows.Next() {
		var rec ir.Record
		var typ string
		if err := rows.Scan(&rec.RunID, &rec.Seq, &rec.AtNS, &typ, &rec.Node, &rec.Transition, &rec.Kind, &rec.Payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Type = ir.RecordType(typ)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// Divergence describes the first step where two runs differ.
type Divergence struct {
	Index int        // position in both record lists
	Left  *ir.Record // nil when the left run ended first
	Right *ir.Record // nil when the right run ended first
}

// CompareRuns reports the first step at which two runs differ, ignoring
// run IDs and seq numbering. Returns nil when the runs took identical steps.
func (s *Store) CompareRuns(ctx context.Context, leftID, rightID string) (*Divergence, error) {
	left, err := s.ReadRecords(ctx, leftID)
	if err != nil {
		return nil, err
	}
	right, err := s.ReadRecords(ctx, rightID)
	if err != nil {
		return nil, err
	}
	return FirstDivergence(left, right), nil
}

// FirstDivergence compares two record lists step by step.
func FirstDivergence(left, right []ir.Record) *Divergence {
	for i := 0; i < len(left) || i < len(right); i++ {
		switch {
		case i >= len(left):
			return &Divergence{Index: i, Right: &right[i]}
		case i >= len(right):
			return &Divergence{Index: i, Left: &left[i]}
		case !sameStep(left[i], right[i]):
			return &Divergence{Index: i, Left: &left[i], Right: &right[i]}
		}
	}
	return nil
}

func sameStep(a, b ir.Record) bool {
	return a.AtNS == b.AtNS &&
		a.Type == b.Type &&
		a.Node == b.Node &&
		a.Transition == b.Transition &&
		a.Kind == b.Kind &&
		a.Payload == b.Payload
}
