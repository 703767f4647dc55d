package store

import (
	"context"
	"fmt"

	"github.com/roach88/statenet/internal/ir"
)

// WriteRun inserts a run header.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
func (s *Store) WriteRun(ctx context.Context, run ir.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, graph, graph_digest, started_at, outcome, engine_version, ir_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.Graph,
		run.GraphDigest,
		run.StartedAt,
		run.Outcome,
		ir.EngineVersion,
		ir.IRVersion,
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// FinishRun records how a run ended. The first outcome written wins.
func (s *Store) FinishRun(ctx context.Context, runID, outcome string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET outcome = ?
		WHERE id = ? AND outcome = ''
	`, outcome, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		// Already finished is fine, unknown is not.
		if _, err := s.ReadRun(ctx, runID); err != nil {
			return fmt.Errorf("finish run %s: %w", runID, err)
		}
	}
	return nil
}

// WriteRecord inserts one trace record.
// Uses ON CONFLICT(run_id, seq) DO NOTHING for idempotency.
//
// Note: The run referenced by RunID must exist (foreign key constraint).
func (s *Store) WriteRecord(ctx context.Context, rec ir.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records
		(run_id, seq, at_ns, type, node, transition, kind, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		rec.RunID,
		rec.Seq,
		rec.AtNS,
		string(rec.Type),
		rec.Node,
		rec.Transition,
		rec.Kind,
		rec.Payload,
	)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}
