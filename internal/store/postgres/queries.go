package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/purlieu-studios/DevPilot-sub002/internal/store"
)

const runColumns = `run_id, request, final_stage, success, requires_approval, approval_reason, revision_count, test_failures, message, duration_ms, created_at`

func scanRun(row pgx.Row) (store.RunRecord, error) {
	var r store.RunRecord
	var durationMS, createdAt int64
	if err := row.Scan(&r.RunID, &r.Request, &r.FinalStage, &r.Success, &r.RequiresApproval,
		&r.ApprovalReason, &r.RevisionCount, &r.TestFailures, &r.Message, &durationMS, &createdAt); err != nil {
		return r, err
	}
	r.Duration = time.Duration(durationMS) * time.Millisecond
	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	return r, nil
}

// SaveRun inserts the run and its transitions and artifacts in one
// transaction. Saving the same run ID again replaces the stored rows.
func (s *Store) SaveRun(ctx context.Context, run store.RunRecord, transitions []store.TransitionRecord, artifacts []store.ArtifactRecord) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
INSERT INTO runs(run_id, request, final_stage, success, requires_approval, approval_reason, revision_count, test_failures, message, duration_ms, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT(run_id) DO UPDATE SET
  final_stage=EXCLUDED.final_stage,
  success=EXCLUDED.success,
  requires_approval=EXCLUDED.requires_approval,
  approval_reason=EXCLUDED.approval_reason,
  revision_count=EXCLUDED.revision_count,
  test_failures=EXCLUDED.test_failures,
  message=EXCLUDED.message,
  duration_ms=EXCLUDED.duration_ms`,
		run.RunID, run.Request, run.FinalStage, run.Success, run.RequiresApproval,
		run.ApprovalReason, run.RevisionCount, run.TestFailures, run.Message,
		run.Duration.Milliseconds(), run.CreatedAt.Unix()); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM run_transitions WHERE run_id = $1`, run.RunID); err != nil {
		return err
	}
	for _, tr := range transitions {
		if _, err := tx.Exec(ctx, `
INSERT INTO run_transitions(run_id, seq, from_stage, to_stage, at) VALUES($1, $2, $3, $4, $5)`,
			tr.RunID, tr.Seq, tr.FromStage, tr.ToStage, tr.At.UnixNano()); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM run_artifacts WHERE run_id = $1`, run.RunID); err != nil {
		return err
	}
	for _, a := range artifacts {
		if _, err := tx.Exec(ctx, `
INSERT INTO run_artifacts(run_id, stage, output) VALUES($1, $2, $3)`,
			a.RunID, a.Stage, a.Output); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) GetRun(ctx context.Context, runID string) (*store.RunRecord, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = $1`, runID)
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) listRuns(ctx context.Context, query string, args ...any) ([]store.RunRecord, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]store.RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.listRuns(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT $1`, limit)
}

func (s *Store) ListAwaitingApproval(ctx context.Context) ([]store.RunRecord, error) {
	return s.listRuns(ctx, `SELECT `+runColumns+` FROM runs WHERE requires_approval ORDER BY created_at DESC`)
}

func (s *Store) GetTransitions(ctx context.Context, runID string) ([]store.TransitionRecord, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT run_id, seq, from_stage, to_stage, at FROM run_transitions WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.TransitionRecord
	for rows.Next() {
		var tr store.TransitionRecord
		var at int64
		if err := rows.Scan(&tr.RunID, &tr.Seq, &tr.FromStage, &tr.ToStage, &at); err != nil {
			return nil, err
		}
		tr.At = time.Unix(0, at).UTC()
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (s *Store) GetArtifacts(ctx context.Context, runID string) ([]store.ArtifactRecord, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT run_id, stage, output FROM run_artifacts WHERE run_id = $1 ORDER BY stage`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.ArtifactRecord
	for rows.Next() {
		var a store.ArtifactRecord
		if err := rows.Scan(&a.RunID, &a.Stage, &a.Output); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) GrantApproval(ctx context.Context, runID string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
UPDATE runs SET requires_approval = FALSE, approval_reason = '' WHERE run_id = $1 AND requires_approval`, runID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
