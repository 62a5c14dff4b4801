package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/purlieu-studios/DevPilot-sub002/internal/store"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the SQLite implementation of store.Store.
type Store struct {
	DB *sql.DB
}

// Open opens a SQLite database at home/protected/db.sqlite and runs migrations.
func Open(home string) (*Store, error) {
	dbPath := filepath.Join(home, "protected", "db.sqlite")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{DB: db}
	if err := s.initPragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *Store) initPragmas(ctx context.Context) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA cache_size=-20000;",
	}
	for _, q := range stmts {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store not initialized")
	}
	if _, err := s.DB.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at INTEGER NOT NULL
);`); err != nil {
		return err
	}
	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return err
	}
	files, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	var migs []migration
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		name := f.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}
		v, err := parseMigrationVersion(name)
		if err != nil {
			return err
		}
		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		migs = append(migs, migration{Version: v, Name: name, SQL: string(body)})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })
	for _, m := range migs {
		if applied[m.Version] {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}

type migration struct {
	Version int
	Name    string
	SQL     string
}

func (s *Store) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`, m.Version, time.Now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

func parseMigrationVersion(filename string) (int, error) {
	base := strings.TrimSuffix(filename, ".sql")
	parts := strings.SplitN(base, "_", 2)
	if len(parts) < 1 {
		return 0, fmt.Errorf("invalid migration filename: %s", filename)
	}
	v, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid migration version in %s", filename)
	}
	return v, nil
}

// SaveRun inserts the run and its transitions and artifacts in one
// transaction. Saving the same run ID again replaces the stored rows
// (used when an approved run is re-executed).
func (s *Store) SaveRun(ctx context.Context, run store.RunRecord, transitions []store.TransitionRecord, artifacts []store.ArtifactRecord) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO runs(run_id, request, final_stage, success, requires_approval, approval_reason, revision_count, test_failures, message, duration_ms, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
  final_stage=excluded.final_stage,
  success=excluded.success,
  requires_approval=excluded.requires_approval,
  approval_reason=excluded.approval_reason,
  revision_count=excluded.revision_count,
  test_failures=excluded.test_failures,
  message=excluded.message,
  duration_ms=excluded.duration_ms`,
		run.RunID, run.Request, run.FinalStage, boolToInt(run.Success), boolToInt(run.RequiresApproval),
		run.ApprovalReason, run.RevisionCount, run.TestFailures, run.Message,
		run.Duration.Milliseconds(), run.CreatedAt.Unix()); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_transitions WHERE run_id = ?`, run.RunID); err != nil {
		return err
	}
	for _, tr := range transitions {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO run_transitions(run_id, seq, from_stage, to_stage, at) VALUES(?, ?, ?, ?, ?)`,
			tr.RunID, tr.Seq, tr.FromStage, tr.ToStage, tr.At.UnixNano()); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_artifacts WHERE run_id = ?`, run.RunID); err != nil {
		return err
	}
	for _, a := range artifacts {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO run_artifacts(run_id, stage, output) VALUES(?, ?, ?)`,
			a.RunID, a.Stage, a.Output); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const runColumns = `run_id, request, final_stage, success, requires_approval, approval_reason, revision_count, test_failures, message, duration_ms, created_at`

func scanRun(scan func(dest ...any) error) (store.RunRecord, error) {
	var r store.RunRecord
	var success, requiresApproval int
	var durationMS, createdAt int64
	if err := scan(&r.RunID, &r.Request, &r.FinalStage, &success, &requiresApproval,
		&r.ApprovalReason, &r.RevisionCount, &r.TestFailures, &r.Message, &durationMS, &createdAt); err != nil {
		return r, err
	}
	r.Success = success != 0
	r.RequiresApproval = requiresApproval != 0
	r.Duration = time.Duration(durationMS) * time.Millisecond
	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	return r, nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (*store.RunRecord, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]store.RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.RunRecord
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListAwaitingApproval(ctx context.Context) ([]store.RunRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE requires_approval = 1 ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.RunRecord
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetTransitions(ctx context.Context, runID string) ([]store.TransitionRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT run_id, seq, from_stage, to_stage, at FROM run_transitions WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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
	rows, err := s.DB.QueryContext(ctx, `
SELECT run_id, stage, output FROM run_artifacts WHERE run_id = ? ORDER BY stage`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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
	res, err := s.DB.ExecContext(ctx, `
UPDATE runs SET requires_approval = 0, approval_reason = '' WHERE run_id = ? AND requires_approval = 1`, runID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
