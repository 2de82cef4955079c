// Package history journals every execution attempt to a local SQLite
// database. The journal is a per-worker diagnostic record; the
// authoritative lifecycle state lives in the coordination service.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/me/zkq/pkg/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	app         TEXT NOT NULL,
	job_id      TEXT NOT NULL,
	worker_id   TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	exit_code   INTEGER NOT NULL,
	stdout      TEXT NOT NULL DEFAULT '',
	stderr      TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_app ON runs(app, started_at);
`

// Store is the run-history journal.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the journal at dbPath. Use ":memory:" in tests.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db %s: %w", dbPath, err)
	}
	// WAL mode keeps reads cheap while the worker appends.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	return &Store{db: db, logger: logger.With("component", "history")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate history db: %w", err)
	}
	return nil
}

// Record appends one run.
func (s *Store) Record(ctx context.Context, run model.Run) error {
	s.logger.Debug("recording run", "app", run.App, "job_id", run.JobID, "outcome", run.Outcome)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, app, job_id, worker_id, outcome, exit_code,
		                  stdout, stderr, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.App, run.JobID, run.WorkerID, string(run.Outcome), run.ExitCode,
		run.Stdout, run.Stderr, run.StartedAt.UTC(), run.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record run %s/%s: %w", run.App, run.JobID, err)
	}
	return nil
}

// Recent returns the latest runs for app, newest first. An empty app
// returns runs across all apps.
func (s *Store) Recent(ctx context.Context, app string, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, app, job_id, worker_id, outcome, exit_code,
		       stdout, stderr, started_at, finished_at
		FROM runs`
	args := []any{}
	if app != "" {
		query += " WHERE app = ?"
		args = append(args, app)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs %s: %w", app, err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var outcome string
		var started, finished time.Time
		if err := rows.Scan(&r.ID, &r.App, &r.JobID, &r.WorkerID, &outcome,
			&r.ExitCode, &r.Stdout, &r.Stderr, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Outcome = model.Outcome(outcome)
		r.StartedAt = started
		r.FinishedAt = finished
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
