// Package stats persists per-task and per-run execution history so the
// Estimator and ContentionAnalyzer can correlate future runs against
// past ones (§4.7).
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// TaskExecution is one recorded task run, keyed by the task's
// cross-run Signature.
type TaskExecution struct {
	RunID      string
	Signature  string
	TaskID     string
	Instance   string
	Process    string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	DurationMs int64
}

// RunRecord is one recorded workflow run.
type RunRecord struct {
	RunID      string
	Workflow   string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	TaskCount  int
	// MaxWorkers is the worker cap the run was configured with, recorded
	// so the ContentionAnalyzer can correlate wall-clock time against
	// worker count across runs of the same workflow (§4.7 step 6).
	MaxWorkers int
}

// Store wraps a sqlite-backed history of runs and task executions.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// applies the schema migration.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open stats db: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer, matches teacher's backend

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	workflow    TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	task_count  INTEGER NOT NULL,
	max_workers INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS task_executions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	signature   TEXT NOT NULL,
	task_id     TEXT NOT NULL,
	instance    TEXT NOT NULL,
	process     TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_task_executions_signature
	ON task_executions (signature, started_at DESC);

CREATE INDEX IF NOT EXISTS idx_runs_workflow
	ON runs (workflow, started_at DESC);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate stats schema: %w", err)
	}
	// CREATE TABLE IF NOT EXISTS leaves a pre-existing runs table without
	// max_workers; add it and ignore the "duplicate column" case.
	if _, err := db.Exec(`ALTER TABLE runs ADD COLUMN max_workers INTEGER NOT NULL DEFAULT 0`); err != nil {
		if !strings.Contains(err.Error(), "duplicate column") {
			return fmt.Errorf("migrate runs.max_workers: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// AppendRun records one completed run.
func (s *Store) AppendRun(ctx context.Context, r RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (run_id, workflow, status, started_at, finished_at, task_count, max_workers)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
	status = excluded.status,
	finished_at = excluded.finished_at,
	task_count = excluded.task_count,
	max_workers = excluded.max_workers`,
		r.RunID, r.Workflow, r.Status, r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(), r.TaskCount, r.MaxWorkers)
	if err != nil {
		return fmt.Errorf("append run %s: %w", r.RunID, err)
	}
	return nil
}

// AppendTask records one completed task execution.
func (s *Store) AppendTask(ctx context.Context, e TaskExecution) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO task_executions (run_id, signature, task_id, instance, process, status, started_at, finished_at, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Signature, e.TaskID, e.Instance, e.Process, e.Status,
		e.StartedAt.UnixMilli(), e.FinishedAt.UnixMilli(), e.DurationMs)
	if err != nil {
		return fmt.Errorf("append task execution %s/%s: %w", e.RunID, e.TaskID, err)
	}
	return nil
}

// Recent returns the k most recent executions of signature, newest first.
func (s *Store) Recent(ctx context.Context, signature string, k int) ([]TaskExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, signature, task_id, instance, process, status, started_at, finished_at, duration_ms
FROM task_executions
WHERE signature = ?
ORDER BY started_at DESC
LIMIT ?`, signature, k)
	if err != nil {
		return nil, fmt.Errorf("query recent executions for %s: %w", signature, err)
	}
	defer rows.Close()

	var out []TaskExecution
	for rows.Next() {
		var e TaskExecution
		var started, finished int64
		if err := rows.Scan(&e.RunID, &e.Signature, &e.TaskID, &e.Instance, &e.Process, &e.Status, &started, &finished, &e.DurationMs); err != nil {
			return nil, err
		}
		e.StartedAt = time.UnixMilli(started)
		e.FinishedAt = time.UnixMilli(finished)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentRuns returns the k most recent runs of workflow, newest first.
func (s *Store) RecentRuns(ctx context.Context, workflow string, k int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, workflow, status, started_at, finished_at, task_count, max_workers
FROM runs
WHERE workflow = ?
ORDER BY started_at DESC
LIMIT ?`, workflow, k)
	if err != nil {
		return nil, fmt.Errorf("query recent runs for %s: %w", workflow, err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var started, finished int64
		if err := rows.Scan(&r.RunID, &r.Workflow, &r.Status, &started, &finished, &r.TaskCount, &r.MaxWorkers); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Purge deletes runs (and their task executions) older than retention
// (§4.7 retention policy). The controller applies it after a run's tasks
// have finished, just before recording that run; it is not applied at
// startup.
func (s *Store) Purge(ctx context.Context, retention time.Duration) error {
	cutoff := time.Now().Add(-retention).UnixMilli()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_executions WHERE run_id IN (SELECT run_id FROM runs WHERE started_at < ?)`, cutoff); err != nil {
		return fmt.Errorf("purge task executions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff); err != nil {
		return fmt.Errorf("purge runs: %w", err)
	}
	return tx.Commit()
}
