// Package history keeps a local record of rollout runs in SQLite.
// Recording is best-effort: the batch never fails because history
// could not be written.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/halcyonops/rollout/internal/deploy"
)

// Store is a run-history database.
type Store struct {
	db *sql.DB
}

// RunSummary is one row of `rollout history` output.
type RunSummary struct {
	ID        int64
	StartedAt time.Time
	Installer string
	Cert      string
	Total     int
	Failed    int
}

// Open opens (creating if needed) the history database at path.
// Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at TEXT NOT NULL,
			installer TEXT NOT NULL,
			cert TEXT NOT NULL,
			total INTEGER NOT NULL,
			failed INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL REFERENCES runs(id),
			seq INTEGER NOT NULL,
			target TEXT NOT NULL,
			address TEXT,
			stage TEXT NOT NULL,
			outcome TEXT NOT NULL,
			reason TEXT,
			exit_code INTEGER,
			detail TEXT,
			duration_secs REAL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create results table: %w", err)
	}

	return &Store{db: db}, nil
}

// RecordRun saves a completed run and its per-target results. Returns the
// new run's id.
func (s *Store) RecordRun(ctx context.Context, startedAt time.Time, installer, cert string, results []deploy.TargetResult) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	failed := len(deploy.Failures(results))
	res, err := tx.ExecContext(ctx,
		"INSERT INTO runs (started_at, installer, cert, total, failed) VALUES (?, ?, ?, ?, ?)",
		startedAt.UTC().Format(time.RFC3339), installer, cert, len(results), failed,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("run id: %w", err)
	}

	for i, r := range results {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO results
			 (run_id, seq, target, address, stage, outcome, reason, exit_code, detail, duration_secs)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, i, r.Target, r.AddressUsed, string(r.StageReached), string(r.Outcome),
			string(r.Reason), r.ExitCode, r.Detail, r.Duration.Seconds(),
		)
		if err != nil {
			return 0, fmt.Errorf("insert result %s: %w", r.Target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return runID, nil
}

// RecentRuns lists the most recent runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, started_at, installer, cert, total, failed FROM runs ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var started string
		if err := rows.Scan(&r.ID, &started, &r.Installer, &r.Cert, &r.Total, &r.Failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunResults returns the per-target results of one run in batch order.
func (s *Store) RunResults(ctx context.Context, runID int64) ([]deploy.TargetResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT target, address, stage, outcome, reason, exit_code, detail, duration_secs
		 FROM results WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []deploy.TargetResult
	for rows.Next() {
		var r deploy.TargetResult
		var stage, outcome, reason string
		var secs float64
		if err := rows.Scan(&r.Target, &r.AddressUsed, &stage, &outcome, &reason, &r.ExitCode, &r.Detail, &secs); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.StageReached = deploy.Stage(stage)
		r.Outcome = deploy.Outcome(outcome)
		r.Reason = deploy.Reason(reason)
		r.Duration = time.Duration(secs * float64(time.Second))
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
