// Package history persists finished runs so partial failures stay
// diagnosable after the fleet is gone.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"fleetrun/internal/run"
)

// RunRow is one recorded run summary.
type RunRow struct {
	RunID    string
	Plan     string
	Started  time.Time
	Finished time.Time
	ExitCode int
	Nodes    int
	Failed   int
}

// Store is a sqlite-backed run recorder.
type Store struct {
	db *sql.DB
}

var _ run.Recorder = (*Store)(nil)

// Open creates or opens the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set history db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set history db busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	plan TEXT NOT NULL,
	started TEXT NOT NULL,
	finished TEXT NOT NULL,
	exit_code INTEGER NOT NULL,
	provisioned INTEGER NOT NULL,
	fatal_err TEXT NOT NULL DEFAULT '',
	teardown_err TEXT NOT NULL DEFAULT '',
	nodes_json TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS task_results (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	node_id TEXT NOT NULL,
	task TEXT NOT NULL,
	outcome TEXT NOT NULL,
	err TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordRun stores a finished run and all of its task results.
func (s *Store) RecordRun(ctx context.Context, res run.Result) error {
	nodesJSON, err := json.Marshal(res.Nodes)
	if err != nil {
		return fmt.Errorf("marshal node reports: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	provisioned := 0
	if res.Provisioned {
		provisioned = 1
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, plan, started, finished, exit_code, provisioned, fatal_err, teardown_err, nodes_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		 finished = excluded.finished,
		 exit_code = excluded.exit_code,
		 fatal_err = excluded.fatal_err,
		 teardown_err = excluded.teardown_err,
		 nodes_json = excluded.nodes_json`,
		res.RunID,
		res.Plan,
		res.Started.UTC().Format(time.RFC3339Nano),
		res.Finished.UTC().Format(time.RFC3339Nano),
		res.ExitCode(),
		provisioned,
		res.FatalErr,
		res.TeardownErr,
		string(nodesJSON),
	); err != nil {
		return fmt.Errorf("insert run %q: %w", res.RunID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_results WHERE run_id = ?`, res.RunID); err != nil {
		return fmt.Errorf("clear task results for %q: %w", res.RunID, err)
	}
	for seq, t := range res.Tasks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_results (run_id, seq, node_id, task, outcome, err, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			res.RunID, seq, t.NodeID, t.Task, string(t.Outcome), t.Err, t.Duration.Milliseconds(),
		); err != nil {
			return fmt.Errorf("insert task result %d for %q: %w", seq, res.RunID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history transaction: %w", err)
	}
	return nil
}

// ListRuns returns run summaries, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT r.run_id, r.plan, r.started, r.finished, r.exit_code, r.nodes_json,
       (SELECT COUNT(*) FROM task_results t WHERE t.run_id = r.run_id AND t.outcome = 'failed')
FROM runs r
ORDER BY r.started DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]RunRow, 0)
	for rows.Next() {
		var row RunRow
		var started, finished, nodesJSON string
		if err := rows.Scan(&row.RunID, &row.Plan, &started, &finished, &row.ExitCode, &nodesJSON, &row.Failed); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
			row.Started = t
		}
		if t, err := time.Parse(time.RFC3339Nano, finished); err == nil {
			row.Finished = t
		}
		var nodes []json.RawMessage
		if err := json.Unmarshal([]byte(nodesJSON), &nodes); err == nil {
			row.Nodes = len(nodes)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return out, nil
}

// TaskResults returns one run's task results in execution order.
func (s *Store) TaskResults(ctx context.Context, runID string) ([]run.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, task, outcome, err, duration_ms FROM task_results WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list task results for %q: %w", runID, err)
	}
	defer rows.Close()

	out := make([]run.TaskRecord, 0)
	for rows.Next() {
		var rec run.TaskRecord
		var durationMS int64
		if err := rows.Scan(&rec.NodeID, &rec.Task, &rec.Outcome, &rec.Err, &durationMS); err != nil {
			return nil, fmt.Errorf("scan task result row: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task result rows: %w", err)
	}
	return out, nil
}
