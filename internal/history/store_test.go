package history_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"fleetrun/internal/convergence"
	"fleetrun/internal/fleet"
	"fleetrun/internal/history"
	"fleetrun/internal/run"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleResult(runID string, started time.Time) run.Result {
	return run.Result{
		RunID:       runID,
		Plan:        "web-baseline",
		Started:     started,
		Finished:    started.Add(42 * time.Second),
		Provisioned: true,
		Converged:   true,
		Nodes: []run.NodeReport{
			{Node: fleet.Node{ID: "node0", Address: "10.77.0.1"}, Status: run.NodeConverged, Recap: run.Recap{Changed: 1, Unchanged: 1}},
			{Node: fleet.Node{ID: "node1", Address: "10.77.0.2"}, Status: run.NodeFailed, Recap: run.Recap{Changed: 1, Failed: 1}, Err: "no space left"},
		},
		Tasks: []convergence.TaskResult{
			{NodeID: "node0", Task: "install nginx", Outcome: convergence.OutcomeChanged, Duration: 1200 * time.Millisecond},
			{NodeID: "node0", Task: "drop motd", Outcome: convergence.OutcomeUnchanged, Duration: 80 * time.Millisecond},
			{NodeID: "node1", Task: "install nginx", Outcome: convergence.OutcomeChanged, Duration: 900 * time.Millisecond},
			{NodeID: "node1", Task: "drop motd", Outcome: convergence.OutcomeFailed, Err: "no space left", Duration: 30 * time.Millisecond},
		},
	}
}

func TestStore_RoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	started := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	if err := s.RecordRun(ctx, sampleResult("run-1", started)); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}

	rows, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d runs, want 1", len(rows))
	}

	row := rows[0]
	if row.RunID != "run-1" || row.Plan != "web-baseline" {
		t.Errorf("row = %+v", row)
	}
	if !row.Started.Equal(started) {
		t.Errorf("started = %v, want %v", row.Started, started)
	}
	if row.Nodes != 2 {
		t.Errorf("nodes = %d, want 2", row.Nodes)
	}
	if row.Failed != 1 {
		t.Errorf("failed = %d, want 1", row.Failed)
	}
	if row.ExitCode != run.ExitTaskFailures {
		t.Errorf("exit code = %d, want %d", row.ExitCode, run.ExitTaskFailures)
	}

	records, err := s.TaskResults(ctx, "run-1")
	if err != nil {
		t.Fatalf("TaskResults() error = %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("got %d task records, want 4", len(records))
	}
	if records[0].Task != "install nginx" || records[0].Outcome != string(convergence.OutcomeChanged) {
		t.Errorf("first record = %+v", records[0])
	}
	if records[3].Err != "no space left" {
		t.Errorf("failed record error = %q", records[3].Err)
	}
	if records[0].Duration != 1200*time.Millisecond {
		t.Errorf("duration = %v, want 1.2s", records[0].Duration)
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		if err := s.RecordRun(ctx, sampleResult(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("RecordRun(%s) error = %v", id, err)
		}
	}

	rows, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	want := []string{"new", "mid", "old"}
	for i, w := range want {
		if rows[i].RunID != w {
			t.Errorf("row %d = %s, want %s", i, rows[i].RunID, w)
		}
	}
}

func TestStore_RerecordReplacesTaskResults(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	started := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	res := sampleResult("run-1", started)
	if err := s.RecordRun(ctx, res); err != nil {
		t.Fatalf("first RecordRun() error = %v", err)
	}

	res.Tasks = res.Tasks[:2]
	if err := s.RecordRun(ctx, res); err != nil {
		t.Fatalf("second RecordRun() error = %v", err)
	}

	records, err := s.TaskResults(ctx, "run-1")
	if err != nil {
		t.Fatalf("TaskResults() error = %v", err)
	}
	if len(records) != 2 {
		t.Errorf("got %d task records after rerecord, want 2", len(records))
	}

	rows, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("rerecord duplicated the run: %d rows", len(rows))
	}
}

func TestStore_UnknownRunHasNoTaskResults(t *testing.T) {
	s := openStore(t)
	records, err := s.TaskResults(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("TaskResults() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records for unknown run", len(records))
	}
}
