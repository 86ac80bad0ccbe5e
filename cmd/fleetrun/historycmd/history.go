// Package historycmd inspects the run history database.
package historycmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"fleetrun/cmd/fleetrun/ui"
	"fleetrun/internal/history"
)

// Cmd builds the history command group.
func Cmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRuns(cmd, dbPath)
		},
	}
	cmd.PersistentFlags().StringVar(&dbPath, "history-db", defaultHistoryPath(), "Run history database path")
	cmd.AddCommand(showCmd(&dbPath))
	return cmd
}

func showCmd(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show per-task outcomes of one recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showRun(cmd, *dbPath, args[0])
		},
	}
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".fleetrun", "history.db")
}

func listRuns(cmd *cobra.Command, dbPath string) error {
	store, err := history.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rows, err := store.ListRuns(cmd.Context())
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		cmd.Println(ui.Muted("no recorded runs"))
		return nil
	}

	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		table = append(table, []string{
			r.RunID,
			r.Plan,
			r.Started.Local().Format(time.DateTime),
			r.Finished.Sub(r.Started).Round(time.Second).String(),
			strconv.Itoa(r.Nodes),
			exitCell(r.ExitCode, r.Failed),
		})
	}
	cmd.Println(ui.Table([]string{"RUN", "PLAN", "STARTED", "DURATION", "NODES", "RESULT"}, table))
	return nil
}

func showRun(cmd *cobra.Command, dbPath, runID string) error {
	store, err := history.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	records, err := store.TaskResults(cmd.Context(), runID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no task results recorded for run %s", runID)
	}

	table := make([][]string, 0, len(records))
	for _, rec := range records {
		errCell := ui.Muted("-")
		if rec.Err != "" {
			errCell = ui.Error(rec.Err)
		}
		table = append(table, []string{
			rec.NodeID,
			rec.Task,
			rec.Outcome,
			rec.Duration.Round(time.Millisecond).String(),
			errCell,
		})
	}
	cmd.Println(ui.Table([]string{"NODE", "TASK", "OUTCOME", "DURATION", "ERROR"}, table))
	return nil
}

func exitCell(code, failed int) string {
	switch {
	case code == 0:
		return ui.Success("ok")
	case failed > 0:
		return ui.Error(fmt.Sprintf("%d failed", failed))
	default:
		return ui.Error(fmt.Sprintf("exit %d", code))
	}
}
