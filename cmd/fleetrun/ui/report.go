package ui

import (
	"fmt"
	"strings"
	"time"

	"fleetrun/internal/run"
)

// RunReport renders a finished run for the terminal: header, per-node
// outcomes, and every task that did not reach its desired state.
func RunReport(res run.Result) string {
	var sb strings.Builder

	sb.WriteString(Bold("Run "+res.RunID) + "\n")
	sb.WriteString(KeyValues("  ",
		KV("plan", res.Plan),
		KV("nodes", fmt.Sprintf("%d", len(res.Nodes))),
		KV("duration", res.Finished.Sub(res.Started).Round(time.Millisecond).String()),
		KV("fleet", fleetKind(res.Provisioned)),
	))

	if res.FatalErr != "" {
		sb.WriteString("\n" + ErrorMsg("run failed: %s", res.FatalErr) + "\n")
	}

	if len(res.Nodes) > 0 {
		sb.WriteString("\n")
		rows := make([][]string, 0, len(res.Nodes))
		for _, n := range res.Nodes {
			rows = append(rows, []string{
				n.Node.ID,
				n.Node.Address,
				statusCell(n.Status),
				recapCell(n),
			})
		}
		sb.WriteString(Table([]string{"NODE", "ADDRESS", "STATUS", "TASKS"}, rows))
		sb.WriteString("\n")
	}

	if failed := failedTasks(res); len(failed) > 0 {
		sb.WriteString("\n" + Bold("Failed tasks") + "\n")
		for _, t := range failed {
			sb.WriteString("  " + ErrorMsg("%s on %s: %s", t.Task, t.NodeID, t.Err) + "\n")
		}
	}

	if res.TeardownErr != "" {
		sb.WriteString("\n" + ErrorMsg("teardown failed, resources may have leaked: %s", res.TeardownErr) + "\n")
	} else if res.Provisioned {
		sb.WriteString("\n" + SuccessMsg("fleet torn down") + "\n")
	}

	return sb.String()
}

func fleetKind(provisioned bool) string {
	if provisioned {
		return "ephemeral"
	}
	return "inventory"
}

func statusCell(s run.NodeStatus) string {
	switch s {
	case run.NodeConverged:
		return Success(string(s))
	case run.NodeUnreachable, run.NodeFactsFailed:
		return Warn(string(s))
	default:
		return Error(string(s))
	}
}

func recapCell(n run.NodeReport) string {
	if n.Status == run.NodeUnreachable || n.Status == run.NodeFactsFailed {
		return Muted("-")
	}
	return fmt.Sprintf("%d changed, %d ok, %d skipped, %d failed",
		n.Recap.Changed, n.Recap.Unchanged, n.Recap.Skipped, n.Recap.Failed)
}

func failedTasks(res run.Result) []struct{ NodeID, Task, Err string } {
	var out []struct{ NodeID, Task, Err string }
	for _, t := range res.Tasks {
		if t.Err != "" {
			out = append(out, struct{ NodeID, Task, Err string }{t.NodeID, t.Task, t.Err})
		}
	}
	return out
}
