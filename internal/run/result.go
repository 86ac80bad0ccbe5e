package run

import (
	"time"

	"fleetrun/internal/convergence"
	"fleetrun/internal/facts"
	"fleetrun/internal/fleet"
)

// NodeStatus classifies how one node fared over the whole run.
type NodeStatus string

const (
	// NodeConverged means every applicable task reached its desired state.
	NodeConverged NodeStatus = "converged"
	// NodeUnreachable means the management endpoint never answered.
	NodeUnreachable NodeStatus = "unreachable"
	// NodeFactsFailed means the node was reachable but identification
	// failed, so no tasks were attempted.
	NodeFactsFailed NodeStatus = "facts_failed"
	// NodeFailed means at least one task failed on the node.
	NodeFailed NodeStatus = "failed"
)

// Recap counts task outcomes for one node.
type Recap struct {
	Changed   int
	Unchanged int
	Skipped   int
	Failed    int
}

// NodeReport is a node's complete per-run outcome.
type NodeReport struct {
	Node   fleet.Node
	Status NodeStatus
	Facts  facts.Facts
	Recap  Recap
	Err    string
}

// Result is the terminal artifact of a run: every node's outcome and every
// task's outcome per node, diagnosable without re-running.
type Result struct {
	RunID    string
	Plan     string
	Started  time.Time
	Finished time.Time

	Provisioned bool
	Nodes       []NodeReport
	Tasks       []convergence.TaskResult

	// FatalErr is set for run-scoped failures: credential generation,
	// provisioning, or total unreachability.
	FatalErr string

	// TeardownErr is never suppressed: leaked resources must surface.
	TeardownErr string

	// Converged is true once the convergence stage ran to completion.
	Converged bool
}

// TaskRecord is a task outcome replayed from the history store.
type TaskRecord struct {
	NodeID   string
	Task     string
	Outcome  string
	Err      string
	Duration time.Duration
}

// Process exit codes of the invocation surface.
const (
	ExitOK           = 0
	ExitTaskFailures = 1
	ExitRunFailed    = 2
	ExitTeardown     = 3
)

// ExitCode maps the result onto the process exit contract. A teardown
// failure dominates everything: it is a resource leak.
func (r Result) ExitCode() int {
	if r.TeardownErr != "" {
		return ExitTeardown
	}
	if r.FatalErr != "" {
		return ExitRunFailed
	}
	for _, n := range r.Nodes {
		if n.Status != NodeConverged {
			return ExitTaskFailures
		}
	}
	return ExitOK
}

// recapOf tallies one node's task outcomes.
func recapOf(nodeID string, tasks []convergence.TaskResult) Recap {
	var rc Recap
	for _, t := range tasks {
		if t.NodeID != nodeID {
			continue
		}
		switch t.Outcome {
		case convergence.OutcomeChanged:
			rc.Changed++
		case convergence.OutcomeUnchanged:
			rc.Unchanged++
		case convergence.OutcomeSkipped:
			rc.Skipped++
		case convergence.OutcomeFailed:
			rc.Failed++
		}
	}
	return rc
}
