// Package run sequences a whole orchestration run: trust bootstrap, fleet
// provisioning, readiness, fact gathering, convergence, and the teardown
// that is guaranteed on every exit path.
package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"fleetrun/internal/check"
	"fleetrun/internal/convergence"
	"fleetrun/internal/facts"
	"fleetrun/internal/fleet"
	"fleetrun/internal/logging"
	"fleetrun/internal/plan"
	"fleetrun/internal/sshexec"
	"fleetrun/internal/trust"
)

// teardownTimeout bounds the detached teardown context so a wedged runtime
// cannot hold the process open indefinitely.
const teardownTimeout = 2 * time.Minute

// ErrNoReachableNodes aborts the run when the whole fleet timed out:
// convergence never starts, teardown still runs.
var ErrNoReachableNodes = errors.New("no nodes became reachable")

// Provisioner creates and destroys the fleet.
type Provisioner interface {
	Provision(ctx context.Context, size int, authorizedKey string) (fleet.Fleet, error)
	Teardown(ctx context.Context, f fleet.Fleet) error
}

// Waiter reports which nodes became reachable within the timeout.
type Waiter interface {
	WaitReady(ctx context.Context, nodes []fleet.Node, timeout time.Duration) map[string]bool
}

// Recorder persists finished runs. Recording failures are logged, never
// fatal.
type Recorder interface {
	RecordRun(ctx context.Context, res Result) error
}

// Options are the per-invocation parameters of a run.
type Options struct {
	Plan plan.Plan

	// Inventory, when non-nil, supplies the fleet and disables
	// provisioning and teardown.
	Inventory *fleet.Fleet

	Size    int
	Timeout time.Duration
}

// Coordinator wires the run pipeline. Zero-value fields fall back to the
// production implementations where one exists.
type Coordinator struct {
	Provisioner Provisioner
	Waiter      Waiter
	Actions     *convergence.Registry

	// Bootstrap creates the run credential. Defaults to trust.Generate.
	Bootstrap func() (*trust.Credential, error)

	// NewRunner builds the management channel for a credential. Defaults
	// to an SSH client signing with it.
	NewRunner func(cred *trust.Credential) sshexec.Runner

	// TaskTimeout bounds individual tasks without their own timeout.
	TaskTimeout time.Duration

	Clock   fleet.Clock
	Tracer  trace.Tracer
	History Recorder

	// ClockCheck verifies the controller clock before the run; nil skips
	// the check. Failures only warn.
	ClockCheck func() error
}

// Run executes the full pipeline and always returns a Result, even when err
// is non-nil. Teardown executes on every exit path after provisioning.
func (c *Coordinator) Run(ctx context.Context, opts Options) (result Result, err error) {
	check.Assert(c.Provisioner != nil || opts.Inventory != nil, "Coordinator.Run: provisioner must not be nil")
	check.Assert(c.Waiter != nil, "Coordinator.Run: waiter must not be nil")

	log := logging.Component("coordinator")
	clock := c.clock()
	result = Result{Plan: opts.Plan.Name, Started: clock.Now()}
	defer func() {
		result.Finished = clock.Now()
		c.recordHistory(ctx, result)
	}()

	op := newOperation(ctx, c.Tracer)
	defer func() { op.End(err) }()

	if c.ClockCheck != nil {
		if skewErr := c.ClockCheck(); skewErr != nil {
			log.Warn("controller clock check failed", "err", skewErr)
		}
	}

	// Trust bootstrap. Fatal before any node exists.
	var cred *trust.Credential
	err = op.RunStep(op.Context(), "credential", func(context.Context) error {
		bootstrap := c.Bootstrap
		if bootstrap == nil {
			bootstrap = trust.Generate
		}
		var bootErr error
		cred, bootErr = bootstrap()
		return bootErr
	})
	if err != nil {
		result.FatalErr = err.Error()
		return result, err
	}
	log.Info("credential generated", "fingerprint", cred.Fingerprint())

	// Provision, or adopt the inventory fleet.
	var fl fleet.Fleet
	if opts.Inventory != nil {
		fl = *opts.Inventory
		if fl.RunID == "" {
			fl.RunID = uuid.NewString()[:8]
		}
	} else {
		err = op.RunStep(op.Context(), "provision", func(stepCtx context.Context) error {
			var provErr error
			fl, provErr = c.Provisioner.Provision(stepCtx, opts.Size, cred.AuthorizedKey())
			return provErr
		})
		if err != nil {
			result.FatalErr = err.Error()
			return result, err
		}
	}
	result.RunID = fl.RunID
	result.Provisioned = fl.Provisioned

	// Guaranteed teardown: every path out of here releases the fleet. An
	// interrupted run reaches this with a cancelled context, so teardown
	// gets a detached one with its own deadline.
	defer func() {
		if !fl.Provisioned {
			return
		}
		tdCtx, tdCancel := context.WithTimeout(context.WithoutCancel(op.Context()), teardownTimeout)
		defer tdCancel()
		tdErr := op.RunStep(tdCtx, "teardown", func(stepCtx context.Context) error {
			return c.Provisioner.Teardown(stepCtx, fl)
		})
		if tdErr != nil {
			log.Error("teardown failed, resources may have leaked", "err", tdErr)
			result.TeardownErr = tdErr.Error()
		}
	}()

	// Readiness. A degraded fleet proceeds; an empty one aborts.
	var reachable map[string]bool
	_ = op.RunStep(op.Context(), "readiness", func(stepCtx context.Context) error {
		reachable = c.Waiter.WaitReady(stepCtx, fl.Nodes, opts.Timeout)
		return nil
	})

	var live []fleet.Node
	for i := range fl.Nodes {
		if reachable[fl.Nodes[i].ID] {
			fl.Nodes[i].Reachable = true
			live = append(live, fl.Nodes[i])
			continue
		}
		result.Nodes = append(result.Nodes, NodeReport{
			Node:   fl.Nodes[i],
			Status: NodeUnreachable,
			Err:    "management endpoint unreachable within timeout",
		})
	}
	if len(live) == 0 {
		result.FatalErr = ErrNoReachableNodes.Error()
		return result, ErrNoReachableNodes
	}

	runner := c.newRunner(cred)

	// Facts. Per-node failures exclude the node, nothing else.
	gatherer := &facts.Gatherer{Runner: runner}
	var gathered map[string]facts.Facts
	var factErrs map[string]error
	_ = op.RunStep(op.Context(), "facts", func(stepCtx context.Context) error {
		gathered, factErrs = gatherer.GatherAll(stepCtx, live)
		return nil
	})

	var targets []convergence.Target
	for _, n := range live {
		if gErr, failed := factErrs[n.ID]; failed {
			result.Nodes = append(result.Nodes, NodeReport{
				Node:   n,
				Status: NodeFactsFailed,
				Err:    gErr.Error(),
			})
			continue
		}
		targets = append(targets, convergence.Target{Node: n, Facts: gathered[n.ID]})
	}

	// Convergence.
	engine := &convergence.Engine{
		Runner:         runner,
		Actions:        c.actions(),
		Clock:          clock,
		DefaultTimeout: c.TaskTimeout,
	}
	_ = op.RunStep(op.Context(), "converge", func(stepCtx context.Context) error {
		result.Tasks = engine.Apply(stepCtx, opts.Plan, targets)
		return nil
	})
	result.Converged = true

	for _, t := range targets {
		report := NodeReport{
			Node:  t.Node,
			Facts: t.Facts,
			Recap: recapOf(t.Node.ID, result.Tasks),
		}
		if report.Recap.Failed > 0 {
			report.Status = NodeFailed
			report.Err = firstTaskError(t.Node.ID, result.Tasks)
		} else {
			report.Status = NodeConverged
		}
		result.Nodes = append(result.Nodes, report)
	}

	log.Info("run finished", "run", result.RunID, "nodes", len(result.Nodes), "exit", result.ExitCode())
	return result, nil
}

func (c *Coordinator) clock() fleet.Clock {
	if c.Clock != nil {
		return c.Clock
	}
	return fleet.RealClock{}
}

func (c *Coordinator) actions() *convergence.Registry {
	if c.Actions != nil {
		return c.Actions
	}
	return convergence.Builtin()
}

func (c *Coordinator) newRunner(cred *trust.Credential) sshexec.Runner {
	if c.NewRunner != nil {
		return c.NewRunner(cred)
	}
	return &sshexec.Client{Signer: cred.Signer()}
}

func (c *Coordinator) recordHistory(ctx context.Context, res Result) {
	if c.History == nil {
		return
	}
	if err := c.History.RecordRun(ctx, res); err != nil {
		logging.Component("coordinator").Warn("recording run history failed", "err", err)
	}
}

func firstTaskError(nodeID string, tasks []convergence.TaskResult) string {
	for _, t := range tasks {
		if t.NodeID == nodeID && t.Outcome == convergence.OutcomeFailed {
			return fmt.Sprintf("task %q: %s", t.Task, t.Err)
		}
	}
	return ""
}
