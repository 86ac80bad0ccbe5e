// Package convergence applies a declarative plan to a set of nodes, bringing
// each node's actual state into agreement with the declared state. The
// central contract is the fixed point: applying the same plan twice to the
// same facts reports unchanged for every task on the second pass.
package convergence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fleetrun/internal/check"
	"fleetrun/internal/facts"
	"fleetrun/internal/fleet"
	"fleetrun/internal/logging"
	"fleetrun/internal/plan"
	"fleetrun/internal/sshexec"
)

// Outcome classifies one task execution on one node.
type Outcome string

const (
	OutcomeChanged   Outcome = "changed"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// TaskResult records one task's outcome on one node. Never mutated after
// creation.
type TaskResult struct {
	NodeID   string
	Task     string
	Outcome  Outcome
	Err      string
	Duration time.Duration
}

// Target pairs a node with the facts gathered from it. Conditions evaluate
// strictly against the target's own facts.
type Target struct {
	Node  fleet.Node
	Facts facts.Facts
}

const defaultTaskTimeout = 60 * time.Second

// Engine walks the plan in order on every target.
type Engine struct {
	Runner  sshexec.Runner
	Actions *Registry
	Clock   fleet.Clock

	// DefaultTimeout bounds tasks that do not declare their own.
	DefaultTimeout time.Duration
}

// Apply runs the plan against all targets: parallel across nodes, strictly
// sequential within a node, since later tasks may assume earlier side
// effects. Results come back grouped by target, in target order, each group
// in plan order.
func (e *Engine) Apply(ctx context.Context, p plan.Plan, targets []Target) []TaskResult {
	check.Assert(e.Runner != nil, "Engine.Apply: runner must not be nil")
	check.Assert(e.Actions != nil, "Engine.Apply: action registry must not be nil")

	perNode := make([][]TaskResult, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(slot int, target Target) {
			defer wg.Done()
			perNode[slot] = e.applyNode(ctx, p, target)
		}(i, t)
	}
	wg.Wait()

	var out []TaskResult
	for _, results := range perNode {
		out = append(out, results...)
	}
	return out
}

// applyNode walks the plan in order for one node. On a failed task the
// node's remaining tasks are halted unless the task is tolerant.
func (e *Engine) applyNode(ctx context.Context, p plan.Plan, target Target) []TaskResult {
	log := logging.Component("convergence").With("node", target.Node.ID)
	clock := e.clock()

	results := make([]TaskResult, 0, len(p.Tasks))
	for _, task := range p.Tasks {
		if !task.When.Eval(target.Facts) {
			log.Debug("task skipped", "task", task.Name, "when", task.When.String())
			results = append(results, TaskResult{
				NodeID:  target.Node.ID,
				Task:    task.Name,
				Outcome: OutcomeSkipped,
			})
			continue
		}

		start := clock.Now()
		outcome, err := e.converge(ctx, task, target)
		res := TaskResult{
			NodeID:   target.Node.ID,
			Task:     task.Name,
			Outcome:  outcome,
			Duration: clock.Now().Sub(start),
		}
		if err != nil {
			res.Err = err.Error()
		}
		results = append(results, res)

		if outcome == OutcomeFailed {
			log.Warn("task failed", "task", task.Name, "err", err, "tolerant", task.Tolerant)
			if !task.Tolerant {
				break
			}
			continue
		}
		log.Debug("task done", "task", task.Name, "outcome", outcome)
	}
	return results
}

func (e *Engine) converge(ctx context.Context, task plan.Task, target Target) (Outcome, error) {
	action, ok := e.Actions.Lookup(task.Action)
	if !ok {
		return OutcomeFailed, fmt.Errorf("unknown action %q", task.Action)
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = e.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	changed, err := action.Converge(taskCtx, ExecContext{
		Node:   target.Node,
		Facts:  target.Facts,
		Runner: e.Runner,
	}, task.Params)
	if err != nil {
		return OutcomeFailed, err
	}
	if changed {
		return OutcomeChanged, nil
	}
	return OutcomeUnchanged, nil
}

func (e *Engine) clock() fleet.Clock {
	if e.Clock != nil {
		return e.Clock
	}
	return fleet.RealClock{}
}
