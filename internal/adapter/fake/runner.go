package fake

import (
	"context"
	"strings"
	"sync"

	"fleetrun/internal/adapter/fake/fault"
	"fleetrun/internal/fleet"
	"fleetrun/internal/sshexec"
)

var _ sshexec.Runner = (*Runner)(nil)

// PointRun is the fault point evaluated on every Runner.Run call with the
// node ID and command as arguments.
const PointRun = "runner.run"

type runnerHandler struct {
	match string
	fn    func(node fleet.Node, cmd string) (sshexec.Result, error)
}

// Runner is a scripted in-memory management channel. Handlers are matched by
// substring in registration order; unmatched commands succeed with empty
// output, so tests only script the behavior they assert on.
type Runner struct {
	CallRecorder
	Faults *fault.Injector

	mu       sync.Mutex
	handlers []runnerHandler
}

// NewRunner creates a Runner with no scripted handlers.
func NewRunner() *Runner {
	return &Runner{Faults: fault.NewInjector()}
}

// Handle scripts a response for commands containing match.
func (r *Runner) Handle(match string, fn func(node fleet.Node, cmd string) (sshexec.Result, error)) {
	r.mu.Lock()
	r.handlers = append(r.handlers, runnerHandler{match: match, fn: fn})
	r.mu.Unlock()
}

// HandleResult scripts a fixed result for commands containing match.
func (r *Runner) HandleResult(match string, res sshexec.Result) {
	r.Handle(match, func(fleet.Node, string) (sshexec.Result, error) {
		return res, nil
	})
}

func (r *Runner) Run(ctx context.Context, node fleet.Node, cmd string) (sshexec.Result, error) {
	r.record("Run", node.ID, cmd)
	if err := r.Faults.Eval(PointRun, node.ID, cmd); err != nil {
		return sshexec.Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return sshexec.Result{}, err
	}

	r.mu.Lock()
	handlers := make([]runnerHandler, len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.Unlock()

	for _, h := range handlers {
		if strings.Contains(cmd, h.match) {
			return h.fn(node, cmd)
		}
	}
	return sshexec.Result{}, nil
}

// CommandsFor returns every command run against the node, in order.
func (r *Runner) CommandsFor(nodeID string) []string {
	var out []string
	for _, c := range r.Calls("Run") {
		if len(c.Args) == 2 && c.Args[0] == nodeID {
			out = append(out, c.Args[1].(string))
		}
	}
	return out
}
