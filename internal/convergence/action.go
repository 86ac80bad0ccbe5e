package convergence

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"fleetrun/internal/facts"
	"fleetrun/internal/fleet"
	"fleetrun/internal/sshexec"
)

// ExecContext is what an action sees of its target node.
type ExecContext struct {
	Node   fleet.Node
	Facts  facts.Facts
	Runner sshexec.Runner
}

// Run executes a command on the action's node.
func (ec ExecContext) Run(ctx context.Context, cmd string) (sshexec.Result, error) {
	return ec.Runner.Run(ctx, ec.Node, cmd)
}

// Action converges one aspect of node state toward its declared form.
// Converge must be idempotent: when the node is already in the desired state
// it reports changed=false and performs no further side effects.
type Action interface {
	Name() string
	Converge(ctx context.Context, ec ExecContext, params map[string]string) (changed bool, err error)
}

// Registry maps action identifiers to implementations. The plan references
// actions by name only; the commands behind them are the collaborator's
// concern.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Builtin returns a registry with the built-in actions installed.
func Builtin() *Registry {
	r := NewRegistry()
	for _, a := range []Action{commandAction{}, fileAction{}, packageAction{}, serviceAction{}} {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds an action. Duplicate names are an error.
func (r *Registry) Register(a Action) error {
	name := strings.TrimSpace(a.Name())
	if name == "" {
		return fmt.Errorf("register action: empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[name]; exists {
		return fmt.Errorf("register action %q: already registered", name)
	}
	r.actions[name] = a
	return nil
}

// Lookup resolves an action by name.
func (r *Registry) Lookup(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// shQuote single-quotes s for POSIX sh.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
