package fake

import (
	"context"
	"fmt"
	"sync"

	"fleetrun/internal/adapter/fake/fault"
	"fleetrun/internal/fleet"
)

var _ fleet.NodeRuntime = (*NodeRuntime)(nil)

// Fault points evaluated by NodeRuntime.
const (
	PointNetworkCreate = "network.create"
	PointNetworkRemove = "network.remove"
	PointNodeStart     = "node.start"
	PointNodeRemove    = "node.remove"
)

type nodeState struct {
	Spec    fleet.NodeSpec
	Address string
}

// NodeRuntime is an in-memory fleet.NodeRuntime. It allocates addresses
// sequentially on a private range and treats removal of missing resources as
// success, matching the real adapter's idempotence contract.
type NodeRuntime struct {
	CallRecorder
	Faults *fault.Injector

	mu       sync.Mutex
	networks map[string]string // name → id
	nodes    map[string]*nodeState
	nextAddr int
}

// NewNodeRuntime creates an empty runtime.
func NewNodeRuntime() *NodeRuntime {
	return &NodeRuntime{
		Faults:   fault.NewInjector(),
		networks: make(map[string]string),
		nodes:    make(map[string]*nodeState),
	}
}

func (r *NodeRuntime) CreateNetwork(ctx context.Context, name string) (string, error) {
	r.record("CreateNetwork", name)
	if err := r.Faults.Eval(PointNetworkCreate, name); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.networks[name]; exists {
		return "", fmt.Errorf("network %q already exists", name)
	}
	id := "net-" + name
	r.networks[name] = id
	return id, nil
}

func (r *NodeRuntime) RemoveNetwork(ctx context.Context, name string) error {
	r.record("RemoveNetwork", name)
	if err := r.Faults.Eval(PointNetworkRemove, name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.networks, name)
	return nil
}

func (r *NodeRuntime) StartNode(ctx context.Context, spec fleet.NodeSpec) (fleet.StartedNode, error) {
	r.record("StartNode", spec.Name)
	if err := r.Faults.Eval(PointNodeStart, spec.Name); err != nil {
		return fleet.StartedNode{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nodes[spec.Name]; exists {
		return fleet.StartedNode{}, fmt.Errorf("node %q already exists", spec.Name)
	}
	if _, ok := r.networks[spec.Network]; !ok {
		return fleet.StartedNode{}, fmt.Errorf("network %q not found", spec.Network)
	}

	r.nextAddr++
	addr := fmt.Sprintf("10.77.0.%d", r.nextAddr)
	r.nodes[spec.Name] = &nodeState{Spec: spec, Address: addr}
	return fleet.StartedNode{ID: spec.Name, Address: addr}, nil
}

func (r *NodeRuntime) RemoveNode(ctx context.Context, name string) error {
	r.record("RemoveNode", name)
	if err := r.Faults.Eval(PointNodeRemove, name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, name)
	return nil
}

// LiveNodes returns the names of nodes that still exist.
func (r *NodeRuntime) LiveNodes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.nodes))
	for name := range r.nodes {
		out = append(out, name)
	}
	return out
}

// LiveNetworks returns the names of networks that still exist.
func (r *NodeRuntime) LiveNetworks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.networks))
	for name := range r.networks {
		out = append(out, name)
	}
	return out
}

// InjectedKey returns the credential a node was started with.
func (r *NodeRuntime) InjectedKey(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ns, ok := r.nodes[name]
	if !ok {
		return "", false
	}
	return ns.Spec.AuthorizedKey, true
}
