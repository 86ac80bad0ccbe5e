package fleet

import "context"

// NodeSpec describes one node container to start.
type NodeSpec struct {
	Name          string
	Image         string
	Network       string
	AuthorizedKey string
}

// StartedNode is the runtime's view of a node it started.
type StartedNode struct {
	ID      string
	Address string
}

// NodeRuntime is the container-runtime port backing the provisioner.
// Remove operations must treat already-gone resources as success.
type NodeRuntime interface {
	CreateNetwork(ctx context.Context, name string) (id string, err error)
	RemoveNetwork(ctx context.Context, name string) error
	StartNode(ctx context.Context, spec NodeSpec) (StartedNode, error)
	RemoveNode(ctx context.Context, name string) error
}
