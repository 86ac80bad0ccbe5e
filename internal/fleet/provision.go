package fleet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fleetrun/internal/check"
	"fleetrun/internal/logging"
)

// ErrProvisioningFailure marks a provisioning attempt that could not bring up
// the full fleet. Partially-created resources are rolled back before it is
// returned.
var ErrProvisioningFailure = errors.New("fleet provisioning failed")

const defaultNamePrefix = "fleetrun"

// Provisioner creates and destroys ephemeral fleets on a NodeRuntime.
type Provisioner struct {
	Runtime NodeRuntime
	Image   string

	// User is the SSH login the node image accepts the injected key for.
	User string

	// NamePrefix scopes all created resources. Defaults to "fleetrun".
	NamePrefix string
}

// Provision brings up an isolated network plus size target nodes with the
// given public credential injected. Either every node comes up with a unique
// address on the segment, or everything created so far is rolled back and
// ErrProvisioningFailure is returned.
func (p *Provisioner) Provision(ctx context.Context, size int, authorizedKey string) (Fleet, error) {
	check.Assert(p.Runtime != nil, "Provisioner.Provision: runtime must not be nil")
	if size < 1 {
		return Fleet{}, fmt.Errorf("%w: fleet size %d, need at least 1", ErrProvisioningFailure, size)
	}
	if strings.TrimSpace(authorizedKey) == "" {
		return Fleet{}, fmt.Errorf("%w: no public credential to inject", ErrProvisioningFailure)
	}

	runID := uuid.NewString()[:8]
	prefix := p.NamePrefix
	if prefix == "" {
		prefix = defaultNamePrefix
	}
	network := fmt.Sprintf("%s-%s", prefix, runID)
	log := logging.Component("provisioner").With("run", runID)

	netID, err := p.Runtime.CreateNetwork(ctx, network)
	if err != nil {
		return Fleet{}, fmt.Errorf("%w: create network %q: %v", ErrProvisioningFailure, network, err)
	}
	log.Info("network created", "network", network)

	fl := Fleet{
		RunID:       runID,
		Network:     network,
		NetworkID:   netID,
		Provisioned: true,
	}

	var (
		mu    sync.Mutex
		nodes []Node
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := range size {
		name := nodeName(prefix, runID, i)
		g.Go(func() error {
			started, startErr := p.Runtime.StartNode(gctx, NodeSpec{
				Name:          name,
				Image:         p.Image,
				Network:       network,
				AuthorizedKey: authorizedKey,
			})
			if startErr != nil {
				return fmt.Errorf("start node %s: %w", name, startErr)
			}
			mu.Lock()
			nodes = append(nodes, Node{
				ID:      name,
				Address: started.Address,
				Port:    DefaultManagementPort,
				Role:    RoleTarget,
				User:    p.User,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn("provisioning failed, rolling back", "err", err)
		// StartNode can create a container and still fail before reporting
		// it, so rollback goes by every name this run could have created,
		// not by the nodes that came up. Missing nodes remove as success.
		fl.Nodes = fl.Nodes[:0]
		for i := range size {
			fl.Nodes = append(fl.Nodes, Node{ID: nodeName(prefix, runID, i)})
		}
		if rbErr := p.Teardown(ctx, fl); rbErr != nil {
			log.Error("rollback incomplete", "err", rbErr)
		}
		return Fleet{}, fmt.Errorf("%w: %v", ErrProvisioningFailure, err)
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	fl.Nodes = nodes

	if err := checkDistinctAddresses(nodes); err != nil {
		if rbErr := p.Teardown(ctx, fl); rbErr != nil {
			log.Error("rollback incomplete", "err", rbErr)
		}
		return Fleet{}, fmt.Errorf("%w: %v", ErrProvisioningFailure, err)
	}

	log.Info("fleet provisioned", "nodes", len(nodes))
	return fl, nil
}

// Teardown removes every node and the network segment. It is idempotent and
// best-effort: already-gone resources are success, and all remaining faults
// are collected rather than stopping at the first.
func (p *Provisioner) Teardown(ctx context.Context, f Fleet) error {
	check.Assert(p.Runtime != nil, "Provisioner.Teardown: runtime must not be nil")
	if !f.Provisioned {
		return nil
	}
	log := logging.Component("provisioner").With("run", f.RunID)

	var errs []error
	for _, n := range f.Nodes {
		if err := p.Runtime.RemoveNode(ctx, n.ID); err != nil {
			log.Warn("node removal failed", "node", n.ID, "err", err)
			errs = append(errs, fmt.Errorf("remove node %s: %w", n.ID, err))
		}
	}
	if f.Network != "" {
		if err := p.Runtime.RemoveNetwork(ctx, f.Network); err != nil {
			log.Warn("network removal failed", "network", f.Network, "err", err)
			errs = append(errs, fmt.Errorf("remove network %s: %w", f.Network, err))
		}
	}
	if len(errs) == 0 {
		log.Info("fleet torn down")
	}
	return errors.Join(errs...)
}

func nodeName(prefix, runID string, i int) string {
	return fmt.Sprintf("%s-%s-node%d", prefix, runID, i)
}

func checkDistinctAddresses(nodes []Node) error {
	seen := make(map[string]string, len(nodes))
	for _, n := range nodes {
		if n.Address == "" {
			return fmt.Errorf("node %s came up without an address", n.ID)
		}
		if other, dup := seen[n.Address]; dup {
			return fmt.Errorf("nodes %s and %s share address %s", other, n.ID, n.Address)
		}
		seen[n.Address] = n.ID
	}
	return nil
}
