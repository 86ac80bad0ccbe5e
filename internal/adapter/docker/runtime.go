// Package docker backs the fleet provisioner with the Docker Engine API.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"fleetrun/internal/fleet"
)

const (
	labelManaged = "fleetrun.managed"

	// authorizedKeyEnv is read by the node image's init, which installs
	// the value for the management user before starting sshd.
	authorizedKeyEnv = "FLEETRUN_AUTHORIZED_KEY"
)

var sshPort = nat.Port("22/tcp")

var _ fleet.NodeRuntime = (*Runtime)(nil)

// Runtime adapts the Docker Engine API to the provisioner's port.
type Runtime struct {
	Client client.APIClient
}

// New returns a Runtime on the default Docker client from the environment.
func New() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Runtime{Client: cli}, nil
}

// CreateNetwork creates the run's isolated bridge segment.
func (r *Runtime) CreateNetwork(ctx context.Context, name string) (string, error) {
	resp, err := r.Client.NetworkCreate(ctx, name, network.CreateOptions{
		Driver:     "bridge",
		Attachable: true,
		Labels:     map[string]string{labelManaged: "true"},
	})
	if err != nil {
		return "", fmt.Errorf("create network %s: %w", name, err)
	}
	return resp.ID, nil
}

// RemoveNetwork removes the segment. Already-gone networks are success.
func (r *Runtime) RemoveNetwork(ctx context.Context, name string) error {
	if err := r.Client.NetworkRemove(ctx, name); err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("remove network %s: %w", name, err)
		}
	}
	return nil
}

// StartNode creates and starts one node container on the fleet segment,
// pulling the image on first use, and reports the address the node got on
// the segment.
func (r *Runtime) StartNode(ctx context.Context, spec fleet.NodeSpec) (fleet.StartedNode, error) {
	containerCfg := &container.Config{
		Image:        spec.Image,
		Env:          []string{authorizedKeyEnv + "=" + spec.AuthorizedKey},
		ExposedPorts: nat.PortSet{sshPort: struct{}{}},
		Labels:       map[string]string{labelManaged: "true"},
	}
	networkCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			spec.Network: {},
		},
	}

	_, err := r.Client.ContainerCreate(ctx, containerCfg, &container.HostConfig{}, networkCfg, nil, spec.Name)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return fleet.StartedNode{}, fmt.Errorf("create node %s: %w", spec.Name, err)
		}
		if err := r.pullImage(ctx, spec.Image); err != nil {
			return fleet.StartedNode{}, err
		}
		if _, err = r.Client.ContainerCreate(ctx, containerCfg, &container.HostConfig{}, networkCfg, nil, spec.Name); err != nil {
			return fleet.StartedNode{}, fmt.Errorf("create node %s after pull: %w", spec.Name, err)
		}
	}

	if err := r.Client.ContainerStart(ctx, spec.Name, container.StartOptions{}); err != nil {
		return fleet.StartedNode{}, fmt.Errorf("start node %s: %w", spec.Name, err)
	}

	info, err := r.Client.ContainerInspect(ctx, spec.Name)
	if err != nil {
		return fleet.StartedNode{}, fmt.Errorf("inspect node %s: %w", spec.Name, err)
	}
	ep, ok := info.NetworkSettings.Networks[spec.Network]
	if !ok || ep.IPAddress == "" {
		return fleet.StartedNode{}, fmt.Errorf("node %s has no address on network %s", spec.Name, spec.Network)
	}

	return fleet.StartedNode{ID: spec.Name, Address: ep.IPAddress}, nil
}

// RemoveNode stops and removes a node container. Already-gone containers
// are success.
func (r *Runtime) RemoveNode(ctx context.Context, name string) error {
	if err := r.Client.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("stop node %s: %w", name, err)
		}
	}
	if err := r.Client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("remove node %s: %w", name, err)
		}
	}
	return nil
}

func (r *Runtime) pullImage(ctx context.Context, img string) error {
	slog.Info("pulling node image", "image", img)
	resp, err := r.Client.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", img, err)
	}
	defer resp.Close()
	if _, err := io.Copy(io.Discard, resp); err != nil {
		return fmt.Errorf("pull image %s: read response: %w", img, err)
	}
	return nil
}
