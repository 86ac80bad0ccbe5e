package facts_test

import (
	"context"
	"errors"
	"testing"

	"fleetrun/internal/adapter/fake"
	"fleetrun/internal/facts"
	"fleetrun/internal/fleet"
	"fleetrun/internal/sshexec"
)

const debianProbe = "id=debian\nid_like=\nversion=12\nkernel=6.1.0\narchitecture=aarch64\nhostname=node0\n"

func TestGather_ReadsNodeIdentity(t *testing.T) {
	runner := fake.NewRunner()
	runner.HandleResult("os-release", sshexec.Result{Stdout: debianProbe})

	g := &facts.Gatherer{Runner: runner}
	f, err := g.Gather(context.Background(), fleet.Node{ID: "node0"})
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if f.Get(facts.AttrPlatform) != "debian" {
		t.Errorf("platform = %q, want debian", f.Get(facts.AttrPlatform))
	}
	if f.PlatformFamily() != "debian" {
		t.Errorf("family = %q, want debian", f.PlatformFamily())
	}
}

func TestGather_ProbeExitFailure(t *testing.T) {
	runner := fake.NewRunner()
	runner.HandleResult("os-release", sshexec.Result{ExitCode: 127, Stderr: "sh: not found"})

	g := &facts.Gatherer{Runner: runner}
	_, err := g.Gather(context.Background(), fleet.Node{ID: "node0"})
	if !errors.Is(err, facts.ErrFactGather) {
		t.Fatalf("Gather() error = %v, want ErrFactGather", err)
	}
}

func TestGather_EmptyProbeOutput(t *testing.T) {
	runner := fake.NewRunner()
	runner.HandleResult("os-release", sshexec.Result{Stdout: ""})

	g := &facts.Gatherer{Runner: runner}
	_, err := g.Gather(context.Background(), fleet.Node{ID: "node0"})
	if !errors.Is(err, facts.ErrFactGather) {
		t.Fatalf("Gather() error = %v, want ErrFactGather", err)
	}
}

func TestGatherAll_FailureIsIsolated(t *testing.T) {
	runner := fake.NewRunner()
	runner.Handle("os-release", func(n fleet.Node, cmd string) (sshexec.Result, error) {
		if n.ID == "node1" {
			return sshexec.Result{}, errors.New("connection reset")
		}
		return sshexec.Result{Stdout: debianProbe}, nil
	})

	g := &facts.Gatherer{Runner: runner}
	nodes := []fleet.Node{{ID: "node0"}, {ID: "node1"}, {ID: "node2"}}
	gathered, failed := g.GatherAll(context.Background(), nodes)

	if len(gathered) != 2 {
		t.Fatalf("gathered %d nodes, want 2", len(gathered))
	}
	for _, id := range []string{"node0", "node2"} {
		if _, ok := gathered[id]; !ok {
			t.Errorf("node %s missing from gathered facts", id)
		}
	}
	if !errors.Is(failed["node1"], facts.ErrFactGather) {
		t.Errorf("node1 error = %v, want ErrFactGather", failed["node1"])
	}
}
