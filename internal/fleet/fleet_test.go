package fleet_test

import (
	"testing"

	"fleetrun/internal/fleet"
)

func TestNode_DialAddr(t *testing.T) {
	tests := []struct {
		node fleet.Node
		want string
	}{
		{fleet.Node{Address: "10.77.0.1", Port: 22}, "10.77.0.1:22"},
		{fleet.Node{Address: "10.77.0.1"}, "10.77.0.1:22"}, // zero port falls back
		{fleet.Node{Address: "192.0.2.7", Port: 2222}, "192.0.2.7:2222"},
		{fleet.Node{Address: "fd00::1", Port: 22}, "[fd00::1]:22"},
	}
	for _, tt := range tests {
		if got := tt.node.DialAddr(); got != tt.want {
			t.Errorf("DialAddr(%+v) = %q, want %q", tt.node, got, tt.want)
		}
	}
}
