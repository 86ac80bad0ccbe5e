// Package fleet models the transient group of nodes one run manages and
// provisions it on a container runtime. A fleet lives exactly as long as its
// run: one isolated network segment, one credential, N nodes.
package fleet

import (
	"net"
	"strconv"
	"time"
)

// Role distinguishes the controlling side of the trust boundary from managed
// targets. Provisioned nodes are always targets; the orchestrator process is
// the controller and only appears as a node when an inventory declares it.
type Role string

const (
	RoleController Role = "controller"
	RoleTarget     Role = "target"
)

// DefaultManagementPort is the SSH port node images listen on.
const DefaultManagementPort = 22

// Node is one remote-manageable member of a fleet. Address is stable for the
// run's duration; no two live nodes share one.
type Node struct {
	ID          string
	Address     string
	Port        int
	Role        Role
	User        string
	KeyPath     string
	Interpreter string
	Reachable   bool

	// Options carries per-connection settings from an inventory entry,
	// already merged with the inventory defaults.
	Options map[string]string
}

// DialAddr returns the node's management endpoint as host:port.
func (n Node) DialAddr() string {
	port := n.Port
	if port == 0 {
		port = DefaultManagementPort
	}
	return net.JoinHostPort(n.Address, strconv.Itoa(port))
}

// Fleet is the ordered set of nodes sharing one isolated network segment.
type Fleet struct {
	RunID     string
	Network   string
	NetworkID string
	Nodes     []Node

	// Provisioned is false for inventory-supplied fleets, which are not
	// torn down.
	Provisioned bool
}

// Node returns the member with the given ID.
func (f Fleet) Node(id string) (Node, bool) {
	for _, n := range f.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
