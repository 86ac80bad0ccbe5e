// Package readiness polls fleet nodes until their management endpoints
// accept connections or a deadline expires.
package readiness

import (
	"context"
	"net"
	"sync"
	"time"

	"fleetrun/internal/fleet"
	"fleetrun/internal/logging"
)

const (
	defaultPollInterval = 1 * time.Second
	probeDialTimeout    = 3 * time.Second
)

// Waiter probes each node independently at a fixed interval. One slow node
// never blocks polling of the others.
type Waiter struct {
	// Interval between probes per node. Zero means 1s.
	Interval time.Duration

	// DialFunc overrides the TCP probe for testing. Nil means a real dial.
	DialFunc func(ctx context.Context, addr string) error
}

// WaitReady polls until every node answered or timeout elapsed. It returns
// the set of node IDs that became reachable; missing entries timed out.
// Timing out is not fatal here: the coordinator decides whether a degraded
// fleet may proceed.
func (w *Waiter) WaitReady(ctx context.Context, nodes []fleet.Node, timeout time.Duration) map[string]bool {
	log := logging.Component("readiness")
	interval := w.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu        sync.Mutex
		reachable = make(map[string]bool, len(nodes))
	)
	var wg sync.WaitGroup
	for _, node := range nodes {
		wg.Add(1)
		go func(n fleet.Node) {
			defer wg.Done()
			if !w.pollNode(waitCtx, n, interval) {
				log.Warn("node never became reachable", "node", n.ID, "addr", n.DialAddr())
				return
			}
			log.Debug("node reachable", "node", n.ID)
			mu.Lock()
			reachable[n.ID] = true
			mu.Unlock()
		}(node)
	}
	wg.Wait()

	log.Info("readiness wait finished", "reachable", len(reachable), "total", len(nodes))
	return reachable
}

// pollNode probes one node until success or context expiry. The first probe
// fires immediately.
func (w *Waiter) pollNode(ctx context.Context, node fleet.Node, interval time.Duration) bool {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if w.probe(ctx, node.DialAddr()) == nil {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (w *Waiter) probe(ctx context.Context, addr string) error {
	if w.DialFunc != nil {
		return w.DialFunc(ctx, addr)
	}

	dialCtx, cancel := context.WithTimeout(ctx, probeDialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}
