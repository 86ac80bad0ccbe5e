package facts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"fleetrun/internal/fleet"
	"fleetrun/internal/logging"
	"fleetrun/internal/sshexec"
)

// ErrFactGather marks a per-node gathering failure. It is isolated: the node
// is excluded from convergence, siblings are unaffected.
var ErrFactGather = errors.New("fact gathering failed")

// probeScript reads the identity attributes in one round trip. Keys here must
// match the parser below.
const probeScript = `. /etc/os-release 2>/dev/null
echo "id=${ID}"
echo "id_like=${ID_LIKE}"
echo "version=${VERSION_ID}"
echo "kernel=$(uname -r)"
echo "architecture=$(uname -m)"
echo "hostname=$(hostname)"`

// Gatherer queries nodes for their facts over the management channel.
type Gatherer struct {
	Runner sshexec.Runner
}

// Gather probes one node. Executed once per reachable node.
func (g *Gatherer) Gather(ctx context.Context, node fleet.Node) (Facts, error) {
	res, err := g.Runner.Run(ctx, node, probeScript)
	if err != nil {
		return nil, fmt.Errorf("%w: node %s: %v", ErrFactGather, node.ID, err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%w: node %s: probe exited %d: %s", ErrFactGather, node.ID, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	f := parseProbe(res.Stdout)
	if f[AttrPlatform] == "" {
		return nil, fmt.Errorf("%w: node %s: probe reported no platform", ErrFactGather, node.ID)
	}
	return f, nil
}

// GatherAll probes nodes in parallel. One node's failure never affects
// another's; failures come back in the error map keyed by node ID.
func (g *Gatherer) GatherAll(ctx context.Context, nodes []fleet.Node) (map[string]Facts, map[string]error) {
	type outcome struct {
		nodeID string
		facts  Facts
		err    error
	}

	log := logging.Component("fact-gatherer")
	ch := make(chan outcome, len(nodes))
	var wg sync.WaitGroup

	for _, node := range nodes {
		wg.Add(1)
		go func(n fleet.Node) {
			defer wg.Done()
			f, err := g.Gather(ctx, n)
			ch <- outcome{nodeID: n.ID, facts: f, err: err}
		}(node)
	}

	go func() {
		wg.Wait()
		close(ch)
	}()

	gathered := make(map[string]Facts, len(nodes))
	failed := make(map[string]error)
	for o := range ch {
		if o.err != nil {
			log.Warn("fact gathering failed", "node", o.nodeID, "err", o.err)
			failed[o.nodeID] = o.err
			continue
		}
		log.Debug("facts gathered", "node", o.nodeID, "platform", o.facts.Get(AttrPlatform))
		gathered[o.nodeID] = o.facts
	}
	return gathered, failed
}

func parseProbe(out string) Facts {
	raw := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		raw[key] = strings.Trim(strings.TrimSpace(value), `"`)
	}

	f := Facts{
		AttrPlatform:        strings.ToLower(raw["id"]),
		AttrPlatformVersion: raw["version"],
		AttrKernel:          raw["kernel"],
		AttrArchitecture:    raw["architecture"],
		AttrHostname:        raw["hostname"],
	}
	f[AttrPlatformFamily] = deriveFamily(f[AttrPlatform], raw["id_like"])
	return f
}

// deriveFamily resolves the distribution family from ID, falling back to
// ID_LIKE entries, then to the raw ID.
func deriveFamily(id, idLike string) string {
	if fam, ok := familyByID[id]; ok {
		return fam
	}
	for _, like := range strings.Fields(strings.ToLower(idLike)) {
		if fam, ok := familyByID[like]; ok {
			return fam
		}
	}
	return id
}
