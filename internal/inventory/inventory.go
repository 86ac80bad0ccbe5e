// Package inventory loads a pre-existing fleet description from YAML:
// node id → connection settings, with group-level defaults applied wherever
// a node carries no override.
package inventory

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"fleetrun/internal/fleet"
)

type document struct {
	Defaults entry            `yaml:"defaults"`
	Nodes    map[string]entry `yaml:"nodes"`
}

type entry struct {
	Address     string            `yaml:"address"`
	Port        int               `yaml:"port"`
	User        string            `yaml:"user"`
	KeyPath     string            `yaml:"key"`
	Interpreter string            `yaml:"interpreter"`
	Role        string            `yaml:"role"`
	Options     map[string]string `yaml:"options"`
}

// Load reads an inventory file into a non-provisioned fleet.
func Load(path string) (fleet.Fleet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fleet.Fleet{}, fmt.Errorf("read inventory: %w", err)
	}
	f, err := Parse(raw)
	if err != nil {
		return fleet.Fleet{}, fmt.Errorf("inventory %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a YAML inventory document. Nodes come back sorted by ID so a
// run over the same inventory always sees the same order.
func Parse(raw []byte) (fleet.Fleet, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fleet.Fleet{}, fmt.Errorf("parse: %w", err)
	}
	if len(doc.Nodes) == 0 {
		return fleet.Fleet{}, fmt.Errorf("inventory has no nodes")
	}

	seen := make(map[string]string, len(doc.Nodes))
	nodes := make([]fleet.Node, 0, len(doc.Nodes))
	for id, e := range doc.Nodes {
		merged := mergeEntry(doc.Defaults, e)
		if merged.Address == "" {
			return fleet.Fleet{}, fmt.Errorf("node %q: address is required", id)
		}
		role, err := parseRole(merged.Role)
		if err != nil {
			return fleet.Fleet{}, fmt.Errorf("node %q: %w", id, err)
		}
		if other, dup := seen[merged.Address]; dup {
			return fleet.Fleet{}, fmt.Errorf("nodes %q and %q share address %s", other, id, merged.Address)
		}
		seen[merged.Address] = id

		nodes = append(nodes, fleet.Node{
			ID:          id,
			Address:     merged.Address,
			Port:        merged.Port,
			Role:        role,
			User:        merged.User,
			KeyPath:     merged.KeyPath,
			Interpreter: merged.Interpreter,
			Options:     merged.Options,
		})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	return fleet.Fleet{Nodes: nodes, Provisioned: false}, nil
}

// mergeEntry fills every unset node field from the group defaults.
func mergeEntry(defaults, e entry) entry {
	if e.Address == "" {
		e.Address = defaults.Address
	}
	if e.Port == 0 {
		e.Port = defaults.Port
	}
	if e.User == "" {
		e.User = defaults.User
	}
	if e.KeyPath == "" {
		e.KeyPath = defaults.KeyPath
	}
	if e.Interpreter == "" {
		e.Interpreter = defaults.Interpreter
	}
	if e.Role == "" {
		e.Role = defaults.Role
	}
	if len(defaults.Options) > 0 {
		merged := make(map[string]string, len(defaults.Options)+len(e.Options))
		for k, v := range defaults.Options {
			merged[k] = v
		}
		for k, v := range e.Options {
			merged[k] = v
		}
		e.Options = merged
	}
	return e
}

func parseRole(role string) (fleet.Role, error) {
	switch role {
	case "", string(fleet.RoleTarget):
		return fleet.RoleTarget, nil
	case string(fleet.RoleController):
		return fleet.RoleController, nil
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}
}
