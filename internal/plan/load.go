package plan

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Task is one declarative step. Immutable once the plan is loaded.
type Task struct {
	Name   string
	Action string
	Params map[string]string

	// When gates execution on the target node's facts.
	When Condition

	// Tolerant lets later tasks on the same node run after this one fails.
	// Default is fail-fast.
	Tolerant bool

	// Timeout bounds the task's remote completion. Zero means the engine
	// default.
	Timeout time.Duration
}

// Plan is the ordered task sequence applied to every target node.
type Plan struct {
	Name  string
	Tasks []Task
}

type planDoc struct {
	Name  string    `yaml:"name"`
	Tasks []taskDoc `yaml:"tasks"`
}

type taskDoc struct {
	Name     string            `yaml:"name"`
	Action   string            `yaml:"action"`
	Params   map[string]string `yaml:"params"`
	When     string            `yaml:"when"`
	Tolerant bool              `yaml:"tolerant"`
	Timeout  string            `yaml:"timeout"`
}

// Load reads and validates a plan file.
func Load(path string) (Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read plan: %w", err)
	}
	p, err := Parse(raw)
	if err != nil {
		return Plan{}, fmt.Errorf("plan %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a YAML plan document.
func Parse(raw []byte) (Plan, error) {
	var doc planDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Plan{}, fmt.Errorf("parse: %w", err)
	}
	if len(doc.Tasks) == 0 {
		return Plan{}, fmt.Errorf("plan has no tasks")
	}

	p := Plan{Name: doc.Name, Tasks: make([]Task, 0, len(doc.Tasks))}
	seen := make(map[string]bool, len(doc.Tasks))
	for i, td := range doc.Tasks {
		if td.Name == "" {
			return Plan{}, fmt.Errorf("task %d: name is required", i)
		}
		if seen[td.Name] {
			return Plan{}, fmt.Errorf("task %q: duplicate name", td.Name)
		}
		seen[td.Name] = true
		if td.Action == "" {
			return Plan{}, fmt.Errorf("task %q: action is required", td.Name)
		}
		cond, err := ParseCondition(td.When)
		if err != nil {
			return Plan{}, fmt.Errorf("task %q: %w", td.Name, err)
		}

		var timeout time.Duration
		if td.Timeout != "" {
			timeout, err = time.ParseDuration(td.Timeout)
			if err != nil {
				return Plan{}, fmt.Errorf("task %q: timeout: %w", td.Name, err)
			}
			if timeout <= 0 {
				return Plan{}, fmt.Errorf("task %q: timeout %s must be positive", td.Name, td.Timeout)
			}
		}

		p.Tasks = append(p.Tasks, Task{
			Name:     td.Name,
			Action:   td.Action,
			Params:   td.Params,
			When:     cond,
			Tolerant: td.Tolerant,
			Timeout:  timeout,
		})
	}
	return p, nil
}
