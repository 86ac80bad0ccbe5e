// Package plan loads the declarative task plan: an ordered list of
// conditional, idempotent tasks shared read-only by every node in a run.
package plan

import (
	"fmt"
	"strings"

	"fleetrun/internal/facts"
)

// Op is a condition comparison operator.
type Op string

const (
	OpEqual    Op = "=="
	OpNotEqual Op = "!="
)

// Condition is a pure predicate over a node's facts. The zero value (no
// attribute) matches every node.
type Condition struct {
	Attr  string
	Op    Op
	Value string
}

// Eval applies the predicate to one node's facts. Evaluation is strictly
// local to that node and has no side effects.
func (c Condition) Eval(f facts.Facts) bool {
	if c.Attr == "" {
		return true
	}
	got := f.Get(c.Attr)
	switch c.Op {
	case OpNotEqual:
		return got != c.Value
	default:
		return got == c.Value
	}
}

// String renders the predicate in its source form.
func (c Condition) String() string {
	if c.Attr == "" {
		return ""
	}
	return fmt.Sprintf("%s %s %q", c.Attr, c.Op, c.Value)
}

// ParseCondition compiles an expression like `platform_family == "debian"`.
func ParseCondition(expr string) (Condition, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Condition{}, nil
	}

	var op Op
	var attr, rest string
	switch {
	case strings.Contains(expr, string(OpNotEqual)):
		op = OpNotEqual
		attr, rest, _ = strings.Cut(expr, string(OpNotEqual))
	case strings.Contains(expr, string(OpEqual)):
		op = OpEqual
		attr, rest, _ = strings.Cut(expr, string(OpEqual))
	default:
		return Condition{}, fmt.Errorf("condition %q: expected == or !=", expr)
	}

	attr = strings.TrimSpace(attr)
	if attr == "" {
		return Condition{}, fmt.Errorf("condition %q: missing fact name", expr)
	}

	value := strings.TrimSpace(rest)
	unquoted := strings.Trim(value, `"'`)
	if unquoted == value && value != "" && strings.ContainsAny(value, " \t") {
		return Condition{}, fmt.Errorf("condition %q: unquoted value", expr)
	}

	return Condition{Attr: attr, Op: op, Value: unquoted}, nil
}
