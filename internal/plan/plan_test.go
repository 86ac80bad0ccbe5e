package plan

import (
	"testing"
	"time"

	"fleetrun/internal/facts"
)

func TestParseCondition(t *testing.T) {
	tests := []struct {
		expr    string
		want    Condition
		wantErr bool
	}{
		{``, Condition{}, false},
		{`platform_family == "debian"`, Condition{Attr: "platform_family", Op: OpEqual, Value: "debian"}, false},
		{`platform != "alpine"`, Condition{Attr: "platform", Op: OpNotEqual, Value: "alpine"}, false},
		{`architecture == 'x86_64'`, Condition{Attr: "architecture", Op: OpEqual, Value: "x86_64"}, false},
		{`platform is "debian"`, Condition{}, true},
		{`== "debian"`, Condition{}, true},
	}
	for _, tt := range tests {
		got, err := ParseCondition(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCondition(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseCondition(%q) = %+v, want %+v", tt.expr, got, tt.want)
		}
	}
}

func TestCondition_Eval(t *testing.T) {
	f := facts.Facts{facts.AttrPlatformFamily: "debian"}

	tests := []struct {
		cond Condition
		want bool
	}{
		{Condition{}, true}, // empty condition matches all nodes
		{Condition{Attr: facts.AttrPlatformFamily, Op: OpEqual, Value: "debian"}, true},
		{Condition{Attr: facts.AttrPlatformFamily, Op: OpEqual, Value: "redhat"}, false},
		{Condition{Attr: facts.AttrPlatformFamily, Op: OpNotEqual, Value: "redhat"}, true},
		{Condition{Attr: "missing_attr", Op: OpEqual, Value: "x"}, false},
		{Condition{Attr: "missing_attr", Op: OpNotEqual, Value: "x"}, true},
	}
	for _, tt := range tests {
		if got := tt.cond.Eval(f); got != tt.want {
			t.Errorf("Eval(%s) = %v, want %v", tt.cond, got, tt.want)
		}
	}
}

func TestParse_FullPlan(t *testing.T) {
	raw := []byte(`
name: web-baseline
tasks:
  - name: install nginx
    action: package
    params:
      name: nginx
    when: platform_family == "debian"
    timeout: 90s
  - name: drop motd
    action: file
    params:
      path: /etc/motd
      content: "managed host"
    tolerant: true
`)
	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if p.Name != "web-baseline" {
		t.Errorf("plan name = %q", p.Name)
	}
	if len(p.Tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(p.Tasks))
	}

	first := p.Tasks[0]
	if first.Action != "package" || first.Params["name"] != "nginx" {
		t.Errorf("first task = %+v", first)
	}
	if first.When.Attr != "platform_family" || first.When.Value != "debian" {
		t.Errorf("first task condition = %+v", first.When)
	}
	if first.Timeout != 90*time.Second {
		t.Errorf("first task timeout = %v, want 90s", first.Timeout)
	}
	if first.Tolerant {
		t.Error("first task should default to fail-fast")
	}
	if !p.Tasks[1].Tolerant {
		t.Error("second task should be tolerant")
	}
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no tasks", `name: empty`},
		{"unnamed task", "tasks:\n  - action: command"},
		{"duplicate names", "tasks:\n  - name: a\n    action: command\n  - name: a\n    action: command"},
		{"missing action", "tasks:\n  - name: a"},
		{"bad condition", "tasks:\n  - name: a\n    action: command\n    when: platform is debian"},
		{"bad timeout", "tasks:\n  - name: a\n    action: command\n    timeout: soon"},
		{"negative timeout", "tasks:\n  - name: a\n    action: command\n    timeout: -5s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.raw)); err == nil {
				t.Errorf("Parse accepted %s", tt.name)
			}
		})
	}
}
