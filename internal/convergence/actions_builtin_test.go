package convergence_test

import (
	"context"
	"strings"
	"testing"

	"fleetrun/internal/adapter/fake"
	"fleetrun/internal/convergence"
	"fleetrun/internal/facts"
	"fleetrun/internal/fleet"
	"fleetrun/internal/sshexec"
)

func builtinExec(runner *fake.Runner, f facts.Facts) convergence.ExecContext {
	return convergence.ExecContext{
		Node:   fleet.Node{ID: "node0"},
		Facts:  f,
		Runner: runner,
	}
}

func lookupBuiltin(t *testing.T, name string) convergence.Action {
	t.Helper()
	a, ok := convergence.Builtin().Lookup(name)
	if !ok {
		t.Fatalf("builtin action %q not registered", name)
	}
	return a
}

func TestCommandAction_RunsAndReportsChanged(t *testing.T) {
	runner := fake.NewRunner()
	action := lookupBuiltin(t, "command")

	changed, err := action.Converge(context.Background(), builtinExec(runner, nil), map[string]string{
		"cmd": "useradd deploy",
	})
	if err != nil {
		t.Fatalf("Converge() error = %v", err)
	}
	if !changed {
		t.Error("command reported unchanged")
	}
}

func TestCommandAction_CreatesGuardShortCircuits(t *testing.T) {
	runner := fake.NewRunner()
	runner.HandleResult("test -e", sshexec.Result{ExitCode: 0})
	action := lookupBuiltin(t, "command")

	changed, err := action.Converge(context.Background(), builtinExec(runner, nil), map[string]string{
		"cmd":     "tar xzf /tmp/app.tgz -C /opt",
		"creates": "/opt/app",
	})
	if err != nil {
		t.Fatalf("Converge() error = %v", err)
	}
	if changed {
		t.Error("guarded command reported changed")
	}

	for _, cmd := range runner.CommandsFor("node0") {
		if strings.Contains(cmd, "tar xzf") {
			t.Errorf("guarded command still ran: %q", cmd)
		}
	}
}

func TestCommandAction_NonZeroExitFails(t *testing.T) {
	runner := fake.NewRunner()
	runner.HandleResult("false-cmd", sshexec.Result{ExitCode: 2, Stderr: "boom"})
	action := lookupBuiltin(t, "command")

	_, err := action.Converge(context.Background(), builtinExec(runner, nil), map[string]string{
		"cmd": "false-cmd",
	})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Converge() error = %v, want stderr in message", err)
	}
}

func TestFileAction_AlreadyConverged(t *testing.T) {
	// The writer terminates the file with a newline, so that is the on-disk
	// form a converged read-back returns.
	runner := fake.NewRunner()
	runner.HandleResult("2>/dev/null", sshexec.Result{ExitCode: 0, Stdout: "managed host\n"})
	action := lookupBuiltin(t, "file")

	changed, err := action.Converge(context.Background(), builtinExec(runner, nil), map[string]string{
		"path":    "/etc/motd",
		"content": "managed host",
	})
	if err != nil {
		t.Fatalf("Converge() error = %v", err)
	}
	if changed {
		t.Error("identical file reported changed")
	}
}

// fileHost emulates the remote side of the file action: heredoc writes update
// an in-memory file, cat reads it back. It lets a write-then-check sequence
// run against real shell-shaped state instead of canned results.
type fileHost struct {
	files map[string]string
}

func newFileHost() *fileHost { return &fileHost{files: make(map[string]string)} }

func (h *fileHost) handle(cmd string) (sshexec.Result, bool) {
	const hereTag = "<<'FLEETRUN_EOF'\n"
	if i := strings.Index(cmd, hereTag); i >= 0 {
		body := cmd[i+len(hereTag) : strings.LastIndex(cmd, "FLEETRUN_EOF")]
		path := pathBetween(cmd, "cat > '", "'")
		h.files[path] = body
		return sshexec.Result{ExitCode: 0}, true
	}
	if strings.HasPrefix(cmd, "cat '") {
		path := pathBetween(cmd, "cat '", "'")
		content, ok := h.files[path]
		if !ok {
			return sshexec.Result{ExitCode: 1}, true
		}
		return sshexec.Result{ExitCode: 0, Stdout: content}, true
	}
	return sshexec.Result{}, false
}

func pathBetween(s, prefix, end string) string {
	i := strings.Index(s, prefix)
	rest := s[i+len(prefix):]
	return rest[:strings.Index(rest, end)]
}

func TestFileAction_SecondPassIsFixedPoint(t *testing.T) {
	for _, declared := range []string{"managed host", "managed host\n"} {
		host := newFileHost()
		runner := fake.NewRunner()
		runner.Handle("", func(n fleet.Node, cmd string) (sshexec.Result, error) {
			res, ok := host.handle(cmd)
			if !ok {
				t.Fatalf("unexpected command %q", cmd)
			}
			return res, nil
		})
		action := lookupBuiltin(t, "file")
		params := map[string]string{"path": "/etc/motd", "content": declared}

		changed, err := action.Converge(context.Background(), builtinExec(runner, nil), params)
		if err != nil {
			t.Fatalf("first Converge(%q) error = %v", declared, err)
		}
		if !changed {
			t.Errorf("first Converge(%q) reported unchanged", declared)
		}

		changed, err = action.Converge(context.Background(), builtinExec(runner, nil), params)
		if err != nil {
			t.Fatalf("second Converge(%q) error = %v", declared, err)
		}
		if changed {
			t.Errorf("second Converge(%q) reported changed, file = %q", declared, host.files["/etc/motd"])
		}
	}
}

func TestFileAction_WritesAndSetsMode(t *testing.T) {
	runner := fake.NewRunner()
	runner.HandleResult("2>/dev/null", sshexec.Result{ExitCode: 1})
	action := lookupBuiltin(t, "file")

	changed, err := action.Converge(context.Background(), builtinExec(runner, nil), map[string]string{
		"path":    "/etc/motd",
		"content": "managed host",
		"mode":    "0644",
	})
	if err != nil {
		t.Fatalf("Converge() error = %v", err)
	}
	if !changed {
		t.Error("missing file reported unchanged")
	}

	var wrote, chmodded bool
	for _, cmd := range runner.CommandsFor("node0") {
		if strings.Contains(cmd, "managed host") && strings.Contains(cmd, "/etc/motd") {
			wrote = true
		}
		if strings.Contains(cmd, "chmod '0644'") {
			chmodded = true
		}
	}
	if !wrote {
		t.Error("file content never written")
	}
	if !chmodded {
		t.Error("mode never applied")
	}
}

func TestPackageAction_InstallsPerFamily(t *testing.T) {
	tests := []struct {
		family      string
		wantQuery   string
		wantInstall string
	}{
		{"debian", "dpkg-query", "apt-get install"},
		{"redhat", "rpm -q", "dnf install"},
		{"alpine", "apk info", "apk add"},
	}
	for _, tt := range tests {
		t.Run(tt.family, func(t *testing.T) {
			runner := fake.NewRunner()
			runner.HandleResult(tt.wantQuery, sshexec.Result{ExitCode: 1})
			action := lookupBuiltin(t, "package")

			f := facts.Facts{facts.AttrPlatformFamily: tt.family}
			changed, err := action.Converge(context.Background(), builtinExec(runner, f), map[string]string{
				"name": "nginx",
			})
			if err != nil {
				t.Fatalf("Converge() error = %v", err)
			}
			if !changed {
				t.Error("missing package reported unchanged")
			}

			var installed bool
			for _, cmd := range runner.CommandsFor("node0") {
				if strings.Contains(cmd, tt.wantInstall) {
					installed = true
				}
			}
			if !installed {
				t.Errorf("no %q command issued", tt.wantInstall)
			}
		})
	}
}

func TestPackageAction_AlreadyInstalled(t *testing.T) {
	runner := fake.NewRunner()
	action := lookupBuiltin(t, "package")

	f := facts.Facts{facts.AttrPlatformFamily: "debian"}
	changed, err := action.Converge(context.Background(), builtinExec(runner, f), map[string]string{
		"name": "nginx",
	})
	if err != nil {
		t.Fatalf("Converge() error = %v", err)
	}
	if changed {
		t.Error("installed package reported changed")
	}

	for _, cmd := range runner.CommandsFor("node0") {
		if strings.Contains(cmd, "apt-get install") {
			t.Errorf("install ran on an already-installed package: %q", cmd)
		}
	}
}

func TestPackageAction_UnsupportedFamily(t *testing.T) {
	runner := fake.NewRunner()
	action := lookupBuiltin(t, "package")

	f := facts.Facts{facts.AttrPlatformFamily: "plan9"}
	_, err := action.Converge(context.Background(), builtinExec(runner, f), map[string]string{
		"name": "nginx",
	})
	if err == nil || !strings.Contains(err.Error(), "plan9") {
		t.Fatalf("Converge() error = %v, want unsupported family", err)
	}
}

func TestServiceAction_EnablesAndStarts(t *testing.T) {
	runner := fake.NewRunner()
	runner.HandleResult("is-enabled", sshexec.Result{ExitCode: 1})
	runner.HandleResult("is-active", sshexec.Result{ExitCode: 3})
	action := lookupBuiltin(t, "service")

	changed, err := action.Converge(context.Background(), builtinExec(runner, nil), map[string]string{
		"name":  "nginx",
		"state": "started",
	})
	if err != nil {
		t.Fatalf("Converge() error = %v", err)
	}
	if !changed {
		t.Error("disabled service reported unchanged")
	}

	var enabled, started bool
	for _, cmd := range runner.CommandsFor("node0") {
		if strings.Contains(cmd, "systemctl enable") {
			enabled = true
		}
		if strings.Contains(cmd, "systemctl start") {
			started = true
		}
	}
	if !enabled || !started {
		t.Errorf("enable=%v start=%v, want both", enabled, started)
	}
}

func TestServiceAction_AlreadyRunning(t *testing.T) {
	runner := fake.NewRunner()
	action := lookupBuiltin(t, "service")

	changed, err := action.Converge(context.Background(), builtinExec(runner, nil), map[string]string{
		"name":  "nginx",
		"state": "started",
	})
	if err != nil {
		t.Fatalf("Converge() error = %v", err)
	}
	if changed {
		t.Error("running service reported changed")
	}
}
