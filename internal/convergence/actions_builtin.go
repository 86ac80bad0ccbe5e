package convergence

import (
	"context"
	"fmt"
	"strings"

	"fleetrun/internal/facts"
)

// commandAction runs an arbitrary command. Idempotence comes from the
// optional "creates" guard: when that path exists the command is considered
// already applied.
type commandAction struct{}

func (commandAction) Name() string { return "command" }

func (commandAction) Converge(ctx context.Context, ec ExecContext, params map[string]string) (bool, error) {
	cmd := params["cmd"]
	if cmd == "" {
		return false, fmt.Errorf("command: param %q is required", "cmd")
	}

	if creates := params["creates"]; creates != "" {
		res, err := ec.Run(ctx, "test -e "+shQuote(creates))
		if err != nil {
			return false, err
		}
		if res.ExitCode == 0 {
			return false, nil
		}
	}

	res, err := ec.Run(ctx, cmd)
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		return false, fmt.Errorf("command exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return true, nil
}

// fileAction converges a file to exact content, optionally with a mode.
type fileAction struct{}

func (fileAction) Name() string { return "file" }

func (fileAction) Converge(ctx context.Context, ec ExecContext, params map[string]string) (bool, error) {
	path := params["path"]
	if path == "" {
		return false, fmt.Errorf("file: param %q is required", "path")
	}
	// The heredoc write below always terminates the file with a newline, so
	// the converged on-disk form is the declared content normalized the same
	// way. Comparing against anything else would rewrite on every pass.
	content := strings.TrimSuffix(params["content"], "\n") + "\n"

	current, err := ec.Run(ctx, "cat "+shQuote(path)+" 2>/dev/null")
	if err != nil {
		return false, err
	}
	if current.ExitCode == 0 && current.Stdout == content {
		return false, nil
	}

	write := fmt.Sprintf("mkdir -p $(dirname %s) && cat > %s <<'FLEETRUN_EOF'\n%sFLEETRUN_EOF", shQuote(path), shQuote(path), content)
	res, err := ec.Run(ctx, write)
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		return false, fmt.Errorf("write %s exited %d: %s", path, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	if mode := params["mode"]; mode != "" {
		res, err := ec.Run(ctx, "chmod "+shQuote(mode)+" "+shQuote(path))
		if err != nil {
			return false, err
		}
		if res.ExitCode != 0 {
			return false, fmt.Errorf("chmod %s exited %d", path, res.ExitCode)
		}
	}
	return true, nil
}

// packageAction ensures a package is installed through the node's platform
// package manager. The concrete commands branch on platform_family; the
// query-before-install split gives the unchanged outcome on re-runs.
type packageAction struct{}

func (packageAction) Name() string { return "package" }

func (packageAction) Converge(ctx context.Context, ec ExecContext, params map[string]string) (bool, error) {
	pkg := params["name"]
	if pkg == "" {
		return false, fmt.Errorf("package: param %q is required", "name")
	}

	family := ec.Facts.PlatformFamily()
	query, install, err := packageCommands(family, pkg)
	if err != nil {
		return false, err
	}

	res, err := ec.Run(ctx, query)
	if err != nil {
		return false, err
	}
	if res.ExitCode == 0 {
		return false, nil
	}

	res, err = ec.Run(ctx, install)
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		return false, fmt.Errorf("install %s on %s exited %d: %s", pkg, family, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return true, nil
}

func packageCommands(family, pkg string) (query, install string, err error) {
	q := shQuote(pkg)
	switch family {
	case "debian":
		return "dpkg-query -W " + q + " >/dev/null 2>&1",
			"DEBIAN_FRONTEND=noninteractive apt-get install -y " + q, nil
	case "redhat":
		return "rpm -q " + q + " >/dev/null 2>&1",
			"dnf install -y " + q + " 2>/dev/null || yum install -y " + q, nil
	case "alpine":
		return "apk info -e " + q + " >/dev/null 2>&1",
			"apk add " + q, nil
	default:
		return "", "", fmt.Errorf("package: unsupported %s %q", facts.AttrPlatformFamily, family)
	}
}

// serviceAction ensures a service is enabled and, when state=started, running.
type serviceAction struct{}

func (serviceAction) Name() string { return "service" }

func (serviceAction) Converge(ctx context.Context, ec ExecContext, params map[string]string) (bool, error) {
	name := params["name"]
	if name == "" {
		return false, fmt.Errorf("service: param %q is required", "name")
	}
	q := shQuote(name)
	changed := false

	res, err := ec.Run(ctx, "systemctl is-enabled "+q+" >/dev/null 2>&1")
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		res, err = ec.Run(ctx, "systemctl enable "+q)
		if err != nil {
			return false, err
		}
		if res.ExitCode != 0 {
			return false, fmt.Errorf("enable %s exited %d: %s", name, res.ExitCode, strings.TrimSpace(res.Stderr))
		}
		changed = true
	}

	if params["state"] == "started" {
		res, err = ec.Run(ctx, "systemctl is-active "+q+" >/dev/null 2>&1")
		if err != nil {
			return false, err
		}
		if res.ExitCode != 0 {
			res, err = ec.Run(ctx, "systemctl start "+q)
			if err != nil {
				return false, err
			}
			if res.ExitCode != 0 {
				return false, fmt.Errorf("start %s exited %d: %s", name, res.ExitCode, strings.TrimSpace(res.Stderr))
			}
			changed = true
		}
	}
	return changed, nil
}
