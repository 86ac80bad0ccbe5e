// Package runcmd implements the run command: one full orchestration pass
// over an ephemeral or inventory fleet.
package runcmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"fleetrun/cmd/fleetrun/ui"
	"fleetrun/internal/adapter/docker"
	"fleetrun/internal/fleet"
	"fleetrun/internal/history"
	"fleetrun/internal/inventory"
	"fleetrun/internal/plan"
	"fleetrun/internal/readiness"
	"fleetrun/internal/run"
)

const defaultNodeImage = "fleetrun-node:latest"

// ExitError carries the process exit code of a finished run out through
// cobra's error path.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("run finished with exit code %d", e.Code)
}

type options struct {
	planPath       string
	inventoryPath  string
	size           int
	timeout        time.Duration
	taskTimeout    time.Duration
	image          string
	user           string
	historyDB      string
	noHistory      bool
	trace          bool
	skipClockCheck bool
	ntpPool        string
}

// Cmd builds the run command.
func Cmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Provision a fleet, converge it onto a plan, tear it down",
		Long: `Run executes a plan against a fleet of nodes.

By default an ephemeral fleet is provisioned for the run and torn down
when it finishes, on every exit path. With --inventory the fleet is
taken from a file instead and never provisioned or destroyed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.planPath, "plan", "", "Path to the plan file (required)")
	cmd.Flags().StringVar(&opts.inventoryPath, "inventory", "", "Path to an inventory file; disables provisioning")
	cmd.Flags().IntVar(&opts.size, "size", 2, "Number of nodes to provision")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Readiness timeout for the whole fleet")
	cmd.Flags().DurationVar(&opts.taskTimeout, "task-timeout", 60*time.Second, "Default per-task timeout")
	cmd.Flags().StringVar(&opts.image, "image", defaultNodeImage, "Node container image")
	cmd.Flags().StringVar(&opts.user, "user", "root", "SSH login accepted by the node image")
	cmd.Flags().StringVar(&opts.historyDB, "history-db", defaultHistoryPath(), "Run history database path")
	cmd.Flags().BoolVar(&opts.noHistory, "no-history", false, "Do not record this run")
	cmd.Flags().BoolVar(&opts.trace, "trace", false, "Emit run traces to stderr")
	cmd.Flags().BoolVar(&opts.skipClockCheck, "skip-clock-check", false, "Skip the controller NTP clock check")
	cmd.Flags().StringVar(&opts.ntpPool, "ntp-pool", "", "NTP pool for the clock check")
	_ = cmd.MarkFlagRequired("plan")

	return cmd
}

func runRun(ctx context.Context, opts options) error {
	// Interrupts cancel the context; teardown still runs under its own
	// deadline inside the coordinator.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pl, err := plan.Load(opts.planPath)
	if err != nil {
		return err
	}

	coord := &run.Coordinator{
		Waiter:      &readiness.Waiter{},
		TaskTimeout: opts.taskTimeout,
	}

	var inv *fleet.Fleet
	if opts.inventoryPath != "" {
		loaded, invErr := inventory.Load(opts.inventoryPath)
		if invErr != nil {
			return invErr
		}
		inv = &loaded
	} else {
		rt, rtErr := docker.New()
		if rtErr != nil {
			return rtErr
		}
		coord.Provisioner = &fleet.Provisioner{
			Runtime: rt,
			Image:   opts.image,
			User:    opts.user,
		}
	}

	if !opts.noHistory && opts.historyDB != "" {
		store, histErr := history.Open(opts.historyDB)
		if histErr != nil {
			return histErr
		}
		defer func() { _ = store.Close() }()
		coord.History = store
	}

	if opts.trace {
		tracer, shutdown, traceErr := stderrTracer(ctx)
		if traceErr != nil {
			return traceErr
		}
		defer shutdown()
		coord.Tracer = tracer
	}

	if !opts.skipClockCheck {
		coord.ClockCheck = run.NTPClockCheck(opts.ntpPool)
	}

	res, _ := coord.Run(ctx, run.Options{
		Plan:      pl,
		Inventory: inv,
		Size:      opts.size,
		Timeout:   opts.timeout,
	})

	fmt.Print(ui.RunReport(res))

	if code := res.ExitCode(); code != run.ExitOK {
		return &ExitError{Code: code}
	}
	return nil
}

func stderrTracer(ctx context.Context) (trace.Tracer, func(), error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(os.Stderr),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create trace exporter: %w", err)
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}
	return provider.Tracer("fleetrun"), shutdown, nil
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".fleetrun", "history.db")
}
