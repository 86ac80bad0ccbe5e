package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fleetrun/cmd/fleetrun/historycmd"
	"fleetrun/cmd/fleetrun/imagecmd"
	"fleetrun/cmd/fleetrun/runcmd"
	"fleetrun/cmd/fleetrun/ui"
	"fleetrun/internal/logging"
	"fleetrun/internal/support/buildinfo"
)

func main() {
	var debug bool

	if err := logging.Configure(logging.LevelWarn); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	ui.Configure()

	root := &cobra.Command{
		Use:           "fleetrun",
		Short:         "Ephemeral fleet orchestration: provision, converge, tear down",
		Version:       buildinfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelWarn
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level)
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	root.AddCommand(runcmd.Cmd())
	root.AddCommand(historycmd.Cmd())
	root.AddCommand(imagecmd.Cmd())

	if err := root.Execute(); err != nil {
		var exit *runcmd.ExitError
		if errors.As(err, &exit) {
			os.Exit(exit.Code)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
