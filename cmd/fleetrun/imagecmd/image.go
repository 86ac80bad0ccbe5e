// Package imagecmd builds node images for ephemeral fleets.
package imagecmd

import (
	"github.com/spf13/cobra"

	"fleetrun/cmd/fleetrun/ui"
	"fleetrun/internal/adapter/docker"
	"fleetrun/internal/imagebuild"
)

// Cmd builds the image command group.
func Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Manage node images",
	}
	cmd.AddCommand(buildCmd())
	return cmd
}

func buildCmd() *cobra.Command {
	var tag string

	cmd := &cobra.Command{
		Use:   "build <dir>",
		Short: "Build a node image from a directory with a Dockerfile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := docker.New()
			if err != nil {
				return err
			}

			builder := &imagebuild.Builder{Client: rt.Client}
			digest, err := builder.Build(cmd.Context(), tag, args[0])
			if err != nil {
				return err
			}

			cmd.Println(ui.SuccessMsg("built %s", ui.Accent(tag)))
			cmd.Println(ui.KeyValues("  ", ui.KV("digest", digest)))
			return nil
		},
	}

	cmd.Flags().StringVar(&tag, "tag", "fleetrun-node:latest", "Tag for the built image")
	return cmd
}
