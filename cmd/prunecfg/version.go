package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/prunecfg/internal/version"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Resolve()
			w := cmd.Root().Writer
			fmt.Fprintf(w, "version: %s\n", info.Version)
			if info.Commit != "" {
				fmt.Fprintf(w, "commit:  %s\n", info.Commit)
			}
			return nil
		},
	}
}
