package main

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/urfave/cli/v3"
)

const version = "v0.1.0-dev"

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Printf("version:    %s\n", version)
			if info, ok := debug.ReadBuildInfo(); ok {
				fmt.Printf("go:         %s\n", info.GoVersion)
				for _, s := range info.Settings {
					if s.Key == "vcs.revision" {
						fmt.Printf("commit:     %s\n", s.Value)
					}
				}
			}
			return nil
		},
	}
}
