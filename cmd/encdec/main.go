// Package main provides encdec, a developer tool for inspecting and
// smoke-testing encoder-decoder model configurations.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/born-ml/encdec/internal/logger"
)

var (
	logLevel  string
	logFormat string
)

func main() {
	app := &cli.Command{
		Name:  "encdec",
		Usage: "Inspect and exercise T5-style encoder-decoder models",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "debug, info, warn or error",
				Value:       "info",
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "text or json",
				Value:       "text",
				Destination: &logFormat,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			versionCmd(),
			paramsCmd(),
			initCmd(),
			forwardCmd(),
			generateCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	if logFormat == "json" {
		return logger.JSON(os.Stderr, level)
	}
	return logger.Text(os.Stderr, level)
}
