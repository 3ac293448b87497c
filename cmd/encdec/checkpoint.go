package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/born-ml/encdec/internal/backend/cpu"
	"github.com/born-ml/encdec/internal/logger"
	"github.com/born-ml/encdec/internal/t5"
)

func initCmd() *cli.Command {
	var (
		configPath string
		vocab      int64
		seed       int64
		output     string
	)

	return &cli.Command{
		Name:  "init",
		Usage: "Write a freshly initialized model to a SafeTensors checkpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML or JSON model config", Destination: &configPath},
			&cli.Int64Flag{Name: "vocab", Usage: "vocabulary size when no config is given", Value: 1536, Destination: &vocab},
			&cli.Int64Flag{Name: "seed", Value: 0, Destination: &seed},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "checkpoint path", Required: true, Destination: &output},
		},
		Action: func(ctx context.Context, cmd *cli.Command) (err error) {
			cfg, err := loadConfig(configPath, int(vocab))
			if err != nil {
				return err
			}
			log := newLogger()
			model, err := t5.New(cfg, cpu.New(), t5.WithLogger(log), t5.WithSeed(seed))
			if err != nil {
				return err
			}

			f, err := os.Create(output) //nolint:gosec // G304: output path is a CLI argument
			if err != nil {
				return err
			}
			defer func() {
				if cerr := f.Close(); err == nil {
					err = cerr
				}
			}()
			if err := model.SaveCheckpoint(f); err != nil {
				return err
			}
			log.Info("checkpoint written", "path", output)
			return nil
		},
	}
}

// openModel loads a checkpoint when path is set and otherwise builds a
// fresh model from the config flags.
func openModel(path, configPath string, vocab int, seed int64, log logger.Logger) (*t5.Transformer[cpuBackend], error) {
	if path == "" {
		cfg, err := loadConfig(configPath, vocab)
		if err != nil {
			return nil, err
		}
		return t5.New(cfg, cpu.New(), t5.WithLogger(log), t5.WithSeed(seed))
	}
	if configPath != "" {
		return nil, fmt.Errorf("--config and --checkpoint are mutually exclusive")
	}
	return t5.LoadCheckpointFile(path, cpu.New(), t5.WithLogger(log))
}
