package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"

	"github.com/urfave/cli/v3"

	"github.com/born-ml/encdec/internal/backend/cpu"
	"github.com/born-ml/encdec/internal/generate"
)

func generateCmd() *cli.Command {
	var (
		configPath  string
		ckptPath    string
		vocab       int64
		batch       int64
		encLen      int64
		maxSteps    int64
		seed        int64
		temperature float64
		topK        int64
		topP        float64
	)

	return &cli.Command{
		Name:  "generate",
		Usage: "Decode token sequences for random encoder inputs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML or JSON model config", Destination: &configPath},
			&cli.StringFlag{Name: "checkpoint", Usage: "SafeTensors checkpoint written by init", Destination: &ckptPath},
			&cli.Int64Flag{Name: "vocab", Usage: "vocabulary size when no config is given", Value: 1536, Destination: &vocab},
			&cli.Int64Flag{Name: "batch", Value: 1, Destination: &batch},
			&cli.Int64Flag{Name: "enc-len", Usage: "encoder length", Value: 16, Destination: &encLen},
			&cli.Int64Flag{Name: "max-steps", Value: 32, Destination: &maxSteps},
			&cli.Int64Flag{Name: "seed", Value: 0, Destination: &seed},
			&cli.Float64Flag{Name: "temperature", Usage: "0 decodes greedily", Destination: &temperature},
			&cli.Int64Flag{Name: "top-k", Destination: &topK},
			&cli.Float64Flag{Name: "top-p", Destination: &topP},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
			defer stop()

			log := newLogger()
			model, err := openModel(ckptPath, configPath, int(vocab), seed, log)
			if err != nil {
				return err
			}
			b := cpu.New()
			rng := rand.New(rand.NewSource(seed))
			in := randomEncoderInput(model.Config(), int(batch), int(encLen), rng, b)

			cfg := generate.DefaultConfig(int(maxSteps))
			cfg.Sampling = generate.SamplingConfig{
				Temperature: float32(temperature),
				TopK:        int(topK),
				TopP:        float32(topP),
			}
			gen := generate.New(model, b, generate.WithRNG(rng), generate.WithLogger(log))
			seqs, err := gen.Stream(ctx, in, cfg, func(s generate.Step) bool {
				log.Debug("step", "index", s.Index, "tokens", s.Tokens)
				return true
			})
			for i, s := range seqs {
				fmt.Printf("%d\t%s\t%v\n", i, s.Reason, s.Tokens)
			}
			return err
		},
	}
}
