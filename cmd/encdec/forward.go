package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/urfave/cli/v3"

	"github.com/born-ml/encdec/internal/backend/cpu"
	"github.com/born-ml/encdec/internal/t5"
	"github.com/born-ml/encdec/internal/tensor"
)

type cpuBackend = *cpu.CPUBackend

func forwardCmd() *cli.Command {
	var (
		configPath string
		ckptPath   string
		vocab      int64
		batch      int64
		encLen     int64
		decLen     int64
		seed       int64
	)

	return &cli.Command{
		Name:  "forward",
		Usage: "Run a random-input forward pass and check incremental decoding against it",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML or JSON model config", Destination: &configPath},
			&cli.Int64Flag{Name: "vocab", Usage: "vocabulary size when no config is given", Value: 1536, Destination: &vocab},
			&cli.StringFlag{Name: "checkpoint", Usage: "SafeTensors checkpoint written by init", Destination: &ckptPath},
			&cli.Int64Flag{Name: "batch", Value: 1, Destination: &batch},
			&cli.Int64Flag{Name: "enc-len", Usage: "encoder length", Value: 16, Destination: &encLen},
			&cli.Int64Flag{Name: "dec-len", Usage: "decoder length", Value: 8, Destination: &decLen},
			&cli.Int64Flag{Name: "seed", Value: 0, Destination: &seed},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			model, err := openModel(ckptPath, configPath, int(vocab), seed, newLogger())
			if err != nil {
				return err
			}
			cfg := model.Config()
			b := cpu.New()

			rng := rand.New(rand.NewSource(seed))
			in := randomEncoderInput(cfg, int(batch), int(encLen), rng, b)
			tokens := randomTokens(cfg.VocabSize, int(batch), int(decLen), rng, b)

			encoded, err := model.Encode(in, t5.CallOptions[cpuBackend]{})
			if err != nil {
				return err
			}
			full, err := model.Decode(encoded, in, tokens, tokens, t5.CallOptions[cpuBackend]{})
			if err != nil {
				return err
			}
			fmt.Printf("logits:     %v\n", full.Shape())

			state, err := model.NewDecodeState(int(batch), int(decLen))
			if err != nil {
				return err
			}
			var maxDiff float64
			for i := 0; i < int(decLen); i++ {
				step, err := model.Decode(encoded, in, tokens.Narrow(1, i, 1), nil, t5.CallOptions[cpuBackend]{State: state})
				if err != nil {
					return fmt.Errorf("step %d: %w", i, err)
				}
				want := full.Narrow(1, i, 1).Data()
				for j, v := range step.Data() {
					maxDiff = math.Max(maxDiff, math.Abs(float64(v-want[j])))
				}
			}
			fmt.Printf("session:    %s (%d steps)\n", state.ID, state.Steps())
			fmt.Printf("max |incremental - full|: %.3g\n", maxDiff)
			return nil
		},
	}
}

func randomEncoderInput(cfg t5.Config, batch, length int, rng *rand.Rand, b cpuBackend) t5.EncoderInput[cpuBackend] {
	var in t5.EncoderInput[cpuBackend]
	if cfg.EncoderModality != t5.ModalityTokens {
		in.Features = tensor.Randn[float32](tensor.Shape{batch, length, cfg.InputDepth}, rng, b)
	}
	if cfg.EncoderModality != t5.ModalityContinuous {
		in.Tokens = randomTokens(cfg.VocabSize, batch, length, rng, b)
	}
	return in
}

// randomTokens draws non-padding ids in [1, vocab).
func randomTokens(vocab, batch, length int, rng *rand.Rand, b cpuBackend) *tensor.Tensor[int32, cpuBackend] {
	data := make([]int32, batch*length)
	for i := range data {
		data[i] = int32(1 + rng.Intn(max(vocab-1, 1)))
	}
	return tensor.MustFromSlice(data, tensor.Shape{batch, length}, b)
}
