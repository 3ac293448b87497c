// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package generate runs autoregressive decoding over a t5 model.
//
// Example usage:
//
//	gen := generate.New(model, backend)
//	seqs, err := gen.Generate(ctx, t5.EncoderInput[*cpu.Backend]{Features: x}, generate.DefaultConfig(1024))
//	for _, s := range seqs {
//	    fmt.Println(s.Tokens, s.Reason)
//	}
//
// Non-greedy sampling needs a random source:
//
//	cfg := generate.DefaultConfig(1024)
//	cfg.Sampling = generate.SamplingConfig{Temperature: 0.8, TopK: 40}
//	gen := generate.New(model, backend, generate.WithRNG(rand.New(rand.NewSource(42))))
package generate

import (
	"math/rand"

	"github.com/born-ml/encdec/internal/generate"
	"github.com/born-ml/encdec/internal/logger"
	"github.com/born-ml/encdec/tensor"
)

// SamplingConfig selects how tokens are drawn from logits.
type SamplingConfig = generate.SamplingConfig

// Greedy returns the argmax sampling configuration.
func Greedy() SamplingConfig {
	return generate.Greedy()
}

// Sampler draws token ids from logits.
type Sampler = generate.Sampler

// NewSampler creates a sampler. rng may be nil for greedy configs.
func NewSampler(config SamplingConfig, rng *rand.Rand) (*Sampler, error) {
	return generate.NewSampler(config, rng)
}

// Token ids of the T5 vocabulary layout.
const (
	PadToken = generate.PadToken
	EOSToken = generate.EOSToken
)

// Config configures one decoding run.
type Config = generate.Config

// DefaultConfig returns greedy decoding from PadToken until EOSToken.
func DefaultConfig(maxSteps int) Config {
	return generate.DefaultConfig(maxSteps)
}

// StopReason tells why a sequence ended.
type StopReason = generate.StopReason

// Stop reasons.
const (
	StopEOS      = generate.StopEOS
	StopMaxSteps = generate.StopMaxSteps
	StopCallback = generate.StopCallback
)

// Sequence is the output for one batch row.
type Sequence = generate.Sequence

// Step is passed to Stream callbacks.
type Step = generate.Step

// Model is the part of t5.Transformer a decoding loop uses.
type Model[B tensor.Backend] = generate.Model[B]

// Generator drives a Model through incremental decoding.
type Generator[B tensor.Backend] = generate.Generator[B]

// Option configures a Generator.
type Option = generate.Option

// WithRNG sets the random source for non-greedy sampling.
func WithRNG(rng *rand.Rand) Option {
	return generate.WithRNG(rng)
}

// WithLogger sets the generator logger.
func WithLogger(l logger.Logger) Option {
	return generate.WithLogger(l)
}

// New creates a Generator for model.
func New[B tensor.Backend](model Model[B], backend B, opts ...Option) *Generator[B] {
	return generate.New(model, backend, opts...)
}
