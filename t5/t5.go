// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package t5

import (
	"io"
	"log/slog"

	"github.com/born-ml/encdec/internal/logger"
	"github.com/born-ml/encdec/internal/t5"
	"github.com/born-ml/encdec/tensor"
)

// Config holds the model hyperparameters.
type Config = t5.Config

// Encoder input modalities.
const (
	ModalityContinuous = t5.ModalityContinuous
	ModalityTokens     = t5.ModalityTokens
	ModalityBoth       = t5.ModalityBoth
)

// DefaultConfig returns the default hyperparameters for a vocabulary.
func DefaultConfig(vocabSize int) Config {
	return t5.DefaultConfig(vocabSize)
}

// LoadConfig reads a YAML or JSON config, chosen by file extension.
// Missing fields keep their defaults.
func LoadConfig(path string) (Config, error) {
	return t5.LoadConfig(path)
}

// DecodeConfig reads a config in format "yaml" or "json" from r.
func DecodeConfig(r io.Reader, format string) (Config, error) {
	return t5.DecodeConfig(r, format)
}

// Transformer is the encoder-decoder model.
type Transformer[B tensor.Backend] = t5.Transformer[B]

// EncoderInput carries continuous features, tokens or both.
type EncoderInput[B tensor.Backend] = t5.EncoderInput[B]

// CallOptions are the per-call inputs of Encode, Decode and Forward.
type CallOptions[B tensor.Backend] = t5.CallOptions[B]

// DecodeState is the cache and cursor of one incremental decoding session.
type DecodeState[B tensor.Backend] = t5.DecodeState[B]

// Option configures New.
type Option = t5.Option

// Logger is the structured logger the model writes to.
type Logger = logger.Logger

// NewLogger adapts a slog handler to Logger.
func NewLogger(handler slog.Handler) Logger {
	return logger.New(handler)
}

// WithLogger sets the model logger. The default discards everything.
func WithLogger(l Logger) Option {
	return t5.WithLogger(l)
}

// WithSeed seeds the parameter initializers.
func WithSeed(seed int64) Option {
	return t5.WithSeed(seed)
}

// New validates cfg and builds a model with freshly initialized parameters.
func New[B tensor.Backend](cfg Config, backend B, opts ...Option) (*Transformer[B], error) {
	return t5.New(cfg, backend, opts...)
}

// LoadCheckpoint builds a model from a checkpoint written by
// Transformer.SaveCheckpoint.
func LoadCheckpoint[B tensor.Backend](r io.Reader, backend B, opts ...Option) (*Transformer[B], error) {
	return t5.LoadCheckpoint(r, backend, opts...)
}

// LoadCheckpointFile is LoadCheckpoint for a file on disk.
func LoadCheckpointFile[B tensor.Backend](path string, backend B, opts ...Option) (*Transformer[B], error) {
	return t5.LoadCheckpointFile(path, backend, opts...)
}
