// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	internalcpu "github.com/born-ml/encdec/internal/backend/cpu"
	"github.com/born-ml/encdec/internal/parallel"
	"github.com/born-ml/encdec/tensor"
)

// Backend is the pure-Go CPU backend.
type Backend = internalcpu.CPUBackend

// ParallelConfig controls how matrix products fan out across goroutines.
type ParallelConfig = parallel.Config

// Compile-time check that Backend implements tensor.Backend.
var _ tensor.Backend = (*Backend)(nil)

// New creates a CPU backend that uses every available core for matrix
// products.
func New() *Backend {
	return internalcpu.New()
}

// NewWithConfig creates a CPU backend with explicit parallelism. A zero
// config runs every kernel on the calling goroutine.
func NewWithConfig(cfg ParallelConfig) *Backend {
	return internalcpu.NewWithConfig(cfg)
}

// DefaultParallelConfig returns the configuration New uses.
func DefaultParallelConfig() ParallelConfig {
	return parallel.DefaultConfig()
}
