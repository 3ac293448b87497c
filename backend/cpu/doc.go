// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure-Go CPU backend for tensor operations.
//
// # Overview
//
//   - Pure Go implementation (no CGO)
//   - float32, float64, integer and bool element types
//   - NumPy-compatible broadcasting
//   - Row-parallel matrix and batched matrix products
//
// # Basic Usage
//
//	backend := cpu.New()
//	model, err := t5.New(t5.DefaultConfig(vocab), backend)
//
// # Thread Safety
//
// The backend holds no mutable state and is safe for concurrent use.
// Tensors and decode states are not.
package cpu
