// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the type-safe tensors the encoder-decoder model
// computes with.
//
// # Overview
//
//   - Generic tensors (Tensor[T, B]) over a pluggable Backend
//   - NumPy-style broadcasting for element-wise operations
//   - Reshape views; every other operation allocates
//   - Explicit random sources for reproducible initialization
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/encdec/backend/cpu"
//	    "github.com/born-ml/encdec/tensor"
//	)
//
//	backend := cpu.New()
//	x := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
//	y := tensor.Ones[float32](tensor.Shape{2, 3}, backend)
//	z := x.Add(y)
//
// # Errors
//
// Functions that validate input return errors wrapping ErrShapeMismatch or
// ErrInvalidArgument; test with errors.Is. Tensor methods panic on operand
// errors, matching the backend kernels.
package tensor
