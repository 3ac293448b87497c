// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"math/rand"

	"github.com/born-ml/encdec/internal/tensor"
)

// DType is the constraint for tensor element types.
type DType = tensor.DType

// DataType is the runtime element type of a RawTensor.
type DataType = tensor.DataType

// Supported data types.
const (
	Float32 = tensor.Float32
	Float64 = tensor.Float64
	Int32   = tensor.Int32
	Int64   = tensor.Int64
	Uint8   = tensor.Uint8
	Bool    = tensor.Bool
)

// Device is the compute device a tensor lives on.
type Device = tensor.Device

// CPU is the only device this module computes on.
const CPU = tensor.CPU

// Shape is a tensor shape.
type Shape = tensor.Shape

// Backend executes tensor operations. See backend/cpu.
type Backend = tensor.Backend

// RawTensor is the untyped storage behind a Tensor.
type RawTensor = tensor.RawTensor

// Tensor is a generic tensor of element type T computed by backend B.
type Tensor[T DType, B Backend] = tensor.Tensor[T, B]

// Error sentinels. Returned errors wrap them.
var (
	ErrShapeMismatch   = tensor.ErrShapeMismatch
	ErrInvalidArgument = tensor.ErrInvalidArgument
)

// ParseDataType maps a name like "float32" to its DataType.
func ParseDataType(name string) (DataType, bool) {
	return tensor.ParseDataType(name)
}

// NewRaw creates a zero-filled raw tensor.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// New wraps a raw tensor. The raw dtype must match T.
func New[T DType, B Backend](raw *RawTensor, b B) *Tensor[T, B] {
	return tensor.New[T, B](raw, b)
}

// FromSlice creates a tensor from a Go slice.
//
// Example:
//
//	x, err := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, backend)
func FromSlice[T DType, B Backend](data []T, shape Shape, b B) (*Tensor[T, B], error) {
	return tensor.FromSlice(data, shape, b)
}

// MustFromSlice is FromSlice for data known to match shape.
func MustFromSlice[T DType, B Backend](data []T, shape Shape, b B) *Tensor[T, B] {
	return tensor.MustFromSlice(data, shape, b)
}

// Zeros creates a tensor filled with zeros.
func Zeros[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return tensor.Zeros[T](shape, b)
}

// Ones creates a tensor filled with ones.
func Ones[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return tensor.Ones[T](shape, b)
}

// Full creates a tensor filled with value.
func Full[T DType, B Backend](shape Shape, value T, b B) *Tensor[T, B] {
	return tensor.Full(shape, value, b)
}

// Randn draws from N(0, 1) using rng.
func Randn[T DType, B Backend](shape Shape, rng *rand.Rand, b B) *Tensor[T, B] {
	return tensor.Randn[T](shape, rng, b)
}

// Rand draws from U(0, 1) using rng.
func Rand[T DType, B Backend](shape Shape, rng *rand.Rand, b B) *Tensor[T, B] {
	return tensor.Rand[T](shape, rng, b)
}

// Arange returns the 1-D tensor [0, 1, ..., n-1].
func Arange[T DType, B Backend](n int, b B) *Tensor[T, B] {
	return tensor.Arange[T](n, b)
}

// Cast converts element types.
func Cast[U, T DType, B Backend](t *Tensor[T, B]) *Tensor[U, B] {
	return tensor.Cast[U](t)
}

// Where selects from x where cond is true and from y elsewhere.
func Where[T DType, B Backend](cond *Tensor[bool, B], x, y *Tensor[T, B]) *Tensor[T, B] {
	return tensor.Where(cond, x, y)
}

// BroadcastShapes returns the broadcast of a and b and whether the
// shapes differed.
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	return tensor.BroadcastShapes(a, b)
}
