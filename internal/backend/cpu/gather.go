package cpu

import (
	"github.com/born-ml/encdec/internal/tensor"
)

func gatherRows[T any](out, weight []T, indices *tensor.RawTensor, vocab, features int) {
	n := indices.NumElements()
	for i := 0; i < n; i++ {
		idx := int(indices.Float64At(i))
		if idx < 0 || idx >= vocab {
			panicf("embedding: index %d out of range [0, %d)", idx, vocab)
		}
		copy(out[i*features:(i+1)*features], weight[idx*features:(idx+1)*features])
	}
}

// Embedding gathers rows of weight [vocab, features] by integer indices.
// The result has shape indices.Shape() + [features].
func (cpu *CPUBackend) Embedding(weight, indices *tensor.RawTensor) *tensor.RawTensor {
	wShape := weight.Shape()
	if len(wShape) != 2 {
		panicf("embedding: weight must be 2D, got %v", wShape)
	}
	if !indices.DType().IsInteger() {
		panicf("embedding: indices must be integer, got %s", indices.DType())
	}
	vocab, features := wShape[0], wShape[1]
	outShape := append(indices.Shape().Clone(), features)
	result := cpu.alloc("embedding", outShape, weight.DType())

	switch weight.DType() {
	case tensor.Float32:
		gatherRows(result.AsFloat32(), weight.AsFloat32(), indices, vocab, features)
	case tensor.Float64:
		gatherRows(result.AsFloat64(), weight.AsFloat64(), indices, vocab, features)
	default:
		panicf("embedding: unsupported weight dtype %s", weight.DType())
	}
	return result
}

// Cast converts x to dtype. Float to integer truncates toward zero and
// any non-zero value becomes true for bool.
func (cpu *CPUBackend) Cast(x *tensor.RawTensor, dtype tensor.DataType) *tensor.RawTensor {
	if x.DType() == dtype {
		return x.Clone()
	}
	result := cpu.alloc("cast", x.Shape(), dtype)
	n := x.NumElements()

	switch dtype {
	case tensor.Float32:
		out := result.AsFloat32()
		for i := 0; i < n; i++ {
			out[i] = float32(x.Float64At(i))
		}
	case tensor.Float64:
		out := result.AsFloat64()
		for i := 0; i < n; i++ {
			out[i] = x.Float64At(i)
		}
	case tensor.Int32:
		out := result.AsInt32()
		for i := 0; i < n; i++ {
			out[i] = int32(x.Float64At(i))
		}
	case tensor.Int64:
		out := result.AsInt64()
		for i := 0; i < n; i++ {
			out[i] = int64(x.Float64At(i))
		}
	case tensor.Uint8:
		out := result.AsUint8()
		for i := 0; i < n; i++ {
			out[i] = uint8(x.Float64At(i))
		}
	case tensor.Bool:
		out := result.AsBool()
		for i := 0; i < n; i++ {
			out[i] = x.Float64At(i) != 0
		}
	default:
		panicf("cast: unsupported target dtype %s", dtype)
	}
	return result
}
