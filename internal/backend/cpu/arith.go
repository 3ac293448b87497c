package cpu

import (
	"github.com/born-ml/encdec/internal/tensor"
)

type arithOp int

const (
	opAdd arithOp = iota
	opSub
	opMul
	opDiv
)

var arithNames = [...]string{"add", "sub", "mul", "div"}

func arithFunc[T number](op arithOp) func(x, y T) T {
	switch op {
	case opAdd:
		return func(x, y T) T { return x + y }
	case opSub:
		return func(x, y T) T { return x - y }
	case opMul:
		return func(x, y T) T { return x * y }
	default:
		return func(x, y T) T { return x / y }
	}
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.arith(opAdd, a, b)
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.arith(opSub, a, b)
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.arith(opMul, a, b)
}

// Div performs element-wise division with broadcasting.
func (cpu *CPUBackend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.arith(opDiv, a, b)
}

func (cpu *CPUBackend) arith(op arithOp, a, b *tensor.RawTensor) *tensor.RawTensor {
	name := arithNames[op]
	checkSameDType(name, a, b)
	outShape := broadcastOutput(name, a.Shape(), b.Shape())
	result := cpu.alloc(name, outShape, a.DType())

	switch a.DType() {
	case tensor.Float32:
		binaryKernel(result.AsFloat32(), a.AsFloat32(), b.AsFloat32(), outShape, a.Shape(), b.Shape(), arithFunc[float32](op))
	case tensor.Float64:
		binaryKernel(result.AsFloat64(), a.AsFloat64(), b.AsFloat64(), outShape, a.Shape(), b.Shape(), arithFunc[float64](op))
	case tensor.Int32:
		binaryKernel(result.AsInt32(), a.AsInt32(), b.AsInt32(), outShape, a.Shape(), b.Shape(), arithFunc[int32](op))
	case tensor.Int64:
		binaryKernel(result.AsInt64(), a.AsInt64(), b.AsInt64(), outShape, a.Shape(), b.Shape(), arithFunc[int64](op))
	case tensor.Uint8:
		binaryKernel(result.AsUint8(), a.AsUint8(), b.AsUint8(), outShape, a.Shape(), b.Shape(), arithFunc[uint8](op))
	default:
		panicf("%s: unsupported dtype %s", name, a.DType())
	}
	return result
}

func scalarKernel[T number](out, in []T, f func(x T) T) {
	for i, v := range in {
		out[i] = f(v)
	}
}

// MulScalar multiplies every element by scalar.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	return cpu.scalar("mul_scalar", x, scalar, opMul)
}

// AddScalar adds scalar to every element.
func (cpu *CPUBackend) AddScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	return cpu.scalar("add_scalar", x, scalar, opAdd)
}

func (cpu *CPUBackend) scalar(name string, x *tensor.RawTensor, s float64, op arithOp) *tensor.RawTensor {
	result := cpu.alloc(name, x.Shape(), x.DType())
	switch x.DType() {
	case tensor.Float32:
		f, v := arithFunc[float32](op), float32(s)
		scalarKernel(result.AsFloat32(), x.AsFloat32(), func(e float32) float32 { return f(e, v) })
	case tensor.Float64:
		f := arithFunc[float64](op)
		scalarKernel(result.AsFloat64(), x.AsFloat64(), func(e float64) float64 { return f(e, s) })
	case tensor.Int32:
		f, v := arithFunc[int32](op), int32(s)
		scalarKernel(result.AsInt32(), x.AsInt32(), func(e int32) int32 { return f(e, v) })
	case tensor.Int64:
		f, v := arithFunc[int64](op), int64(s)
		scalarKernel(result.AsInt64(), x.AsInt64(), func(e int64) int64 { return f(e, v) })
	default:
		panicf("%s: unsupported dtype %s", name, x.DType())
	}
	return result
}
