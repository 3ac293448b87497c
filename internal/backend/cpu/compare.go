package cpu

import (
	"github.com/born-ml/encdec/internal/tensor"
)

type cmpOp int

const (
	cmpGreater cmpOp = iota
	cmpGreaterEqual
	cmpEqual
)

var cmpNames = [...]string{"greater", "greater_equal", "equal"}

func cmpFunc[T number](op cmpOp) func(x, y T) bool {
	switch op {
	case cmpGreater:
		return func(x, y T) bool { return x > y }
	case cmpGreaterEqual:
		return func(x, y T) bool { return x >= y }
	default:
		return func(x, y T) bool { return x == y }
	}
}

// Greater returns a > b element-wise as a bool tensor.
func (cpu *CPUBackend) Greater(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.compare(cmpGreater, a, b)
}

// GreaterEqual returns a >= b element-wise as a bool tensor.
func (cpu *CPUBackend) GreaterEqual(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.compare(cmpGreaterEqual, a, b)
}

// Equal returns a == b element-wise as a bool tensor.
func (cpu *CPUBackend) Equal(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.compare(cmpEqual, a, b)
}

func (cpu *CPUBackend) compare(op cmpOp, a, b *tensor.RawTensor) *tensor.RawTensor {
	name := cmpNames[op]
	checkSameDType(name, a, b)
	outShape := broadcastOutput(name, a.Shape(), b.Shape())
	result := cpu.alloc(name, outShape, tensor.Bool)
	out := result.AsBool()

	switch a.DType() {
	case tensor.Float32:
		binaryKernel(out, a.AsFloat32(), b.AsFloat32(), outShape, a.Shape(), b.Shape(), cmpFunc[float32](op))
	case tensor.Float64:
		binaryKernel(out, a.AsFloat64(), b.AsFloat64(), outShape, a.Shape(), b.Shape(), cmpFunc[float64](op))
	case tensor.Int32:
		binaryKernel(out, a.AsInt32(), b.AsInt32(), outShape, a.Shape(), b.Shape(), cmpFunc[int32](op))
	case tensor.Int64:
		binaryKernel(out, a.AsInt64(), b.AsInt64(), outShape, a.Shape(), b.Shape(), cmpFunc[int64](op))
	case tensor.Uint8:
		binaryKernel(out, a.AsUint8(), b.AsUint8(), outShape, a.Shape(), b.Shape(), cmpFunc[uint8](op))
	case tensor.Bool:
		if op != cmpEqual {
			panicf("%s: not defined for bool", name)
		}
		binaryKernel(out, a.AsBool(), b.AsBool(), outShape, a.Shape(), b.Shape(), func(x, y bool) bool { return x == y })
	default:
		panicf("%s: unsupported dtype %s", name, a.DType())
	}
	return result
}

func (cpu *CPUBackend) logical(name string, a, b *tensor.RawTensor, f func(x, y bool) bool) *tensor.RawTensor {
	if a.DType() != tensor.Bool || b.DType() != tensor.Bool {
		panicf("%s: requires bool tensors, got %s and %s", name, a.DType(), b.DType())
	}
	outShape := broadcastOutput(name, a.Shape(), b.Shape())
	result := cpu.alloc(name, outShape, tensor.Bool)
	binaryKernel(result.AsBool(), a.AsBool(), b.AsBool(), outShape, a.Shape(), b.Shape(), f)
	return result
}

// And computes the element-wise logical AND with broadcasting.
func (cpu *CPUBackend) And(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.logical("and", a, b, func(x, y bool) bool { return x && y })
}

// Or computes the element-wise logical OR with broadcasting.
func (cpu *CPUBackend) Or(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.logical("or", a, b, func(x, y bool) bool { return x || y })
}

// Not computes the element-wise logical NOT.
func (cpu *CPUBackend) Not(x *tensor.RawTensor) *tensor.RawTensor {
	if x.DType() != tensor.Bool {
		panicf("not: requires bool tensor, got %s", x.DType())
	}
	result := cpu.alloc("not", x.Shape(), tensor.Bool)
	out := result.AsBool()
	for i, v := range x.AsBool() {
		out[i] = !v
	}
	return result
}

func whereKernel[T any](out []T, cond []bool, x, y []T, outShape tensor.Shape, strides [][]int) {
	walk(outShape, strides, func(i int, offs []int) {
		if cond[offs[0]] {
			out[i] = x[offs[1]]
		} else {
			out[i] = y[offs[2]]
		}
	})
}

// Where selects x where condition is true and y elsewhere; all three broadcast.
func (cpu *CPUBackend) Where(condition, x, y *tensor.RawTensor) *tensor.RawTensor {
	if condition.DType() != tensor.Bool {
		panicf("where: condition must be bool, got %s", condition.DType())
	}
	checkSameDType("where", x, y)
	outShape := broadcastOutput("where", condition.Shape(), x.Shape(), y.Shape())
	strides := broadcastStrides(outShape, condition.Shape(), x.Shape(), y.Shape())
	result := cpu.alloc("where", outShape, x.DType())
	cond := condition.AsBool()

	switch x.DType() {
	case tensor.Float32:
		whereKernel(result.AsFloat32(), cond, x.AsFloat32(), y.AsFloat32(), outShape, strides)
	case tensor.Float64:
		whereKernel(result.AsFloat64(), cond, x.AsFloat64(), y.AsFloat64(), outShape, strides)
	case tensor.Int32:
		whereKernel(result.AsInt32(), cond, x.AsInt32(), y.AsInt32(), outShape, strides)
	case tensor.Int64:
		whereKernel(result.AsInt64(), cond, x.AsInt64(), y.AsInt64(), outShape, strides)
	case tensor.Uint8:
		whereKernel(result.AsUint8(), cond, x.AsUint8(), y.AsUint8(), outShape, strides)
	case tensor.Bool:
		whereKernel(result.AsBool(), cond, x.AsBool(), y.AsBool(), outShape, strides)
	default:
		panicf("where: unsupported dtype %s", x.DType())
	}
	return result
}
