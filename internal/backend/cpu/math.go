package cpu

import (
	"math"

	"github.com/born-ml/encdec/internal/tensor"
)

func unaryKernel[T float](out, in []T, f func(float64) float64) {
	for i, v := range in {
		out[i] = T(f(float64(v)))
	}
}

// unary applies f element-wise to a floating point tensor.
func (cpu *CPUBackend) unary(name string, x *tensor.RawTensor, f func(float64) float64) *tensor.RawTensor {
	result := cpu.alloc(name, x.Shape(), x.DType())
	switch x.DType() {
	case tensor.Float32:
		unaryKernel(result.AsFloat32(), x.AsFloat32(), f)
	case tensor.Float64:
		unaryKernel(result.AsFloat64(), x.AsFloat64(), f)
	default:
		panicf("%s: only float32 and float64 are supported, got %s", name, x.DType())
	}
	return result
}

// Exp computes e^x element-wise.
func (cpu *CPUBackend) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("exp", x, math.Exp)
}

// Log computes the natural logarithm element-wise.
func (cpu *CPUBackend) Log(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("log", x, math.Log)
}

// Sqrt computes the square root element-wise.
func (cpu *CPUBackend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("sqrt", x, math.Sqrt)
}

// Rsqrt computes 1/sqrt(x) element-wise.
func (cpu *CPUBackend) Rsqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("rsqrt", x, func(v float64) float64 { return 1 / math.Sqrt(v) })
}

// Tanh computes the hyperbolic tangent element-wise.
func (cpu *CPUBackend) Tanh(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("tanh", x, math.Tanh)
}

// Erf computes the Gauss error function element-wise.
func (cpu *CPUBackend) Erf(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("erf", x, math.Erf)
}

// ReLU computes max(0, x) element-wise.
func (cpu *CPUBackend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("relu", x, func(v float64) float64 { return math.Max(v, 0) })
}

// Sigmoid computes 1/(1+e^-x) element-wise.
func (cpu *CPUBackend) Sigmoid(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("sigmoid", x, func(v float64) float64 { return 1 / (1 + math.Exp(-v)) })
}

// splitAt returns the sizes before, at and after dim (the [outer, n, inner]
// view used by reductions along a single axis).
func splitAt(shape tensor.Shape, dim int) (outer, n, inner int) {
	outer, inner = 1, 1
	for i := 0; i < dim; i++ {
		outer *= shape[i]
	}
	for i := dim + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	return outer, shape[dim], inner
}

func softmaxKernel[T float](out, in []T, outer, n, inner int) {
	for o := 0; o < outer; o++ {
		for j := 0; j < inner; j++ {
			base := o*n*inner + j
			maxVal := math.Inf(-1)
			for k := 0; k < n; k++ {
				maxVal = math.Max(maxVal, float64(in[base+k*inner]))
			}
			var sum float64
			for k := 0; k < n; k++ {
				sum += math.Exp(float64(in[base+k*inner]) - maxVal)
			}
			for k := 0; k < n; k++ {
				out[base+k*inner] = T(math.Exp(float64(in[base+k*inner])-maxVal) / sum)
			}
		}
	}
}

// Softmax computes a max-subtracted softmax along dim.
func (cpu *CPUBackend) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	d, err := tensor.NormalizeAxis(dim, len(x.Shape()))
	if err != nil {
		panicf("softmax: %v", err)
	}
	outer, n, inner := splitAt(x.Shape(), d)
	result := cpu.alloc("softmax", x.Shape(), x.DType())
	switch x.DType() {
	case tensor.Float32:
		softmaxKernel(result.AsFloat32(), x.AsFloat32(), outer, n, inner)
	case tensor.Float64:
		softmaxKernel(result.AsFloat64(), x.AsFloat64(), outer, n, inner)
	default:
		panicf("softmax: only float32 and float64 are supported, got %s", x.DType())
	}
	return result
}

func sumKernel[T number](out, in []T, outer, n, inner int, mean bool) {
	for o := 0; o < outer; o++ {
		for j := 0; j < inner; j++ {
			var acc float64
			for k := 0; k < n; k++ {
				acc += float64(in[o*n*inner+k*inner+j])
			}
			if mean {
				acc /= float64(n)
			}
			out[o*inner+j] = T(acc)
		}
	}
}

func reducedShape(shape tensor.Shape, dim int, keepDim bool) tensor.Shape {
	out := make(tensor.Shape, 0, len(shape))
	for i, s := range shape {
		switch {
		case i != dim:
			out = append(out, s)
		case keepDim:
			out = append(out, 1)
		}
	}
	return out
}

func (cpu *CPUBackend) reduce(name string, x *tensor.RawTensor, dim int, keepDim, mean bool) *tensor.RawTensor {
	d, err := tensor.NormalizeAxis(dim, len(x.Shape()))
	if err != nil {
		panicf("%s: %v", name, err)
	}
	outer, n, inner := splitAt(x.Shape(), d)
	result := cpu.alloc(name, reducedShape(x.Shape(), d, keepDim), x.DType())
	switch x.DType() {
	case tensor.Float32:
		sumKernel(result.AsFloat32(), x.AsFloat32(), outer, n, inner, mean)
	case tensor.Float64:
		sumKernel(result.AsFloat64(), x.AsFloat64(), outer, n, inner, mean)
	case tensor.Int32:
		sumKernel(result.AsInt32(), x.AsInt32(), outer, n, inner, mean)
	case tensor.Int64:
		sumKernel(result.AsInt64(), x.AsInt64(), outer, n, inner, mean)
	default:
		panicf("%s: unsupported dtype %s", name, x.DType())
	}
	return result
}

// SumDim sums along dim.
func (cpu *CPUBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return cpu.reduce("sum_dim", x, dim, keepDim, false)
}

// MeanDim averages along dim.
func (cpu *CPUBackend) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return cpu.reduce("mean_dim", x, dim, keepDim, true)
}
