package cpu

import (
	"fmt"

	"github.com/born-ml/encdec/internal/tensor"
)

// number is the set of element types that support arithmetic kernels.
type number interface {
	~float32 | ~float64 | ~int32 | ~int64 | ~uint8
}

// float is the set of element types accepted by transcendental kernels.
type float interface {
	~float32 | ~float64
}

func panicf(format string, args ...any) {
	panic(fmt.Sprintf(format, args...))
}

// walk visits every flat index i of shape in row-major order and passes the
// matching offset into each strided operand. Strides of 0 repeat an element,
// which is how broadcast dimensions are read.
func walk(shape tensor.Shape, strides [][]int, f func(i int, offs []int)) {
	rank := len(shape)
	coord := make([]int, rank)
	offs := make([]int, len(strides))
	n := shape.NumElements()
	for i := 0; i < n; i++ {
		f(i, offs)
		for d := rank - 1; d >= 0; d-- {
			coord[d]++
			for k := range offs {
				offs[k] += strides[k][d]
			}
			if coord[d] < shape[d] {
				break
			}
			for k := range offs {
				offs[k] -= strides[k][d] * shape[d]
			}
			coord[d] = 0
		}
	}
}

// broadcastStrides returns per-operand strides for reading each shape as out.
func broadcastStrides(out tensor.Shape, shapes ...tensor.Shape) [][]int {
	strides := make([][]int, len(shapes))
	for k, s := range shapes {
		strides[k] = tensor.BroadcastStrides(s, out)
	}
	return strides
}

// broadcastOutput computes the broadcast result shape of the operands or panics.
func broadcastOutput(op string, shapes ...tensor.Shape) tensor.Shape {
	out := shapes[0]
	for _, s := range shapes[1:] {
		var err error
		out, _, err = tensor.BroadcastShapes(out, s)
		if err != nil {
			panicf("%s: %v", op, err)
		}
	}
	return out
}

// binaryKernel applies op over two broadcast operands.
func binaryKernel[T, R any](out []R, a, b []T, outShape, aShape, bShape tensor.Shape, op func(x, y T) R) {
	if aShape.Equal(outShape) && bShape.Equal(outShape) {
		for i := range out {
			out[i] = op(a[i], b[i])
		}
		return
	}
	walk(outShape, broadcastStrides(outShape, aShape, bShape), func(i int, offs []int) {
		out[i] = op(a[offs[0]], b[offs[1]])
	})
}

// stridedCopy fills out (shape outShape) from in, reading offset
// base + sum(coord[d] * strides[d]).
func stridedCopy[T any](out, in []T, outShape tensor.Shape, strides []int, base int) {
	walk(outShape, [][]int{strides}, func(i int, offs []int) {
		out[i] = in[base+offs[0]]
	})
}

// stridedCopyRaw dispatches stridedCopy on the dtype of in.
func stridedCopyRaw(out, in *tensor.RawTensor, strides []int, base int) {
	shape := out.Shape()
	switch in.DType() {
	case tensor.Float32:
		stridedCopy(out.AsFloat32(), in.AsFloat32(), shape, strides, base)
	case tensor.Float64:
		stridedCopy(out.AsFloat64(), in.AsFloat64(), shape, strides, base)
	case tensor.Int32:
		stridedCopy(out.AsInt32(), in.AsInt32(), shape, strides, base)
	case tensor.Int64:
		stridedCopy(out.AsInt64(), in.AsInt64(), shape, strides, base)
	case tensor.Uint8:
		stridedCopy(out.AsUint8(), in.AsUint8(), shape, strides, base)
	case tensor.Bool:
		stridedCopy(out.AsBool(), in.AsBool(), shape, strides, base)
	default:
		panicf("strided copy: unsupported dtype %s", in.DType())
	}
}

func checkSameDType(op string, a, b *tensor.RawTensor) {
	if a.DType() != b.DType() {
		panicf("%s: dtype mismatch %s vs %s", op, a.DType(), b.DType())
	}
}
