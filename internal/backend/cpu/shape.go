package cpu

import (
	"github.com/born-ml/encdec/internal/tensor"
)

// Reshape returns a view with newShape. A single -1 entry is inferred.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	shape := newShape.Clone()
	infer, known := -1, 1
	for i, d := range shape {
		if d == -1 {
			if infer >= 0 {
				panicf("reshape: more than one inferred dimension in %v", newShape)
			}
			infer = i
			continue
		}
		known *= d
	}
	if infer >= 0 {
		if known == 0 || t.NumElements()%known != 0 {
			panicf("reshape: cannot infer dimension of %v for %d elements", newShape, t.NumElements())
		}
		shape[infer] = t.NumElements() / known
	}
	if shape.NumElements() != t.NumElements() {
		panicf("reshape: incompatible shapes %v (%d elements) -> %v (%d elements)",
			t.Shape(), t.NumElements(), newShape, shape.NumElements())
	}
	return t.View(shape)
}

// Transpose permutes dimensions. With no axes the order is reversed.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	rank := len(shape)
	if len(axes) == 0 {
		axes = make([]int, rank)
		for i := range axes {
			axes[i] = rank - 1 - i
		}
	}
	if len(axes) != rank {
		panicf("transpose: %d axes given for rank %d", len(axes), rank)
	}
	perm, err := tensor.NormalizeAxes(axes, rank)
	if err != nil {
		panicf("transpose: %v", err)
	}

	inStrides := t.Strides()
	outShape := make(tensor.Shape, rank)
	strides := make([]int, rank)
	for i, ax := range perm {
		outShape[i] = shape[ax]
		strides[i] = inStrides[ax]
	}
	result := cpu.alloc("transpose", outShape, t.DType())
	stridedCopyRaw(result, t, strides, 0)
	return result
}

// Narrow copies the range [start, start+length) of dim.
func (cpu *CPUBackend) Narrow(t *tensor.RawTensor, dim, start, length int) *tensor.RawTensor {
	shape := t.Shape()
	d, err := tensor.NormalizeAxis(dim, len(shape))
	if err != nil {
		panicf("narrow: %v", err)
	}
	if start < 0 || length <= 0 || start+length > shape[d] {
		panicf("narrow: range [%d, %d) out of bounds for dimension %d of size %d", start, start+length, d, shape[d])
	}
	outShape := shape.Clone()
	outShape[d] = length
	strides := t.Strides()
	result := cpu.alloc("narrow", outShape, t.DType())
	stridedCopyRaw(result, t, strides, start*strides[d])
	return result
}

// Expand broadcasts t to shape following NumPy rules.
func (cpu *CPUBackend) Expand(t *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	out, _, err := tensor.BroadcastShapes(t.Shape(), shape)
	if err != nil || !out.Equal(shape) {
		panicf("expand: cannot expand %v to %v", t.Shape(), shape)
	}
	result := cpu.alloc("expand", shape, t.DType())
	stridedCopyRaw(result, t, tensor.BroadcastStrides(t.Shape(), shape), 0)
	return result
}
