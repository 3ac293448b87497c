package tensor

import (
	"fmt"
	"strings"
)

// Tensor is a type-safe multi-dimensional array.
//
// Type parameters:
//   - T: Data type (float32, float64, int32, int64, uint8, bool)
//   - B: Backend implementation (CPU)
//
// Example:
//
//	backend := cpu.New()
//	x := tensor.Zeros[float32](tensor.Shape{3, 4}, backend)
//	y := x.Add(x)
type Tensor[T DType, B Backend] struct {
	raw     *RawTensor
	backend B
}

// New creates a tensor from an existing RawTensor.
func New[T DType, B Backend](raw *RawTensor, b B) *Tensor[T, B] {
	return &Tensor[T, B]{
		raw:     raw,
		backend: b,
	}
}

// FromSlice creates a tensor holding a copy of data with the given shape.
func FromSlice[T DType, B Backend](data []T, shape Shape, b B) (*Tensor[T, B], error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("data length %d doesn't match shape %v (%d elements): %w",
			len(data), shape, shape.NumElements(), ErrShapeMismatch)
	}
	raw, err := NewRaw(shape, DataTypeOf[T](), b.Device())
	if err != nil {
		return nil, err
	}
	copy(rawData[T](raw), data)
	return New[T, B](raw, b), nil
}

// MustFromSlice is FromSlice for literals whose shape is known to match.
func MustFromSlice[T DType, B Backend](data []T, shape Shape, b B) *Tensor[T, B] {
	t, err := FromSlice(data, shape, b)
	if err != nil {
		panic(err)
	}
	return t
}

// rawData returns the typed storage of r. T must match r's dtype.
func rawData[T DType](r *RawTensor) []T {
	d, ok := r.data.([]T)
	if !ok {
		var zero T
		panic(fmt.Sprintf("tensor dtype is %s, not %T", r.dtype, zero))
	}
	return d
}

// Data returns the underlying storage as a typed slice.
//
// The slice aliases the tensor; modifications are visible to it.
func (t *Tensor[T, B]) Data() []T {
	return rawData[T](t.raw)
}

// Raw returns the underlying RawTensor.
func (t *Tensor[T, B]) Raw() *RawTensor {
	return t.raw
}

// Backend returns the tensor's backend.
func (t *Tensor[T, B]) Backend() B {
	return t.backend
}

// Shape returns the tensor's shape.
func (t *Tensor[T, B]) Shape() Shape {
	return t.raw.Shape()
}

// Rank returns the number of dimensions.
func (t *Tensor[T, B]) Rank() int {
	return len(t.raw.Shape())
}

// DType returns the tensor's data type.
func (t *Tensor[T, B]) DType() DataType {
	return t.raw.DType()
}

// NumElements returns the total number of elements.
func (t *Tensor[T, B]) NumElements() int {
	return t.raw.NumElements()
}

// offset converts multi-dimensional indices into a flat offset.
func (t *Tensor[T, B]) offset(indices []int) int {
	shape := t.raw.Shape()
	if len(indices) != len(shape) {
		panic(fmt.Sprintf("expected %d indices, got %d", len(shape), len(indices)))
	}
	strides := t.raw.Strides()
	off := 0
	for i, idx := range indices {
		if idx < 0 || idx >= shape[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d (size %d)", idx, i, shape[i]))
		}
		off += idx * strides[i]
	}
	return off
}

// At returns the element at the given indices.
func (t *Tensor[T, B]) At(indices ...int) T {
	return t.Data()[t.offset(indices)]
}

// Set sets the element at the given indices.
func (t *Tensor[T, B]) Set(value T, indices ...int) {
	t.Data()[t.offset(indices)] = value
}

// Item returns the single element of a one-element tensor.
func (t *Tensor[T, B]) Item() T {
	if t.NumElements() != 1 {
		panic(fmt.Sprintf("Item() requires a single element, got shape %v", t.Shape()))
	}
	return t.Data()[0]
}

// Clone creates a deep copy of the tensor.
func (t *Tensor[T, B]) Clone() *Tensor[T, B] {
	return New[T, B](t.raw.Clone(), t.backend)
}

// String returns a short human-readable description.
func (t *Tensor[T, B]) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tensor[%s]%v", t.DType(), t.Shape())
	data := t.Data()
	const preview = 8
	sb.WriteString("(")
	for i := 0; i < len(data) && i < preview; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprint(&sb, data[i])
	}
	if len(data) > preview {
		sb.WriteString(", ...")
	}
	sb.WriteString(")")
	return sb.String()
}
