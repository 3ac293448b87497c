package tensor

import "fmt"

// Add performs element-wise addition with broadcasting.
//
// Example:
//
//	a := tensor.Ones[float32](Shape{3, 1}, backend)
//	b := tensor.Ones[float32](Shape{3, 5}, backend)
//	c := a.Add(b) // Shape: [3, 5] (broadcasted)
func (t *Tensor[T, B]) Add(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.Add(t.raw, other.raw), t.backend)
}

// Sub performs element-wise subtraction with broadcasting.
func (t *Tensor[T, B]) Sub(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.Sub(t.raw, other.raw), t.backend)
}

// Mul performs element-wise multiplication with broadcasting.
func (t *Tensor[T, B]) Mul(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.Mul(t.raw, other.raw), t.backend)
}

// Div performs element-wise division with broadcasting.
func (t *Tensor[T, B]) Div(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.Div(t.raw, other.raw), t.backend)
}

// MulScalar multiplies every element by s.
func (t *Tensor[T, B]) MulScalar(s float64) *Tensor[T, B] {
	return New[T, B](t.backend.MulScalar(t.raw, s), t.backend)
}

// AddScalar adds s to every element.
func (t *Tensor[T, B]) AddScalar(s float64) *Tensor[T, B] {
	return New[T, B](t.backend.AddScalar(t.raw, s), t.backend)
}

// MatMul performs 2D matrix multiplication: (M, K) @ (K, N) → (M, N).
//
// Example:
//
//	a := tensor.Randn[float32](Shape{3, 4}, rng, backend)
//	b := tensor.Randn[float32](Shape{4, 5}, rng, backend)
//	c := a.MatMul(b) // Shape: [3, 5]
func (t *Tensor[T, B]) MatMul(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.MatMul(t.raw, other.raw), t.backend)
}

// BatchMatMul performs [..., M, K] @ [..., K, N] → [..., M, N].
func (t *Tensor[T, B]) BatchMatMul(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.BatchMatMul(t.raw, other.raw), t.backend)
}

// Reshape returns a tensor with the same data but different shape.
// The new shape must have the same number of elements.
//
// Example:
//
//	t := tensor.Arange[int32](12, backend) // Shape: [12]
//	reshaped := t.Reshape(3, 4)            // Shape: [3, 4]
func (t *Tensor[T, B]) Reshape(newShape ...int) *Tensor[T, B] {
	return New[T, B](t.backend.Reshape(t.raw, Shape(newShape)), t.backend)
}

// Transpose permutes the tensor's dimensions.
//
// If axes is empty, reverses all dimensions (for 2D, this is standard transpose).
//
// Example:
//
//	t := tensor.Randn[float32](Shape{2, 3, 4}, rng, backend)
//	transposed := t.Transpose(2, 0, 1) // Shape: [4, 2, 3]
func (t *Tensor[T, B]) Transpose(axes ...int) *Tensor[T, B] {
	return New[T, B](t.backend.Transpose(t.raw, axes...), t.backend)
}

// T is a shortcut for 2D transpose (swaps rows and columns).
// Panics if the tensor is not 2D.
func (t *Tensor[T, B]) T() *Tensor[T, B] {
	if t.Rank() != 2 {
		panic(fmt.Sprintf("T() requires 2D tensor, got %dD", t.Rank()))
	}
	return t.Transpose(1, 0)
}

// Narrow returns the contiguous slice [start, start+length) along dim.
func (t *Tensor[T, B]) Narrow(dim, start, length int) *Tensor[T, B] {
	return New[T, B](t.backend.Narrow(t.raw, dim, start, length), t.backend)
}

// Expand broadcasts the tensor to shape.
func (t *Tensor[T, B]) Expand(shape Shape) *Tensor[T, B] {
	return New[T, B](t.backend.Expand(t.raw, shape), t.backend)
}

// Unsqueeze inserts a size-1 dimension at dim (negative counts from the end
// of the result).
func (t *Tensor[T, B]) Unsqueeze(dim int) *Tensor[T, B] {
	shape := t.Shape()
	rank := len(shape) + 1
	if dim < 0 {
		dim += rank
	}
	if dim < 0 || dim >= rank {
		panic(fmt.Sprintf("Unsqueeze: dim %d out of range for rank %d", dim, rank))
	}
	out := make(Shape, 0, rank)
	out = append(out, shape[:dim]...)
	out = append(out, 1)
	out = append(out, shape[dim:]...)
	return t.Reshape(out...)
}

// Squeeze removes the size-1 dimension at dim.
func (t *Tensor[T, B]) Squeeze(dim int) *Tensor[T, B] {
	shape := t.Shape()
	d, err := NormalizeAxis(dim, len(shape))
	if err != nil {
		panic(err)
	}
	if shape[d] != 1 {
		panic(fmt.Sprintf("Squeeze: dim %d has size %d", dim, shape[d]))
	}
	out := make(Shape, 0, len(shape)-1)
	out = append(out, shape[:d]...)
	out = append(out, shape[d+1:]...)
	return t.Reshape(out...)
}

// Exp computes e^x element-wise.
func (t *Tensor[T, B]) Exp() *Tensor[T, B] {
	return New[T, B](t.backend.Exp(t.raw), t.backend)
}

// Log computes the natural logarithm element-wise.
func (t *Tensor[T, B]) Log() *Tensor[T, B] {
	return New[T, B](t.backend.Log(t.raw), t.backend)
}

// Sqrt computes the square root element-wise.
func (t *Tensor[T, B]) Sqrt() *Tensor[T, B] {
	return New[T, B](t.backend.Sqrt(t.raw), t.backend)
}

// Rsqrt computes 1/sqrt(x) element-wise.
func (t *Tensor[T, B]) Rsqrt() *Tensor[T, B] {
	return New[T, B](t.backend.Rsqrt(t.raw), t.backend)
}

// Tanh computes the hyperbolic tangent element-wise.
func (t *Tensor[T, B]) Tanh() *Tensor[T, B] {
	return New[T, B](t.backend.Tanh(t.raw), t.backend)
}

// Erf computes the error function element-wise.
func (t *Tensor[T, B]) Erf() *Tensor[T, B] {
	return New[T, B](t.backend.Erf(t.raw), t.backend)
}

// ReLU computes max(0, x) element-wise.
func (t *Tensor[T, B]) ReLU() *Tensor[T, B] {
	return New[T, B](t.backend.ReLU(t.raw), t.backend)
}

// Sigmoid computes 1/(1+e^-x) element-wise.
func (t *Tensor[T, B]) Sigmoid() *Tensor[T, B] {
	return New[T, B](t.backend.Sigmoid(t.raw), t.backend)
}

// Softmax normalizes along dim so that each slice sums to 1.
func (t *Tensor[T, B]) Softmax(dim int) *Tensor[T, B] {
	return New[T, B](t.backend.Softmax(t.raw, dim), t.backend)
}

// SumDim sums along dim.
func (t *Tensor[T, B]) SumDim(dim int, keepDim bool) *Tensor[T, B] {
	return New[T, B](t.backend.SumDim(t.raw, dim, keepDim), t.backend)
}

// MeanDim averages along dim.
func (t *Tensor[T, B]) MeanDim(dim int, keepDim bool) *Tensor[T, B] {
	return New[T, B](t.backend.MeanDim(t.raw, dim, keepDim), t.backend)
}

// Greater returns t > other element-wise with broadcasting.
func (t *Tensor[T, B]) Greater(other *Tensor[T, B]) *Tensor[bool, B] {
	return New[bool, B](t.backend.Greater(t.raw, other.raw), t.backend)
}

// GreaterEqual returns t >= other element-wise with broadcasting.
func (t *Tensor[T, B]) GreaterEqual(other *Tensor[T, B]) *Tensor[bool, B] {
	return New[bool, B](t.backend.GreaterEqual(t.raw, other.raw), t.backend)
}

// Equal returns t == other element-wise with broadcasting.
func (t *Tensor[T, B]) Equal(other *Tensor[T, B]) *Tensor[bool, B] {
	return New[bool, B](t.backend.Equal(t.raw, other.raw), t.backend)
}

// And computes the element-wise logical AND of two bool tensors.
func And[B Backend](a, b *Tensor[bool, B]) *Tensor[bool, B] {
	return New[bool, B](a.backend.And(a.raw, b.raw), a.backend)
}

// Or computes the element-wise logical OR of two bool tensors.
func Or[B Backend](a, b *Tensor[bool, B]) *Tensor[bool, B] {
	return New[bool, B](a.backend.Or(a.raw, b.raw), a.backend)
}

// Not computes the element-wise logical NOT of a bool tensor.
func Not[B Backend](x *Tensor[bool, B]) *Tensor[bool, B] {
	return New[bool, B](x.backend.Not(x.raw), x.backend)
}

// Where selects x where cond holds and y elsewhere, broadcasting all three.
func Where[T DType, B Backend](cond *Tensor[bool, B], x, y *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](x.backend.Where(cond.raw, x.raw, y.raw), x.backend)
}

// Cast converts t to element type U.
func Cast[U, T DType, B Backend](t *Tensor[T, B]) *Tensor[U, B] {
	target := DataTypeOf[U]()
	if t.DType() == target {
		return New[U, B](t.raw, t.backend)
	}
	return New[U, B](t.backend.Cast(t.raw, target), t.backend)
}

// Embedding gathers rows of weight [vocab, features] by integer indices,
// producing indices.Shape()+[features].
func Embedding[B Backend](weight *Tensor[float32, B], indices *RawTensor) *Tensor[float32, B] {
	return New[float32, B](weight.backend.Embedding(weight.raw, indices), weight.backend)
}
