package tensor

import (
	"math/rand"
)

// Zeros creates a tensor filled with zeros.
//
// Example:
//
//	backend := cpu.New()
//	t := tensor.Zeros[float32](Shape{3, 4}, backend)
func Zeros[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	raw, err := NewRaw(shape, DataTypeOf[T](), b.Device())
	if err != nil {
		panic(err) // Shape validation should prevent this
	}
	return New[T, B](raw, b)
}

// one returns the multiplicative identity of T (true for bool).
func one[T DType]() T {
	var dummy T
	var v any
	switch any(dummy).(type) {
	case float32:
		v = float32(1)
	case float64:
		v = float64(1)
	case int32:
		v = int32(1)
	case int64:
		v = int64(1)
	case uint8:
		v = uint8(1)
	case bool:
		v = true
	}
	return v.(T)
}

// Ones creates a tensor filled with ones.
//
// Example:
//
//	t := tensor.Ones[float64](Shape{2, 3}, backend)
func Ones[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return Full[T, B](shape, one[T](), b)
}

// Full creates a tensor filled with a specific value.
//
// Example:
//
//	t := tensor.Full[float32](Shape{3, 3}, 3.14, backend)
func Full[T DType, B Backend](shape Shape, value T, b B) *Tensor[T, B] {
	t := Zeros[T, B](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = value
	}
	return t
}

// Randn creates a float tensor with values drawn from N(0, 1) using rng.
//
// Passing the generator explicitly keeps parameter initialization
// reproducible per model instead of depending on global state.
//
// Example:
//
//	rng := rand.New(rand.NewSource(0))
//	t := tensor.Randn[float32](Shape{100, 100}, rng, backend)
func Randn[T DType, B Backend](shape Shape, rng *rand.Rand, b B) *Tensor[T, B] {
	t := Zeros[T, B](shape, b)
	switch data := any(t.Data()).(type) {
	case []float32:
		for i := range data {
			data[i] = float32(rng.NormFloat64())
		}
	case []float64:
		for i := range data {
			data[i] = rng.NormFloat64()
		}
	default:
		panic("Randn only supports float32 and float64 types")
	}
	return t
}

// Rand creates a float tensor with values uniformly distributed in [0, 1).
func Rand[T DType, B Backend](shape Shape, rng *rand.Rand, b B) *Tensor[T, B] {
	t := Zeros[T, B](shape, b)
	switch data := any(t.Data()).(type) {
	case []float32:
		for i := range data {
			data[i] = rng.Float32()
		}
	case []float64:
		for i := range data {
			data[i] = rng.Float64()
		}
	default:
		panic("Rand only supports float32 and float64 types")
	}
	return t
}

// Arange creates a 1D tensor holding 0, 1, ..., n-1.
//
// Example:
//
//	t := tensor.Arange[int32](10, backend) // [0, 1, 2, ..., 9]
func Arange[T DType, B Backend](n int, b B) *Tensor[T, B] {
	if n <= 0 {
		panic("Arange: n must be positive")
	}
	t := Zeros[T, B](Shape{n}, b)
	switch data := any(t.Data()).(type) {
	case []float32:
		for i := range data {
			data[i] = float32(i)
		}
	case []float64:
		for i := range data {
			data[i] = float64(i)
		}
	case []int32:
		for i := range data {
			data[i] = int32(i) //nolint:gosec // G115: i is within valid range.
		}
	case []int64:
		for i := range data {
			data[i] = int64(i)
		}
	default:
		panic("Arange not supported for this type")
	}
	return t
}

// Eye creates a 2D identity matrix.
//
// Example:
//
//	t := tensor.Eye[float32](3, backend) // 3x3 identity matrix
func Eye[T DType, B Backend](n int, b B) *Tensor[T, B] {
	t := Zeros[T, B](Shape{n, n}, b)
	v := one[T]()
	for i := 0; i < n; i++ {
		t.Set(v, i, i)
	}
	return t
}

// OneHot builds a float32 tensor of shape indices.Shape()+[depth] with a 1
// at each index position. Indices outside [0, depth) produce an all-zero row.
func OneHot[B Backend](indices *RawTensor, depth int, b B) *Tensor[float32, B] {
	shape := append(indices.Shape().Clone(), depth)
	t := Zeros[float32, B](shape, b)
	data := t.Data()
	n := indices.NumElements()
	for i := 0; i < n; i++ {
		idx := int(indices.Float64At(i))
		if idx >= 0 && idx < depth {
			data[i*depth+idx] = 1
		}
	}
	return t
}
