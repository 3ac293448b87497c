package tensor

// Backend defines the interface that compute backends implement.
// Backends handle the actual computation for tensor operations.
//
// Kernels panic on operand errors (dtype mismatch, impossible broadcast);
// the layers above validate shapes and return errors before calling them.
//
// Implementations:
//   - CPU: Pure Go, row-parallel matrix kernels
type Backend interface {
	// Element-wise binary operations with NumPy-style broadcasting.
	// Operands must share a dtype.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// MatMul performs (M, K) @ (K, N) -> (M, N).
	MatMul(a, b *RawTensor) *RawTensor

	// BatchMatMul performs [..., M, K] @ [..., K, N] -> [..., M, N]
	// with identical leading dimensions.
	BatchMatMul(a, b *RawTensor) *RawTensor

	// Shape operations
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor
	Narrow(t *RawTensor, dim, start, length int) *RawTensor // contiguous slice along dim
	Expand(t *RawTensor, shape Shape) *RawTensor            // broadcast to shape

	// Scalar operations (element-wise with scalar)
	MulScalar(x *RawTensor, scalar float64) *RawTensor
	AddScalar(x *RawTensor, scalar float64) *RawTensor

	// Math operations (element-wise, floating point only)
	Exp(x *RawTensor) *RawTensor
	Log(x *RawTensor) *RawTensor
	Sqrt(x *RawTensor) *RawTensor
	Rsqrt(x *RawTensor) *RawTensor
	Tanh(x *RawTensor) *RawTensor
	Erf(x *RawTensor) *RawTensor
	ReLU(x *RawTensor) *RawTensor
	Sigmoid(x *RawTensor) *RawTensor

	// Softmax along a dimension (numerically stable, max-subtracted).
	Softmax(x *RawTensor, dim int) *RawTensor

	// Reductions
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor
	MeanDim(x *RawTensor, dim int, keepDim bool) *RawTensor

	// Comparison operations (element-wise, broadcast, return bool tensor)
	Greater(a, b *RawTensor) *RawTensor
	GreaterEqual(a, b *RawTensor) *RawTensor
	Equal(a, b *RawTensor) *RawTensor

	// Boolean operations (element-wise on bool tensors)
	And(a, b *RawTensor) *RawTensor
	Or(a, b *RawTensor) *RawTensor
	Not(x *RawTensor) *RawTensor

	// Where selects x where condition holds and y elsewhere, with broadcasting.
	Where(condition, x, y *RawTensor) *RawTensor

	// Embedding gathers rows of a 2-D weight by integer indices of any shape.
	Embedding(weight, indices *RawTensor) *RawTensor

	// Cast converts to a different data type.
	Cast(x *RawTensor, dtype DataType) *RawTensor

	// Metadata
	Name() string
	Device() Device
}
