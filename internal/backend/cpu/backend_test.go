package cpu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/encdec/internal/parallel"
	"github.com/born-ml/encdec/internal/tensor"
)

func raw32(t *testing.T, data []float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(tensor.Shape(shape), tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(r.AsFloat32(), data)
	return r
}

func rawI32(t *testing.T, data []int32, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(tensor.Shape(shape), tensor.Int32, tensor.CPU)
	require.NoError(t, err)
	copy(r.AsInt32(), data)
	return r
}

func TestCPUBackend_Metadata(t *testing.T) {
	b := New()
	assert.Equal(t, "CPU", b.Name())
	assert.Equal(t, tensor.CPU, b.Device())
}

func TestCPUBackend_AddBroadcast(t *testing.T) {
	b := New()
	x := raw32(t, []float32{1, 2, 3}, 3, 1)
	y := raw32(t, []float32{10, 20}, 2)

	out := b.Add(x, y)
	assert.Equal(t, tensor.Shape{3, 2}, out.Shape())
	assert.Equal(t, []float32{11, 21, 12, 22, 13, 23}, out.AsFloat32())
}

func TestCPUBackend_Arith(t *testing.T) {
	b := New()
	x := raw32(t, []float32{6, 8}, 2)
	y := raw32(t, []float32{2, 4}, 2)

	assert.Equal(t, []float32{4, 4}, b.Sub(x, y).AsFloat32())
	assert.Equal(t, []float32{12, 32}, b.Mul(x, y).AsFloat32())
	assert.Equal(t, []float32{3, 2}, b.Div(x, y).AsFloat32())
	assert.Equal(t, []float32{3, 4}, b.MulScalar(x, 0.5).AsFloat32())
	assert.Equal(t, []float32{7, 9}, b.AddScalar(x, 1).AsFloat32())
}

func TestCPUBackend_DTypeMismatchPanics(t *testing.T) {
	b := New()
	x := raw32(t, []float32{1}, 1)
	y := rawI32(t, []int32{1}, 1)
	assert.Panics(t, func() { b.Add(x, y) })
}

func TestCPUBackend_MatMul(t *testing.T) {
	for _, cfg := range []parallel.Config{
		parallel.Sequential(),
		{Workers: 4, MinRows: 1},
	} {
		b := NewWithConfig(cfg)
		x := raw32(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
		y := raw32(t, []float32{7, 8, 9, 10, 11, 12}, 3, 2)

		out := b.MatMul(x, y)
		assert.Equal(t, tensor.Shape{2, 2}, out.Shape())
		assert.Equal(t, []float32{58, 64, 139, 154}, out.AsFloat32())
	}
}

func TestCPUBackend_BatchMatMul(t *testing.T) {
	b := New()
	x := raw32(t, []float32{1, 0, 0, 1, 2, 0, 0, 2}, 2, 2, 2)
	y := raw32(t, []float32{1, 2, 3, 4, 1, 2, 3, 4}, 2, 2, 2)

	out := b.BatchMatMul(x, y)
	assert.Equal(t, []float32{1, 2, 3, 4, 2, 4, 6, 8}, out.AsFloat32())
	assert.Panics(t, func() { b.BatchMatMul(x, raw32(t, make([]float32, 6), 2, 3, 1)) })
}

func TestCPUBackend_Transpose(t *testing.T) {
	b := New()
	x := raw32(t, []float32{0, 1, 2, 3, 4, 5}, 1, 2, 3)

	out := b.Transpose(x, 2, 0, 1)
	assert.Equal(t, tensor.Shape{3, 1, 2}, out.Shape())
	assert.Equal(t, []float32{0, 3, 1, 4, 2, 5}, out.AsFloat32())

	rev := b.Transpose(raw32(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3))
	assert.Equal(t, tensor.Shape{3, 2}, rev.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, rev.AsFloat32())
}

func TestCPUBackend_NarrowExpandReshape(t *testing.T) {
	b := New()
	x := raw32(t, []float32{0, 1, 2, 3, 4, 5, 6, 7, 8}, 3, 3)

	row := b.Narrow(x, -2, 1, 1)
	assert.Equal(t, tensor.Shape{1, 3}, row.Shape())
	assert.Equal(t, []float32{3, 4, 5}, row.AsFloat32())

	col := b.Narrow(x, 1, 1, 2)
	assert.Equal(t, []float32{1, 2, 4, 5, 7, 8}, col.AsFloat32())
	assert.Panics(t, func() { b.Narrow(x, 0, 2, 2) })

	e := b.Expand(raw32(t, []float32{1, 2}, 2, 1), tensor.Shape{2, 3})
	assert.Equal(t, []float32{1, 1, 1, 2, 2, 2}, e.AsFloat32())
	assert.Panics(t, func() { b.Expand(x, tensor.Shape{2, 3}) })

	r := b.Reshape(x, tensor.Shape{-1, 9})
	assert.Equal(t, tensor.Shape{1, 9}, r.Shape())
	assert.Panics(t, func() { b.Reshape(x, tensor.Shape{2, 4}) })
}

func TestCPUBackend_Softmax(t *testing.T) {
	b := New()
	x := raw32(t, []float32{1, 2, 3, 1000, 1000, 1000}, 2, 3)

	out := b.Softmax(x, -1).AsFloat32()
	for row := 0; row < 2; row++ {
		var sum float32
		for _, v := range out[row*3 : row*3+3] {
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-5)
	}
	assert.InDelta(t, 1.0/3.0, out[3], 1e-6)
	assert.Greater(t, out[2], out[1])

	// Along a leading axis.
	cols := b.Softmax(raw32(t, []float32{0, 5, 0, 5}, 2, 2), 0).AsFloat32()
	assert.InDelta(t, 0.5, cols[0], 1e-6)
	assert.InDelta(t, 0.5, cols[3], 1e-6)
}

func TestCPUBackend_Reduce(t *testing.T) {
	b := New()
	x := raw32(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)

	sum := b.SumDim(x, 1, false)
	assert.Equal(t, tensor.Shape{2}, sum.Shape())
	assert.Equal(t, []float32{6, 15}, sum.AsFloat32())

	mean := b.MeanDim(x, 0, true)
	assert.Equal(t, tensor.Shape{1, 3}, mean.Shape())
	assert.Equal(t, []float32{2.5, 3.5, 4.5}, mean.AsFloat32())
}

func TestCPUBackend_UnaryMath(t *testing.T) {
	b := New()
	x := raw32(t, []float32{-1, 0, 4}, 3)

	assert.Equal(t, []float32{0, 0, 4}, b.ReLU(x).AsFloat32())
	assert.InDelta(t, 0.5, b.Sigmoid(x).AsFloat32()[1], 1e-7)
	assert.InDelta(t, 2.0, b.Sqrt(x).AsFloat32()[2], 1e-7)
	assert.InDelta(t, 0.5, b.Rsqrt(x).AsFloat32()[2], 1e-7)
	assert.InDelta(t, math.Erf(-1), b.Erf(x).AsFloat32()[0], 1e-6)
	assert.InDelta(t, math.Tanh(4), b.Tanh(x).AsFloat32()[2], 1e-6)
	assert.Panics(t, func() { b.Exp(rawI32(t, []int32{1}, 1)) })
}

func TestCPUBackend_CompareAndLogic(t *testing.T) {
	b := New()
	x := rawI32(t, []int32{0, 1, 2}, 3)
	y := rawI32(t, []int32{1}, 1)

	assert.Equal(t, []bool{false, false, true}, b.Greater(x, y).AsBool())
	assert.Equal(t, []bool{false, true, true}, b.GreaterEqual(x, y).AsBool())
	assert.Equal(t, []bool{false, true, false}, b.Equal(x, y).AsBool())

	p := b.Greater(x, rawI32(t, []int32{0}, 1))
	q := b.Equal(x, y)
	assert.Equal(t, []bool{false, true, false}, b.And(p, q).AsBool())
	assert.Equal(t, []bool{false, true, true}, b.Or(p, q).AsBool())
	assert.Equal(t, []bool{true, false, false}, b.Not(p).AsBool())

	// Outer comparison [3,1] vs [1,3].
	outer := b.GreaterEqual(b.Reshape(x, tensor.Shape{3, 1}), b.Reshape(x, tensor.Shape{1, 3}))
	assert.Equal(t, []bool{true, false, false, true, true, false, true, true, true}, outer.AsBool())
}

func TestCPUBackend_Where(t *testing.T) {
	b := New()
	cond := b.Greater(raw32(t, []float32{1, 0, 1}, 3), raw32(t, []float32{0}, 1))
	zero := raw32(t, []float32{0}, 1)
	neg := raw32(t, []float32{-1e10}, 1)

	out := b.Where(cond, zero, neg)
	assert.Equal(t, []float32{0, -1e10, 0}, out.AsFloat32())
}

func TestCPUBackend_EmbeddingAndCast(t *testing.T) {
	b := New()
	w := raw32(t, []float32{0, 0, 1, 1, 2, 2}, 3, 2)
	idx := rawI32(t, []int32{2, 0, 1, 2}, 2, 2)

	out := b.Embedding(w, idx)
	assert.Equal(t, tensor.Shape{2, 2, 2}, out.Shape())
	assert.Equal(t, []float32{2, 2, 0, 0, 1, 1, 2, 2}, out.AsFloat32())
	assert.Panics(t, func() { b.Embedding(w, rawI32(t, []int32{3}, 1)) })
	assert.Panics(t, func() { b.Embedding(w, raw32(t, []float32{0}, 1)) })

	f := b.Cast(idx, tensor.Float64)
	assert.Equal(t, []float64{2, 0, 1, 2}, f.AsFloat64())
	bools := b.Cast(idx, tensor.Bool)
	assert.Equal(t, []bool{true, false, true, true}, bools.AsBool())
	back := b.Cast(bools, tensor.Float32)
	assert.Equal(t, []float32{1, 0, 1, 1}, back.AsFloat32())
}
