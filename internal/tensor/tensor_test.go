package tensor_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/encdec/internal/backend/cpu"
	"github.com/born-ml/encdec/internal/tensor"
)

func TestFromSlice(t *testing.T) {
	b := cpu.New()
	x, err := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, b)
	require.NoError(t, err)
	assert.Equal(t, float32(6), x.At(1, 2))

	x.Set(7, 0, 0)
	assert.Equal(t, float32(7), x.Data()[0])

	_, err = tensor.FromSlice([]float32{1, 2}, tensor.Shape{3}, b)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestCreation(t *testing.T) {
	b := cpu.New()
	assert.Equal(t, []float32{1, 1, 1}, tensor.Ones[float32](tensor.Shape{3}, b).Data())
	assert.Equal(t, []int32{0, 1, 2, 3}, tensor.Arange[int32](4, b).Data())
	assert.Equal(t, []float64{1, 0, 0, 1}, tensor.Eye[float64](2, b).Data())

	rng1 := rand.New(rand.NewSource(7))
	rng2 := rand.New(rand.NewSource(7))
	assert.Equal(t,
		tensor.Randn[float32](tensor.Shape{4}, rng1, b).Data(),
		tensor.Randn[float32](tensor.Shape{4}, rng2, b).Data(),
		"same seed, same values")
}

func TestOneHot(t *testing.T) {
	b := cpu.New()
	idx := tensor.MustFromSlice([]int32{2, 0, 5}, tensor.Shape{3}, b)
	oh := tensor.OneHot(idx.Raw(), 3, b)
	assert.Equal(t, tensor.Shape{3, 3}, oh.Shape())
	assert.Equal(t, []float32{0, 0, 1, 1, 0, 0, 0, 0, 0}, oh.Data())
}

func TestTensorOps(t *testing.T) {
	b := cpu.New()
	x := tensor.MustFromSlice([]float32{1, 2, 3, 4}, tensor.Shape{2, 2}, b)

	assert.Equal(t, []float32{2, 4, 6, 8}, x.Add(x).Data())
	assert.Equal(t, []float32{1, 3, 2, 4}, x.T().Data())
	assert.Equal(t, tensor.Shape{2, 1, 2}, x.Unsqueeze(1).Shape())
	assert.Equal(t, tensor.Shape{2, 2}, x.Unsqueeze(-1).Squeeze(2).Shape())
	assert.Equal(t, []float32{7, 10, 15, 22}, x.MatMul(x).Data())

	gt := x.Greater(tensor.Full[float32](tensor.Shape{1}, 2, b))
	assert.Equal(t, []bool{false, false, true, true}, gt.Data())
	assert.Equal(t, []bool{true, true, false, false}, tensor.Not(gt).Data())

	sel := tensor.Where(gt, x, tensor.Zeros[float32](tensor.Shape{1}, b))
	assert.Equal(t, []float32{0, 0, 3, 4}, sel.Data())

	asF := tensor.Cast[float32](gt)
	assert.Equal(t, []float32{0, 0, 1, 1}, asF.Data())
	same := tensor.Cast[float32](x)
	assert.Same(t, x.Raw(), same.Raw())
}

func TestEmbeddingGather(t *testing.T) {
	b := cpu.New()
	w := tensor.MustFromSlice([]float32{0, 1, 10, 11, 20, 21}, tensor.Shape{3, 2}, b)
	idx := tensor.MustFromSlice([]int32{2, 1}, tensor.Shape{1, 2}, b)

	out := tensor.Embedding(w, idx.Raw())
	assert.Equal(t, tensor.Shape{1, 2, 2}, out.Shape())
	assert.Equal(t, []float32{20, 21, 10, 11}, out.Data())
}
