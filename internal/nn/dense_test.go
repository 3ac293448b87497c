package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/encdec/internal/backend/cpu"
	"github.com/born-ml/encdec/internal/tensor"
)

func TestDenseGeneral_LastAxis(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(1))

	d, err := NewDenseGeneral("proj", DenseGeneralConfig{
		InFeatures: []int{3},
		Features:   []int{2, 2},
	}, rng, b)
	require.NoError(t, err)
	assert.Equal(t, "proj/kernel", d.Kernel.Name())
	assert.Equal(t, tensor.Shape{3, 4}, d.Kernel.Shape())

	x := tensor.Randn[float32](tensor.Shape{2, 5, 3}, rng, b)
	y, err := d.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 5, 2, 2}, y.Shape())

	want := x.Reshape(10, 3).MatMul(d.Kernel.Tensor())
	assert.InDeltaSlice(t, want.Data(), y.Data(), 1e-6)
}

func TestDenseGeneral_MultiAxisIn(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(2))

	d, err := NewDenseGeneral("out", DenseGeneralConfig{
		InFeatures: []int{2, 3},
		Features:   []int{4},
		Axis:       []int{-2, -1},
	}, rng, b)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{6, 4}, d.Kernel.Shape())

	x := tensor.Randn[float32](tensor.Shape{2, 5, 2, 3}, rng, b)
	y, err := d.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 5, 4}, y.Shape())

	want := x.Reshape(10, 6).MatMul(d.Kernel.Tensor())
	assert.InDeltaSlice(t, want.Data(), y.Data(), 1e-6)
}

func TestDenseGeneral_LeadingAxis(t *testing.T) {
	b := cpu.New()
	kernel := []float32{1, 2, 3, 4, 5, 6} // [3, 2]
	d, err := NewDenseGeneral("lead", DenseGeneralConfig{
		InFeatures: []int{3},
		Features:   []int{2},
		Axis:       []int{0},
		KernelInit: Zeros(),
	}, nil, b)
	require.NoError(t, err)
	copy(d.Kernel.Tensor().Data(), kernel)

	x := tensor.MustFromSlice([]float32{1, 0, 0, 1, 1, 1}, tensor.Shape{3, 2}, b)
	y, err := d.Forward(x)
	require.NoError(t, err)
	require.Equal(t, tensor.Shape{2, 2}, y.Shape())

	// y[j, f] = sum_i x[i, j] * k[i, f]
	for j := 0; j < 2; j++ {
		for f := 0; f < 2; f++ {
			var want float32
			for i := 0; i < 3; i++ {
				want += x.At(i, j) * kernel[i*2+f]
			}
			assert.Equal(t, want, y.At(j, f), "[%d,%d]", j, f)
		}
	}
}

func TestDenseGeneral_Errors(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(3))

	_, err := NewDenseGeneral("bad", DenseGeneralConfig{InFeatures: []int{3}, Features: []int{2}, Axis: []int{-2, -1}}, rng, b)
	assert.ErrorIs(t, err, tensor.ErrInvalidArgument)

	_, err = NewDenseGeneral("bad", DenseGeneralConfig{InFeatures: []int{3}}, rng, b)
	assert.ErrorIs(t, err, tensor.ErrInvalidArgument)

	_, err = NewDenseGeneral("bad", DenseGeneralConfig{InFeatures: []int{3}, Features: []int{2}}, nil, b)
	assert.ErrorIs(t, err, tensor.ErrInvalidArgument, "lecun normal needs an rng")

	d, err := NewDenseGeneral("proj", DenseGeneralConfig{InFeatures: []int{3}, Features: []int{2}}, rng, b)
	require.NoError(t, err)
	_, err = d.Forward(tensor.Ones[float32](tensor.Shape{2, 4}, b))
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}
