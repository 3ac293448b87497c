package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/encdec/internal/backend/cpu"
	"github.com/born-ml/encdec/internal/tensor"
)

func TestDotProductAttention_UniformWeights(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(4))

	// Zero queries give equal logits, so the output is the mean of the values.
	q := tensor.Zeros[float32](tensor.Shape{1, 2, 1, 3}, b)
	k := tensor.Randn[float32](tensor.Shape{1, 4, 1, 3}, rng, b)
	v := tensor.Randn[float32](tensor.Shape{1, 4, 1, 3}, rng, b)

	out, err := DotProductAttention(q, k, v, nil, AttentionOptions{})
	require.NoError(t, err)
	require.Equal(t, tensor.Shape{1, 2, 1, 3}, out.Shape())

	mean := v.MeanDim(1, false) // [1, 1, 3]
	for qi := 0; qi < 2; qi++ {
		for d := 0; d < 3; d++ {
			assert.InDelta(t, mean.At(0, 0, d), out.At(0, qi, 0, d), 1e-5)
		}
	}
}

func TestDotProductAttention_BiasSelectsKey(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(5))

	q := tensor.Randn[float32](tensor.Shape{2, 3, 2, 4}, rng, b)
	k := tensor.Randn[float32](tensor.Shape{2, 5, 2, 4}, rng, b)
	v := tensor.Randn[float32](tensor.Shape{2, 5, 2, 4}, rng, b)

	// Only key 2 is visible.
	bias := tensor.Full[float32](tensor.Shape{1, 1, 1, 5}, MaskedBias, b)
	bias.Set(0, 0, 0, 0, 2)

	out, err := DotProductAttention(q, k, v, bias, AttentionOptions{})
	require.NoError(t, err)
	for bi := 0; bi < 2; bi++ {
		for qi := 0; qi < 3; qi++ {
			for h := 0; h < 2; h++ {
				for d := 0; d < 4; d++ {
					assert.InDelta(t, v.At(bi, 2, h, d), out.At(bi, qi, h, d), 1e-6)
				}
			}
		}
	}
}

func TestDotProductAttention_Float64Logits(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(6))
	q := tensor.Randn[float32](tensor.Shape{2, 3, 2, 4}, rng, b)
	k := tensor.Randn[float32](tensor.Shape{2, 3, 2, 4}, rng, b)
	v := tensor.Randn[float32](tensor.Shape{2, 3, 2, 4}, rng, b)

	lo, err := DotProductAttention(q, k, v, nil, AttentionOptions{})
	require.NoError(t, err)
	hi, err := DotProductAttention(q, k, v, nil, AttentionOptions{Float64Logits: true})
	require.NoError(t, err)
	assert.InDeltaSlice(t, lo.Data(), hi.Data(), 1e-5)
}

func TestDotProductAttention_ShapeErrors(t *testing.T) {
	b := cpu.New()
	q := tensor.Ones[float32](tensor.Shape{1, 2, 2, 4}, b)
	k := tensor.Ones[float32](tensor.Shape{1, 3, 2, 4}, b)

	tests := []struct {
		name    string
		q, k, v *tensor.Tensor[float32, *cpu.CPUBackend]
		bias    *tensor.Tensor[float32, *cpu.CPUBackend]
	}{
		{"kv length", q, k, tensor.Ones[float32](tensor.Shape{1, 4, 2, 4}, b), nil},
		{"rank", q, k, tensor.Ones[float32](tensor.Shape{3, 2, 4}, b), nil},
		{"heads", q, tensor.Ones[float32](tensor.Shape{1, 3, 1, 4}, b), tensor.Ones[float32](tensor.Shape{1, 3, 1, 4}, b), nil},
		{"depth", q, tensor.Ones[float32](tensor.Shape{1, 3, 2, 5}, b), k, nil},
		{"batch", q, tensor.Ones[float32](tensor.Shape{2, 3, 2, 4}, b), tensor.Ones[float32](tensor.Shape{2, 3, 2, 4}, b), nil},
		{"bias", q, k, k, tensor.Ones[float32](tensor.Shape{1, 1, 2, 4}, b)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DotProductAttention(tt.q, tt.k, tt.v, tt.bias, AttentionOptions{})
			assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
		})
	}
}

func TestDotProductAttention_Dropout(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(7))
	q := tensor.Randn[float32](tensor.Shape{1, 3, 1, 2}, rng, b)

	_, err := DotProductAttention(q, q, q, nil, AttentionOptions{DropoutRate: 0.5})
	assert.ErrorIs(t, err, tensor.ErrInvalidArgument)

	det, err := DotProductAttention(q, q, q, nil, AttentionOptions{
		RunOptions:  RunOptions{Deterministic: true},
		DropoutRate: 0.5,
	})
	require.NoError(t, err)
	plain, err := DotProductAttention(q, q, q, nil, AttentionOptions{})
	require.NoError(t, err)
	assert.Equal(t, plain.Data(), det.Data())

	_, err = DotProductAttention(q, q, q, nil, AttentionOptions{
		RunOptions:  RunOptions{RNG: rng},
		DropoutRate: 0.5,
	})
	assert.NoError(t, err)
}
