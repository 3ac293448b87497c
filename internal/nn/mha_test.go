package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/encdec/internal/backend/cpu"
	"github.com/born-ml/encdec/internal/tensor"
)

const (
	testFeatures = 8
	testHeads    = 2
	testHeadDim  = 4
)

func newTestMHA(t *testing.T, seed int64) *MultiHeadDotProductAttention[*cpu.CPUBackend] {
	t.Helper()
	mha, err := NewMultiHeadDotProductAttention("attention", MHAConfig{
		Features: testFeatures,
		NumHeads: testHeads,
		HeadDim:  testHeadDim,
	}, rand.New(rand.NewSource(seed)), cpu.New())
	require.NoError(t, err)
	return mha
}

func TestMultiHeadDotProductAttention_Parameters(t *testing.T) {
	mha := newTestMHA(t, 1)

	var names []string
	for _, p := range mha.Parameters() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{
		"attention/query/kernel",
		"attention/key/kernel",
		"attention/value/kernel",
		"attention/out/kernel",
	}, names)
	assert.Equal(t, tensor.Shape{testFeatures, testHeads * testHeadDim}, mha.Query.Kernel.Shape())
	assert.Equal(t, tensor.Shape{testHeads * testHeadDim, testFeatures}, mha.Out.Kernel.Shape())
	assert.Equal(t, testHeads, mha.NumHeads())
	assert.Equal(t, testHeadDim, mha.HeadDim())
}

func TestMultiHeadDotProductAttention_QueryInitScaled(t *testing.T) {
	// Same seed and initializer for query and key: the query kernel must
	// carry an extra 1/sqrt(head_dim) factor.
	b := cpu.New()
	init := Constant(1)
	mha, err := NewMultiHeadDotProductAttention("a", MHAConfig{
		Features: 4, NumHeads: 1, HeadDim: 16, KernelInit: init,
	}, nil, b)
	require.NoError(t, err)
	for _, v := range mha.Query.Kernel.Tensor().Data() {
		assert.InDelta(t, 0.25, v, 1e-7)
	}
	for _, v := range mha.Key.Kernel.Tensor().Data() {
		assert.Equal(t, float32(1), v)
	}
}

func TestMultiHeadDotProductAttention_Shapes(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(2))
	mha := newTestMHA(t, 2)

	q := tensor.Randn[float32](tensor.Shape{2, 3, testFeatures}, rng, b)
	kv := tensor.Randn[float32](tensor.Shape{2, 5, testFeatures}, rng, b)
	out, err := mha.Forward(q, kv, nil, nil, MHAOptions[*cpu.CPUBackend]{})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3, testFeatures}, out.Shape())

	_, err = mha.Forward(q, tensor.Randn[float32](tensor.Shape{2, 5, 3}, rng, b), nil, nil, MHAOptions[*cpu.CPUBackend]{})
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)

	_, err = mha.Forward(q, kv, tensor.Ones[float32](tensor.Shape{2, 1, 3, 4}, b), nil, MHAOptions[*cpu.CPUBackend]{})
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestMultiHeadDotProductAttention_IncrementalMatchesFull(t *testing.T) {
	const (
		batch  = 2
		length = 5
	)
	b := cpu.New()
	rng := rand.New(rand.NewSource(3))
	mha := newTestMHA(t, 3)

	x := tensor.Randn[float32](tensor.Shape{batch, length, testFeatures}, rng, b)
	causal, err := MakeCausalMask(tensor.Ones[int32](tensor.Shape{batch, length}, b), 0)
	require.NoError(t, err)

	full, err := mha.Forward(x, x, causal, nil, MHAOptions[*cpu.CPUBackend]{})
	require.NoError(t, err)

	cache := AllocateAttentionCache(batch, testHeads, testHeadDim, length, b)
	for i := 0; i < length; i++ {
		step := x.Narrow(1, i, 1)
		out, err := mha.Forward(step, step, nil, nil, MHAOptions[*cpu.CPUBackend]{Cache: cache})
		require.NoError(t, err, "step %d", i)
		require.Equal(t, tensor.Shape{batch, 1, testFeatures}, out.Shape())
		assert.Equal(t, i+1, cache.Index)

		assert.InDeltaSlice(t, full.Narrow(1, i, 1).Data(), out.Data(), 1e-5, "step %d", i)
	}
}

func TestMultiHeadDotProductAttention_IncrementalBiasRow(t *testing.T) {
	const length = 4
	b := cpu.New()
	rng := rand.New(rand.NewSource(8))
	mha := newTestMHA(t, 8)

	x := tensor.Randn[float32](tensor.Shape{1, length, testFeatures}, rng, b)
	bias := tensor.Randn[float32](tensor.Shape{1, testHeads, length, length}, rng, b)
	causal, err := MakeCausalMask(tensor.Ones[int32](tensor.Shape{1, length}, b), 0)
	require.NoError(t, err)

	full, err := mha.Forward(x, x, causal, bias, MHAOptions[*cpu.CPUBackend]{})
	require.NoError(t, err)

	// Each step must use only the bias row of its own position.
	cache := AllocateAttentionCache(1, testHeads, testHeadDim, length, b)
	for i := 0; i < length; i++ {
		step := x.Narrow(1, i, 1)
		out, err := mha.Forward(step, step, nil, bias, MHAOptions[*cpu.CPUBackend]{Cache: cache})
		require.NoError(t, err, "step %d", i)
		assert.InDeltaSlice(t, full.Narrow(1, i, 1).Data(), out.Data(), 1e-5, "step %d", i)
	}

	// A bias without the row for the next step is rejected before any write.
	short := AllocateAttentionCache(1, testHeads, testHeadDim, length, b)
	short.Index = 2
	before := short.Key.Clone()
	step := x.Narrow(1, 0, 1)
	_, err = mha.Forward(step, step, nil, bias.Narrow(2, 0, 2), MHAOptions[*cpu.CPUBackend]{Cache: short})
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
	assert.Equal(t, 2, short.Index)
	assert.Equal(t, before.Data(), short.Key.Data())
}

func TestMultiHeadDotProductAttention_CachePriming(t *testing.T) {
	const length = 4
	b := cpu.New()
	rng := rand.New(rand.NewSource(4))
	mha := newTestMHA(t, 4)
	x := tensor.Randn[float32](tensor.Shape{1, length, testFeatures}, rng, b)

	cache := NewAttentionCache[*cpu.CPUBackend](length)
	require.False(t, cache.Initialized())

	primed, err := mha.Forward(x, x, nil, nil, MHAOptions[*cpu.CPUBackend]{Cache: cache})
	require.NoError(t, err)
	plain, err := mha.Forward(x, x, nil, nil, MHAOptions[*cpu.CPUBackend]{})
	require.NoError(t, err)
	assert.Equal(t, plain.Data(), primed.Data())

	require.True(t, cache.Initialized())
	assert.Equal(t, tensor.Shape{1, testHeads, testHeadDim, length}, cache.Key.Shape())
	assert.Equal(t, 0, cache.Index)
	for _, v := range cache.Key.Data() {
		assert.Zero(t, v)
	}
}

func TestAttentionCache_CursorAndSlots(t *testing.T) {
	const length = 6
	b := cpu.New()
	rng := rand.New(rand.NewSource(5))
	mha := newTestMHA(t, 5)
	cache := AllocateAttentionCache(1, testHeads, testHeadDim, length, b)

	for n := 1; n <= length; n++ {
		step := tensor.Randn[float32](tensor.Shape{1, 1, testFeatures}, rng, b)
		_, err := mha.Forward(step, step, nil, nil, MHAOptions[*cpu.CPUBackend]{Cache: cache})
		require.NoError(t, err)
		require.Equal(t, n, cache.Index)

		// Slots at or beyond the cursor are untouched.
		for h := 0; h < testHeads; h++ {
			for d := 0; d < testHeadDim; d++ {
				for l := n; l < length; l++ {
					assert.Zero(t, cache.Key.At(0, h, d, l))
					assert.Zero(t, cache.Value.At(0, h, d, l))
				}
				assert.NotZero(t, cache.Key.At(0, h, d, n-1))
			}
		}
	}

	// A full cache rejects further steps and is left as it was.
	before := cache.Key.Clone()
	step := tensor.Randn[float32](tensor.Shape{1, 1, testFeatures}, rng, b)
	_, err := mha.Forward(step, step, nil, nil, MHAOptions[*cpu.CPUBackend]{Cache: cache})
	assert.ErrorIs(t, err, tensor.ErrInvalidArgument)
	assert.Equal(t, length, cache.Index)
	assert.Equal(t, before.Data(), cache.Key.Data())

	cache.Reset()
	assert.Equal(t, 0, cache.Index)
	for _, v := range cache.Key.Data() {
		assert.Zero(t, v)
	}
}

func TestAttentionCache_RejectsBadStep(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(6))
	mha := newTestMHA(t, 6)
	cache := AllocateAttentionCache(1, testHeads, testHeadDim, 4, b)

	two := tensor.Randn[float32](tensor.Shape{1, 2, testFeatures}, rng, b)
	_, err := mha.Forward(two, two, nil, nil, MHAOptions[*cpu.CPUBackend]{Cache: cache})
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
	assert.Equal(t, 0, cache.Index)

	one := two.Narrow(1, 0, 1)
	badBias := tensor.Zeros[float32](tensor.Shape{1, 1, 4}, b)
	_, err = mha.Forward(one, one, nil, badBias, MHAOptions[*cpu.CPUBackend]{Cache: cache})
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
	assert.Equal(t, 0, cache.Index)

	_, err = mha.Forward(one, one, nil, nil, MHAOptions[*cpu.CPUBackend]{Cache: NewAttentionCache[*cpu.CPUBackend](0)})
	assert.ErrorIs(t, err, tensor.ErrInvalidArgument)
}

func TestMultiHeadDotProductAttention_DropoutNeedsRNG(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(7))
	mha, err := NewMultiHeadDotProductAttention("decoder/layers_0/self_attention", MHAConfig{
		Features: testFeatures, NumHeads: testHeads, HeadDim: testHeadDim, DropoutRate: 0.1,
	}, rng, b)
	require.NoError(t, err)
	assert.Equal(t, "decoder/layers_0/self_attention", mha.Name())

	x := tensor.Randn[float32](tensor.Shape{1, 3, testFeatures}, rng, b)
	_, err = mha.Forward(x, x, nil, nil, MHAOptions[*cpu.CPUBackend]{})
	assert.ErrorIs(t, err, tensor.ErrInvalidArgument)
	assert.ErrorContains(t, err, "attention decoder/layers_0/self_attention: ")
	assert.NotContains(t, err.Error(), "kernel")

	_, err = mha.Forward(x, x, nil, nil, MHAOptions[*cpu.CPUBackend]{RunOptions: RunOptions{Deterministic: true}})
	assert.NoError(t, err)

	_, err = mha.Forward(x, x, nil, nil, MHAOptions[*cpu.CPUBackend]{RunOptions: RunOptions{RNG: rng}})
	assert.NoError(t, err)
}
