// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/encdec/backend/cpu"
	"github.com/born-ml/encdec/nn"
	"github.com/born-ml/encdec/tensor"
)

type backend = *cpu.Backend

// TestModuleInterface verifies that the layers implement Module.
func TestModuleInterface(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(0))

	dense, err := nn.NewDenseGeneral("dense", nn.DenseGeneralConfig{InFeatures: []int{4}, Features: []int{6}}, rng, b)
	require.NoError(t, err)
	norm, err := nn.NewLayerNorm("norm", 4, nn.DefaultNormEpsilon, rng, b)
	require.NoError(t, err)
	attn, err := nn.NewMultiHeadDotProductAttention("attention", nn.MHAConfig{Features: 4, NumHeads: 2, HeadDim: 2}, rng, b)
	require.NoError(t, err)
	gelu, err := nn.ParseActivation("gelu")
	require.NoError(t, err)
	linear, err := nn.ParseActivation("linear")
	require.NoError(t, err)
	mlp, err := nn.NewMlpBlock("mlp", nn.MlpBlockConfig{
		InFeatures: 4, IntermediateDim: 8, Activations: []nn.Activation{gelu, linear},
	}, rng, b)
	require.NoError(t, err)
	embed, err := nn.NewEmbed("embed", nn.EmbedConfig{NumEmbeddings: 5, Features: 4}, rng, b)
	require.NoError(t, err)

	tests := []struct {
		name   string
		module nn.Module[backend]
		params int
	}{
		{"DenseGeneral", dense, 1},
		{"LayerNorm", norm, 1},
		{"MultiHeadDotProductAttention", attn, 4},
		{"MlpBlock", mlp, 3},
		{"Embed", embed, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := tt.module.Parameters()
			assert.Len(t, params, tt.params)
			assert.Len(t, nn.StateDict(params), tt.params)
		})
	}
}

func TestParameterNaming(t *testing.T) {
	b := cpu.New()
	p := nn.NewParameter(nn.JoinName("decoder", "", "decoder_norm", "scale"), tensor.Ones[float32](tensor.Shape{3}, b))
	assert.Equal(t, "decoder/decoder_norm/scale", p.Name())
	assert.Equal(t, tensor.Shape{3}, p.Shape())
	assert.Equal(t, 3, nn.CountParameters([]*nn.Parameter[backend]{p}))

	sd := map[string]*tensor.RawTensor{"decoder/decoder_norm/scale": tensor.Full[float32](tensor.Shape{3}, 2, b).Raw()}
	require.NoError(t, nn.LoadStateDict([]*nn.Parameter[backend]{p}, sd))
	assert.Equal(t, []float32{2, 2, 2}, p.Tensor().Data())
}

func TestIncrementalAttention(t *testing.T) {
	b := cpu.New()
	attn, err := nn.NewMultiHeadDotProductAttention("attention",
		nn.MHAConfig{Features: 4, NumHeads: 2, HeadDim: 2}, rand.New(rand.NewSource(1)), b)
	require.NoError(t, err)

	x := tensor.Randn[float32](tensor.Shape{1, 3, 4}, rand.New(rand.NewSource(2)), b)
	mask, err := nn.MakeCausalMask(tensor.Ones[float32](tensor.Shape{1, 3}, b), 0)
	require.NoError(t, err)
	run := nn.RunOptions{Deterministic: true}
	full, err := attn.Forward(x, x, mask, nil, nn.MHAOptions[backend]{RunOptions: run})
	require.NoError(t, err)

	cache := nn.AllocateAttentionCache(1, 2, 2, 3, b)
	for i := 0; i < 3; i++ {
		step := x.Narrow(1, i, 1)
		out, err := attn.Forward(step, step, nil, nil, nn.MHAOptions[backend]{RunOptions: run, Cache: cache})
		require.NoError(t, err)
		assert.InDeltaSlice(t, full.Narrow(1, i, 1).Data(), out.Data(), 1e-5, "step %d", i)
	}

	step := x.Narrow(1, 0, 1)
	_, err = attn.Forward(step, step, nil, nil, nn.MHAOptions[backend]{RunOptions: run, Cache: cache})
	assert.ErrorIs(t, err, tensor.ErrInvalidArgument, "cache is full")
}

func TestMaskHelpers(t *testing.T) {
	b := cpu.New()
	tokens := tensor.MustFromSlice([]int32{3, 4, 0}, tensor.Shape{1, 3}, b)
	mask, err := nn.MakeDecoderMask(tokens, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 1, 3, 3}, mask.Shape())
	assert.Equal(t, []float32{
		1, 0, 0,
		1, 1, 0,
		0, 0, 0,
	}, mask.Data())

	bias := nn.MaskToBias(mask)
	assert.Equal(t, float32(0), bias.Data()[0])
	assert.Equal(t, float32(nn.MaskedBias), bias.Data()[1])

	none, err := nn.CombineMasks[backend](nil, nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}
