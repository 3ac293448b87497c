// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package t5_test

import (
	"bytes"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/encdec/backend/cpu"
	"github.com/born-ml/encdec/t5"
	"github.com/born-ml/encdec/tensor"
)

type backend = *cpu.Backend

func smallConfig() t5.Config {
	cfg := t5.DefaultConfig(12)
	cfg.EmbDim = 8
	cfg.NumHeads = 2
	cfg.HeadDim = 4
	cfg.MLPDim = 16
	cfg.NumEncoderLayers = 1
	cfg.NumDecoderLayers = 2
	cfg.MaxLength = 16
	cfg.EncoderModality = t5.ModalityTokens
	return cfg
}

func TestGreedyDecoding(t *testing.T) {
	b := cpu.New()
	model, err := t5.New(smallConfig(), b, t5.WithSeed(7))
	require.NoError(t, err)

	in := t5.EncoderInput[backend]{Tokens: tensor.MustFromSlice([]int32{5, 6, 7, 8}, tensor.Shape{1, 4}, b)}
	encoded, err := model.Encode(in, t5.CallOptions[backend]{})
	require.NoError(t, err)

	state, err := model.NewDecodeState(1, 5)
	require.NoError(t, err)
	next := tensor.MustFromSlice([]int32{0}, tensor.Shape{1, 1}, b)
	inputs := []int32{0}
	var steps [][]float32
	for i := 0; i < 5; i++ {
		logits, err := model.Decode(encoded, in, next, nil, t5.CallOptions[backend]{State: state})
		require.NoError(t, err)
		require.Equal(t, tensor.Shape{1, 1, 12}, logits.Shape())
		steps = append(steps, logits.Data())
		next = tensor.MustFromSlice([]int32{argmax(logits.Data())}, tensor.Shape{1, 1}, b)
		inputs = append(inputs, next.Data()[0])
	}
	assert.Equal(t, 5, state.Steps())

	// The same inputs decoded in one causal pass give the same logits.
	dec := tensor.MustFromSlice(inputs[:5], tensor.Shape{1, 5}, b)
	targets := tensor.Ones[int32](tensor.Shape{1, 5}, b)
	full, err := model.Decode(encoded, in, dec, targets, t5.CallOptions[backend]{})
	require.NoError(t, err)
	for i, want := range steps {
		assert.InDeltaSlice(t, want, full.Narrow(1, i, 1).Data(), 1e-4, "step %d", i)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	b := cpu.New()
	src, err := t5.New(smallConfig(), b, t5.WithSeed(1))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, src.SaveCheckpoint(&buf))
	dst, err := t5.LoadCheckpoint(&buf, b)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	ids := make([]int32, 6)
	for i := range ids {
		ids[i] = int32(1 + rng.Intn(11))
	}
	tokens := tensor.MustFromSlice(ids, tensor.Shape{2, 3}, b)
	in := t5.EncoderInput[backend]{Tokens: tokens}

	want, err := src.Forward(in, tokens, tokens, t5.CallOptions[backend]{})
	require.NoError(t, err)
	got, err := dst.Forward(in, tokens, tokens, t5.CallOptions[backend]{})
	require.NoError(t, err)
	assert.Equal(t, want.Data(), got.Data())
}

func argmax(xs []float32) int32 {
	best := 0
	for i, x := range xs {
		if x > xs[best] {
			best = i
		}
	}
	return int32(best)
}

func TestWithLogger(t *testing.T) {
	var buf bytes.Buffer
	log := t5.NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	_, err := t5.New(smallConfig(), cpu.New(), t5.WithLogger(log))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"msg":"model built"`)
	assert.Contains(t, buf.String(), `"backend":"CPU"`)
}
