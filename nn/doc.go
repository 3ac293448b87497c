// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the layers of a T5-style encoder-decoder Transformer.
//
// # Overview
//
// This package contains:
//   - DenseGeneral: bias-free projection contracting arbitrary axes
//   - DotProductAttention and MultiHeadDotProductAttention
//   - AttentionCache: fixed-length key/value cache for incremental decoding
//   - MlpBlock: feed-forward block with one or more activation branches
//   - LayerNorm: RMS normalization with a learned scale
//   - Embed and FixedEmbed: learned and sinusoidal embeddings
//   - Masks: attention, causal, decoder and packed-sequence masks
//   - Parameter, StateDict and LoadStateDict for named weights
//
// # Basic Usage
//
//	backend := cpu.New()
//	rng := rand.New(rand.NewSource(0))
//	attn, err := nn.NewMultiHeadDotProductAttention("attention", nn.MHAConfig{
//	    Features: 512,
//	    NumHeads: 8,
//	    HeadDim:  64,
//	}, rng, backend)
//	out, err := attn.Forward(x, x, mask, nil, nn.MHAOptions[*cpu.Backend]{
//	    RunOptions: nn.RunOptions{Deterministic: true},
//	})
//
// # Incremental decoding
//
// An AttentionCache holds keys and values as [batch, heads, head_dim,
// max_length]. Each step writes one slot at the cache index and attends to
// slots [0, index]. A step that cannot be applied leaves the cache as it
// was.
package nn
