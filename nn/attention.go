// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"math/rand"

	"github.com/born-ml/encdec/internal/nn"
	"github.com/born-ml/encdec/tensor"
)

// AttentionOptions configures DotProductAttention.
type AttentionOptions = nn.AttentionOptions

// DotProductAttention computes softmax(q·k + bias)·v per head. Queries are
// not rescaled here; MultiHeadDotProductAttention folds the 1/sqrt(head_dim)
// factor into its query initializer.
func DotProductAttention[B tensor.Backend](
	query, key, value, bias *tensor.Tensor[float32, B], opts AttentionOptions,
) (*tensor.Tensor[float32, B], error) {
	return nn.DotProductAttention(query, key, value, bias, opts)
}

// MHAConfig configures MultiHeadDotProductAttention.
type MHAConfig = nn.MHAConfig

// MHAOptions are the per-call options of MultiHeadDotProductAttention.
type MHAOptions[B tensor.Backend] = nn.MHAOptions[B]

// MultiHeadDotProductAttention projects inputs into heads, attends and
// projects back.
type MultiHeadDotProductAttention[B tensor.Backend] = nn.MultiHeadDotProductAttention[B]

// NewMultiHeadDotProductAttention creates the query, key, value and out
// projections under name.
func NewMultiHeadDotProductAttention[B tensor.Backend](
	name string, cfg MHAConfig, rng *rand.Rand, backend B,
) (*MultiHeadDotProductAttention[B], error) {
	return nn.NewMultiHeadDotProductAttention(name, cfg, rng, backend)
}
