// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/encdec/internal/nn"
	"github.com/born-ml/encdec/tensor"
)

// MaskedBias is the bias given to masked-out positions.
const MaskedBias = nn.MaskedBias

// PairwiseFunc combines a query indicator with a key indicator.
type PairwiseFunc = nn.PairwiseFunc

// Pairwise functions for MakeAttentionMask.
const (
	PairwiseMultiply     = nn.PairwiseMultiply
	PairwiseEqual        = nn.PairwiseEqual
	PairwiseLogicalAnd   = nn.PairwiseLogicalAnd
	PairwiseGreaterEqual = nn.PairwiseGreaterEqual
)

// MakeAttentionMask builds a [...batch, 1, len_q, len_kv] mask from
// per-position indicators.
func MakeAttentionMask[T tensor.DType, B tensor.Backend](
	query, key *tensor.Tensor[T, B], fn PairwiseFunc, extraBatchDims int,
) (*tensor.Tensor[float32, B], error) {
	return nn.MakeAttentionMask(query, key, fn, extraBatchDims)
}

// MakeCausalMask lets position i attend to positions j <= i.
func MakeCausalMask[T tensor.DType, B tensor.Backend](x *tensor.Tensor[T, B], extraBatchDims int) (*tensor.Tensor[float32, B], error) {
	return nn.MakeCausalMask(x, extraBatchDims)
}

// CombineMasks logically ANDs the non-nil masks. All nil yields nil.
func CombineMasks[B tensor.Backend](masks ...*tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], error) {
	return nn.CombineMasks(masks...)
}

// CombineBiases adds the non-nil biases. All nil yields nil.
func CombineBiases[B tensor.Backend](biases ...*tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], error) {
	return nn.CombineBiases(biases...)
}

// MaskToBias maps 1 to 0 and 0 to MaskedBias.
func MaskToBias[B tensor.Backend](mask *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return nn.MaskToBias(mask)
}

// MakeDecoderMask combines causality, padding, prefix-LM and packing into
// one [batch, 1, len, len] mask. causalAttention and segmentIDs may be nil.
func MakeDecoderMask[B tensor.Backend](
	targetTokens, causalAttention, segmentIDs *tensor.Tensor[int32, B],
) (*tensor.Tensor[float32, B], error) {
	return nn.MakeDecoderMask(targetTokens, causalAttention, segmentIDs)
}
