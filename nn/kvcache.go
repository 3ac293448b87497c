// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/encdec/internal/nn"
	"github.com/born-ml/encdec/tensor"
)

// AttentionCache stores keys and values of previous decoding steps for one
// attention layer of one session.
type AttentionCache[B tensor.Backend] = nn.AttentionCache[B]

// NewAttentionCache returns an unallocated cache. The first Forward call
// with it primes the cache from the whole input sequence.
func NewAttentionCache[B tensor.Backend](maxLength int) *AttentionCache[B] {
	return nn.NewAttentionCache[B](maxLength)
}

// AllocateAttentionCache returns a zeroed cache ready for single steps.
func AllocateAttentionCache[B tensor.Backend](batch, heads, headDim, maxLength int, backend B) *AttentionCache[B] {
	return nn.AllocateAttentionCache(batch, heads, headDim, maxLength, backend)
}
