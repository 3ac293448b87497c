// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"math/rand"

	"github.com/born-ml/encdec/internal/nn"
	"github.com/born-ml/encdec/tensor"
)

// PositionCursor tracks the next decoding position. The zero value has
// produced no position yet.
type PositionCursor = nn.PositionCursor

// FixedEmbed is a non-learned position table.
type FixedEmbed[B tensor.Backend] = nn.FixedEmbed[B]

// NewFixedEmbed creates a [maxLength, features] table. A nil init uses the
// sinusoidal table with scales 1 and 10000.
func NewFixedEmbed[B tensor.Backend](features, maxLength int, init Initializer, backend B) (*FixedEmbed[B], error) {
	return nn.NewFixedEmbed(features, maxLength, init, backend)
}

// EmbedConfig configures Embed.
type EmbedConfig = nn.EmbedConfig

// Embed is a learned lookup table with an optional one-hot gather.
type Embed[B tensor.Backend] = nn.Embed[B]

// NewEmbed creates an embedding table under name.
func NewEmbed[B tensor.Backend](name string, cfg EmbedConfig, rng *rand.Rand, backend B) (*Embed[B], error) {
	return nn.NewEmbed(name, cfg, rng, backend)
}
