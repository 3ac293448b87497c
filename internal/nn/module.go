// Package nn implements the building blocks of the encoder-decoder
// Transformer.
//
// This package provides:
//   - Module interface: parameter enumeration for every layer
//   - Parameter: named weight tensors with slash-joined paths
//   - Initializers: variance scaling, LeCun normal, sinusoidal, constants
//   - DenseGeneral: bias-free projection over arbitrary axes
//   - DotProductAttention and MultiHeadDotProductAttention with AttentionCache
//   - MlpBlock: multi-branch gated feed-forward block
//   - LayerNorm: RMS normalization without mean subtraction or bias
//   - Embed and FixedEmbed: learned and sinusoidal embeddings
//   - Masks: attention, causal, decoder and packing masks
//
// Every Forward method validates shapes and returns an error wrapping
// tensor.ErrShapeMismatch or tensor.ErrInvalidArgument; backend kernels are
// only reached with consistent operands.
package nn

import (
	"math/rand"

	"github.com/born-ml/encdec/internal/tensor"
)

// Module is implemented by every component that owns learned parameters.
//
// Forward signatures differ per layer (attention takes two inputs, a mask
// and a cache), so only parameter enumeration is shared.
type Module[B tensor.Backend] interface {
	// Parameters returns all learned parameters in a deterministic order.
	Parameters() []*Parameter[B]
}

// RunOptions selects deterministic or stochastic evaluation for one call.
type RunOptions struct {
	// Deterministic disables every dropout layer.
	Deterministic bool

	// RNG drives dropout masks. It is required when Deterministic is false
	// and a non-zero dropout rate is configured.
	RNG *rand.Rand
}

// collect concatenates the parameters of several modules.
func collect[B tensor.Backend](modules ...Module[B]) []*Parameter[B] {
	var params []*Parameter[B]
	for _, m := range modules {
		params = append(params, m.Parameters()...)
	}
	return params
}
