package nn

import (
	"math/rand"

	"github.com/born-ml/encdec/internal/tensor"
)

// DefaultNormEpsilon is the LayerNorm epsilon used when none is configured.
const DefaultNormEpsilon = 1e-6

// LayerNorm is RMS normalization over the last axis: no mean subtraction
// and no bias.
//
// Formula: y = x * rsqrt(mean(x²) + eps) * scale
//
// The statistics are computed in float64 and the normalized value is cast
// back to float32 before scaling.
//
// Example:
//
//	norm, _ := nn.NewLayerNorm("encoder_norm", 512, nn.DefaultNormEpsilon, nil, backend)
//	y := norm.Forward(x) // [..., 512] -> [..., 512]
type LayerNorm[B tensor.Backend] struct {
	Scale   *Parameter[B] // [features], initialized to ones
	Epsilon float64
}

// NewLayerNorm creates a LayerNorm with parameter name+"/scale".
func NewLayerNorm[B tensor.Backend](name string, features int, epsilon float64, rng *rand.Rand, backend B) (*LayerNorm[B], error) {
	scale, err := initParameter(JoinName(name, "scale"), Ones(), rng, tensor.Shape{features}, backend)
	if err != nil {
		return nil, err
	}
	return &LayerNorm[B]{Scale: scale, Epsilon: epsilon}, nil
}

// Forward normalizes x along its last axis.
func (n *LayerNorm[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	x64 := tensor.Cast[float64](x)
	mean2 := x64.Mul(x64).MeanDim(-1, true)
	y := tensor.Cast[float32](x64.Mul(mean2.AddScalar(n.Epsilon).Rsqrt()))
	return y.Mul(n.Scale.Tensor())
}

// Parameters returns the scale.
func (n *LayerNorm[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{n.Scale}
}
