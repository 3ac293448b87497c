// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"math/rand"

	"github.com/born-ml/encdec/internal/nn"
	"github.com/born-ml/encdec/tensor"
)

// DenseGeneralConfig configures DenseGeneral.
type DenseGeneralConfig = nn.DenseGeneralConfig

// DenseGeneral is a bias-free linear map over one or more input axes.
type DenseGeneral[B tensor.Backend] = nn.DenseGeneral[B]

// NewDenseGeneral creates a projection whose kernel is named name/kernel.
func NewDenseGeneral[B tensor.Backend](name string, cfg DenseGeneralConfig, rng *rand.Rand, backend B) (*DenseGeneral[B], error) {
	return nn.NewDenseGeneral(name, cfg, rng, backend)
}

// LayerNorm is RMS normalization with a learned scale.
type LayerNorm[B tensor.Backend] = nn.LayerNorm[B]

// DefaultNormEpsilon is the LayerNorm epsilon used by the model defaults.
const DefaultNormEpsilon = nn.DefaultNormEpsilon

// NewLayerNorm creates a LayerNorm whose scale is named name/scale.
func NewLayerNorm[B tensor.Backend](name string, features int, epsilon float64, rng *rand.Rand, backend B) (*LayerNorm[B], error) {
	return nn.NewLayerNorm(name, features, epsilon, rng, backend)
}

// Dropout describes a dropout layer. BroadcastDims share one mask along
// the listed axes.
type Dropout = nn.Dropout

// ApplyDropout applies d to x, or returns x when opts is deterministic.
func ApplyDropout[B tensor.Backend](d Dropout, x *tensor.Tensor[float32, B], opts RunOptions) (*tensor.Tensor[float32, B], error) {
	return nn.ApplyDropout(d, x, opts)
}

// Activation is a resolved activation function.
type Activation = nn.Activation

// ActivationFunc is a custom activation.
type ActivationFunc = nn.ActivationFunc

// RegisterActivation makes fn available to ParseActivation under name.
func RegisterActivation(name string, fn ActivationFunc) error {
	return nn.RegisterActivation(name, fn)
}

// ParseActivation resolves an activation by name, e.g. "gelu" or "linear".
func ParseActivation(name string) (Activation, error) {
	return nn.ParseActivation(name)
}

// ActivationNames lists every name ParseActivation accepts.
func ActivationNames() []string {
	return nn.ActivationNames()
}

// MlpBlockConfig configures MlpBlock.
type MlpBlockConfig = nn.MlpBlockConfig

// MlpBlock is the feed-forward block. Two branches such as gelu and linear
// give a gated variant.
type MlpBlock[B tensor.Backend] = nn.MlpBlock[B]

// NewMlpBlock creates the block under name.
func NewMlpBlock[B tensor.Backend](name string, cfg MlpBlockConfig, rng *rand.Rand, backend B) (*MlpBlock[B], error) {
	return nn.NewMlpBlock(name, cfg, rng, backend)
}
