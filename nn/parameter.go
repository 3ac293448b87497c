// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/encdec/internal/nn"
	"github.com/born-ml/encdec/tensor"
)

// Parameter is a named weight tensor, e.g.
// "decoder/layers_0/self_attention/query/kernel".
type Parameter[B tensor.Backend] = nn.Parameter[B]

// NewParameter creates a parameter with the given name and tensor.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return nn.NewParameter(name, t)
}

// JoinName joins non-empty path parts with "/".
func JoinName(parts ...string) string {
	return nn.JoinName(parts...)
}

// StateDict returns a copy of every parameter keyed by name.
func StateDict[B tensor.Backend](params []*Parameter[B]) map[string]*tensor.RawTensor {
	return nn.StateDict(params)
}

// LoadStateDict copies sd into params. Nothing is written unless every
// name, shape and dtype matches.
func LoadStateDict[B tensor.Backend](params []*Parameter[B], sd map[string]*tensor.RawTensor) error {
	return nn.LoadStateDict(params, sd)
}

// CountParameters returns the number of scalar weights in params.
func CountParameters[B tensor.Backend](params []*Parameter[B]) int {
	return nn.CountParameters(params)
}
