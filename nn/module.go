// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/encdec/internal/nn"
	"github.com/born-ml/encdec/tensor"
)

// Module is implemented by every layer that owns parameters.
type Module[B tensor.Backend] = nn.Module[B]

// RunOptions selects deterministic or stochastic evaluation for one call.
type RunOptions = nn.RunOptions

// Initializer creates a parameter value for a shape.
type Initializer = nn.Initializer

// FanMode selects the fan used by VarianceScaling.
type FanMode = nn.FanMode

// Distribution selects the distribution used by VarianceScaling.
type Distribution = nn.Distribution

// Fan modes.
const (
	FanIn  = nn.FanIn
	FanOut = nn.FanOut
	FanAvg = nn.FanAvg
)

// Distributions.
const (
	TruncatedNormal = nn.TruncatedNormal
	Normal          = nn.Normal
	Uniform         = nn.Uniform
)

// VarianceScaling draws with variance scale/fan along the given axes.
func VarianceScaling(scale float64, mode FanMode, dist Distribution, inAxis, outAxis int) Initializer {
	return nn.VarianceScaling(scale, mode, dist, inAxis, outAxis)
}

// LecunNormal is the default kernel initializer.
func LecunNormal() Initializer {
	return nn.LecunNormal()
}

// NormalInit draws from N(0, stddev²).
func NormalInit(stddev float64) Initializer {
	return nn.NormalInit(stddev)
}

// Constant fills with v.
func Constant(v float64) Initializer {
	return nn.Constant(v)
}

// Scaled multiplies the values of init by factor.
func Scaled(init Initializer, factor float64) Initializer {
	return nn.Scaled(init, factor)
}

// Sinusoidal builds the fixed position table used by FixedEmbed.
func Sinusoidal(minScale, maxScale float64) Initializer {
	return nn.Sinusoidal(minScale, maxScale)
}
