package nn

import (
	"fmt"

	"github.com/born-ml/encdec/internal/tensor"
)

// Dropout zeroes elements with probability Rate and rescales the rest by
// 1/(1-Rate).
//
// Axes listed in BroadcastDims share one mask value: with BroadcastDims
// {-2} on a [batch, len, features] input, every position of a sequence
// drops the same features.
type Dropout struct {
	Rate          float64
	BroadcastDims []int
}

// ApplyDropout runs dropout on x. It is the identity when opts.Deterministic is set
// or Rate is zero.
func ApplyDropout[B tensor.Backend](d Dropout, x *tensor.Tensor[float32, B], opts RunOptions) (*tensor.Tensor[float32, B], error) {
	if opts.Deterministic || d.Rate == 0 {
		return x, nil
	}
	if d.Rate < 0 || d.Rate > 1 {
		return nil, fmt.Errorf("dropout: rate %v outside [0, 1]: %w", d.Rate, tensor.ErrInvalidArgument)
	}
	if d.Rate == 1 {
		return tensor.Zeros[float32, B](x.Shape(), x.Backend()), nil
	}
	if opts.RNG == nil {
		return nil, fmt.Errorf("dropout: stochastic mode needs an rng: %w", tensor.ErrInvalidArgument)
	}

	maskShape := x.Shape().Clone()
	dims, err := tensor.NormalizeAxes(d.BroadcastDims, len(maskShape))
	if err != nil {
		return nil, fmt.Errorf("dropout: %w", err)
	}
	for _, ax := range dims {
		maskShape[ax] = 1
	}

	keep := 1 - d.Rate
	scale := float32(1 / keep)
	mask := tensor.Zeros[float32, B](maskShape, x.Backend())
	data := mask.Data()
	for i := range data {
		if opts.RNG.Float64() < keep {
			data[i] = scale
		}
	}
	return x.Mul(mask), nil
}
