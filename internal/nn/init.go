package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/born-ml/encdec/internal/tensor"
)

// Initializer produces the initial value of a parameter.
//
// rng may be nil for deterministic initializers (Ones, Zeros, Sinusoidal).
// Only float32 and float64 are meaningful dtypes; individual initializers
// may be stricter.
type Initializer func(rng *rand.Rand, shape tensor.Shape, dtype tensor.DataType) (*tensor.RawTensor, error)

// FanMode selects which fan VarianceScaling divides by.
type FanMode int

// Supported fan modes.
const (
	FanIn FanMode = iota
	FanOut
	FanAvg
)

// Distribution selects the sampling distribution of VarianceScaling.
type Distribution int

// Supported distributions.
const (
	TruncatedNormal Distribution = iota
	Normal
	Uniform
)

// truncatedNormalStddev is the standard deviation of a unit normal
// truncated to [-2, 2]; dividing by it restores unit variance.
const truncatedNormalStddev = .87962566103423978

// newFloatRaw allocates a float tensor for an initializer.
func newFloatRaw(shape tensor.Shape, dtype tensor.DataType) (*tensor.RawTensor, error) {
	if !dtype.IsFloat() {
		return nil, fmt.Errorf("initializer: dtype %s is not floating point: %w", dtype, tensor.ErrInvalidArgument)
	}
	r, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("initializer: %v: %w", err, tensor.ErrInvalidArgument)
	}
	return r, nil
}

// fill writes f(i) into every element of a float tensor.
func fill(r *tensor.RawTensor, f func(i int) float64) {
	switch r.DType() {
	case tensor.Float32:
		data := r.AsFloat32()
		for i := range data {
			data[i] = float32(f(i))
		}
	case tensor.Float64:
		data := r.AsFloat64()
		for i := range data {
			data[i] = f(i)
		}
	}
}

// computeFans returns fan-in and fan-out for a kernel shape, treating every
// axis other than inAxis and outAxis as receptive field.
func computeFans(shape tensor.Shape, inAxis, outAxis int) (float64, float64, error) {
	in, err := tensor.NormalizeAxis(inAxis, len(shape))
	if err != nil {
		return 0, 0, err
	}
	out, err := tensor.NormalizeAxis(outAxis, len(shape))
	if err != nil {
		return 0, 0, err
	}
	receptive := float64(shape.NumElements()) / float64(shape[in]*shape[out])
	return float64(shape[in]) * receptive, float64(shape[out]) * receptive, nil
}

// VarianceScaling samples with variance scale/fan, where fan is chosen by mode.
//
// inAxis and outAxis index the shape passed at initialization time; the
// conventional values for a [in, out] kernel are -2 and -1.
func VarianceScaling(scale float64, mode FanMode, dist Distribution, inAxis, outAxis int) Initializer {
	return func(rng *rand.Rand, shape tensor.Shape, dtype tensor.DataType) (*tensor.RawTensor, error) {
		if rng == nil {
			return nil, fmt.Errorf("variance scaling: nil rng: %w", tensor.ErrInvalidArgument)
		}
		fanIn, fanOut, err := computeFans(shape, inAxis, outAxis)
		if err != nil {
			return nil, fmt.Errorf("variance scaling: %w", err)
		}
		var denom float64
		switch mode {
		case FanIn:
			denom = fanIn
		case FanOut:
			denom = fanOut
		default:
			denom = (fanIn + fanOut) / 2
		}
		variance := scale / denom

		r, err := newFloatRaw(shape, dtype)
		if err != nil {
			return nil, err
		}
		switch dist {
		case TruncatedNormal:
			stddev := math.Sqrt(variance) / truncatedNormalStddev
			fill(r, func(int) float64 {
				for {
					if v := rng.NormFloat64(); v >= -2 && v <= 2 {
						return v * stddev
					}
				}
			})
		case Normal:
			stddev := math.Sqrt(variance)
			fill(r, func(int) float64 { return rng.NormFloat64() * stddev })
		default:
			limit := math.Sqrt(3 * variance)
			fill(r, func(int) float64 { return (2*rng.Float64() - 1) * limit })
		}
		return r, nil
	}
}

// LecunNormal is the default kernel initializer for DenseGeneral.
func LecunNormal() Initializer {
	return VarianceScaling(1.0, FanIn, TruncatedNormal, -2, -1)
}

// DefaultEmbedInit is the default initializer for learned embedding tables
// of shape [vocab, features]: unit variance scaled by the feature count.
func DefaultEmbedInit() Initializer {
	return VarianceScaling(1.0, FanIn, Normal, -2, 0)
}

// NormalInit samples from N(0, stddev²).
func NormalInit(stddev float64) Initializer {
	return func(rng *rand.Rand, shape tensor.Shape, dtype tensor.DataType) (*tensor.RawTensor, error) {
		if rng == nil {
			return nil, fmt.Errorf("normal init: nil rng: %w", tensor.ErrInvalidArgument)
		}
		r, err := newFloatRaw(shape, dtype)
		if err != nil {
			return nil, err
		}
		fill(r, func(int) float64 { return rng.NormFloat64() * stddev })
		return r, nil
	}
}

// Constant fills every element with v.
func Constant(v float64) Initializer {
	return func(_ *rand.Rand, shape tensor.Shape, dtype tensor.DataType) (*tensor.RawTensor, error) {
		r, err := newFloatRaw(shape, dtype)
		if err != nil {
			return nil, err
		}
		fill(r, func(int) float64 { return v })
		return r, nil
	}
}

// Ones fills with 1.
func Ones() Initializer { return Constant(1) }

// Zeros fills with 0.
func Zeros() Initializer { return Constant(0) }

// Scaled multiplies the output of init by factor.
func Scaled(init Initializer, factor float64) Initializer {
	return func(rng *rand.Rand, shape tensor.Shape, dtype tensor.DataType) (*tensor.RawTensor, error) {
		r, err := init(rng, shape, dtype)
		if err != nil {
			return nil, err
		}
		fill(r, func(i int) float64 { return r.Float64At(i) * factor })
		return r, nil
	}
}

// Sinusoidal builds the fixed [max_len, features] position table.
//
// Columns [0, features/2) hold sin(pos * f_i) and [features/2, 2*(features/2))
// hold cos(pos * f_i), with frequencies f_i spaced geometrically from
// minScale down by a factor of maxScale/minScale. An odd trailing column
// stays zero. Only float32 is accepted.
func Sinusoidal(minScale, maxScale float64) Initializer {
	return func(_ *rand.Rand, shape tensor.Shape, dtype tensor.DataType) (*tensor.RawTensor, error) {
		if dtype != tensor.Float32 {
			return nil, fmt.Errorf("sinusoidal init: only float32 is supported, got %s: %w", dtype, tensor.ErrInvalidArgument)
		}
		if len(shape) != 2 {
			return nil, fmt.Errorf("sinusoidal init: expected a 2D shape (max_len, features), got %v: %w",
				shape, tensor.ErrInvalidArgument)
		}
		maxLen, features := shape[0], shape[1]
		half := features / 2
		if half < 1 {
			return nil, fmt.Errorf("sinusoidal init: need at least 2 features, got %d: %w", features, tensor.ErrInvalidArgument)
		}
		r, err := newFloatRaw(shape, dtype)
		if err != nil {
			return nil, err
		}

		scaleFactor := 0.0
		if half > 1 {
			scaleFactor = -math.Log(maxScale/minScale) / float64(half-1)
		}
		data := r.AsFloat32()
		for i := 0; i < half; i++ {
			div := minScale * math.Exp(float64(i)*scaleFactor)
			for pos := 0; pos < maxLen; pos++ {
				angle := float64(pos) * div
				data[pos*features+i] = float32(math.Sin(angle))
				data[pos*features+half+i] = float32(math.Cos(angle))
			}
		}
		return r, nil
	}
}

// initParameter runs init and wraps the result as a float32 parameter.
func initParameter[B tensor.Backend](
	name string, init Initializer, rng *rand.Rand, shape tensor.Shape, backend B,
) (*Parameter[B], error) {
	r, err := init(rng, shape, tensor.Float32)
	if err != nil {
		return nil, fmt.Errorf("init %s: %w", name, err)
	}
	return NewParameter(name, tensor.New[float32, B](r, backend)), nil
}
