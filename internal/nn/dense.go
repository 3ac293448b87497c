package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/encdec/internal/tensor"
)

// DenseGeneralConfig configures a DenseGeneral projection.
type DenseGeneralConfig struct {
	// InFeatures are the sizes of the contracted input axes, in Axis order.
	InFeatures []int

	// Features is the output feature shape appended to the result.
	Features []int

	// Axis lists the contracted input axes; negative values count from the
	// end. Defaults to {-1}.
	Axis []int

	// KernelInit initializes the rank-2 kernel. Defaults to LecunNormal.
	KernelInit Initializer
}

// DenseGeneral is a bias-free linear map over arbitrary input axes.
//
// The kernel is stored as a rank-2 parameter [prod(InFeatures), prod(Features)]
// regardless of how many axes are contracted or produced.
//
// Shapes:
//   - input:  [...uncontracted, ...InFeatures] (contracted axes anywhere)
//   - output: [...uncontracted, ...Features]
//
// Example:
//
//	// [batch, len, emb] -> [batch, len, heads, head_dim]
//	q, err := nn.NewDenseGeneral("query", nn.DenseGeneralConfig{
//	    InFeatures: []int{512}, Features: []int{8, 64},
//	}, rng, backend)
type DenseGeneral[B tensor.Backend] struct {
	Kernel *Parameter[B]

	inFeatures []int
	features   []int
	axis       []int
	backend    B
}

// NewDenseGeneral creates a DenseGeneral whose kernel is named name+"/kernel".
func NewDenseGeneral[B tensor.Backend](name string, cfg DenseGeneralConfig, rng *rand.Rand, backend B) (*DenseGeneral[B], error) {
	axis := cfg.Axis
	if len(axis) == 0 {
		axis = []int{-1}
	}
	if len(axis) != len(cfg.InFeatures) {
		return nil, fmt.Errorf("dense %s: %d axes for %d input features: %w",
			name, len(axis), len(cfg.InFeatures), tensor.ErrInvalidArgument)
	}
	if len(cfg.Features) == 0 {
		return nil, fmt.Errorf("dense %s: no output features: %w", name, tensor.ErrInvalidArgument)
	}
	init := cfg.KernelInit
	if init == nil {
		init = LecunNormal()
	}

	in := tensor.Shape(cfg.InFeatures).NumElements()
	out := tensor.Shape(cfg.Features).NumElements()
	kernel, err := initParameter(JoinName(name, "kernel"), init, rng, tensor.Shape{in, out}, backend)
	if err != nil {
		return nil, err
	}

	return &DenseGeneral[B]{
		Kernel:     kernel,
		inFeatures: append([]int(nil), cfg.InFeatures...),
		features:   append([]int(nil), cfg.Features...),
		axis:       append([]int(nil), axis...),
		backend:    backend,
	}, nil
}

// Forward contracts the configured axes of x with the kernel.
func (d *DenseGeneral[B]) Forward(x *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], error) {
	shape := x.Shape()
	axes, err := tensor.NormalizeAxes(d.axis, len(shape))
	if err != nil {
		return nil, fmt.Errorf("dense %s: %w", d.Kernel.Name(), err)
	}
	contracted := make(map[int]bool, len(axes))
	for i, ax := range axes {
		if shape[ax] != d.inFeatures[i] {
			return nil, fmt.Errorf("dense %s: input axis %d has size %d, want %d: %w",
				d.Kernel.Name(), ax, shape[ax], d.inFeatures[i], tensor.ErrShapeMismatch)
		}
		contracted[ax] = true
	}

	// Move batch axes first and contracted axes last, in Axis order.
	perm := make([]int, 0, len(shape))
	var batchShape []int
	for i := range shape {
		if !contracted[i] {
			perm = append(perm, i)
			batchShape = append(batchShape, shape[i])
		}
	}
	perm = append(perm, axes...)
	if !isIdentity(perm) {
		x = x.Transpose(perm...)
	}

	rows := tensor.Shape(batchShape).NumElements()
	in := tensor.Shape(d.inFeatures).NumElements()
	y := x.Reshape(rows, in).MatMul(d.Kernel.Tensor())

	outShape := make([]int, 0, len(batchShape)+len(d.features))
	outShape = append(outShape, batchShape...)
	outShape = append(outShape, d.features...)
	return y.Reshape(outShape...), nil
}

// Parameters returns the kernel.
func (d *DenseGeneral[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{d.Kernel}
}

// Features returns the output feature shape.
func (d *DenseGeneral[B]) Features() []int {
	return d.features
}

func isIdentity(perm []int) bool {
	for i, p := range perm {
		if i != p {
			return false
		}
	}
	return true
}
