package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/encdec/internal/tensor"
)

// MlpBlockConfig configures an MlpBlock.
type MlpBlockConfig struct {
	InFeatures      int
	IntermediateDim int

	// Activations has one entry per input branch. Branch outputs are
	// multiplied, so {"gelu", "linear"} gives a GEGLU block.
	Activations []Activation

	KernelInit  Initializer // defaults to LecunNormal
	DropoutRate float64     // applied to the combined intermediate
}

// MlpBlock is the Transformer feed-forward block.
//
// Each branch projects [..., len, in] to [..., len, intermediate] and applies
// its activation; the branches are multiplied element-wise, dropped out with
// one mask per sequence (shared along len) and projected back to in.
//
// Parameter names: a single branch is "wi", several are "wi_0", "wi_1", ...;
// the output projection is "wo".
type MlpBlock[B tensor.Backend] struct {
	Wi []*DenseGeneral[B]
	Wo *DenseGeneral[B]

	activations []Activation
	dropout     Dropout
	backend     B
}

// NewMlpBlock creates an MlpBlock under the name scope name.
func NewMlpBlock[B tensor.Backend](name string, cfg MlpBlockConfig, rng *rand.Rand, backend B) (*MlpBlock[B], error) {
	if len(cfg.Activations) == 0 {
		return nil, fmt.Errorf("mlp %s: at least one activation is required: %w", name, tensor.ErrInvalidArgument)
	}

	m := &MlpBlock[B]{
		activations: append([]Activation(nil), cfg.Activations...),
		dropout:     Dropout{Rate: cfg.DropoutRate, BroadcastDims: []int{-2}},
		backend:     backend,
	}
	for i := range cfg.Activations {
		branch := "wi"
		if len(cfg.Activations) > 1 {
			branch = fmt.Sprintf("wi_%d", i)
		}
		wi, err := NewDenseGeneral(JoinName(name, branch), DenseGeneralConfig{
			InFeatures: []int{cfg.InFeatures},
			Features:   []int{cfg.IntermediateDim},
			KernelInit: cfg.KernelInit,
		}, rng, backend)
		if err != nil {
			return nil, err
		}
		m.Wi = append(m.Wi, wi)
	}

	wo, err := NewDenseGeneral(JoinName(name, "wo"), DenseGeneralConfig{
		InFeatures: []int{cfg.IntermediateDim},
		Features:   []int{cfg.InFeatures},
		KernelInit: cfg.KernelInit,
	}, rng, backend)
	if err != nil {
		return nil, err
	}
	m.Wo = wo
	return m, nil
}

// Forward applies the block to x [..., len, in].
func (m *MlpBlock[B]) Forward(x *tensor.Tensor[float32, B], opts RunOptions) (*tensor.Tensor[float32, B], error) {
	var hidden *tensor.Tensor[float32, B]
	for i, wi := range m.Wi {
		h, err := wi.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("mlp: %w", err)
		}
		h = tensor.New[float32, B](m.activations[i].Apply(m.backend, h.Raw()), m.backend)
		if hidden == nil {
			hidden = h
		} else {
			hidden = hidden.Mul(h)
		}
	}

	hidden, err := ApplyDropout(m.dropout, hidden, opts)
	if err != nil {
		return nil, fmt.Errorf("mlp: %w", err)
	}
	return m.Wo.Forward(hidden)
}

// Parameters returns the branch kernels followed by the output kernel.
func (m *MlpBlock[B]) Parameters() []*Parameter[B] {
	params := make([]*Parameter[B], 0, len(m.Wi)+1)
	for _, wi := range m.Wi {
		params = append(params, wi.Kernel)
	}
	return append(params, m.Wo.Kernel)
}
