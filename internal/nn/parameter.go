package nn

import (
	"fmt"
	"sort"
	"strings"

	"github.com/born-ml/encdec/internal/tensor"
)

// Parameter is a named learned tensor.
//
// The name is the full slash-joined path of the parameter inside its model,
// e.g. "decoder/layers_0/self_attention/query/kernel", so checkpoints can be
// matched by key without knowing the module tree.
//
// Example:
//
//	kernel := nn.NewParameter("mlp/wo/kernel", kernelTensor)
//	w := kernel.Tensor()
type Parameter[B tensor.Backend] struct {
	name   string
	tensor *tensor.Tensor[float32, B]
}

// NewParameter creates a new parameter.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{
		name:   name,
		tensor: t,
	}
}

// Name returns the parameter path.
func (p *Parameter[B]) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] {
	return p.tensor
}

// Shape returns the parameter shape.
func (p *Parameter[B]) Shape() tensor.Shape {
	return p.tensor.Shape()
}

// JoinName joins non-empty path elements with "/".
func JoinName(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

// StateDict returns a copy of every parameter keyed by its name.
func StateDict[B tensor.Backend](params []*Parameter[B]) map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor, len(params))
	for _, p := range params {
		sd[p.name] = p.tensor.Raw().Clone()
	}
	return sd
}

// LoadStateDict copies values from sd into params.
//
// Every parameter must be present with the same shape and dtype, and sd must
// not contain unknown keys. Nothing is written unless all checks pass.
func LoadStateDict[B tensor.Backend](params []*Parameter[B], sd map[string]*tensor.RawTensor) error {
	known := make(map[string]bool, len(params))
	for _, p := range params {
		known[p.name] = true
		src, ok := sd[p.name]
		if !ok {
			return fmt.Errorf("load state dict: missing parameter %q: %w", p.name, tensor.ErrInvalidArgument)
		}
		if !src.Shape().Equal(p.Shape()) {
			return fmt.Errorf("load state dict: parameter %q expects shape %v, got %v: %w",
				p.name, p.Shape(), src.Shape(), tensor.ErrShapeMismatch)
		}
		if src.DType() != tensor.Float32 {
			return fmt.Errorf("load state dict: parameter %q expects float32, got %s: %w",
				p.name, src.DType(), tensor.ErrInvalidArgument)
		}
	}

	var unknown []string
	for name := range sd {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("load state dict: unexpected parameters %v: %w", unknown, tensor.ErrInvalidArgument)
	}

	for _, p := range params {
		if err := p.tensor.Raw().CopyFrom(sd[p.name]); err != nil {
			return fmt.Errorf("load state dict: %s: %w", p.name, err)
		}
	}
	return nil
}

// CountParameters returns the total number of scalar weights.
func CountParameters[B tensor.Backend](params []*Parameter[B]) int {
	n := 0
	for _, p := range params {
		n += p.tensor.NumElements()
	}
	return n
}
