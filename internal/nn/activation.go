package nn

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/born-ml/encdec/internal/tensor"
)

// ActivationFunc is an element-wise function over float tensors.
type ActivationFunc func(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor

// ActivationKind enumerates the built-in activations.
type ActivationKind int

// Built-in activations. ActivationCustom marks one found in the registry.
const (
	ActivationLinear ActivationKind = iota
	ActivationReLU
	ActivationGELU      // tanh approximation
	ActivationGELUExact // erf form
	ActivationSiLU
	ActivationSigmoid
	ActivationTanh
	ActivationSoftplus
	ActivationCustom
)

// Activation is a resolved activation: its kind, its canonical name and the
// function that applies it.
type Activation struct {
	Kind ActivationKind
	Name string
	Fn   ActivationFunc
}

// Apply runs the activation on x.
func (a Activation) Apply(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	return a.Fn(b, x)
}

var builtinActivations = map[string]Activation{
	"linear":     {ActivationLinear, "linear", linear},
	"relu":       {ActivationReLU, "relu", func(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor { return b.ReLU(x) }},
	"gelu":       {ActivationGELU, "gelu", geluTanh},
	"gelu_exact": {ActivationGELUExact, "gelu_exact", geluExact},
	"silu":       {ActivationSiLU, "silu", silu},
	"swish":      {ActivationSiLU, "silu", silu},
	"sigmoid":    {ActivationSigmoid, "sigmoid", func(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor { return b.Sigmoid(x) }},
	"tanh":       {ActivationTanh, "tanh", func(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor { return b.Tanh(x) }},
	"softplus":   {ActivationSoftplus, "softplus", softplus},
}

var (
	registryMu sync.RWMutex
	registry   = map[string]ActivationFunc{}
)

// RegisterActivation adds a custom activation under name.
//
// Built-in names and already registered names are rejected.
func RegisterActivation(name string, fn ActivationFunc) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || fn == nil {
		return fmt.Errorf("register activation: empty name or nil function: %w", tensor.ErrInvalidArgument)
	}
	if _, ok := builtinActivations[name]; ok {
		return fmt.Errorf("register activation: %q is built in: %w", name, tensor.ErrInvalidArgument)
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[name]; ok {
		return fmt.Errorf("register activation: %q already registered: %w", name, tensor.ErrInvalidArgument)
	}
	registry[name] = fn
	return nil
}

// ParseActivation resolves an activation by name (case-insensitive).
func ParseActivation(name string) (Activation, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if a, ok := builtinActivations[key]; ok {
		return a, nil
	}

	registryMu.RLock()
	fn, ok := registry[key]
	registryMu.RUnlock()
	if ok {
		return Activation{Kind: ActivationCustom, Name: key, Fn: fn}, nil
	}
	return Activation{}, fmt.Errorf("unsupported activation %q (known: %s): %w",
		name, strings.Join(ActivationNames(), ", "), tensor.ErrInvalidArgument)
}

// ParseActivations resolves a list of names.
func ParseActivations(names []string) ([]Activation, error) {
	out := make([]Activation, len(names))
	for i, n := range names {
		a, err := ParseActivation(n)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

// ActivationNames lists built-in and registered names in sorted order.
func ActivationNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(builtinActivations)+len(registry))
	for n := range builtinActivations {
		names = append(names, n)
	}
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func linear(_ tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	return x
}

// geluTanh computes 0.5·x·(1 + tanh(√(2/π)·(x + 0.044715·x³))).
func geluTanh(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	cube := b.Mul(b.Mul(x, x), x)
	inner := b.MulScalar(b.Add(x, b.MulScalar(cube, 0.044715)), math.Sqrt(2/math.Pi))
	return b.Mul(b.MulScalar(x, 0.5), b.AddScalar(b.Tanh(inner), 1))
}

// geluExact computes 0.5·x·(1 + erf(x/√2)).
func geluExact(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	return b.Mul(b.MulScalar(x, 0.5), b.AddScalar(b.Erf(b.MulScalar(x, 1/math.Sqrt2)), 1))
}

func silu(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	return b.Mul(x, b.Sigmoid(x))
}

// softplus computes max(x, 0) + log(1 + exp(-|x|)), which does not overflow.
func softplus(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	pos := b.ReLU(x)
	abs := b.Add(pos, b.ReLU(b.MulScalar(x, -1)))
	return b.Add(pos, b.Log(b.AddScalar(b.Exp(b.MulScalar(abs, -1)), 1)))
}
