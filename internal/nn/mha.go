package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/born-ml/encdec/internal/tensor"
)

// MHAConfig configures a MultiHeadDotProductAttention.
type MHAConfig struct {
	Features    int // width of inputs and outputs
	NumHeads    int
	HeadDim     int
	DropoutRate float64

	// KernelInit defaults to LecunNormal. The query kernel uses
	// KernelInit scaled by 1/sqrt(HeadDim).
	KernelInit Initializer

	// Float64Logits computes attention logits and softmax in float64.
	Float64Logits bool
}

// MHAOptions are the per-call options of MultiHeadDotProductAttention.
type MHAOptions[B tensor.Backend] struct {
	RunOptions

	// Cache switches the layer into incremental decoding. Nil means a
	// normal full-sequence call.
	Cache *AttentionCache[B]
}

// MultiHeadDotProductAttention projects inputs into heads, attends and
// projects back.
//
// Parameters: "query", "key", "value" map [.., Features] to
// [.., NumHeads, HeadDim]; "out" maps [.., NumHeads, HeadDim] to
// [.., Features]. The 1/sqrt(HeadDim) logit scale lives in the query
// kernel's initialization, so DotProductAttention applies no scaling.
//
// Example:
//
//	mha, _ := nn.NewMultiHeadDotProductAttention("attention", nn.MHAConfig{
//	    Features: 512, NumHeads: 8, HeadDim: 64,
//	}, rng, backend)
//	y, err := mha.Forward(x, x, mask, nil, nn.MHAOptions[B]{})
type MultiHeadDotProductAttention[B tensor.Backend] struct {
	Query *DenseGeneral[B]
	Key   *DenseGeneral[B]
	Value *DenseGeneral[B]
	Out   *DenseGeneral[B]

	name string
	cfg  MHAConfig
}

// NewMultiHeadDotProductAttention creates the four projections under name.
func NewMultiHeadDotProductAttention[B tensor.Backend](
	name string, cfg MHAConfig, rng *rand.Rand, backend B,
) (*MultiHeadDotProductAttention[B], error) {
	if cfg.NumHeads <= 0 || cfg.HeadDim <= 0 || cfg.Features <= 0 {
		return nil, fmt.Errorf("attention %s: features, heads and head dim must be positive: %w",
			name, tensor.ErrInvalidArgument)
	}
	init := cfg.KernelInit
	if init == nil {
		init = LecunNormal()
	}

	in := DenseGeneralConfig{InFeatures: []int{cfg.Features}, Features: []int{cfg.NumHeads, cfg.HeadDim}, KernelInit: init}
	queryCfg := in
	queryCfg.KernelInit = Scaled(init, 1/math.Sqrt(float64(cfg.HeadDim)))

	m := &MultiHeadDotProductAttention[B]{name: name, cfg: cfg}
	var err error
	if m.Query, err = NewDenseGeneral(JoinName(name, "query"), queryCfg, rng, backend); err != nil {
		return nil, err
	}
	if m.Key, err = NewDenseGeneral(JoinName(name, "key"), in, rng, backend); err != nil {
		return nil, err
	}
	if m.Value, err = NewDenseGeneral(JoinName(name, "value"), in, rng, backend); err != nil {
		return nil, err
	}
	m.Out, err = NewDenseGeneral(JoinName(name, "out"), DenseGeneralConfig{
		InFeatures: []int{cfg.NumHeads, cfg.HeadDim},
		Features:   []int{cfg.Features},
		Axis:       []int{-2, -1},
		KernelInit: init,
	}, rng, backend)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Forward attends from inputsQ [batch, q_len, Features] to inputsKV
// [batch, kv_len, Features].
//
// mask is an optional 0/1 mask broadcastable to [batch, heads, q_len, kv_len];
// bias an optional additive bias of the same shape. The mask becomes a bias
// (0 or MaskedBias) that is summed with bias.
//
// With opts.Cache set the call is incremental:
//   - an unallocated cache is allocated zero-filled at its MaxLength and the
//     call runs ordinary attention over the priming input
//   - otherwise the input must be one step; its key and value are written
//     at the cursor, the cursor advances, and the query attends to slots
//     [0, cursor] of the full cache. A bias is narrowed to the cursor's row.
func (m *MultiHeadDotProductAttention[B]) Forward(
	inputsQ, inputsKV, mask, bias *tensor.Tensor[float32, B], opts MHAOptions[B],
) (*tensor.Tensor[float32, B], error) {
	if !opts.Deterministic && m.cfg.DropoutRate > 0 && opts.RNG == nil {
		return nil, fmt.Errorf("attention %s: stochastic mode needs an rng: %w",
			m.name, tensor.ErrInvalidArgument)
	}
	query, err := m.Query.Forward(inputsQ)
	if err != nil {
		return nil, err
	}
	key, err := m.Key.Forward(inputsKV)
	if err != nil {
		return nil, err
	}
	value, err := m.Value.Forward(inputsKV)
	if err != nil {
		return nil, err
	}

	if cache := opts.Cache; cache != nil {
		if cache.MaxLength <= 0 {
			return nil, fmt.Errorf("attention %s: cache max length %d: %w",
				m.name, cache.MaxLength, tensor.ErrInvalidArgument)
		}
		if !cache.Initialized() {
			cache.allocate(query.Shape()[0], m.cfg.NumHeads, m.cfg.HeadDim, inputsQ.Backend())
		} else {
			cs := cache.Key.Shape()
			if want := (tensor.Shape{cs[0], 1, cs[1], cs[2]}); !query.Shape().Equal(want) {
				return nil, fmt.Errorf("attention %s: incremental step expects query %v, got %v: %w",
					m.name, want, query.Shape(), tensor.ErrShapeMismatch)
			}
			// Validate everything the step needs before the cache is written.
			stepShape := tensor.Shape{cs[0], 1, 1, cache.MaxLength}
			if mask != nil {
				if _, _, err := tensor.BroadcastShapes(mask.Shape(), stepShape); err != nil || mask.Rank() != 4 {
					return nil, fmt.Errorf("attention %s: mask %v incompatible with cache %v: %w",
						m.name, mask.Shape(), stepShape, tensor.ErrShapeMismatch)
				}
			}
			if bias != nil && (bias.Rank() != 4 || bias.Shape()[2] <= cache.Index ||
				(bias.Shape()[3] != 1 && bias.Shape()[3] != cache.MaxLength)) {
				return nil, fmt.Errorf("attention %s: bias %v has no row for step %d: %w",
					m.name, bias.Shape(), cache.Index, tensor.ErrShapeMismatch)
			}

			var cur int
			key, value, cur, err = cache.append(key, value)
			if err != nil {
				return nil, err
			}

			// Slots [0, cur] are written; later slots are still zero.
			b := inputsQ.Backend()
			written := tensor.Full[int32, B](tensor.Shape{1}, int32(cur), b).
				GreaterEqual(tensor.Arange[int32](cache.MaxLength, b))
			step := tensor.Cast[float32](written).
				Reshape(1, 1, 1, cache.MaxLength).
				Expand(stepShape)
			if mask, err = CombineMasks(mask, step); err != nil {
				return nil, fmt.Errorf("attention %s: %w", m.name, err)
			}
			if bias != nil {
				bias = bias.Narrow(-2, cur, 1)
			}
		}
	}

	attnBias, err := CombineBiases(MaskToBias(mask), bias)
	if err != nil {
		return nil, fmt.Errorf("attention %s: %w", m.name, err)
	}

	x, err := DotProductAttention(query, key, value, attnBias, AttentionOptions{
		RunOptions:    opts.RunOptions,
		DropoutRate:   m.cfg.DropoutRate,
		Float64Logits: m.cfg.Float64Logits,
	})
	if err != nil {
		return nil, err
	}
	return m.Out.Forward(x)
}

// Parameters returns the query, key, value and out kernels.
func (m *MultiHeadDotProductAttention[B]) Parameters() []*Parameter[B] {
	return collect[B](m.Query, m.Key, m.Value, m.Out)
}

// Name returns the scope the parameters live under.
func (m *MultiHeadDotProductAttention[B]) Name() string { return m.name }

// NumHeads returns the head count.
func (m *MultiHeadDotProductAttention[B]) NumHeads() int { return m.cfg.NumHeads }

// HeadDim returns the per-head width.
func (m *MultiHeadDotProductAttention[B]) HeadDim() int { return m.cfg.HeadDim }
