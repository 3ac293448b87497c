package t5

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/encdec/internal/logger"
	"github.com/born-ml/encdec/internal/nn"
	"github.com/born-ml/encdec/internal/tensor"
)

// Option configures New.
type Option func(*options)

type options struct {
	logger logger.Logger
	seed   int64
}

// WithLogger sets the model logger. The default discards everything.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithSeed sets the seed of the parameter initializers.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// CallOptions are the per-call inputs of Encode, Decode and Forward beyond
// the token tensors.
type CallOptions[B tensor.Backend] struct {
	// Packing: segment ids [batch, len], 0 for padding. Not allowed together
	// with State.
	EncoderSegmentIDs *tensor.Tensor[int32, B]
	DecoderSegmentIDs *tensor.Tensor[int32, B]

	// DecoderCausalAttention marks prefix-LM input positions [batch, len]
	// that attend bidirectionally. Ignored in incremental mode.
	DecoderCausalAttention *tensor.Tensor[int32, B]

	// EnableDropout turns on every dropout layer; RNG then drives the masks.
	EnableDropout bool
	RNG           *rand.Rand

	// State switches Decode into incremental mode.
	State *DecodeState[B]
}

func (o CallOptions[B]) run(cfg Config) (nn.RunOptions, error) {
	if o.EnableDropout && cfg.DropoutRate > 0 && o.RNG == nil {
		return nn.RunOptions{}, fmt.Errorf("dropout enabled without an rng: %w", tensor.ErrInvalidArgument)
	}
	return nn.RunOptions{Deterministic: !o.EnableDropout, RNG: o.RNG}, nil
}

// Transformer is the encoder-decoder model.
//
// Example:
//
//	cfg := t5.DefaultConfig(vocab)
//	model, err := t5.New(cfg, cpu.New(), t5.WithSeed(42))
//	logits, err := model.Forward(t5.EncoderInput[B]{Features: x}, in, target, t5.CallOptions[B]{})
type Transformer[B tensor.Backend] struct {
	Encoder *Encoder[B]
	Decoder *Decoder[B]

	cfg     Config
	backend B
	logger  logger.Logger
}

// New validates cfg and builds a Transformer with freshly initialized
// parameters.
func New[B tensor.Backend](cfg Config, backend B, opts ...Option) (*Transformer[B], error) {
	o := &options{logger: logger.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(o.seed))
	enc, err := NewEncoder("encoder", cfg, rng, backend)
	if err != nil {
		return nil, err
	}
	dec, err := NewDecoder("decoder", cfg, rng, backend)
	if err != nil {
		return nil, err
	}

	m := &Transformer[B]{Encoder: enc, Decoder: dec, cfg: cfg, backend: backend, logger: o.logger}
	m.logger.Info("model built",
		"backend", backend.Name(),
		"parameters", nn.CountParameters(m.Parameters()),
		"encoder_layers", cfg.NumEncoderLayers,
		"decoder_layers", cfg.NumDecoderLayers,
	)
	return m, nil
}

// Config returns the model configuration.
func (m *Transformer[B]) Config() Config {
	return m.cfg
}

// Encode runs the encoder. Every position attends to every other one;
// with EncoderSegmentIDs attention stays within a segment.
func (m *Transformer[B]) Encode(in EncoderInput[B], opts CallOptions[B]) (*tensor.Tensor[float32, B], error) {
	run, err := opts.run(m.cfg)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	batch, length, err := in.shape(m.cfg)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	ones := tensor.Ones[float32](tensor.Shape{batch, length}, m.backend)
	mask, err := nn.MakeAttentionMask(ones, ones, nn.PairwiseMultiply, 0)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if seg := opts.EncoderSegmentIDs; seg != nil {
		if !seg.Shape().Equal(tensor.Shape{batch, length}) {
			return nil, fmt.Errorf("encode: segment ids %v, want [%d %d]: %w",
				seg.Shape(), batch, length, tensor.ErrShapeMismatch)
		}
		segMask, err := nn.MakeAttentionMask(seg, seg, nn.PairwiseEqual, 0)
		if err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}
		if mask, err = nn.CombineMasks(mask, segMask); err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}
	}

	return m.Encoder.Forward(in, mask, run)
}

// Decode runs the decoder over encoded [batch, enc_len, emb] and returns
// logits [batch, len, vocab].
//
// encoderInput only supplies the encoder batch and length for the
// cross-attention mask. decoderTargetTokens gate padding in full-sequence
// mode and may be nil in incremental mode.
//
// With opts.State set, self-attention is incremental: no decoder mask is
// built (the caches enforce causality) and cross-attention sees the whole
// encoded sequence. Segment ids are rejected in that mode before any state
// is touched.
func (m *Transformer[B]) Decode(
	encoded *tensor.Tensor[float32, B], encoderInput EncoderInput[B],
	decoderInputTokens, decoderTargetTokens *tensor.Tensor[int32, B],
	opts CallOptions[B],
) (*tensor.Tensor[float32, B], error) {
	state := opts.State
	if state != nil && (opts.EncoderSegmentIDs != nil || opts.DecoderSegmentIDs != nil) {
		m.logger.Warn("decode rejected: packing with incremental decoding", "session", state.ID)
		return nil, fmt.Errorf("decode: segment ids cannot be used with incremental decoding: %w", tensor.ErrInvalidArgument)
	}
	run, err := opts.run(m.cfg)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	encBatch, encLength, err := encoderInput.shape(m.cfg)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if decoderInputTokens == nil || decoderInputTokens.Rank() != 2 {
		return nil, fmt.Errorf("decode: input tokens must be [batch, len]: %w", tensor.ErrShapeMismatch)
	}
	batch, length := decoderInputTokens.Shape()[0], decoderInputTokens.Shape()[1]
	if batch != encBatch {
		return nil, fmt.Errorf("decode: decoder batch %d, encoder batch %d: %w", batch, encBatch, tensor.ErrShapeMismatch)
	}
	if want := (tensor.Shape{batch, encLength, m.cfg.EmbDim}); encoded == nil || !encoded.Shape().Equal(want) {
		var got tensor.Shape
		if encoded != nil {
			got = encoded.Shape()
		}
		return nil, fmt.Errorf("decode: encoded %v, want %v: %w", got, want, tensor.ErrShapeMismatch)
	}
	if decoderTargetTokens == nil {
		if state == nil {
			return nil, fmt.Errorf("decode: target tokens are required in full-sequence mode: %w", tensor.ErrInvalidArgument)
		}
	} else if !decoderTargetTokens.Shape().Equal(decoderInputTokens.Shape()) {
		return nil, fmt.Errorf("decode: target tokens %v, input tokens %v: %w",
			decoderTargetTokens.Shape(), decoderInputTokens.Shape(), tensor.ErrShapeMismatch)
	}

	encOnes := tensor.Ones[float32](tensor.Shape{batch, encLength}, m.backend)
	var decoderMask, crossMask *tensor.Tensor[float32, B]
	if state != nil {
		if err := state.check(len(m.Decoder.Layers), batch, length); err != nil {
			m.logger.Warn("decode rejected", "session", state.ID, "error", err)
			return nil, fmt.Errorf("decode: %w", err)
		}
		decOnes := tensor.Ones[float32](tensor.Shape{batch, length}, m.backend)
		if crossMask, err = nn.MakeAttentionMask(decOnes, encOnes, nn.PairwiseMultiply, 0); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
	} else {
		decoderMask, err = nn.MakeDecoderMask(decoderTargetTokens, opts.DecoderCausalAttention, opts.DecoderSegmentIDs)
		if err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		notPad := tensor.Cast[float32](decoderTargetTokens.Greater(tensor.Zeros[int32](tensor.Shape{1}, m.backend)))
		if crossMask, err = nn.MakeAttentionMask(notPad, encOnes, nn.PairwiseMultiply, 0); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
	}

	if encSeg := opts.EncoderSegmentIDs; encSeg != nil {
		decSeg := opts.DecoderSegmentIDs
		if decSeg == nil {
			return nil, fmt.Errorf("decode: encoder segment ids need decoder segment ids: %w", tensor.ErrInvalidArgument)
		}
		segMask, err := nn.MakeAttentionMask(decSeg, encSeg, nn.PairwiseEqual, 0)
		if err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		if crossMask, err = nn.CombineMasks(crossMask, segMask); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
	}

	var saved decodeSnapshot[B]
	if state != nil {
		saved = state.snapshot()
	}
	logits, err := m.Decoder.Forward(encoded, decoderInputTokens, decoderMask, crossMask, state, run)
	if err != nil {
		if state != nil {
			state.restore(saved)
			m.logger.Warn("decode step rolled back", "session", state.ID, "error", err)
		}
		return nil, err
	}
	if state != nil && !state.primed {
		state.primed = true
		m.logger.Debug("decode session primed", "session", state.ID, "batch", batch, "length", length)
	}
	return logits, nil
}

// Forward encodes and then decodes, threading the encoder inputs into
// Decode for the cross-attention mask.
func (m *Transformer[B]) Forward(
	encoderInput EncoderInput[B], decoderInputTokens, decoderTargetTokens *tensor.Tensor[int32, B],
	opts CallOptions[B],
) (*tensor.Tensor[float32, B], error) {
	encoded, err := m.Encode(encoderInput, opts)
	if err != nil {
		return nil, err
	}
	return m.Decode(encoded, encoderInput, decoderInputTokens, decoderTargetTokens, opts)
}

// Parameters returns every parameter, encoder first.
func (m *Transformer[B]) Parameters() []*nn.Parameter[B] {
	return append(m.Encoder.Parameters(), m.Decoder.Parameters()...)
}

// StateDict returns copies of all parameters keyed by their slash-joined
// names, e.g. "decoder/layers_0/self_attention/query/kernel".
func (m *Transformer[B]) StateDict() map[string]*tensor.RawTensor {
	return nn.StateDict(m.Parameters())
}

// LoadStateDict replaces every parameter with the value under its name.
// Nothing is changed unless all names and shapes match.
func (m *Transformer[B]) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	if err := nn.LoadStateDict(m.Parameters(), sd); err != nil {
		return err
	}
	m.logger.Debug("state dict loaded", "parameters", len(sd))
	return nil
}
