package generate

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/born-ml/encdec/internal/logger"
	"github.com/born-ml/encdec/internal/t5"
	"github.com/born-ml/encdec/internal/tensor"
)

// Model is the part of t5.Transformer a decoding loop uses.
type Model[B tensor.Backend] interface {
	Config() t5.Config
	Encode(in t5.EncoderInput[B], opts t5.CallOptions[B]) (*tensor.Tensor[float32, B], error)
	Decode(
		encoded *tensor.Tensor[float32, B], encoderInput t5.EncoderInput[B],
		decoderInputTokens, decoderTargetTokens *tensor.Tensor[int32, B],
		opts t5.CallOptions[B],
	) (*tensor.Tensor[float32, B], error)
	NewDecodeState(batch, maxLength int) (*t5.DecodeState[B], error)
}

// Token ids of the T5 vocabulary layout.
const (
	PadToken int32 = 0
	EOSToken int32 = 1
)

// Config configures one decoding run.
type Config struct {
	// MaxSteps bounds the tokens produced per sequence and sizes the
	// decode state.
	MaxSteps int

	// MinSteps forbids EOS before this many tokens.
	MinSteps int

	// StartToken is the first decoder input.
	StartToken int32

	// EOSToken ends a sequence. Negative disables early stopping.
	EOSToken int32

	Sampling SamplingConfig
}

// DefaultConfig returns greedy decoding from PadToken until EOSToken.
func DefaultConfig(maxSteps int) Config {
	return Config{
		MaxSteps:   maxSteps,
		StartToken: PadToken,
		EOSToken:   EOSToken,
		Sampling:   Greedy(),
	}
}

func (c Config) validate(model t5.Config) error {
	if c.MaxSteps <= 0 || c.MaxSteps > model.MaxLength {
		return fmt.Errorf("generate: max steps %d outside [1, %d]: %w", c.MaxSteps, model.MaxLength, tensor.ErrInvalidArgument)
	}
	if c.EOSToken >= int32(model.VocabSize) || c.StartToken < 0 || c.StartToken >= int32(model.VocabSize) {
		return fmt.Errorf("generate: start %d or eos %d outside vocabulary of %d: %w",
			c.StartToken, c.EOSToken, model.VocabSize, tensor.ErrInvalidArgument)
	}
	if c.MinSteps < 0 || c.MinSteps > c.MaxSteps {
		return fmt.Errorf("generate: min steps %d outside [0, %d]: %w", c.MinSteps, c.MaxSteps, tensor.ErrInvalidArgument)
	}
	return c.Sampling.Validate()
}

// StopReason tells why a sequence ended.
type StopReason string

// Stop reasons.
const (
	StopEOS      StopReason = "eos"
	StopMaxSteps StopReason = "max_steps"
	StopCallback StopReason = "callback"
)

// Sequence is the output for one batch row. Tokens include the EOS token
// when Reason is StopEOS.
type Sequence struct {
	Tokens []int32
	Reason StopReason
}

// Step is passed to the Stream callback after every decoder step.
type Step struct {
	Index  int
	Tokens []int32 // sampled token per row; PadToken for finished rows
	Done   []bool
}

// Generator drives a Model through incremental decoding.
type Generator[B tensor.Backend] struct {
	model   Model[B]
	backend B
	rng     *rand.Rand
	logger  logger.Logger
}

// Option configures a Generator.
type Option func(*options)

type options struct {
	rng    *rand.Rand
	logger logger.Logger
}

// WithRNG sets the random source used for non-greedy sampling.
func WithRNG(rng *rand.Rand) Option {
	return func(o *options) {
		o.rng = rng
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New creates a Generator for model.
func New[B tensor.Backend](model Model[B], backend B, opts ...Option) *Generator[B] {
	o := &options{logger: logger.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	return &Generator[B]{model: model, backend: backend, rng: o.rng, logger: o.logger}
}

// Generate decodes every row of in and returns one Sequence per row.
func (g *Generator[B]) Generate(ctx context.Context, in t5.EncoderInput[B], cfg Config) ([]Sequence, error) {
	return g.Stream(ctx, in, cfg, nil)
}

// Stream is Generate with a callback after each step. Returning false
// from fn ends every unfinished row with StopCallback.
//
// Cancelling ctx stops the loop between steps; the sequences decoded so
// far are returned along with ctx.Err().
func (g *Generator[B]) Stream(ctx context.Context, in t5.EncoderInput[B], cfg Config, fn func(Step) bool) ([]Sequence, error) {
	modelCfg := g.model.Config()
	if err := cfg.validate(modelCfg); err != nil {
		return nil, err
	}
	sampler, err := NewSampler(cfg.Sampling, g.rng)
	if err != nil {
		return nil, err
	}

	encoded, err := g.model.Encode(in, t5.CallOptions[B]{})
	if err != nil {
		return nil, err
	}
	batch := encoded.Shape()[0]
	state, err := g.model.NewDecodeState(batch, cfg.MaxSteps)
	if err != nil {
		return nil, err
	}
	log := g.logger.With("session", state.ID)
	log.Debug("generation started", "batch", batch, "max_steps", cfg.MaxSteps)

	seqs := make([]Sequence, batch)
	done := make([]bool, batch)
	next := make([]int32, batch)
	for i := range next {
		next[i] = cfg.StartToken
	}
	finished := 0

	for step := 0; step < cfg.MaxSteps && finished < batch; step++ {
		if err := ctx.Err(); err != nil {
			log.Debug("generation cancelled", "step", step)
			return seqs, err
		}

		tokens, err := tensor.FromSlice(next, tensor.Shape{batch, 1}, g.backend)
		if err != nil {
			return seqs, err
		}
		logits, err := g.model.Decode(encoded, in, tokens, nil, t5.CallOptions[B]{State: state})
		if err != nil {
			return seqs, fmt.Errorf("generate: step %d: %w", step, err)
		}
		rows := logits.Data()
		if cfg.EOSToken >= 0 && step < cfg.MinSteps {
			for r := 0; r < batch; r++ {
				rows[r*modelCfg.VocabSize+int(cfg.EOSToken)] = float32(math.Inf(-1))
			}
		}
		sampled := sampler.SampleRows(rows, modelCfg.VocabSize)

		for i, tok := range sampled {
			if done[i] {
				sampled[i] = PadToken
				next[i] = PadToken
				continue
			}
			seqs[i].Tokens = append(seqs[i].Tokens, tok)
			next[i] = tok
			if cfg.EOSToken >= 0 && tok == cfg.EOSToken {
				seqs[i].Reason = StopEOS
				done[i] = true
				finished++
			}
		}

		if fn != nil && !fn(Step{Index: step, Tokens: sampled, Done: append([]bool(nil), done...)}) {
			finishRemaining(seqs, done, StopCallback)
			log.Debug("generation stopped by callback", "step", step)
			return seqs, nil
		}
	}

	finishRemaining(seqs, done, StopMaxSteps)
	log.Debug("generation finished", "steps", state.Steps())
	return seqs, nil
}

func finishRemaining(seqs []Sequence, done []bool, reason StopReason) {
	for i := range seqs {
		if !done[i] {
			seqs[i].Reason = reason
			done[i] = true
		}
	}
}
