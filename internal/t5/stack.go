package t5

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/born-ml/encdec/internal/nn"
	"github.com/born-ml/encdec/internal/tensor"
)

// EncoderInput carries the encoder inputs. Which fields are required
// depends on Config.EncoderModality.
type EncoderInput[B tensor.Backend] struct {
	Features *tensor.Tensor[float32, B] // [batch, len, input_depth]
	Tokens   *tensor.Tensor[int32, B]   // [batch, len]
}

// shape returns the batch size and length shared by the present inputs.
func (in EncoderInput[B]) shape(cfg Config) (batch, length int, err error) {
	if cfg.usesFeatures() {
		if in.Features == nil || in.Features.Rank() != 3 {
			return 0, 0, fmt.Errorf("encoder: %s modality needs [batch, len, depth] features: %w",
				cfg.EncoderModality, tensor.ErrShapeMismatch)
		}
		s := in.Features.Shape()
		batch, length = s[0], s[1]
	}
	if cfg.usesTokens() {
		if in.Tokens == nil || in.Tokens.Rank() != 2 {
			return 0, 0, fmt.Errorf("encoder: %s modality needs [batch, len] tokens: %w",
				cfg.EncoderModality, tensor.ErrShapeMismatch)
		}
		s := in.Tokens.Shape()
		if cfg.usesFeatures() && (s[0] != batch || s[1] != length) {
			return 0, 0, fmt.Errorf("encoder: tokens %v and features %v disagree on batch or length: %w",
				s, in.Features.Shape(), tensor.ErrShapeMismatch)
		}
		batch, length = s[0], s[1]
	}
	return batch, length, nil
}

// positions returns arange(length) as a [1, length] int32 tensor.
func positions[B tensor.Backend](length int, backend B) *tensor.RawTensor {
	return tensor.Arange[int32](length, backend).Reshape(1, length).Raw()
}

// Encoder embeds the encoder inputs and runs the encoder layers.
type Encoder[B tensor.Backend] struct {
	InputProjection *nn.DenseGeneral[B] // continuous inputs; nil for tokens
	TokenEmbedder   *nn.Embed[B]        // token inputs; nil for continuous
	Positions       *nn.FixedEmbed[B]
	Layers          []*EncoderLayer[B]
	Norm            *nn.LayerNorm[B]

	cfg     Config
	backend B
}

// NewEncoder creates the encoder stack under name.
func NewEncoder[B tensor.Backend](name string, cfg Config, rng *rand.Rand, backend B) (*Encoder[B], error) {
	e := &Encoder[B]{cfg: cfg, backend: backend}
	var err error
	if cfg.usesFeatures() {
		e.InputProjection, err = nn.NewDenseGeneral(nn.JoinName(name, "continuous_inputs_projection"), nn.DenseGeneralConfig{
			InFeatures: []int{cfg.InputDepth},
			Features:   []int{cfg.EmbDim},
		}, rng, backend)
		if err != nil {
			return nil, err
		}
	}
	if cfg.usesTokens() {
		e.TokenEmbedder, err = nn.NewEmbed(nn.JoinName(name, "token_embedder"), nn.EmbedConfig{
			NumEmbeddings: cfg.VocabSize,
			Features:      cfg.EmbDim,
			Init:          nn.NormalInit(1.0),
		}, rng, backend)
		if err != nil {
			return nil, err
		}
	}
	if e.Positions, err = nn.NewFixedEmbed(cfg.EmbDim, cfg.MaxLength, nil, backend); err != nil {
		return nil, err
	}
	for i := 0; i < cfg.NumEncoderLayers; i++ {
		layer, err := NewEncoderLayer(nn.JoinName(name, fmt.Sprintf("layers_%d", i)), cfg, rng, backend)
		if err != nil {
			return nil, err
		}
		e.Layers = append(e.Layers, layer)
	}
	if e.Norm, err = nn.NewLayerNorm(nn.JoinName(name, "encoder_norm"), cfg.EmbDim, cfg.LayerNormEpsilon, rng, backend); err != nil {
		return nil, err
	}
	return e, nil
}

// Forward returns the encoded sequence [batch, len, emb].
func (e *Encoder[B]) Forward(in EncoderInput[B], mask *tensor.Tensor[float32, B], opts nn.RunOptions) (*tensor.Tensor[float32, B], error) {
	_, length, err := in.shape(e.cfg)
	if err != nil {
		return nil, err
	}
	if length > e.cfg.MaxLength {
		return nil, fmt.Errorf("encoder: length %d exceeds max length %d: %w", length, e.cfg.MaxLength, tensor.ErrInvalidArgument)
	}

	var x *tensor.Tensor[float32, B]
	if e.InputProjection != nil {
		if x, err = e.InputProjection.Forward(in.Features); err != nil {
			return nil, fmt.Errorf("encoder: %w", err)
		}
	}
	if e.TokenEmbedder != nil {
		emb, err := e.TokenEmbedder.Forward(in.Tokens.Raw())
		if err != nil {
			return nil, fmt.Errorf("encoder: %w", err)
		}
		if x == nil {
			x = emb
		} else {
			x = x.Add(emb)
		}
	}

	pos, err := e.Positions.Forward(positions(length, e.backend))
	if err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	if x, err = nn.ApplyDropout(residualDropout(e.cfg), x.Add(pos), opts); err != nil {
		return nil, err
	}

	for i, layer := range e.Layers {
		if x, err = layer.Forward(x, mask, opts); err != nil {
			return nil, fmt.Errorf("encoder layer %d: %w", i, err)
		}
	}

	x = e.Norm.Forward(x)
	return nn.ApplyDropout(nn.Dropout{Rate: e.cfg.DropoutRate}, x, opts)
}

// Parameters returns the encoder parameters.
func (e *Encoder[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	if e.InputProjection != nil {
		params = append(params, e.InputProjection.Parameters()...)
	}
	if e.TokenEmbedder != nil {
		params = append(params, e.TokenEmbedder.Parameters()...)
	}
	for _, l := range e.Layers {
		params = append(params, l.Parameters()...)
	}
	return append(params, e.Norm.Parameters()...)
}

// Decoder embeds target tokens, runs the decoder layers against the encoded
// sequence and produces vocabulary logits.
type Decoder[B tensor.Backend] struct {
	TokenEmbedder *nn.Embed[B]
	Positions     *nn.FixedEmbed[B]
	Layers        []*DecoderLayer[B]
	Norm          *nn.LayerNorm[B]
	LogitsDense   *nn.DenseGeneral[B] // nil when logits use the embedding

	cfg     Config
	backend B
}

// NewDecoder creates the decoder stack under name.
func NewDecoder[B tensor.Backend](name string, cfg Config, rng *rand.Rand, backend B) (*Decoder[B], error) {
	d := &Decoder[B]{cfg: cfg, backend: backend}
	var err error
	d.TokenEmbedder, err = nn.NewEmbed(nn.JoinName(name, "token_embedder"), nn.EmbedConfig{
		NumEmbeddings: cfg.VocabSize,
		Features:      cfg.EmbDim,
		OneHot:        true,
		Init:          nn.NormalInit(1.0),
	}, rng, backend)
	if err != nil {
		return nil, err
	}
	if d.Positions, err = nn.NewFixedEmbed(cfg.EmbDim, cfg.MaxLength, nil, backend); err != nil {
		return nil, err
	}
	for i := 0; i < cfg.NumDecoderLayers; i++ {
		layer, err := NewDecoderLayer(nn.JoinName(name, fmt.Sprintf("layers_%d", i)), cfg, rng, backend)
		if err != nil {
			return nil, err
		}
		d.Layers = append(d.Layers, layer)
	}
	if d.Norm, err = nn.NewLayerNorm(nn.JoinName(name, "decoder_norm"), cfg.EmbDim, cfg.LayerNormEpsilon, rng, backend); err != nil {
		return nil, err
	}
	if !cfg.LogitsViaEmbedding {
		d.LogitsDense, err = nn.NewDenseGeneral(nn.JoinName(name, "logits_dense"), nn.DenseGeneralConfig{
			InFeatures: []int{cfg.EmbDim},
			Features:   []int{cfg.VocabSize},
		}, rng, backend)
		if err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Forward returns logits [batch, len, vocab] for tokens [batch, len].
//
// With a primed state the call is one incremental step: tokens must be
// [batch, 1], the position comes from the state's cursor and every
// self-attention layer reads and extends its cache.
func (d *Decoder[B]) Forward(
	encoded *tensor.Tensor[float32, B], tokens *tensor.Tensor[int32, B],
	decoderMask, crossMask *tensor.Tensor[float32, B],
	state *DecodeState[B], opts nn.RunOptions,
) (*tensor.Tensor[float32, B], error) {
	if tokens.Rank() != 2 {
		return nil, fmt.Errorf("decoder: tokens must be [batch, len], got %v: %w", tokens.Shape(), tensor.ErrShapeMismatch)
	}
	length := tokens.Shape()[1]

	y, err := d.TokenEmbedder.Forward(tokens.Raw())
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}

	var pos *tensor.Tensor[float32, B]
	if state != nil && state.primed {
		pos, err = d.Positions.ForwardDecode(&state.cursor)
	} else {
		if length > d.cfg.MaxLength {
			return nil, fmt.Errorf("decoder: length %d exceeds max length %d: %w", length, d.cfg.MaxLength, tensor.ErrInvalidArgument)
		}
		pos, err = d.Positions.Forward(positions(length, d.backend))
	}
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	if y, err = nn.ApplyDropout(residualDropout(d.cfg), y.Add(pos), opts); err != nil {
		return nil, err
	}

	for i, layer := range d.Layers {
		var cache *nn.AttentionCache[B]
		if state != nil {
			cache = state.caches[i]
		}
		if y, err = layer.Forward(y, encoded, decoderMask, crossMask, cache, opts); err != nil {
			return nil, fmt.Errorf("decoder layer %d: %w", i, err)
		}
	}

	y = d.Norm.Forward(y)
	if y, err = nn.ApplyDropout(residualDropout(d.cfg), y, opts); err != nil {
		return nil, err
	}

	if d.LogitsDense != nil {
		return d.LogitsDense.Forward(y)
	}
	logits, err := d.TokenEmbedder.Attend(y)
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	return logits.MulScalar(1 / math.Sqrt(float64(d.cfg.EmbDim))), nil
}

// Parameters returns the decoder parameters.
func (d *Decoder[B]) Parameters() []*nn.Parameter[B] {
	params := d.TokenEmbedder.Parameters()
	for _, l := range d.Layers {
		params = append(params, l.Parameters()...)
	}
	params = append(params, d.Norm.Parameters()...)
	if d.LogitsDense != nil {
		params = append(params, d.LogitsDense.Parameters()...)
	}
	return params
}
