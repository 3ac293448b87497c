package t5

import (
	"math/rand"

	"github.com/born-ml/encdec/internal/nn"
	"github.com/born-ml/encdec/internal/tensor"
)

// residualDropout is applied to every sub-block output before the residual
// add, with one mask per sequence.
func residualDropout(cfg Config) nn.Dropout {
	return nn.Dropout{Rate: cfg.DropoutRate, BroadcastDims: []int{-2}}
}

func newAttention[B tensor.Backend](name string, cfg Config, rng *rand.Rand, backend B) (*nn.MultiHeadDotProductAttention[B], error) {
	return nn.NewMultiHeadDotProductAttention(name, nn.MHAConfig{
		Features:      cfg.EmbDim,
		NumHeads:      cfg.NumHeads,
		HeadDim:       cfg.HeadDim,
		DropoutRate:   cfg.DropoutRate,
		Float64Logits: cfg.HighPrecisionLogits,
	}, rng, backend)
}

func newMlp[B tensor.Backend](name string, cfg Config, rng *rand.Rand, backend B) (*nn.MlpBlock[B], error) {
	acts, err := nn.ParseActivations(cfg.MLPActivations)
	if err != nil {
		return nil, err
	}
	return nn.NewMlpBlock(name, nn.MlpBlockConfig{
		InFeatures:      cfg.EmbDim,
		IntermediateDim: cfg.MLPDim,
		Activations:     acts,
		DropoutRate:     cfg.DropoutRate,
	}, rng, backend)
}

// EncoderLayer is a pre-norm self-attention block followed by a pre-norm
// MLP block, each with a residual connection.
type EncoderLayer[B tensor.Backend] struct {
	PreAttentionNorm *nn.LayerNorm[B]
	Attention        *nn.MultiHeadDotProductAttention[B]
	PreMlpNorm       *nn.LayerNorm[B]
	Mlp              *nn.MlpBlock[B]

	dropout nn.Dropout
}

// NewEncoderLayer creates an encoder layer under name.
func NewEncoderLayer[B tensor.Backend](name string, cfg Config, rng *rand.Rand, backend B) (*EncoderLayer[B], error) {
	l := &EncoderLayer[B]{dropout: residualDropout(cfg)}
	var err error
	if l.PreAttentionNorm, err = nn.NewLayerNorm(nn.JoinName(name, "pre_attention_layer_norm"), cfg.EmbDim, cfg.LayerNormEpsilon, rng, backend); err != nil {
		return nil, err
	}
	if l.Attention, err = newAttention(nn.JoinName(name, "attention"), cfg, rng, backend); err != nil {
		return nil, err
	}
	if l.PreMlpNorm, err = nn.NewLayerNorm(nn.JoinName(name, "pre_mlp_layer_norm"), cfg.EmbDim, cfg.LayerNormEpsilon, rng, backend); err != nil {
		return nil, err
	}
	if l.Mlp, err = newMlp(nn.JoinName(name, "mlp"), cfg, rng, backend); err != nil {
		return nil, err
	}
	return l, nil
}

// Forward maps [batch, len, emb] to [batch, len, emb].
func (l *EncoderLayer[B]) Forward(inputs, mask *tensor.Tensor[float32, B], opts nn.RunOptions) (*tensor.Tensor[float32, B], error) {
	x := l.PreAttentionNorm.Forward(inputs)
	x, err := l.Attention.Forward(x, x, mask, nil, nn.MHAOptions[B]{RunOptions: opts})
	if err != nil {
		return nil, err
	}
	if x, err = nn.ApplyDropout(l.dropout, x, opts); err != nil {
		return nil, err
	}
	x = x.Add(inputs)

	y := l.PreMlpNorm.Forward(x)
	if y, err = l.Mlp.Forward(y, opts); err != nil {
		return nil, err
	}
	if y, err = nn.ApplyDropout(l.dropout, y, opts); err != nil {
		return nil, err
	}
	return y.Add(x), nil
}

// Parameters returns the layer's parameters in construction order.
func (l *EncoderLayer[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for _, m := range []nn.Module[B]{l.PreAttentionNorm, l.Attention, l.PreMlpNorm, l.Mlp} {
		params = append(params, m.Parameters()...)
	}
	return params
}

// DecoderLayer adds a cross-attention block between the self-attention and
// MLP blocks of an encoder layer.
type DecoderLayer[B tensor.Backend] struct {
	PreSelfAttentionNorm  *nn.LayerNorm[B]
	SelfAttention         *nn.MultiHeadDotProductAttention[B]
	PreCrossAttentionNorm *nn.LayerNorm[B]
	CrossAttention        *nn.MultiHeadDotProductAttention[B]
	PreMlpNorm            *nn.LayerNorm[B]
	Mlp                   *nn.MlpBlock[B]

	dropout nn.Dropout
}

// NewDecoderLayer creates a decoder layer under name.
func NewDecoderLayer[B tensor.Backend](name string, cfg Config, rng *rand.Rand, backend B) (*DecoderLayer[B], error) {
	l := &DecoderLayer[B]{dropout: residualDropout(cfg)}
	var err error
	if l.PreSelfAttentionNorm, err = nn.NewLayerNorm(nn.JoinName(name, "pre_self_attention_layer_norm"), cfg.EmbDim, cfg.LayerNormEpsilon, rng, backend); err != nil {
		return nil, err
	}
	if l.SelfAttention, err = newAttention(nn.JoinName(name, "self_attention"), cfg, rng, backend); err != nil {
		return nil, err
	}
	if l.PreCrossAttentionNorm, err = nn.NewLayerNorm(nn.JoinName(name, "pre_cross_attention_layer_norm"), cfg.EmbDim, cfg.LayerNormEpsilon, rng, backend); err != nil {
		return nil, err
	}
	if l.CrossAttention, err = newAttention(nn.JoinName(name, "encoder_decoder_attention"), cfg, rng, backend); err != nil {
		return nil, err
	}
	if l.PreMlpNorm, err = nn.NewLayerNorm(nn.JoinName(name, "pre_mlp_layer_norm"), cfg.EmbDim, cfg.LayerNormEpsilon, rng, backend); err != nil {
		return nil, err
	}
	if l.Mlp, err = newMlp(nn.JoinName(name, "mlp"), cfg, rng, backend); err != nil {
		return nil, err
	}
	return l, nil
}

// Forward maps decoder activations [batch, len, emb] to the same shape,
// attending to encoded [batch, enc_len, emb]. A non-nil cache makes the
// self-attention incremental.
func (l *DecoderLayer[B]) Forward(
	inputs, encoded, decoderMask, crossMask *tensor.Tensor[float32, B],
	cache *nn.AttentionCache[B], opts nn.RunOptions,
) (*tensor.Tensor[float32, B], error) {
	x := l.PreSelfAttentionNorm.Forward(inputs)
	x, err := l.SelfAttention.Forward(x, x, decoderMask, nil, nn.MHAOptions[B]{RunOptions: opts, Cache: cache})
	if err != nil {
		return nil, err
	}
	if x, err = nn.ApplyDropout(l.dropout, x, opts); err != nil {
		return nil, err
	}
	x = x.Add(inputs)

	y := l.PreCrossAttentionNorm.Forward(x)
	if y, err = l.CrossAttention.Forward(y, encoded, crossMask, nil, nn.MHAOptions[B]{RunOptions: opts}); err != nil {
		return nil, err
	}
	if y, err = nn.ApplyDropout(l.dropout, y, opts); err != nil {
		return nil, err
	}
	y = y.Add(x)

	z := l.PreMlpNorm.Forward(y)
	if z, err = l.Mlp.Forward(z, opts); err != nil {
		return nil, err
	}
	if z, err = nn.ApplyDropout(l.dropout, z, opts); err != nil {
		return nil, err
	}
	return z.Add(y), nil
}

// Parameters returns the layer's parameters in construction order.
func (l *DecoderLayer[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for _, m := range []nn.Module[B]{
		l.PreSelfAttentionNorm, l.SelfAttention,
		l.PreCrossAttentionNorm, l.CrossAttention,
		l.PreMlpNorm, l.Mlp,
	} {
		params = append(params, m.Parameters()...)
	}
	return params
}
