// Package t5 implements the T5.1.1 encoder-decoder Transformer: pre-norm
// encoder and decoder stacks, full-sequence and incremental decoding, and
// the mask plumbing between them.
package t5

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/encdec/internal/nn"
	"github.com/born-ml/encdec/internal/tensor"
)

// Encoder input modalities.
const (
	ModalityContinuous = "continuous" // [batch, len, depth] features
	ModalityTokens     = "tokens"     // [batch, len] token ids
	ModalityBoth       = "both"       // sum of both embeddings
)

// Config holds the model hyperparameters. It is read-only once the model is
// built.
type Config struct {
	VocabSize int `yaml:"vocab_size" json:"vocab_size"`

	// DType is the activation dtype. Only "float32" is supported.
	DType string `yaml:"dtype" json:"dtype"`

	EmbDim           int `yaml:"emb_dim" json:"emb_dim"`
	NumHeads         int `yaml:"num_heads" json:"num_heads"`
	NumEncoderLayers int `yaml:"num_encoder_layers" json:"num_encoder_layers"`
	NumDecoderLayers int `yaml:"num_decoder_layers" json:"num_decoder_layers"`
	HeadDim          int `yaml:"head_dim" json:"head_dim"`
	MLPDim           int `yaml:"mlp_dim" json:"mlp_dim"`

	// MLPActivations names one activation per MLP branch; branch outputs are
	// multiplied.
	MLPActivations []string `yaml:"mlp_activations" json:"mlp_activations"`
	DropoutRate    float64  `yaml:"dropout_rate" json:"dropout_rate"`

	// LogitsViaEmbedding computes decoder logits with the transposed token
	// embedding instead of a separate projection.
	LogitsViaEmbedding bool `yaml:"logits_via_embedding" json:"logits_via_embedding"`

	// MaxLength bounds positional tables and decode sessions.
	MaxLength        int     `yaml:"max_length" json:"max_length"`
	LayerNormEpsilon float64 `yaml:"layer_norm_epsilon" json:"layer_norm_epsilon"`

	// HighPrecisionLogits computes attention logits and softmax in float64.
	HighPrecisionLogits bool `yaml:"high_precision_logits" json:"high_precision_logits"`

	// EncoderModality is one of "continuous", "tokens" or "both".
	EncoderModality string `yaml:"encoder_modality" json:"encoder_modality"`

	// InputDepth is the feature depth of continuous encoder inputs.
	InputDepth int `yaml:"input_depth" json:"input_depth"`
}

// DefaultConfig returns the T5.1.1 base hyperparameters for vocabSize.
func DefaultConfig(vocabSize int) Config {
	return Config{
		VocabSize:        vocabSize,
		DType:            "float32",
		EmbDim:           512,
		NumHeads:         8,
		NumEncoderLayers: 6,
		NumDecoderLayers: 6,
		HeadDim:          64,
		MLPDim:           2048,
		MLPActivations:   []string{"relu"},
		DropoutRate:      0.1,
		MaxLength:        2048,
		LayerNormEpsilon: nn.DefaultNormEpsilon,
		EncoderModality:  ModalityContinuous,
		InputDepth:       512,
	}
}

// Validate checks every option.
func (c Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"vocab_size", c.VocabSize},
		{"emb_dim", c.EmbDim},
		{"num_heads", c.NumHeads},
		{"head_dim", c.HeadDim},
		{"mlp_dim", c.MLPDim},
		{"max_length", c.MaxLength},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("config: %s must be positive, got %d: %w", p.name, p.value, tensor.ErrInvalidArgument)
		}
	}
	if c.NumEncoderLayers < 0 || c.NumDecoderLayers < 0 {
		return fmt.Errorf("config: layer counts must not be negative: %w", tensor.ErrInvalidArgument)
	}
	if c.DType != "float32" {
		return fmt.Errorf("config: unsupported dtype %q: %w", c.DType, tensor.ErrInvalidArgument)
	}
	if len(c.MLPActivations) == 0 {
		return fmt.Errorf("config: mlp_activations is empty: %w", tensor.ErrInvalidArgument)
	}
	if _, err := nn.ParseActivations(c.MLPActivations); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return fmt.Errorf("config: dropout_rate %v outside [0, 1): %w", c.DropoutRate, tensor.ErrInvalidArgument)
	}
	if c.LayerNormEpsilon <= 0 {
		return fmt.Errorf("config: layer_norm_epsilon must be positive: %w", tensor.ErrInvalidArgument)
	}
	if c.EmbDim < 2 {
		return fmt.Errorf("config: emb_dim %d too small for sinusoidal positions: %w", c.EmbDim, tensor.ErrInvalidArgument)
	}
	switch c.EncoderModality {
	case ModalityContinuous, ModalityBoth:
		if c.InputDepth <= 0 {
			return fmt.Errorf("config: input_depth must be positive for %s inputs: %w",
				c.EncoderModality, tensor.ErrInvalidArgument)
		}
	case ModalityTokens:
	default:
		return fmt.Errorf("config: unknown encoder_modality %q: %w", c.EncoderModality, tensor.ErrInvalidArgument)
	}
	return nil
}

func (c Config) usesFeatures() bool {
	return c.EncoderModality == ModalityContinuous || c.EncoderModality == ModalityBoth
}

func (c Config) usesTokens() bool {
	return c.EncoderModality == ModalityTokens || c.EncoderModality == ModalityBoth
}

// LoadConfig reads a YAML (.yaml, .yml) or JSON (.json) config file.
// Fields missing from the file keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	case ".json":
		format = "json"
	default:
		return Config{}, fmt.Errorf("config: unsupported file extension %q", filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return DecodeConfig(bytes.NewReader(data), format)
}

// DecodeConfig decodes a config in the given format ("yaml" or "json") and
// validates it.
func DecodeConfig(r io.Reader, format string) (Config, error) {
	cfg := DefaultConfig(0)
	var err error
	switch format {
	case "yaml":
		err = yaml.NewDecoder(r).Decode(&cfg)
	case "json":
		err = json.NewDecoder(r).Decode(&cfg)
	default:
		return Config{}, fmt.Errorf("config: unsupported format %q", format)
	}
	if err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("config: decode %s: %w", format, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Encode writes the config in the given format.
func (c Config) Encode(w io.Writer, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	default:
		return fmt.Errorf("config: unsupported format %q", format)
	}
}
