package t5

import (
	"bytes"
	"fmt"
	"io"

	"github.com/born-ml/encdec/internal/checkpoint"
	"github.com/born-ml/encdec/internal/tensor"
)

const configMetadataKey = "t5.config"

// SaveCheckpoint writes every parameter to w in SafeTensors layout, with
// the model config as JSON metadata.
func (m *Transformer[B]) SaveCheckpoint(w io.Writer) error {
	var cfg bytes.Buffer
	if err := m.cfg.Encode(&cfg, "json"); err != nil {
		return err
	}
	sd := m.StateDict()
	if err := checkpoint.Write(w, sd, map[string]string{configMetadataKey: cfg.String()}); err != nil {
		return err
	}
	m.logger.Debug("checkpoint saved", "parameters", len(sd))
	return nil
}

// LoadCheckpoint builds a model from a checkpoint written by
// SaveCheckpoint. The stored config wins over any default.
func LoadCheckpoint[B tensor.Backend](r io.Reader, backend B, opts ...Option) (*Transformer[B], error) {
	sd, meta, err := checkpoint.Read(r)
	if err != nil {
		return nil, err
	}
	return fromCheckpoint(sd, meta, backend, opts...)
}

// LoadCheckpointFile is LoadCheckpoint for a file on disk. The file is
// memory-mapped while its tensors are decoded.
func LoadCheckpointFile[B tensor.Backend](path string, backend B, opts ...Option) (*Transformer[B], error) {
	sd, meta, err := checkpoint.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return fromCheckpoint(sd, meta, backend, opts...)
}

func fromCheckpoint[B tensor.Backend](
	sd map[string]*tensor.RawTensor, meta map[string]string, backend B, opts ...Option,
) (*Transformer[B], error) {
	raw, ok := meta[configMetadataKey]
	if !ok {
		return nil, fmt.Errorf("checkpoint has no %q metadata: %w", configMetadataKey, checkpoint.ErrInvalidFormat)
	}
	cfg, err := DecodeConfig(bytes.NewBufferString(raw), "json")
	if err != nil {
		return nil, err
	}
	m, err := New(cfg, backend, opts...)
	if err != nil {
		return nil, err
	}
	if err := m.LoadStateDict(sd); err != nil {
		return nil, err
	}
	return m, nil
}
