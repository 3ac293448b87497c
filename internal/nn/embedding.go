package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/encdec/internal/tensor"
)

// EmbedConfig configures a learned embedding table.
type EmbedConfig struct {
	NumEmbeddings int
	Features      int

	// OneHot looks rows up with a one-hot matmul instead of a gather. Both
	// paths give identical results.
	OneHot bool

	// Init defaults to DefaultEmbedInit.
	Init Initializer
}

// Embed maps integer ids to learned vectors.
//
// Shapes:
//   - input: [...] integer ids in [0, NumEmbeddings)
//   - output: [..., Features]
type Embed[B tensor.Backend] struct {
	Embedding *Parameter[B] // [NumEmbeddings, Features]

	numEmbeddings int
	features      int
	oneHot        bool
	backend       B
}

// NewEmbed creates an Embed with parameter name+"/embedding".
func NewEmbed[B tensor.Backend](name string, cfg EmbedConfig, rng *rand.Rand, backend B) (*Embed[B], error) {
	init := cfg.Init
	if init == nil {
		init = DefaultEmbedInit()
	}
	emb, err := initParameter(JoinName(name, "embedding"), init, rng,
		tensor.Shape{cfg.NumEmbeddings, cfg.Features}, backend)
	if err != nil {
		return nil, err
	}
	return &Embed[B]{
		Embedding:     emb,
		numEmbeddings: cfg.NumEmbeddings,
		features:      cfg.Features,
		oneHot:        cfg.OneHot,
		backend:       backend,
	}, nil
}

// Forward looks up the rows for ids.
//
// ids must have an integer dtype; any other dtype fails with
// tensor.ErrInvalidArgument, as do ids outside the table.
func (e *Embed[B]) Forward(ids *tensor.RawTensor) (*tensor.Tensor[float32, B], error) {
	if !ids.DType().IsInteger() {
		return nil, fmt.Errorf("embed %s: input dtype %s is not integer: %w",
			e.Embedding.Name(), ids.DType(), tensor.ErrInvalidArgument)
	}
	for i := 0; i < ids.NumElements(); i++ {
		if v := ids.Float64At(i); v < 0 || v >= float64(e.numEmbeddings) {
			return nil, fmt.Errorf("embed %s: id %v out of range [0, %d): %w",
				e.Embedding.Name(), v, e.numEmbeddings, tensor.ErrInvalidArgument)
		}
	}

	if !e.oneHot {
		return tensor.Embedding(e.Embedding.Tensor(), ids), nil
	}
	oneHot := tensor.OneHot(ids, e.numEmbeddings, e.backend)
	flat := oneHot.Reshape(-1, e.numEmbeddings).MatMul(e.Embedding.Tensor())
	return flat.Reshape(append(ids.Shape().Clone(), e.features)...), nil
}

// Attend computes query·embeddingᵀ, the logits of tied input/output
// embeddings: [..., Features] -> [..., NumEmbeddings].
func (e *Embed[B]) Attend(query *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], error) {
	shape := query.Shape()
	if len(shape) == 0 || shape[len(shape)-1] != e.features {
		return nil, fmt.Errorf("embed %s: attend query %v, want last dim %d: %w",
			e.Embedding.Name(), shape, e.features, tensor.ErrShapeMismatch)
	}
	logits := query.Reshape(-1, e.features).MatMul(e.Embedding.Tensor().T())
	out := append(shape[:len(shape)-1].Clone(), e.numEmbeddings)
	return logits.Reshape(out...), nil
}

// Parameters returns the embedding table.
func (e *Embed[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{e.Embedding}
}
