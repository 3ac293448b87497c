package generate

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/encdec/internal/backend/cpu"
	"github.com/born-ml/encdec/internal/t5"
	"github.com/born-ml/encdec/internal/tensor"
)

type backend = *cpu.CPUBackend

// scriptedModel returns logits[step][row] regardless of its inputs and
// records the decoder inputs it saw.
type scriptedModel struct {
	cfg    t5.Config
	logits [][][]float32
	inputs [][]int32
	step   int
}

func (m *scriptedModel) Config() t5.Config { return m.cfg }

func (m *scriptedModel) Encode(in t5.EncoderInput[backend], _ t5.CallOptions[backend]) (*tensor.Tensor[float32, backend], error) {
	batch := in.Tokens.Shape()[0]
	return tensor.Zeros[float32](tensor.Shape{batch, 1, 1}, cpu.New()), nil
}

func (m *scriptedModel) Decode(
	_ *tensor.Tensor[float32, backend], _ t5.EncoderInput[backend],
	inputs, _ *tensor.Tensor[int32, backend], _ t5.CallOptions[backend],
) (*tensor.Tensor[float32, backend], error) {
	m.inputs = append(m.inputs, append([]int32(nil), inputs.Data()...))
	rows := m.logits[m.step]
	m.step++
	var flat []float32
	for _, r := range rows {
		flat = append(flat, r...)
	}
	return tensor.MustFromSlice(flat, tensor.Shape{len(rows), 1, m.cfg.VocabSize}, cpu.New()), nil
}

func (m *scriptedModel) NewDecodeState(int, int) (*t5.DecodeState[backend], error) {
	return &t5.DecodeState[backend]{}, nil
}

// onehot returns vocab-4 logits peaking at id.
func onehot(id int) []float32 {
	l := []float32{0, 0, 0, 0}
	l[id] = 10
	return l
}

func scriptedInput(batch int) t5.EncoderInput[backend] {
	return t5.EncoderInput[backend]{Tokens: tensor.Ones[int32](tensor.Shape{batch, 2}, cpu.New())}
}

func newScripted(steps ...[][]float32) *scriptedModel {
	cfg := t5.DefaultConfig(4)
	cfg.MaxLength = 8
	return &scriptedModel{cfg: cfg, logits: steps}
}

func TestGenerate_StopsAtEOS(t *testing.T) {
	m := newScripted(
		[][]float32{onehot(2), onehot(3)},
		[][]float32{onehot(1), onehot(2)},
		[][]float32{onehot(3), onehot(1)},
		[][]float32{onehot(3), onehot(3)},
	)
	seqs, err := New[backend](m, cpu.New()).Generate(context.Background(), scriptedInput(2), DefaultConfig(6))
	require.NoError(t, err)

	assert.Equal(t, []Sequence{
		{Tokens: []int32{2, 1}, Reason: StopEOS},
		{Tokens: []int32{3, 2, 1}, Reason: StopEOS},
	}, seqs)
	assert.Equal(t, 3, m.step, "loop ends once every row has finished")
	assert.Equal(t, [][]int32{{0, 0}, {2, 3}, {0, 2}}, m.inputs, "finished rows are fed padding")
}

func TestGenerate_MaxStepsAndMinSteps(t *testing.T) {
	m := newScripted(
		[][]float32{{0, 10, 9, 0}},
		[][]float32{{0, 10, 0, 9}},
		[][]float32{{0, 10, 0, 0}},
	)
	cfg := DefaultConfig(3)
	cfg.MinSteps = 2
	seqs, err := New[backend](m, cpu.New()).Generate(context.Background(), scriptedInput(1), cfg)
	require.NoError(t, err)
	assert.Equal(t, []Sequence{{Tokens: []int32{2, 3, 1}, Reason: StopEOS}}, seqs)

	m = newScripted([][]float32{onehot(1)}, [][]float32{onehot(1)})
	cfg = DefaultConfig(2)
	cfg.EOSToken = -1
	seqs, err = New[backend](m, cpu.New()).Generate(context.Background(), scriptedInput(1), cfg)
	require.NoError(t, err)
	assert.Equal(t, []Sequence{{Tokens: []int32{1, 1}, Reason: StopMaxSteps}}, seqs)
}

func TestStream_CallbackStops(t *testing.T) {
	m := newScripted([][]float32{onehot(2)}, [][]float32{onehot(3)}, [][]float32{onehot(3)})
	var steps []Step
	seqs, err := New[backend](m, cpu.New()).Stream(context.Background(), scriptedInput(1), DefaultConfig(3), func(s Step) bool {
		steps = append(steps, s)
		return s.Index < 1
	})
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, []int32{3}, steps[1].Tokens)
	assert.Equal(t, []Sequence{{Tokens: []int32{2, 3}, Reason: StopCallback}}, seqs)
}

func TestGenerate_Cancelled(t *testing.T) {
	m := newScripted([][]float32{onehot(2)}, [][]float32{onehot(3)})
	ctx, cancel := context.WithCancel(context.Background())
	seqs, err := New[backend](m, cpu.New()).Stream(ctx, scriptedInput(1), DefaultConfig(2), func(Step) bool {
		cancel()
		return true
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int32{2}, seqs[0].Tokens, "tokens decoded before cancellation are kept")
	assert.Equal(t, 1, m.step)
}

func TestGenerate_InvalidConfig(t *testing.T) {
	g := New[backend](newScripted(), cpu.New())
	for name, cfg := range map[string]Config{
		"zero steps":     DefaultConfig(0),
		"past max len":   DefaultConfig(9),
		"min over max":   {MaxSteps: 2, MinSteps: 3},
		"eos past vocab": {MaxSteps: 2, EOSToken: 4},
		"bad sampling":   {MaxSteps: 2, Sampling: SamplingConfig{TopP: 2}},
	} {
		_, err := g.Generate(context.Background(), scriptedInput(1), cfg)
		assert.ErrorIs(t, err, tensor.ErrInvalidArgument, name)
	}

	cfg := DefaultConfig(2)
	cfg.Sampling.Temperature = 1
	_, err := g.Generate(context.Background(), scriptedInput(1), cfg)
	assert.ErrorIs(t, err, tensor.ErrInvalidArgument, "sampling without WithRNG")
}

func TestGenerate_MatchesManualGreedyLoop(t *testing.T) {
	b := cpu.New()
	cfg := t5.DefaultConfig(10)
	cfg.EmbDim = 8
	cfg.NumHeads = 2
	cfg.HeadDim = 4
	cfg.MLPDim = 16
	cfg.NumEncoderLayers = 1
	cfg.NumDecoderLayers = 1
	cfg.MaxLength = 16
	cfg.EncoderModality = t5.ModalityTokens
	model, err := t5.New(cfg, b, t5.WithSeed(5))
	require.NoError(t, err)

	in := t5.EncoderInput[backend]{Tokens: tensor.MustFromSlice([]int32{4, 5, 6, 7, 8, 9}, tensor.Shape{2, 3}, b)}
	gcfg := DefaultConfig(4)
	gcfg.EOSToken = -1
	seqs, err := New[backend](model, b).Generate(context.Background(), in, gcfg)
	require.NoError(t, err)

	encoded, err := model.Encode(in, t5.CallOptions[backend]{})
	require.NoError(t, err)
	state, err := model.NewDecodeState(2, 4)
	require.NoError(t, err)
	next := []int32{0, 0}
	for step := 0; step < 4; step++ {
		logits, err := model.Decode(encoded, in, tensor.MustFromSlice(next, tensor.Shape{2, 1}, b), nil,
			t5.CallOptions[backend]{State: state})
		require.NoError(t, err)
		rows := logits.Data()
		for r := 0; r < 2; r++ {
			next[r] = argmax(rows[r*10 : (r+1)*10])
			assert.Equal(t, next[r], seqs[r].Tokens[step], "row %d step %d", r, step)
		}
	}
}

func TestGenerate_SamplingWithRNG(t *testing.T) {
	run := func() []Sequence {
		m := newScripted(
			[][]float32{{1, 1, 1, 1}},
			[][]float32{{1, 1, 1, 1}},
			[][]float32{{1, 1, 1, 1}},
		)
		cfg := DefaultConfig(3)
		cfg.EOSToken = -1
		cfg.Sampling = SamplingConfig{Temperature: 1}
		seqs, err := New[backend](m, cpu.New(), WithRNG(rand.New(rand.NewSource(9)))).
			Generate(context.Background(), scriptedInput(1), cfg)
		require.NoError(t, err)
		return seqs
	}
	assert.Equal(t, run(), run())
}
