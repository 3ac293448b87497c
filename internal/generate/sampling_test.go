package generate

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/encdec/internal/tensor"
)

func newTestSampler(t *testing.T, config SamplingConfig) *Sampler {
	t.Helper()
	s, err := NewSampler(config, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	return s
}

func sampleCounts(s *Sampler, logits []float32, n int) map[int32]int {
	counts := make(map[int32]int)
	for i := 0; i < n; i++ {
		counts[s.Sample(logits)]++
	}
	return counts
}

func TestGreedySampling(t *testing.T) {
	s, err := NewSampler(Greedy(), nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		assert.Equal(t, int32(2), s.Sample([]float32{-1, 0, 1}))
	}

	logits := make([]float32, 50000)
	for i := range logits {
		logits[i] = float32(i) * 0.001
	}
	logits[12345] = 100
	assert.Equal(t, int32(12345), s.Sample(logits))

	assert.Equal(t, int32(0), s.Sample([]float32{3, 3, 3}), "ties go to the lowest id")
}

func TestTopKSampling(t *testing.T) {
	s := newTestSampler(t, SamplingConfig{Temperature: 1, TopK: 2})
	counts := sampleCounts(s, []float32{1, 2, 3, 4, 5}, 200)
	assert.Zero(t, counts[0]+counts[1]+counts[2], "filtered tokens are never drawn")
	assert.Positive(t, counts[3])
	assert.Positive(t, counts[4])
}

func TestTopPSampling(t *testing.T) {
	s := newTestSampler(t, SamplingConfig{Temperature: 1, TopP: 0.5})
	counts := sampleCounts(s, []float32{-10, -10, -10, 0, 5}, 100)
	assert.Equal(t, 100, counts[4], "the top token alone exceeds the mass")
}

func TestMinPSampling(t *testing.T) {
	s := newTestSampler(t, SamplingConfig{Temperature: 1, MinP: 0.5})
	counts := sampleCounts(s, []float32{0, 0, 0, 0, 10}, 100)
	assert.Equal(t, 100, counts[4])
}

func TestTemperatureSampling(t *testing.T) {
	t.Run("low temperature", func(t *testing.T) {
		s := newTestSampler(t, SamplingConfig{Temperature: 0.1})
		counts := sampleCounts(s, []float32{1, 2, 3}, 100)
		assert.Greater(t, counts[2], 90)
	})

	t.Run("high temperature", func(t *testing.T) {
		s := newTestSampler(t, SamplingConfig{Temperature: 2})
		counts := sampleCounts(s, []float32{1, 2, 3}, 100)
		assert.Greater(t, counts[0]+counts[1], 5)
	})
}

func TestSamplerDeterministicWithSeed(t *testing.T) {
	logits := []float32{0.1, 0.2, 0.3, 0.4}
	a := newTestSampler(t, SamplingConfig{Temperature: 1})
	b := newTestSampler(t, SamplingConfig{Temperature: 1})
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Sample(logits), b.Sample(logits))
	}
}

func TestSampleRows(t *testing.T) {
	s, err := NewSampler(Greedy(), nil)
	require.NoError(t, err)
	got := s.SampleRows([]float32{
		0, 1, 0,
		5, 1, 0,
	}, 3)
	assert.Equal(t, []int32{1, 0}, got)
}

func TestNewSampler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		config SamplingConfig
	}{
		{"negative temperature", SamplingConfig{Temperature: -1}},
		{"negative top-k", SamplingConfig{TopK: -1}},
		{"top-p above one", SamplingConfig{TopP: 1.5}},
		{"min-p below zero", SamplingConfig{MinP: -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSampler(tt.config, rand.New(rand.NewSource(0)))
			assert.ErrorIs(t, err, tensor.ErrInvalidArgument)
		})
	}

	_, err := NewSampler(SamplingConfig{Temperature: 1}, nil)
	assert.ErrorIs(t, err, tensor.ErrInvalidArgument, "stochastic sampling needs an rng")
}

func TestSoftmax(t *testing.T) {
	probs := softmax([]float32{0, 0, float32(math.Inf(-1))})
	assert.InDeltaSlice(t, []float32{0.5, 0.5, 0}, probs, 1e-6)
}
