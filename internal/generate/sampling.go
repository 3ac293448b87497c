// Package generate runs autoregressive decoding loops over an
// encoder-decoder model: encode once, then one incremental decoder step
// per output token until every sequence stops.
package generate

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/born-ml/encdec/internal/tensor"
)

// SamplingConfig selects how the next token is drawn from a row of logits.
type SamplingConfig struct {
	// Temperature divides the logits. 0 picks the argmax.
	Temperature float32

	// TopK keeps the K largest logits. 0 disables.
	TopK int

	// TopP keeps the smallest prefix of tokens, by descending probability,
	// whose mass exceeds P. 0 or 1 disables.
	TopP float32

	// MinP drops tokens with prob < max_prob * MinP. 0 disables.
	MinP float32
}

// Greedy returns the argmax configuration.
func Greedy() SamplingConfig {
	return SamplingConfig{}
}

// Validate checks the ranges of every field.
func (c SamplingConfig) Validate() error {
	switch {
	case c.Temperature < 0:
		return fmt.Errorf("sampling: temperature %g < 0: %w", c.Temperature, tensor.ErrInvalidArgument)
	case c.TopK < 0:
		return fmt.Errorf("sampling: top-k %d < 0: %w", c.TopK, tensor.ErrInvalidArgument)
	case c.TopP < 0 || c.TopP > 1:
		return fmt.Errorf("sampling: top-p %g outside [0, 1]: %w", c.TopP, tensor.ErrInvalidArgument)
	case c.MinP < 0 || c.MinP > 1:
		return fmt.Errorf("sampling: min-p %g outside [0, 1]: %w", c.MinP, tensor.ErrInvalidArgument)
	}
	return nil
}

// Sampler draws token ids from logits.
//
// A Sampler is not safe for concurrent use: it owns its rng.
type Sampler struct {
	config SamplingConfig
	rng    *rand.Rand
}

// NewSampler creates a sampler. rng may be nil for greedy configs.
func NewSampler(config SamplingConfig, rng *rand.Rand) (*Sampler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Temperature > 0 && rng == nil {
		return nil, fmt.Errorf("sampling: temperature %g needs an rng: %w", config.Temperature, tensor.ErrInvalidArgument)
	}
	return &Sampler{config: config, rng: rng}, nil
}

// Sample returns the next token id for one row of logits.
//
// The steps are temperature scaling, top-k, top-p, min-p and then a draw
// from the renormalized distribution. Temperature 0 skips to the argmax.
func (s *Sampler) Sample(logits []float32) int32 {
	if s.config.Temperature == 0 {
		return argmax(logits)
	}

	scaled := make([]float32, len(logits))
	for i, v := range logits {
		scaled[i] = v / s.config.Temperature
	}
	if s.config.TopK > 0 && s.config.TopK < len(scaled) {
		topKFilter(scaled, s.config.TopK)
	}
	if s.config.TopP > 0 && s.config.TopP < 1 {
		topPFilter(scaled, s.config.TopP)
	}
	if s.config.MinP > 0 {
		minPFilter(scaled, s.config.MinP)
	}
	return s.multinomial(softmax(scaled))
}

// SampleRows samples every row of logits [rows, vocab], e.g. the last
// decoder step reshaped to [batch, vocab].
func (s *Sampler) SampleRows(logits []float32, vocab int) []int32 {
	rows := len(logits) / vocab
	out := make([]int32, rows)
	for r := 0; r < rows; r++ {
		out[r] = s.Sample(logits[r*vocab : (r+1)*vocab])
	}
	return out
}

func argmax(logits []float32) int32 {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return int32(best) //nolint:gosec // vocab size is bounded by the model config
}

// topKFilter sets every logit below the k-th largest to -inf. Ties with
// the k-th value survive.
func topKFilter(logits []float32, k int) {
	sorted := append([]float32(nil), logits...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	threshold := sorted[k-1]
	for i := range logits {
		if logits[i] < threshold {
			logits[i] = float32(math.Inf(-1))
		}
	}
}

// topPFilter keeps the most probable tokens up to and including the one
// that pushes the cumulative mass past p.
func topPFilter(logits []float32, p float32) {
	probs := softmax(logits)
	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return probs[order[i]] > probs[order[j]] })

	keep := make([]bool, len(probs))
	var cum float32
	for _, idx := range order {
		keep[idx] = true
		cum += probs[idx]
		if cum > p {
			break
		}
	}
	for i := range logits {
		if !keep[i] {
			logits[i] = float32(math.Inf(-1))
		}
	}
}

func minPFilter(logits []float32, minP float32) {
	probs := softmax(logits)
	var maxProb float32
	for _, p := range probs {
		maxProb = max(maxProb, p)
	}
	threshold := maxProb * minP
	for i := range logits {
		if probs[i] < threshold {
			logits[i] = float32(math.Inf(-1))
		}
	}
}

func (s *Sampler) multinomial(probs []float32) int32 {
	r := s.rng.Float32()
	var cum float32
	for i, p := range probs {
		cum += p
		if r < cum {
			return int32(i) //nolint:gosec // vocab size is bounded by the model config
		}
	}
	// Rounding left r above the total mass; take the last token that has any.
	for i := len(probs) - 1; i >= 0; i-- {
		if probs[i] > 0 {
			return int32(i) //nolint:gosec // vocab size is bounded by the model config
		}
	}
	return int32(len(probs) - 1) //nolint:gosec // vocab size is bounded by the model config
}

// softmax converts logits to probabilities; -inf entries get 0.
func softmax(logits []float32) []float32 {
	maxVal := float32(math.Inf(-1))
	for _, v := range logits {
		maxVal = max(maxVal, v)
	}
	probs := make([]float32, len(logits))
	var sum float32
	for i, v := range logits {
		if math.IsInf(float64(v), -1) {
			continue
		}
		probs[i] = float32(math.Exp(float64(v - maxVal)))
		sum += probs[i]
	}
	if sum > 0 {
		for i := range probs {
			probs[i] /= sum
		}
	}
	return probs
}
