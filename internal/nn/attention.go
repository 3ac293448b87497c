package nn

import (
	"fmt"

	"github.com/born-ml/encdec/internal/tensor"
)

// AttentionOptions controls a DotProductAttention call.
type AttentionOptions struct {
	RunOptions

	// DropoutRate applies to the attention weights. The mask is shared
	// across query positions: one pattern per batch, head and key.
	DropoutRate float64

	// Float64Logits computes logits and softmax in float64 before casting
	// the weights back to float32.
	Float64Logits bool
}

// DotProductAttention computes softmax(q·kᵀ + bias)·v.
//
// No 1/sqrt(head_dim) factor is applied here; MultiHeadDotProductAttention
// folds it into the query kernel initializer.
//
// Shapes:
//   - query: [...batch, q_len, heads, head_dim]
//   - key, value: [...batch, kv_len, heads, head_dim]
//   - bias: broadcastable to [...batch, heads, q_len, kv_len], or nil
//   - output: [...batch, q_len, heads, head_dim]
func DotProductAttention[B tensor.Backend](
	query, key, value, bias *tensor.Tensor[float32, B], opts AttentionOptions,
) (*tensor.Tensor[float32, B], error) {
	qs, ks, vs := query.Shape(), key.Shape(), value.Shape()
	if len(qs) < 3 || len(qs) != len(ks) || len(ks) != len(vs) {
		return nil, fmt.Errorf("attention: q, k, v must have the same rank >= 3, got %v, %v, %v: %w",
			qs, ks, vs, tensor.ErrShapeMismatch)
	}
	r := len(qs)
	batchShape := qs[:r-3]
	if !batchShape.Equal(ks[:r-3]) || !batchShape.Equal(vs[:r-3]) {
		return nil, fmt.Errorf("attention: q, k, v batch dims differ: %v, %v, %v: %w",
			qs, ks, vs, tensor.ErrShapeMismatch)
	}
	if qs[r-2] != ks[r-2] || qs[r-2] != vs[r-2] {
		return nil, fmt.Errorf("attention: q, k, v head counts differ: %v, %v, %v: %w",
			qs, ks, vs, tensor.ErrShapeMismatch)
	}
	if ks[r-3] != vs[r-3] {
		return nil, fmt.Errorf("attention: key length %d != value length %d: %w",
			ks[r-3], vs[r-3], tensor.ErrShapeMismatch)
	}
	if qs[r-1] != ks[r-1] {
		return nil, fmt.Errorf("attention: query depth %d != key depth %d: %w",
			qs[r-1], ks[r-1], tensor.ErrShapeMismatch)
	}

	nb := batchShape.NumElements()
	qLen, heads, depth := qs[r-3], qs[r-2], qs[r-1]
	kvLen, vDepth := ks[r-3], vs[r-1]

	logitShape := append(batchShape.Clone(), heads, qLen, kvLen)
	if bias != nil {
		bs, _, err := tensor.BroadcastShapes(logitShape, bias.Shape())
		if err != nil || !bs.Equal(logitShape) {
			return nil, fmt.Errorf("attention: bias %v does not broadcast to %v: %w",
				bias.Shape(), logitShape, tensor.ErrShapeMismatch)
		}
	}

	// [nb, h, q, d] @ [nb, h, d, kv] -> [nb, h, q, kv]
	q := query.Reshape(nb, qLen, heads, depth).Transpose(0, 2, 1, 3)
	k := key.Reshape(nb, kvLen, heads, depth).Transpose(0, 2, 3, 1)

	var weights *tensor.Tensor[float32, B]
	if opts.Float64Logits {
		logits := tensor.Cast[float64](q).BatchMatMul(tensor.Cast[float64](k)).Reshape(logitShape...)
		if bias != nil {
			logits = logits.Add(tensor.Cast[float64](bias))
		}
		weights = tensor.Cast[float32](logits.Softmax(-1))
	} else {
		logits := q.BatchMatMul(k).Reshape(logitShape...)
		if bias != nil {
			logits = logits.Add(bias)
		}
		weights = logits.Softmax(-1)
	}

	if !opts.Deterministic && opts.DropoutRate > 0 {
		var err error
		weights, err = ApplyDropout(Dropout{Rate: opts.DropoutRate, BroadcastDims: []int{-2}}, weights, opts.RunOptions)
		if err != nil {
			return nil, fmt.Errorf("attention: %w", err)
		}
	}

	// [nb, h, q, kv] @ [nb, h, kv, dv] -> [nb, h, q, dv] -> [...batch, q, h, dv]
	v := value.Reshape(nb, kvLen, heads, vDepth).Transpose(0, 2, 1, 3)
	out := weights.Reshape(nb, heads, qLen, kvLen).BatchMatMul(v).Transpose(0, 2, 1, 3)
	return out.Reshape(append(batchShape.Clone(), qLen, heads, vDepth)...), nil
}
