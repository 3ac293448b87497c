package nn

import (
	"fmt"

	"github.com/born-ml/encdec/internal/tensor"
)

// MaskedBias is the additive bias placed on blocked attention positions.
const MaskedBias = -1e10

// PairwiseFunc compares a query indicator with a key indicator.
type PairwiseFunc int

// Supported pairwise comparisons.
const (
	// PairwiseMultiply multiplies indicators; the default for padding masks.
	PairwiseMultiply PairwiseFunc = iota
	// PairwiseEqual yields 1 where values are equal (segment ids).
	PairwiseEqual
	// PairwiseLogicalAnd yields 1 where both values are non-zero.
	PairwiseLogicalAnd
	// PairwiseGreaterEqual yields 1 where query >= key (causal positions).
	PairwiseGreaterEqual
)

// MakeAttentionMask builds a [...extra, ...batch, 1, len_q, len_kv] mask
// from per-position indicators of shape [...batch, len_q] and
// [...batch, len_kv].
//
// extraBatchDims leading singleton axes are prepended to the result.
func MakeAttentionMask[T tensor.DType, B tensor.Backend](
	query, key *tensor.Tensor[T, B], fn PairwiseFunc, extraBatchDims int,
) (*tensor.Tensor[float32, B], error) {
	qs, ks := query.Shape(), key.Shape()
	if len(qs) < 1 || len(qs) != len(ks) {
		return nil, fmt.Errorf("attention mask: query %v and key %v ranks differ: %w",
			qs, ks, tensor.ErrShapeMismatch)
	}
	if _, _, err := tensor.BroadcastShapes(qs[:len(qs)-1], ks[:len(ks)-1]); err != nil {
		return nil, fmt.Errorf("attention mask: %w", err)
	}
	if extraBatchDims < 0 {
		return nil, fmt.Errorf("attention mask: negative extra batch dims %d: %w", extraBatchDims, tensor.ErrInvalidArgument)
	}

	q := tensor.Cast[float32](query).Unsqueeze(-1) // [..., q, 1]
	k := tensor.Cast[float32](key).Unsqueeze(-2)   // [..., 1, kv]

	var mask *tensor.Tensor[float32, B]
	switch fn {
	case PairwiseMultiply:
		mask = q.Mul(k)
	case PairwiseEqual:
		mask = tensor.Cast[float32](q.Equal(k))
	case PairwiseLogicalAnd:
		mask = tensor.Cast[float32](tensor.And(nonZero(q), nonZero(k)))
	case PairwiseGreaterEqual:
		mask = tensor.Cast[float32](q.GreaterEqual(k))
	default:
		return nil, fmt.Errorf("attention mask: unknown pairwise function %d: %w", fn, tensor.ErrInvalidArgument)
	}

	mask = mask.Unsqueeze(-3)
	if extraBatchDims > 0 {
		shape := make([]int, extraBatchDims, extraBatchDims+mask.Rank())
		for i := range shape {
			shape[i] = 1
		}
		mask = mask.Reshape(append(shape, mask.Shape()...)...)
	}
	return mask, nil
}

// MakeCausalMask builds a mask that lets position i attend to j <= i.
// Only the shape of x matters: [...batch, len] -> [...batch, 1, len, len].
func MakeCausalMask[T tensor.DType, B tensor.Backend](x *tensor.Tensor[T, B], extraBatchDims int) (*tensor.Tensor[float32, B], error) {
	shape := x.Shape()
	if len(shape) < 1 {
		return nil, fmt.Errorf("causal mask: input must have rank >= 1: %w", tensor.ErrShapeMismatch)
	}
	idxs := tensor.Arange[int32](shape[len(shape)-1], x.Backend()).Expand(shape)
	return MakeAttentionMask(idxs, idxs, PairwiseGreaterEqual, extraBatchDims)
}

// CombineMasks logically ANDs the non-nil masks, returning a 0/1 float mask.
//
// All non-nil masks must share a rank. Returns nil when every input is nil.
func CombineMasks[B tensor.Backend](masks ...*tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], error) {
	present, err := nonNil("combine masks", masks)
	if err != nil || len(present) == 0 {
		return nil, err
	}
	acc := nonZero(present[0])
	for _, m := range present[1:] {
		acc = tensor.And(acc, nonZero(m))
	}
	return tensor.Cast[float32](acc), nil
}

// CombineBiases sums the non-nil biases.
//
// All non-nil biases must share a rank. Returns nil when every input is nil.
func CombineBiases[B tensor.Backend](biases ...*tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], error) {
	present, err := nonNil("combine biases", biases)
	if err != nil || len(present) == 0 {
		return nil, err
	}
	acc := present[0]
	for _, b := range present[1:] {
		acc = acc.Add(b)
	}
	return acc, nil
}

// MaskToBias maps a 0/1 mask to an additive bias: 0 where the mask is
// positive, MaskedBias elsewhere. A nil mask gives a nil bias.
func MaskToBias[B tensor.Backend](mask *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if mask == nil {
		return nil
	}
	b := mask.Backend()
	zero := tensor.Zeros[float32, B](tensor.Shape{1}, b)
	allowed := mask.Greater(zero)
	return tensor.Where(allowed, zero, tensor.Full[float32, B](tensor.Shape{1}, MaskedBias, b))
}

// MakeDecoderMask builds the decoder self-attention mask for full-sequence
// decoding.
//
// The result combines:
//   - a causal mask, ORed with a bidirectional mask over positions where
//     causalAttention is non-zero (prefix-LM inputs), when causalAttention is given
//   - a padding mask that blocks queries and keys whose token is 0
//   - a segment-equality mask when segmentIDs is given (packed examples)
//
// targetTokens is [batch, len]; causalAttention and segmentIDs, when
// non-nil, have the same shape. The result is [batch, 1, len, len].
//
// Example: tokens [[1,1,1,1,1,1,0]], segment ids [[1,1,1,2,2,2,0]] and
// causal attention [[1,1,0,1,1,0,0]] let position 1 see positions 0-1,
// position 2 see 0-2 and position 4 see 3-4.
func MakeDecoderMask[B tensor.Backend](
	targetTokens, causalAttention, segmentIDs *tensor.Tensor[int32, B],
) (*tensor.Tensor[float32, B], error) {
	shape := targetTokens.Shape()
	for _, extra := range []*tensor.Tensor[int32, B]{causalAttention, segmentIDs} {
		if extra != nil && !extra.Shape().Equal(shape) {
			return nil, fmt.Errorf("decoder mask: indicator shape %v != target shape %v: %w",
				extra.Shape(), shape, tensor.ErrShapeMismatch)
		}
	}

	causal, err := MakeCausalMask(targetTokens, 0)
	if err != nil {
		return nil, err
	}
	if causalAttention != nil {
		inputs, err := MakeAttentionMask(causalAttention, causalAttention, PairwiseLogicalAnd, 0)
		if err != nil {
			return nil, err
		}
		causal = tensor.Cast[float32](tensor.Or(nonZero(causal), nonZero(inputs)))
	}

	notPad := tensor.Cast[int32](targetTokens.Greater(tensor.Zeros[int32, B](tensor.Shape{1}, targetTokens.Backend())))
	padding, err := MakeAttentionMask(notPad, notPad, PairwiseMultiply, 0)
	if err != nil {
		return nil, err
	}

	masks := []*tensor.Tensor[float32, B]{causal, padding}
	if segmentIDs != nil {
		seg, err := MakeAttentionMask(segmentIDs, segmentIDs, PairwiseEqual, 0)
		if err != nil {
			return nil, err
		}
		masks = append(masks, seg)
	}
	return CombineMasks(masks...)
}

// nonZero returns x != 0 as a bool tensor.
func nonZero[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[bool, B] {
	return tensor.Not(x.Equal(tensor.Zeros[float32, B](tensor.Shape{1}, x.Backend())))
}

// nonNil drops nil tensors and checks that the rest share a rank and
// broadcast together.
func nonNil[B tensor.Backend](op string, ts []*tensor.Tensor[float32, B]) ([]*tensor.Tensor[float32, B], error) {
	var present []*tensor.Tensor[float32, B]
	for _, t := range ts {
		if t != nil {
			present = append(present, t)
		}
	}
	if len(present) == 0 {
		return nil, nil
	}
	shape := present[0].Shape()
	for _, t := range present[1:] {
		if t.Rank() != len(shape) {
			return nil, fmt.Errorf("%s: rank mismatch %v vs %v: %w", op, present[0].Shape(), t.Shape(), tensor.ErrShapeMismatch)
		}
		var err error
		if shape, _, err = tensor.BroadcastShapes(shape, t.Shape()); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return present, nil
}
