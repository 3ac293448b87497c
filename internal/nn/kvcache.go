package nn

import (
	"fmt"

	"github.com/born-ml/encdec/internal/tensor"
)

// AttentionCache holds the keys and values of one attention layer for one
// incremental decoding session.
//
// Key and Value are [batch, heads, head_dim, max_length]. Index is the slot
// the next step writes to. A write at Index touches only that slot of the
// length axis, via cache + new ⊗ one_hot(Index), and Key, Value and Index
// are replaced together or not at all.
//
// A cache created with NewAttentionCache is unallocated: the first
// attention call primes it (allocating zeros) and runs ordinary attention
// over its input. AllocateAttentionCache skips priming.
//
// A cache belongs to exactly one attention layer and one session.
//
// Example:
//
//	cache := nn.NewAttentionCache[B](maxLen)
//	for step := 0; step < n; step++ {
//	    out, err := mha.Forward(tok, tok, nil, nil, nn.MHAOptions{Cache: cache, ...})
//	}
type AttentionCache[B tensor.Backend] struct {
	Key       *tensor.Tensor[float32, B]
	Value     *tensor.Tensor[float32, B]
	Index     int
	MaxLength int
}

// NewAttentionCache creates an unallocated cache for up to maxLength steps.
func NewAttentionCache[B tensor.Backend](maxLength int) *AttentionCache[B] {
	return &AttentionCache[B]{MaxLength: maxLength}
}

// AllocateAttentionCache creates a zero-filled cache with cursor 0.
func AllocateAttentionCache[B tensor.Backend](batch, heads, headDim, maxLength int, backend B) *AttentionCache[B] {
	c := NewAttentionCache[B](maxLength)
	c.allocate(batch, heads, headDim, backend)
	return c
}

func (c *AttentionCache[B]) allocate(batch, heads, headDim int, backend B) {
	shape := tensor.Shape{batch, heads, headDim, c.MaxLength}
	c.Key = tensor.Zeros[float32, B](shape, backend)
	c.Value = tensor.Zeros[float32, B](shape, backend)
	c.Index = 0
}

// Initialized reports whether the key and value buffers exist.
func (c *AttentionCache[B]) Initialized() bool {
	return c.Key != nil
}

// append writes one step of key and value ([batch, 1, heads, head_dim]) at
// the cursor and returns the full cache as [batch, max_length, heads,
// head_dim] together with the slot that was written.
func (c *AttentionCache[B]) append(key, value *tensor.Tensor[float32, B]) (
	fullKey, fullValue *tensor.Tensor[float32, B], cur int, err error,
) {
	shape := c.Key.Shape()
	want := tensor.Shape{shape[0], 1, shape[1], shape[2]}
	if !key.Shape().Equal(want) || !value.Shape().Equal(want) {
		return nil, nil, 0, fmt.Errorf("attention cache: step key %v / value %v, want %v: %w",
			key.Shape(), value.Shape(), want, tensor.ErrShapeMismatch)
	}
	if c.Index >= c.MaxLength {
		return nil, nil, 0, fmt.Errorf("attention cache: full at %d steps: %w", c.MaxLength, tensor.ErrInvalidArgument)
	}

	cur = c.Index
	oneHot := tensor.Zeros[float32, B](tensor.Shape{c.MaxLength}, key.Backend())
	oneHot.Data()[cur] = 1

	// [b, 1, h, d] -> [b, h, d, 1] ⊗ [L] -> [b, h, d, L]
	newKey := c.Key.Add(key.Transpose(0, 2, 3, 1).Mul(oneHot))
	newValue := c.Value.Add(value.Transpose(0, 2, 3, 1).Mul(oneHot))

	c.Key, c.Value, c.Index = newKey, newValue, cur+1

	return newKey.Transpose(0, 3, 1, 2), newValue.Transpose(0, 3, 1, 2), cur, nil
}

// Reset zeroes the buffers and rewinds the cursor to 0.
func (c *AttentionCache[B]) Reset() {
	if !c.Initialized() {
		return
	}
	shape := c.Key.Shape()
	c.allocate(shape[0], shape[1], shape[2], c.Key.Backend())
}
