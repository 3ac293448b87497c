package nn

import (
	"fmt"

	"github.com/born-ml/encdec/internal/tensor"
)

// PositionCursor tracks the next position of a FixedEmbed during
// incremental decoding.
//
// The zero value is ready to use: it reports position -1, and each Next
// call advances first, so the first decode step reads position 0.
type PositionCursor struct {
	steps int
}

// Next advances the cursor and returns the new position.
func (c *PositionCursor) Next() int {
	c.steps++
	return c.steps - 1
}

// Position returns the last position handed out, or -1 before the first step.
func (c *PositionCursor) Position() int {
	return c.steps - 1
}

// FixedEmbed is a non-learned position table, sinusoidal by default.
//
// The table is not a parameter and is absent from state dicts.
type FixedEmbed[B tensor.Backend] struct {
	table     *tensor.Tensor[float32, B] // [maxLength, features]
	features  int
	maxLength int
}

// NewFixedEmbed precomputes a [maxLength, features] table with init
// (Sinusoidal(1, 10000) when nil).
func NewFixedEmbed[B tensor.Backend](features, maxLength int, init Initializer, backend B) (*FixedEmbed[B], error) {
	if init == nil {
		init = Sinusoidal(1, 10000)
	}
	r, err := init(nil, tensor.Shape{maxLength, features}, tensor.Float32)
	if err != nil {
		return nil, fmt.Errorf("fixed embed: %w", err)
	}
	return &FixedEmbed[B]{
		table:     tensor.New[float32, B](r, backend),
		features:  features,
		maxLength: maxLength,
	}, nil
}

// Forward returns the rows for integer positions: [...] -> [..., features].
func (f *FixedEmbed[B]) Forward(positions *tensor.RawTensor) (*tensor.Tensor[float32, B], error) {
	if !positions.DType().IsInteger() {
		return nil, fmt.Errorf("fixed embed: position dtype %s is not integer: %w", positions.DType(), tensor.ErrInvalidArgument)
	}
	for i := 0; i < positions.NumElements(); i++ {
		if p := positions.Float64At(i); p < 0 || p >= float64(f.maxLength) {
			return nil, fmt.Errorf("fixed embed: position %v out of range [0, %d): %w", p, f.maxLength, tensor.ErrInvalidArgument)
		}
	}
	return tensor.Embedding(f.table, positions), nil
}

// ForwardDecode returns the [1, features] row for the cursor's next
// position and advances the cursor. The cursor is left unchanged on error.
func (f *FixedEmbed[B]) ForwardDecode(cursor *PositionCursor) (*tensor.Tensor[float32, B], error) {
	if next := cursor.Position() + 1; next >= f.maxLength {
		return nil, fmt.Errorf("fixed embed: decode position %d exceeds max length %d: %w",
			next, f.maxLength, tensor.ErrInvalidArgument)
	}
	return f.table.Narrow(0, cursor.Next(), 1), nil
}

// Table returns the precomputed table.
func (f *FixedEmbed[B]) Table() *tensor.Tensor[float32, B] {
	return f.table
}
