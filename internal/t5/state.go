package t5

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/born-ml/encdec/internal/nn"
	"github.com/born-ml/encdec/internal/tensor"
)

// DecodeState is the mutable state of one incremental decoding session:
// one self-attention cache per decoder layer plus the position cursor.
//
// A state belongs to one model and one session. It must not be shared
// between goroutines or reused across sessions without Reset.
type DecodeState[B tensor.Backend] struct {
	ID uuid.UUID

	caches    []*nn.AttentionCache[B]
	cursor    nn.PositionCursor
	maxLength int
	primed    bool
}

// NewDecodeState creates a session whose caches are allocated up front for
// batch sequences of up to maxLength steps. The first Decode call is
// already an incremental step.
func (m *Transformer[B]) NewDecodeState(batch, maxLength int) (*DecodeState[B], error) {
	s, err := m.newState(maxLength)
	if err != nil {
		return nil, err
	}
	if batch <= 0 {
		return nil, fmt.Errorf("decode state: batch must be positive, got %d: %w", batch, tensor.ErrInvalidArgument)
	}
	for i := range s.caches {
		s.caches[i] = nn.AllocateAttentionCache(batch, m.cfg.NumHeads, m.cfg.HeadDim, maxLength, m.backend)
	}
	s.primed = true
	m.logger.Debug("decode session created", "session", s.ID, "batch", batch, "max_length", maxLength)
	return s, nil
}

// NewPrimingDecodeState creates a session with unallocated caches. The
// first Decode call primes it: it allocates every cache, runs ordinary
// attention over its input and leaves the cursor at the first position.
func (m *Transformer[B]) NewPrimingDecodeState(maxLength int) (*DecodeState[B], error) {
	s, err := m.newState(maxLength)
	if err != nil {
		return nil, err
	}
	for i := range s.caches {
		s.caches[i] = nn.NewAttentionCache[B](maxLength)
	}
	m.logger.Debug("decode session created", "session", s.ID, "max_length", maxLength, "primed", false)
	return s, nil
}

func (m *Transformer[B]) newState(maxLength int) (*DecodeState[B], error) {
	if maxLength <= 0 || maxLength > m.cfg.MaxLength {
		return nil, fmt.Errorf("decode state: max length %d outside [1, %d]: %w",
			maxLength, m.cfg.MaxLength, tensor.ErrInvalidArgument)
	}
	return &DecodeState[B]{
		ID:        uuid.New(),
		caches:    make([]*nn.AttentionCache[B], m.cfg.NumDecoderLayers),
		maxLength: maxLength,
	}, nil
}

// Steps returns the number of incremental steps taken so far.
func (s *DecodeState[B]) Steps() int {
	return s.cursor.Position() + 1
}

// MaxLength returns the session's step capacity.
func (s *DecodeState[B]) MaxLength() int {
	return s.maxLength
}

// Primed reports whether the caches are allocated.
func (s *DecodeState[B]) Primed() bool {
	return s.primed
}

// Caches returns the per-layer self-attention caches.
func (s *DecodeState[B]) Caches() []*nn.AttentionCache[B] {
	return s.caches
}

// Reset zeroes every cache and rewinds the cursor, keeping allocations.
func (s *DecodeState[B]) Reset() {
	for _, c := range s.caches {
		c.Reset()
	}
	s.cursor = nn.PositionCursor{}
}

// decodeSnapshot is the state before a step. Cache writes replace the key
// and value tensors instead of mutating them, so copying the cache structs
// is enough to undo a step.
type decodeSnapshot[B tensor.Backend] struct {
	caches []nn.AttentionCache[B]
	cursor nn.PositionCursor
}

func (s *DecodeState[B]) snapshot() decodeSnapshot[B] {
	snap := decodeSnapshot[B]{
		caches: make([]nn.AttentionCache[B], len(s.caches)),
		cursor: s.cursor,
	}
	for i, c := range s.caches {
		snap.caches[i] = *c
	}
	return snap
}

// restore rewinds every cache and the cursor to snap. A step that fails
// halfway through the layers leaves no trace.
func (s *DecodeState[B]) restore(snap decodeSnapshot[B]) {
	for i, c := range s.caches {
		*c = snap.caches[i]
	}
	s.cursor = snap.cursor
}

// check validates an incoming step of [batch, length] tokens against the
// state without changing it.
func (s *DecodeState[B]) check(layers, batch, length int) error {
	if len(s.caches) != layers {
		return fmt.Errorf("decode state %s: %d caches for %d decoder layers: %w",
			s.ID, len(s.caches), layers, tensor.ErrInvalidArgument)
	}
	if !s.primed {
		if length > s.maxLength {
			return fmt.Errorf("decode state %s: priming length %d exceeds max length %d: %w",
				s.ID, length, s.maxLength, tensor.ErrInvalidArgument)
		}
		return nil
	}
	if length != 1 {
		return fmt.Errorf("decode state %s: incremental step takes one token per sequence, got %d: %w",
			s.ID, length, tensor.ErrShapeMismatch)
	}
	if s.Steps() >= s.maxLength {
		return fmt.Errorf("decode state %s: all %d steps used: %w", s.ID, s.maxLength, tensor.ErrInvalidArgument)
	}
	for _, c := range s.caches {
		if c.Key.Shape()[0] != batch {
			return fmt.Errorf("decode state %s: cache batch %d, step batch %d: %w",
				s.ID, c.Key.Shape()[0], batch, tensor.ErrShapeMismatch)
		}
	}
	return nil
}
