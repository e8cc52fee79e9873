package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidGranularity = errors.New("tick size and step size must be positive")
	ErrUnscalableValue    = errors.New("value is not a multiple of its granularity")
	ErrInvalidRounding    = errors.New("invalid rounding policy")
	ErrMalformedLevel     = errors.New("malformed price level")

	// Fatal for the SyncState that reported it, the book has to be rebuilt from a fresh snapshot.
	ErrSequenceGap = errors.New("order book update is out of sequence")
	// Returned for every delta offered to a SyncState after it reported a gap.
	ErrDesynchronized = errors.New("sync state is desynchronized")

	ErrStreamClosed      = errors.New("depth update stream closed")
	ErrOrderBookNotFound = errors.New("order book not found")
	ErrProviderNotFound  = errors.New("provider not found")
)

// SequenceGapError describes which update id was expected when a gap was detected.
type SequenceGapError struct {
	Expected uint64
	Got      uint64
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("%s: expected %d, got %d", ErrSequenceGap, e.Expected, e.Got)
}

func (e *SequenceGapError) Unwrap() error {
	return ErrSequenceGap
}
