package book

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the book engine. All are terminal for the
// message that triggered them: the manager does not retry or self-heal.
var (
	ErrInvalidSide      = errors.New("side must be yes or no")
	ErrNegativeQuantity = errors.New("level quantity cannot go negative")
	ErrUnknownMarket    = errors.New("delta received before snapshot")
	ErrMissingSequence  = errors.New("missing sequence number")
	ErrMalformedMessage = errors.New("malformed feed message")
	ErrSequenceGap      = errors.New("sequence gap")
)

// SequenceGapError reports a non-consecutive sequence number on a logical
// channel. It matches ErrSequenceGap under errors.Is.
type SequenceGapError struct {
	Key      string
	Expected int64
	Got      int64
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("sequence gap on %q: expected %d, got %d", e.Key, e.Expected, e.Got)
}

func (e *SequenceGapError) Is(target error) bool {
	return target == ErrSequenceGap
}
