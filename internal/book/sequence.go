package book

// SequenceGuard tracks the last-accepted sequence number per logical key
// and rejects anything but the exact successor. One missed, duplicated, or
// reordered message is a terminal condition for that key: the guard fails
// instead of skipping. It tolerates no reordering.
//
// Keys are opaque; the manager scopes them per channel or per
// (channel, market) depending on configuration.
type SequenceGuard struct {
	last map[string]int64
}

// NewSequenceGuard returns a guard with no recorded sequence numbers.
func NewSequenceGuard() *SequenceGuard {
	return &SequenceGuard{last: make(map[string]int64)}
}

// Check validates seq against the last-accepted value for key. A nil seq
// fails with ErrMissingSequence. The first sequence seen for a key is
// accepted unconditionally; afterwards seq must equal last+1 or Check
// fails with a SequenceGapError. On success seq is recorded; on failure
// the recorded value is left untouched.
func (g *SequenceGuard) Check(key string, seq *int64) error {
	if seq == nil {
		return ErrMissingSequence
	}

	last, seen := g.last[key]
	if seen && *seq != last+1 {
		return &SequenceGapError{Key: key, Expected: last + 1, Got: *seq}
	}

	g.last[key] = *seq
	return nil
}

// Reset forgets all recorded sequence numbers. Called after a reconnect,
// since the upstream restarts numbering per connection.
func (g *SequenceGuard) Reset() {
	clear(g.last)
}
