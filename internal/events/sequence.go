package events

import "sync/atomic"

// Sequence is a monotonic logical clock for event ordering. Every
// event gets a strictly increasing seq, which orders the outbox
// independently of wall-clock resolution.
type Sequence struct {
	seq atomic.Int64
}

// NewSequence returns a sequence whose first value is 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// NewSequenceAt returns a sequence resuming after start, e.g. the
// highest seq already in the outbox.
func NewSequenceAt(start int64) *Sequence {
	s := &Sequence{}
	s.seq.Store(start)
	return s
}

// Next returns the next value.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last value handed out.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
