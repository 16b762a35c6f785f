package calls

import (
	"sync/atomic"
	"time"
)

// Sequence hands out process-unique call ids.
// Ids only grow, so two calls created while the durable store is down never collide.
type Sequence struct {
	last atomic.Int64
}

// NewSequence starts after the given id.
func NewSequence(after int64) *Sequence {
	s := &Sequence{}
	s.last.Store(after)
	return s
}

// SeedAfter picks the starting point for a process's Sequence: the highest stored id
// or the current Unix millisecond, whichever is larger. A restart with in-memory
// records still hands out ids above anything a shared correlation store may hold.
func SeedAfter(stored int64, now time.Time) int64 {
	return max(stored, now.UnixMilli())
}

func (s *Sequence) Next() int64 { return s.last.Add(1) }
