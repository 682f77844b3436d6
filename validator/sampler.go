package validator

import (
	"math/rand/v2"
	"sync/atomic"
)

const (
	DefaultSampleRate  = 0.005
	DefaultSampleLimit = 100
)

// Sampler picks records independently with a fixed probability, up to a
// limit per reporting interval. Take must be called from a single
// goroutine; Reset may be called concurrently.
type Sampler struct {
	rate  float64
	limit int64
	float func() float64

	taken atomic.Int64
}

// NewSampler returns a sampler drawing from rnd, or from the shared
// math/rand/v2 source when rnd is nil.
func NewSampler(rate float64, limit int, rnd *rand.Rand) *Sampler {
	s := &Sampler{
		rate:  rate,
		limit: int64(limit),
		float: rand.Float64,
	}
	if rnd != nil {
		s.float = rnd.Float64
	}
	return s
}

// Take reports whether the next record is sampled.
func (s *Sampler) Take() bool {
	if s.taken.Load() >= s.limit {
		return false
	}
	if s.float() >= s.rate {
		return false
	}
	s.taken.Add(1)
	return true
}

// Taken is the number of records sampled in the current interval.
func (s *Sampler) Taken() int64 {
	return s.taken.Load()
}

// Reset starts a new interval and returns the previous interval's count.
func (s *Sampler) Reset() int64 {
	return s.taken.Swap(0)
}
