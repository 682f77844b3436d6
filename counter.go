package stage

import "sync/atomic"

// Counter is a per-interval accumulator. A producer loop adds to it while a
// report loop periodically reads and clears it.
type Counter struct {
	n atomic.Int64
}

func (c *Counter) Add(n int64) {
	c.n.Add(n)
}

func (c *Counter) Load() int64 {
	return c.n.Load()
}

// ReadAndReset returns the current value and sets it to zero in one step,
// so no concurrent Add is lost between the read and the reset.
func (c *Counter) ReadAndReset() int64 {
	return c.n.Swap(0)
}
