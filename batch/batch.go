// Package batch holds reusable per-batch buffers for the executor.
package batch

import (
	"sync/atomic"

	"github.com/samber/lo"

	"github.com/Ethan-cw/HighPerformanceComputing/kernel"
	"github.com/Ethan-cw/HighPerformanceComputing/wire"
)

// Entry holds the decoded inputs of one batch and the encoded results.
// An entry belongs to exactly one in-flight batch at a time.
type Entry struct {
	ids []uint64
	xs  []uint16
	ys  []uint16
	n   int

	out []byte
}

func NewEntry() *Entry {
	return &Entry{
		ids: make([]uint64, wire.BatchSize),
		xs:  make([]uint16, wire.BatchSize),
		ys:  make([]uint16, wire.BatchSize),
		out: make([]byte, wire.ResultBatchBytes),
	}
}

// Put appends one task. It panics if the entry is already full.
func (e *Entry) Put(t wire.Task) {
	e.ids[e.n] = t.ID
	e.xs[e.n] = t.X
	e.ys[e.n] = t.Y
	e.n++
}

// Fill decodes a whole task batch into the entry, replacing its contents.
func (e *Entry) Fill(src []byte) error {
	if len(src) != wire.TaskBatchBytes {
		return wire.ErrTruncated
	}
	e.n = 0
	for off := 0; off < len(src); off += wire.TaskSize {
		t, _ := wire.ReadTask(src[off:])
		e.Put(t)
	}
	return nil
}

func (e *Entry) Len() int {
	return e.n
}

func (e *Entry) Full() bool {
	return e.n == wire.BatchSize
}

// Task returns the i-th task.
func (e *Entry) Task(i int) wire.Task {
	return wire.Task{ID: e.ids[i], X: e.xs[i], Y: e.ys[i]}
}

// Execute computes every task and writes its result at the matching offset
// of the output buffer.
func (e *Entry) Execute() {
	for i := 0; i < e.n; i++ {
		_ = wire.PutResult(e.out[i*wire.ResultSize:], kernel.ComputeTask(e.Task(i)))
	}
}

// Output is the encoded result batch. It is only valid until Reset.
func (e *Entry) Output() []byte {
	return e.out[:e.n*wire.ResultSize]
}

func (e *Entry) Reset() {
	e.n = 0
}

// Pool recycles entries. Get never blocks: an empty pool allocates a fresh
// entry, so the number of live entries grows with the backlog. Put keeps at
// most capacity entries and leaves the rest to the garbage collector.
type Pool struct {
	entries   chan *Entry
	allocated atomic.Int64
}

// NewPool creates a pool retaining up to capacity entries, pre-filled with
// prefill of them.
func NewPool(capacity, prefill int) *Pool {
	capacity = max(1, capacity)
	p := &Pool{entries: make(chan *Entry, capacity)}
	lo.ForEach(lo.Range(min(max(0, prefill), capacity)), func(int, int) {
		p.entries <- p.alloc()
	})
	return p
}

func (p *Pool) alloc() *Entry {
	p.allocated.Add(1)
	return NewEntry()
}

func (p *Pool) Get() *Entry {
	select {
	case e := <-p.entries:
		return e
	default:
		return p.alloc()
	}
}

// Put resets e and returns it to the pool.
func (p *Pool) Put(e *Entry) {
	if e == nil {
		return
	}
	e.Reset()
	select {
	case p.entries <- e:
	default:
	}
}

// Len is the number of idle entries.
func (p *Pool) Len() int {
	return len(p.entries)
}

func (p *Pool) Cap() int {
	return cap(p.entries)
}

// Allocated is the number of entries ever allocated by the pool.
func (p *Pool) Allocated() int64 {
	return p.allocated.Load()
}
