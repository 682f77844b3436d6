package batch_test

import (
	"sync"
	"testing"

	"github.com/Ethan-cw/HighPerformanceComputing/batch"
	"github.com/Ethan-cw/HighPerformanceComputing/kernel"
	"github.com/Ethan-cw/HighPerformanceComputing/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func taskBatch(t *testing.T) []byte {
	t.Helper()
	tasks := make([]wire.Task, wire.BatchSize)
	for i := range tasks {
		tasks[i] = wire.NewTask(uint64(i+1), i%65535+1, i%17)
	}
	buf := make([]byte, wire.TaskBatchBytes)
	require.NoError(t, wire.EncodeTasks(buf, tasks))
	return buf
}

func TestEntryFillAndExecute(t *testing.T) {
	e := batch.NewEntry()
	require.NoError(t, e.Fill(taskBatch(t)))
	assert.True(t, e.Full())

	e.Execute()
	out := e.Output()
	require.Len(t, out, wire.ResultBatchBytes)

	results, err := wire.DecodeResults(nil, out)
	require.NoError(t, err)
	for i, r := range results {
		assert.Equal(t, e.Task(i), r.Task)
		assert.Equal(t, kernel.Compute(r.X, r.Y), r.Digest)
	}
}

func TestEntryFillRejectsPartialBatch(t *testing.T) {
	e := batch.NewEntry()
	assert.ErrorIs(t, e.Fill(make([]byte, wire.TaskSize*3)), wire.ErrTruncated)
}

func TestEntryReset(t *testing.T) {
	e := batch.NewEntry()
	e.Put(wire.Task{ID: 1, X: 2, Y: 3})
	assert.Equal(t, 1, e.Len())
	e.Reset()
	assert.Equal(t, 0, e.Len())
	assert.Empty(t, e.Output())
}

func TestPoolPrefill(t *testing.T) {
	p := batch.NewPool(8, 4)
	assert.Equal(t, 4, p.Len())
	assert.Equal(t, 8, p.Cap())
	assert.EqualValues(t, 4, p.Allocated())
}

func TestPoolAllocatesWhenEmpty(t *testing.T) {
	p := batch.NewPool(2, 1)
	a := p.Get()
	b := p.Get()
	assert.NotSame(t, a, b)
	assert.EqualValues(t, 2, p.Allocated())
	assert.Equal(t, 0, p.Len())

	p.Put(a)
	p.Put(b)
	assert.Equal(t, 2, p.Len())

	// Beyond capacity the entry is discarded instead of blocking.
	p.Put(batch.NewEntry())
	assert.Equal(t, 2, p.Len())
}

func TestPoolReusesEntries(t *testing.T) {
	p := batch.NewPool(1, 0)
	e := p.Get()
	e.Put(wire.Task{ID: 1})
	p.Put(e)

	again := p.Get()
	assert.Same(t, e, again)
	assert.Equal(t, 0, again.Len())
}

func TestPoolConcurrentUse(t *testing.T) {
	p := batch.NewPool(16, 8)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.Put(p.Get())
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, p.Len(), p.Cap())
}
