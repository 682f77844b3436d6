package workerpool_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ethan-cw/HighPerformanceComputing/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_ProcessesAllSubmissions(t *testing.T) {
	var processed atomic.Int64
	var wg sync.WaitGroup

	pool := workerpool.New(func(_ context.Context, i int) {
		processed.Add(int64(i))
		wg.Done()
	}, nil, workerpool.WithWorkers(4), workerpool.WithQueueSize(128))

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	wg.Add(100)
	for i := 1; i <= 100; i++ {
		require.True(t, pool.Submit(i))
	}
	wg.Wait()

	cancel()
	pool.Wait()

	assert.EqualValues(t, 5050, processed.Load())
	assert.EqualValues(t, 0, pool.Dropped())
	assert.EqualValues(t, 100, pool.Submitted())
}

func TestPool_DropCurrentWhenFull(t *testing.T) {
	var released []int
	pool := workerpool.New(func(context.Context, int) {}, func(i int) {
		released = append(released, i)
	}, workerpool.WithQueueSize(4))

	// Workers not started: nothing drains the queue.
	accepted := 0
	for i := 0; i < 10; i++ {
		if pool.Submit(i) {
			accepted++
		}
		assert.LessOrEqual(t, pool.QueueLen(), 4)
	}

	assert.Equal(t, 4, accepted)
	assert.Equal(t, 4, pool.QueueLen())
	assert.EqualValues(t, 6, pool.Dropped())
	assert.Equal(t, []int{4, 5, 6, 7, 8, 9}, released)
}

func TestPool_DropOldestWhenFull(t *testing.T) {
	var released []int
	pool := workerpool.New(func(context.Context, int) {}, func(i int) {
		released = append(released, i)
	}, workerpool.WithQueueSize(4), workerpool.WithPolicy(workerpool.DropOldest))

	for i := 0; i < 10; i++ {
		assert.True(t, pool.Submit(i))
	}

	assert.Equal(t, 4, pool.QueueLen())
	assert.EqualValues(t, 6, pool.Dropped())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, released)
}

func TestPool_SubmitNeverBlocks(t *testing.T) {
	block := make(chan struct{})
	pool := workerpool.New(func(context.Context, int) { <-block }, nil,
		workerpool.WithWorkers(1), workerpool.WithQueueSize(2))

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			pool.Submit(i)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue")
	}

	assert.LessOrEqual(t, pool.QueueLen(), pool.QueueCap())
	assert.GreaterOrEqual(t, pool.Dropped(), int64(1000-3))

	close(block)
	cancel()
	pool.Wait()
}

func TestPool_WaitReleasesQueuedItems(t *testing.T) {
	var released atomic.Int64
	pool := workerpool.New(func(context.Context, int) {}, func(int) { released.Add(1) },
		workerpool.WithQueueSize(8))

	for i := 0; i < 5; i++ {
		pool.Submit(i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pool.Start(ctx)
	pool.Wait()

	assert.Equal(t, 0, pool.QueueLen())
	assert.LessOrEqual(t, released.Load(), int64(5))
}

func TestPool_Defaults(t *testing.T) {
	pool := workerpool.New(func(context.Context, int) {}, nil)
	assert.Equal(t, 10240, pool.QueueCap())
	assert.GreaterOrEqual(t, pool.Workers(), 2)
	assert.Equal(t, workerpool.DropCurrent, pool.Policy())
}
