package workerspool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_StartIfAvailable(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(1)

	release := make(chan struct{})
	var wg sync.WaitGroup
	var started int
	for range 2 * goroutineToParallelismRatio {
		wg.Add(1)
		ok := pool.StartIfAvailable(func() {
			defer wg.Done()
			<-release
		})
		if ok {
			started++
		} else {
			wg.Done()
		}
	}
	assert.Equal(t, goroutineToParallelismRatio, started)
	close(release)
	wg.Wait()

	// Disabled parallelism never starts goroutines.
	pool.SetMaxParallelism(0)
	assert.False(t, pool.IsEnabled())
	assert.False(t, pool.StartIfAvailable(func() {}))
}

func TestPool_WaitToStart(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(2)
	var count atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		pool.WaitToStart(func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			count.Add(1)
		})
	}
	wg.Wait()
	assert.Equal(t, int32(20), count.Load())
}

func TestPool_ParallelFor(t *testing.T) {
	for _, parallelism := range []int{0, 1, 4, -1} {
		pool := New()
		pool.SetMaxParallelism(parallelism)
		const numItems = 1000
		var visited [numItems]atomic.Int32
		var numCalls atomic.Int32
		pool.ParallelFor(numItems, 10, func(start, end int) {
			numCalls.Add(1)
			for ii := start; ii < end; ii++ {
				visited[ii].Add(1)
			}
		})
		for ii := range numItems {
			require.Equalf(t, int32(1), visited[ii].Load(), "item %d with parallelism %d", ii, parallelism)
		}
		if parallelism == 0 || parallelism == 1 {
			assert.Equal(t, int32(1), numCalls.Load())
		} else {
			assert.Greater(t, numCalls.Load(), int32(1))
		}
	}

	// Nothing to do.
	pool := New()
	pool.ParallelFor(0, 10, func(start, end int) { t.Fatal("should not be called") })
}

func TestPool_ParallelForPanics(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(4)
	var completed atomic.Int32
	require.PanicsWithValue(t, "boom", func() {
		pool.ParallelFor(100, 10, func(start, end int) {
			if start == 0 {
				panic("boom")
			}
			completed.Add(1)
		})
	})
	assert.Equal(t, int32(3), completed.Load())
}
