package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/cachescope/metric"
)

type tail struct {
	name  string
	block chan struct{}
	fail  bool
	panic bool
}

func runTail(_ context.Context, t tail) error {
	if t.block != nil {
		<-t.block
	}
	if t.panic {
		panic("handler exploded")
	}
	if t.fail {
		return errors.New("backend write failed")
	}
	return nil
}

func TestNewPool_Defaults(t *testing.T) {
	pool := NewPool(0, 0, runTail)
	assert.Equal(t, 4, pool.workers)
	assert.Equal(t, 256, pool.queueSize)

	assert.PanicsWithValue(t, ErrNilProcessor, func() {
		NewPool[tail](1, 1, nil)
	})
}

func TestPool_Lifecycle(t *testing.T) {
	pool := NewPool(2, 10, runTail)

	assert.ErrorIs(t, pool.Submit(tail{name: "early"}), ErrPoolNotStarted)

	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolAlreadyStarted)

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(tail{name: "refetch"}))
	}

	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, int64(5), pool.Stats().Processed)
	assert.ErrorIs(t, pool.Submit(tail{name: "late"}), ErrPoolStopped)
	assert.NoError(t, pool.Stop(time.Second))
}

func TestPool_QueueFullDrops(t *testing.T) {
	block := make(chan struct{})
	pool := NewPool(1, 1, runTail)
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(tail{block: block}))
	// Wait until the worker has taken the first item off the queue.
	require.Eventually(t, func() bool { return pool.Stats().QueueDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Submit(tail{block: block}))

	assert.ErrorIs(t, pool.Submit(tail{}), ErrQueueFull)
	assert.Equal(t, int64(1), pool.Stats().Dropped)

	close(block)
	require.NoError(t, pool.Stop(time.Second))
}

func TestPool_FailuresAndPanicsAreIsolated(t *testing.T) {
	var mu sync.Mutex
	var failed []string
	pool := NewPool(1, 10, runTail, WithErrorHandler(func(t tail, err error) {
		mu.Lock()
		failed = append(failed, t.name)
		mu.Unlock()
	}))
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(tail{name: "boom", panic: true}))
	require.NoError(t, pool.Submit(tail{name: "fail", fail: true}))
	require.NoError(t, pool.Submit(tail{name: "ok"}))
	require.NoError(t, pool.Stop(time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(3), stats.Processed)
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.Panicked)
	assert.Equal(t, []string{"boom", "fail"}, failed)
}

func TestPool_ContextCancellationStopsWorkers(t *testing.T) {
	var count int64
	pool := NewPool(2, 10, func(_ context.Context, _ tail) error {
		atomic.AddInt64(&count, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pool.Start(ctx))
	cancel()

	assert.NoError(t, pool.Stop(time.Second))
}

func TestPool_StopTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	pool := NewPool(1, 1, runTail)
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(tail{block: block}))
	require.Eventually(t, func() bool { return pool.Stats().QueueDepth == 0 }, time.Second, time.Millisecond)

	assert.ErrorIs(t, pool.Stop(10*time.Millisecond), ErrStopTimeout)
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pool := NewPool(1, 4, runTail, WithMetricsRegistry[tail](registry, "commands"))
	require.NotNil(t, pool.metrics)

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(tail{}))
	require.NoError(t, pool.Stop(time.Second))

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["cachescope_worker_submitted_total"])
	assert.True(t, names["cachescope_worker_processed_total"])
}
