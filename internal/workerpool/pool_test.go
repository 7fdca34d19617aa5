package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsJobs(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int
		wg   sync.WaitGroup
	)
	p := New(3, func(_ context.Context, n int) {
		defer wg.Done()
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
	})
	p.Start(context.Background())
	defer p.Stop()

	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), i))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 10)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	release := make(chan struct{})
	p := New(2, func(_ context.Context, _ int) {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		active.Add(-1)
	})
	p.Start(context.Background())

	require.NoError(t, p.Submit(context.Background(), 1))
	require.NoError(t, p.Submit(context.Background(), 2))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, 3)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "third job must wait for a free worker")

	close(release)
	p.Stop()
	assert.Equal(t, int32(2), peak.Load())
}

func TestPoolSubmitAfterStop(t *testing.T) {
	p := New(1, func(context.Context, int) {})
	p.Start(context.Background())
	p.Stop()

	assert.ErrorIs(t, p.Submit(context.Background(), 1), ErrStopped)
	assert.Equal(t, 1, p.Size())
}
