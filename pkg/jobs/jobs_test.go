package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamBoundsConcurrency(t *testing.T) {
	pool := NewPool(3)
	items := make([]int, 30)
	for i := range items {
		items[i] = i
	}
	var running, peak int32
	results := Collect(context.Background(), pool, items, func(i int) int {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return i * 2
	}, func(i int, err error) int { return -1 })

	require.Len(t, results, 30)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	sum := 0
	for _, r := range results {
		sum += r
	}
	assert.Equal(t, 870, sum)
}

func TestPoolBoundIsSharedAcrossCalls(t *testing.T) {
	pool := NewPool(1)
	var running, peak int32
	work := func(i int) int {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return i
	}

	var wg sync.WaitGroup
	counts := make([]int, 4)
	for c := range counts {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			counts[c] = len(Collect(context.Background(), pool, []int{1, 2}, work, func(i int, err error) int { return -1 }))
		}(c)
	}
	wg.Wait()

	assert.Equal(t, []int{2, 2, 2, 2}, counts)
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestStreamReportsCanceledItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := Collect(ctx, NewPool(2), []string{"a", "b"}, func(s string) string {
		return "ran:" + s
	}, func(s string, err error) string {
		return "canceled:" + s
	})
	assert.ElementsMatch(t, []string{"canceled:a", "canceled:b"}, results)
}

func TestQueueRejectsDuplicateKeys(t *testing.T) {
	release := make(chan struct{})
	done := make(chan struct{}, 4)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		<-release
		done <- struct{}{}
		return nil
	}, QueueConfig{Workers: 1})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "1", Key: "class-1"}))
	err := q.Enqueue(Job{ID: "2", Key: "class-1"})
	assert.True(t, errors.Is(err, ErrDuplicateJob))

	close(release)
	<-done
	require.Eventually(t, func() bool {
		return q.Enqueue(Job{ID: "3", Key: "class-1"}) == nil
	}, time.Second, 10*time.Millisecond)
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	var attempts int32
	q := NewQueue("retry", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: 5 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job"}))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&attempts) == 3 }, time.Second, 5*time.Millisecond)
}
