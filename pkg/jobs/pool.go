package jobs

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool caps how many tasks run at the same time. The bound is shared by every Stream or
// Collect call made on the same pool.
type Pool struct {
	size int
	sem  *semaphore.Weighted
}

// NewPool builds a pool with at most size concurrent tasks.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{size: size, sem: semaphore.NewWeighted(int64(size))}
}

// Size reports the concurrency bound.
func (p *Pool) Size() int {
	if p == nil {
		return 1
	}
	return p.size
}

// Stream runs work for every item on the pool and emits one value per item on the returned
// channel, in completion order. Items that have not started when ctx is done are reported
// through canceled instead of work. Started items always run to completion. The channel is
// closed once every item has produced its value.
func Stream[In, Out any](ctx context.Context, p *Pool, items []In, work func(In) Out, canceled func(In, error) Out) <-chan Out {
	if p == nil || p.sem == nil {
		p = NewPool(p.Size())
	}
	out := make(chan Out, len(items))
	go func() {
		defer close(out)
		var g errgroup.Group
		for _, item := range items {
			item := item
			if err := ctx.Err(); err != nil {
				out <- canceled(item, err)
				continue
			}
			if err := p.sem.Acquire(ctx, 1); err != nil {
				out <- canceled(item, err)
				continue
			}
			g.Go(func() error {
				defer p.sem.Release(1)
				out <- work(item)
				return nil
			})
		}
		_ = g.Wait()
	}()
	return out
}

// Collect drains Stream into a slice.
func Collect[In, Out any](ctx context.Context, p *Pool, items []In, work func(In) Out, canceled func(In, error) Out) []Out {
	results := make([]Out, 0, len(items))
	for r := range Stream(ctx, p, items, work, canceled) {
		results = append(results, r)
	}
	return results
}
