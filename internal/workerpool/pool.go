// Package workerpool runs a fixed number of goroutines that drain a shared
// job channel. Submissions block while every worker is busy, which bounds the
// number of connections a server handles at once.
package workerpool

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned by Submit once the pool is stopping.
var ErrStopped = errors.New("worker pool stopped")

// Pool hands jobs of type T to a fixed set of workers.
type Pool[T any] struct {
	size    int
	handler func(ctx context.Context, job T)

	in     chan T
	wg     sync.WaitGroup
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New creates a pool of size workers. A size below one is treated as one.
func New[T any](size int, handler func(ctx context.Context, job T)) *Pool[T] {
	if size < 1 {
		size = 1
	}
	return &Pool[T]{
		size:    size,
		handler: handler,
		in:      make(chan T),
		cancel:  func() {},
		done:    make(chan struct{}),
	}
}

// Size returns the number of workers.
func (p *Pool[T]) Size() int { return p.size }

// Start launches the workers. They exit when ctx is cancelled or Stop is called.
func (p *Pool[T]) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case job := <-p.in:
					p.handler(ctx, job)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		<-ctx.Done()
		p.once.Do(func() { close(p.done) })
	}()
}

// Submit waits for an idle worker and hands it job.
func (p *Pool[T]) Submit(ctx context.Context, job T) error {
	select {
	case p.in <- job:
		return nil
	case <-p.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the workers' context and waits for in-flight jobs to return.
func (p *Pool[T]) Stop() {
	p.cancel()
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()
}
