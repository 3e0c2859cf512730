package pipeline

import (
	"context"
	"fmt"

	"github.com/panjf2000/ants/v2"
)

// handlePool hands out inference handles that are not safe for concurrent
// use. Each worker checks a handle out for the duration of one call.
type handlePool[T any] struct {
	ch chan T
}

func newHandlePool[T any](handles []T) *handlePool[T] {
	p := &handlePool[T]{ch: make(chan T, len(handles))}
	for _, h := range handles {
		p.ch <- h
	}
	return p
}

func (p *handlePool[T]) acquire(ctx context.Context) (T, error) {
	select {
	case h := <-p.ch:
		return h, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (p *handlePool[T]) release(h T) {
	p.ch <- h
}

// workerPool wraps a bounded ants pool shared by all sessions. Submission
// blocks when every worker is busy, which is the back-pressure mechanism.
type workerPool struct {
	pool *ants.Pool
}

func newWorkerPool(size int) (*workerPool, error) {
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("pipeline: create worker pool: %w", err)
	}
	return &workerPool{pool: pool}, nil
}

// run executes fn on a pool worker and waits for it to finish. The function
// itself is responsible for observing ctx between pipeline stages.
func (w *workerPool) run(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan struct{})
	if err := w.pool.Submit(func() {
		defer close(done)
		fn()
	}); err != nil {
		return fmt.Errorf("pipeline: submit: %w", err)
	}
	<-done
	return nil
}

func (w *workerPool) release() {
	w.pool.Release()
}
