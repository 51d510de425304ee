package pool

import (
	"context"
	"sync"
)

// WorkerPool bounds how many tasks run at once. Callers take a slot
// with Acquire before claiming work, so nothing is picked up that
// cannot start immediately.
type WorkerPool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewWorkerPool(maxWorkers int) *WorkerPool {
	return &WorkerPool{
		sem: make(chan struct{}, maxWorkers),
	}
}

// Acquire blocks until a slot frees or the context ends, reporting
// whether a slot was taken.
func (p *WorkerPool) Acquire(ctx context.Context) bool {
	select {
	case p.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

// Release returns a slot taken with Acquire that ended up unused.
func (p *WorkerPool) Release() {
	<-p.sem
}

// Go runs handler in a tracked goroutine on a slot the caller already
// holds; the slot frees when the handler returns.
func (p *WorkerPool) Go(ctx context.Context, taskID string, handler func(context.Context, string)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		handler(ctx, taskID)
	}()
}

// Wait blocks until every running handler has returned.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
