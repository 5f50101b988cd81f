package queue

import (
	"context"
	"runtime"
	"sync"
)

// Pool bounds how many jobs of one queue run at once. A consumer acquires a
// slot before claiming so jobs never sit leased while waiting for a worker.
type Pool struct {
	wg  sync.WaitGroup
	sem chan struct{}
}

func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{sem: make(chan struct{}, workers)}
}

func (p *Pool) Size() int { return cap(p.sem) }

// Acquire blocks until a slot is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release gives back a slot taken by Acquire without running anything.
func (p *Pool) Release() { <-p.sem }

// Go runs task on an acquired slot and frees it afterwards.
func (p *Pool) Go(task func()) {
	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()
		task()
	}()
}

// Wait blocks until every started task returned.
func (p *Pool) Wait() { p.wg.Wait() }
