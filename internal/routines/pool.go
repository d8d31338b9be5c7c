// Package routines provides a fixed-size goroutine pool.
package routines

import (
	"sync"
)

// Pool executes queued functions concurrently in a fixed number of
// goroutines.
// Queue never blocks, functions that can not be run immediately are buffered
// in an unbounded FIFO queue.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	work    []func()
	closed  bool
	workers sync.WaitGroup
}

// NewPool creates a pool and starts workers go-routines.
func NewPool(workers int) *Pool {
	if workers < 1 {
		panic("workers must be >=1")
	}

	p := Pool{}
	p.cond = sync.NewCond(&p.mu)

	p.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return &p
}

func (p *Pool) worker() {
	defer p.workers.Done()

	for {
		p.mu.Lock()
		for len(p.work) == 0 && !p.closed {
			p.cond.Wait()
		}

		if len(p.work) == 0 {
			p.mu.Unlock()
			return
		}

		fn := p.work[0]
		p.work[0] = nil
		p.work = p.work[1:]
		p.mu.Unlock()

		fn()
	}
}

// Queue schedules fn for execution.
// Queue panics when it is called after Wait.
func (p *Pool) Queue(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		panic("Queue called on terminated pool")
	}

	p.work = append(p.work, fn)
	p.cond.Signal()
}

// Wait runs all queued functions to completion and terminates the workers.
// No new functions can be queued afterwards.
func (p *Pool) Wait() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.workers.Wait()
}
