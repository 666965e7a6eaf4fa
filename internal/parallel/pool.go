// Package parallel provides a fixed-size worker pool and an order-preserving
// parallel map built on top of it.
package parallel

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ErrInvalidWorkers is returned by NewPool when the worker count is not positive.
var ErrInvalidWorkers = errors.New("worker count must be positive")

// ErrPoolClosed is reported by an Iterator whose pool was closed before all
// of its results were delivered.
var ErrPoolClosed = errors.New("worker pool closed")

// Pool is a fixed set of goroutines executing submitted tasks. No goroutine is
// created per task. A Pool may serve several iterators, one after the other or
// concurrently, but a task must never submit work to its own pool and wait for
// it.
type Pool struct {
	tasks   chan func()
	quit    chan struct{}
	workers int

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// DefaultWorkers returns one worker per available CPU.
func DefaultWorkers() int {
	return runtime.NumCPU()
}

// NewPool starts workers goroutines. It fails synchronously, before anything
// is started, if workers <= 0.
func NewPool(workers int) (*Pool, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWorkers, workers)
	}
	p := &Pool{
		tasks:   make(chan func()),
		quit:    make(chan struct{}),
		workers: workers,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p, nil
}

// Workers returns the size of the pool.
func (p *Pool) Workers() int { return p.workers }

// Close stops accepting tasks and waits for running tasks to return.
// Iterators still draining the pool end with ErrPoolClosed. Close is
// idempotent.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.quit) })
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task := <-p.tasks:
			task()
		case <-p.quit:
			return
		}
	}
}

// submit hands task to an idle worker. It returns false without running the
// task if stop fires or the pool is closed first.
func (p *Pool) submit(task func(), stop <-chan struct{}) bool {
	select {
	case p.tasks <- task:
		return true
	case <-stop:
		return false
	case <-p.quit:
		return false
	}
}
