// Package work runs CPU-bound steps on a fixed number of workers so that
// network concurrency never turns into unbounded parsing and hashing.
package work

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

var ErrStopped = errors.New("work pool stopped")

type job struct {
	fn   func() error
	done chan error
}

// Pool is a fixed set of workers fed by callers blocked in Do.
type Pool struct {
	workers int
	jobs    chan job
	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	completed atomic.Int64
	failed    atomic.Int64
}

// Stats are cumulative since Start.
type Stats struct {
	Workers   int
	Completed int64
	Failed    int64
}

// NewPool creates a pool with the given number of workers. If workers <= 0,
// uses runtime.NumCPU().
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{
		workers: workers,
		jobs:    make(chan job),
		stop:    make(chan struct{}),
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop lets running jobs finish and makes further Do calls fail.
func (p *Pool) Stop() {
	p.once.Do(func() { close(p.stop) })
	p.wg.Wait()
}

// Do runs fn on a worker and returns its error. It returns early with
// ctx.Err() when ctx ends before a worker picks the job up; a job already
// running is waited for.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j := job{fn: fn, done: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stop:
		return ErrStopped
	case p.jobs <- j:
	}
	return <-j.done
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case j := <-p.jobs:
			err := j.fn()
			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}
			j.done <- err
		}
	}
}
