// Package worker provides the bounded pool task attempts are executed on.
package worker

import (
	"context"
	"sync"
)

// Pool runs jobs on at most maxParallel goroutines. Results are delivered on a channel
// read by a single consumer.
type Pool[Job, Result any] struct {
	slots   chan struct{}
	results chan Result
	exec    func(context.Context, Job) Result

	wg sync.WaitGroup
}

// NewPool creates a pool. maxParallel values below one are treated as one.
func NewPool[Job, Result any](maxParallel int, exec func(context.Context, Job) Result) *Pool[Job, Result] {
	if maxParallel < 1 {
		maxParallel = 1
	}

	return &Pool[Job, Result]{
		slots: make(chan struct{}, maxParallel),

		// A consumer keeps at most maxParallel jobs outstanding, so sends never block.
		results: make(chan Result, maxParallel),
		exec:    exec,
	}
}

// TryDispatch starts the job if a slot is free and reports whether it did. It never
// blocks. A job's slot is released before its result is delivered, so a consumer that
// received a result can always dispatch another job.
func (p *Pool[Job, Result]) TryDispatch(ctx context.Context, job Job) bool {
	select {
	case p.slots <- struct{}{}:
	default:
		return false
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		r := p.exec(ctx, job)
		p.release()
		p.results <- r
	}()

	return true
}

func (p *Pool[Job, Result]) release() {
	<-p.slots
}

// Results returns the channel results are delivered on.
func (p *Pool[Job, Result]) Results() <-chan Result {
	return p.results
}

// Free returns the number of jobs that can be dispatched right now.
func (p *Pool[Job, Result]) Free() int {
	return cap(p.slots) - len(p.slots)
}

// Capacity returns the maximum number of parallel jobs.
func (p *Pool[Job, Result]) Capacity() int {
	return cap(p.slots)
}

// Wait blocks until all dispatched jobs have returned.
func (p *Pool[Job, Result]) Wait() {
	p.wg.Wait()
}
