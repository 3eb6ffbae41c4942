package worker

import (
	"context"
	"fmt"
	"sync"
)

// Handler processes one job. Errors are the handler's to report.
type Handler func(ctx context.Context, job Job)

// Pool runs a fixed number of goroutines that drain a job channel.
type Pool struct {
	jobs    <-chan Job
	handle  Handler
	onPanic func(Job, error)
	size    int
}

type PoolOption func(*Pool)

func WithWorkerCount(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.size = n
		}
	}
}

// WithPanicHandler is told about handler panics. The worker survives them.
func WithPanicHandler(fn func(Job, error)) PoolOption {
	return func(p *Pool) {
		p.onPanic = fn
	}
}

func NewPool(jobs <-chan Job, handle Handler, opts ...PoolOption) *Pool {
	p := &Pool{
		jobs:   jobs,
		handle: handle,
		size:   4,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.size <= 0 {
		p.size = 1
	}
	if p.handle == nil {
		p.handle = func(context.Context, Job) {}
	}
	if p.onPanic == nil {
		p.onPanic = func(Job, error) {}
	}
	return p
}

// Start launches the workers. They exit when ctx is done or jobs is closed.
func (p *Pool) Start(ctx context.Context) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(p.size)
	for i := 0; i < p.size; i++ {
		go func() {
			defer wg.Done()
			p.loop(ctx)
		}()
	}
	return &wg
}

func (p *Pool) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(ctx, job)
		}
	}
}

func (p *Pool) run(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.onPanic(job, fmt.Errorf("handler panic: %v", r))
		}
	}()
	p.handle(ctx, job)
}
