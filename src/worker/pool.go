package worker

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
)

// Task produces an answer for one job. It should honor ctx but the pool does
// not rely on it.
type Task func(ctx context.Context) (string, error)

// ResultCallback is invoked on completion (from a worker goroutine).
// Callers that touch shared state should post back into their own loop.
type ResultCallback func(text string, err error)

// Pool is a fixed-size worker pool with a 1-slot input queue (strict back-pressure).
type Pool struct {
	jobs      chan job
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type job struct {
	ctx  context.Context
	name string
	task Task
	cb   ResultCallback
}

// New creates a worker pool. Size defaults to NumCPU when size<=0. Queue is 1 slot.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &Pool{jobs: make(chan job, 1)}
	p.start(size)
	return p
}

func (p *Pool) start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				log.Printf("Worker: starting %s", j.name)
				text, err := runWithContext(j.ctx, j.task)
				log.Printf("Worker: %s completed, text length=%d, err=%v", j.name, len(text), err)
				if j.cb != nil {
					j.cb(text, err)
				}
			}
		}()
	}
}

// Submit enqueues a job if the single-slot queue is free. Returns false if dropped.
func (p *Pool) Submit(ctx context.Context, name string, task Task, cb ResultCallback) bool {
	select {
	case p.jobs <- job{ctx: ctx, name: name, task: task, cb: cb}:
		return true
	default:
		return false
	}
}

// Close stops the pool after draining current work.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.jobs) })
	p.wg.Wait()
}

// runWithContext returns when either the task or ctx finishes. A task that
// ignores ctx keeps running in the background and its result is dropped.
func runWithContext(ctx context.Context, task Task) (text string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	type result struct {
		text string
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- result{err: fmt.Errorf("task panicked: %v", r)}
			}
		}()
		text, err := task(ctx)
		resCh <- result{text, err}
	}()
	select {
	case r := <-resCh:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
