package refresh

import (
	"context"
	"errors"
	"sync"
)

var ErrPoolClosed = errors.New("refresh pool closed")

// Job is a unit of work run by the pool.
type Job interface {
	Execute(ctx context.Context) JobResult
}

type JobResult interface {
	GetError() error
}

// Pool runs jobs on a fixed set of workers and hands every result to
// onResult as it completes.
type Pool struct {
	workers    int
	jobQueue   chan Job
	onResult   func(JobResult)
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex
	closed     bool
}

func NewPool(workers int, onResult func(JobResult)) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if onResult == nil {
		onResult = func(JobResult) {}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		workers:    workers,
		jobQueue:   make(chan Job, workers*2),
		onResult:   onResult,
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			p.onResult(job.Execute(p.ctx))
		}
	}
}

// Submit queues job, waiting for room until ctx is done.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolClosed
	case p.jobQueue <- job:
		return nil
	}
}

// Close stops accepting jobs, cancels the running ones and waits for the
// workers to return. Jobs still queued are dropped.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobQueue)
	}
	p.mu.Unlock()
	p.cancelFunc()
	p.wg.Wait()
}
