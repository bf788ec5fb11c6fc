package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// PoolMetrics tracks worker pool counters.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when a group is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// WorkerPool bounds how many steps run at once across all executions.
type WorkerPool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics PoolMetrics
	mu      sync.Mutex
	done    chan struct{}
	closed  bool
}

// NewWorkerPool creates a pool running at most size steps at once.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
}

// RunGroup starts every task, at most the pool size at a time, and returns
// once all started tasks have returned. If ctx ends or the pool shuts down
// before a task gets a slot, the remaining tasks are not started and the
// error is returned after the started ones finish. A panicking task is
// counted and otherwise ignored.
func (p *WorkerPool) RunGroup(ctx context.Context, tasks []func(context.Context)) error {
	var (
		group sync.WaitGroup
		err   error
	)
	for _, task := range tasks {
		if err = p.acquire(ctx); err != nil {
			break
		}
		group.Add(1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					atomic.AddInt64(&p.metrics.Panics, 1)
				}
				atomic.AddInt64(&p.metrics.Active, -1)
				atomic.AddInt64(&p.metrics.Completed, 1)
				<-p.sem
				p.wg.Done()
				group.Done()
			}()
			task(ctx)
		}()
	}
	group.Wait()
	return err
}

func (p *WorkerPool) acquire(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// wg.Add must happen under the lock so Shutdown's Wait cannot race it.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.metrics.Active, 1)
	return nil
}

// Shutdown rejects new groups and waits for running tasks.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the pool counters.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
	}
}
