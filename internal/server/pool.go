package server

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// enginePool bounds how many engine invocations run at once so that slow
// analyses cannot starve the rest of the server.
type enginePool struct {
	sem     *semaphore.Weighted
	size    int64
	timeout time.Duration

	running atomic.Int64
	waiting atomic.Int64
}

func newEnginePool(workers int, timeout time.Duration) *enginePool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &enginePool{
		sem:     semaphore.NewWeighted(int64(workers)),
		size:    int64(workers),
		timeout: timeout,
	}
}

// PoolStats is reported by /health.
type PoolStats struct {
	Size    int64 `json:"size"`
	Running int64 `json:"running"`
	Waiting int64 `json:"waiting"`
}

func (p *enginePool) stats() PoolStats {
	return PoolStats{Size: p.size, Running: p.running.Load(), Waiting: p.waiting.Load()}
}

// runPooled waits for a worker slot, then runs job on its own goroutine.
//
// Waiting honours ctx: a caller that goes away while queued never starts
// the job and gets ErrAbandoned. Once started the job cannot be cancelled
// by ctx; it runs to completion on a detached context bounded only by the
// pool timeout. If ctx ends first the caller returns ctx.Err() and the
// job's result is dropped, so jobs must clean up after themselves.
func runPooled[T any](ctx context.Context, p *enginePool, job func(context.Context) T) (T, error) {
	var zero T

	p.waiting.Add(1)
	err := p.sem.Acquire(ctx, 1)
	p.waiting.Add(-1)
	if err != nil {
		return zero, ErrAbandoned
	}

	jobCtx := context.WithoutCancel(ctx)
	cancel := context.CancelFunc(func() {})
	if p.timeout > 0 {
		jobCtx, cancel = context.WithTimeout(jobCtx, p.timeout)
	}

	done := make(chan T, 1)
	p.running.Add(1)
	go func() {
		defer p.sem.Release(1)
		defer p.running.Add(-1)
		defer cancel()
		done <- job(jobCtx)
	}()

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
