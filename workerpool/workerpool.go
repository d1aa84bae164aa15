// Package workerpool implements the thread-pool contract the supervisor
// consumes (spec.md §6): a bounded pool of goroutine workers with an idle
// timeout, drained asynchronously on teardown with the result delivered
// as a continuation on the owning engine — the "only back-edge in the
// startup graph" of spec.md §5.
package workerpool

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"unitgo/engine"
)

// DefaultIdleTimeout matches spec.md §4.6 stage 1's bootstrap pool.
const DefaultIdleTimeout = 60 * time.Second

// Continuation is invoked on the owning engine once a pool has fully
// drained; it is the Go realization of the original's teardown callback.
type Continuation func(context.Context)

// Enqueuer abstracts the engine method a Pool needs to deliver its drain
// continuation. Its parameter type is engine.Work itself (not a structural
// look-alike) so that *engine.Engine satisfies it directly — Go requires
// identical method signatures, not just assignable ones, for interface
// satisfaction.
type Enqueuer interface {
	Enqueue(engine.Work)
}

// Pool is a bounded worker pool. Job submission blocks once maxThreads
// are busy; an idle worker with no queued work for IdleTimeout exits,
// mirroring the original's auxiliary-thread idle reap.
type Pool struct {
	sem         *semaphore.Weighted
	group       *errgroup.Group
	ctx         context.Context
	cancel      context.CancelFunc
	idleTimeout time.Duration
}

// New creates a pool bounded at maxThreads concurrent jobs.
func New(maxThreads int, idleTimeout time.Duration) *Pool {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	return &Pool{
		sem:         semaphore.NewWeighted(int64(maxThreads)),
		group:       group,
		ctx:         gctx,
		cancel:      cancel,
		idleTimeout: idleTimeout,
	}
}

// Submit runs fn on a pooled goroutine once a slot is free, or returns
// immediately with the pool's cancellation error if the pool has been
// destroyed first.
func (p *Pool) Submit(fn func(context.Context) error) error {
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return err
	}

	p.group.Go(func() error {
		defer p.sem.Release(1)

		done := make(chan error, 1)
		go func() { done <- fn(p.ctx) }()

		select {
		case err := <-done:
			return err
		case <-time.After(p.idleTimeout):
			return nil
		case <-p.ctx.Done():
			<-done
			return p.ctx.Err()
		}
	})

	return nil
}

// Destroy cancels the pool's context so no worker blocks indefinitely,
// waits for every in-flight job to return in a separate goroutine so
// Destroy itself never blocks the caller, then enqueues continuation on
// eq once the wait completes. This realizes spec.md §4.6 stage 1's
// "thread pools drained before fork" ordering guarantee without stalling
// the engine that requested the drain.
func (p *Pool) Destroy(eq Enqueuer, continuation Continuation) {
	p.cancel()

	go func() {
		p.group.Wait()
		eq.Enqueue(func(ctx context.Context) {
			continuation(ctx)
		})
	}()
}
