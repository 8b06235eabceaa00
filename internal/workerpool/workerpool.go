// If you are AI: This file implements a bounded worker pool used as the
// I/O worker pool of spec.md §4.2/§5 (one goroutine per accepted
// connection, but bounded so a connection storm can't exhaust memory);
// transcode jobs do not run through it.
// Grounded on the teacher's relay.Manager/transcode.Manager goroutine-
// per-task + sync.WaitGroup lifecycle pattern
// (internal/svc/relay/manager.go), generalized with a semaphore for
// bounded concurrency and golang.org/x/sync/errgroup for coordinated
// cancellation and first-error propagation, which the teacher's
// hand-rolled done-channel/select pattern doesn't give you.
package workerpool

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Pool runs bounded-concurrency work items, each cancellable via the
// context passed to Submit, and tracks outstanding work for Wait/Stop.
type Pool struct {
	sem     chan struct{}
	group   *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	running int
}

// New builds a Pool that runs at most maxConcurrent items at a time. A
// maxConcurrent <= 0 means unbounded (still tracked for Stop/Wait).
func New(parent context.Context, maxConcurrent int) *Pool {
	ctx, cancel := context.WithCancel(parent)
	group, gctx := errgroup.WithContext(ctx)
	var sem chan struct{}
	if maxConcurrent > 0 {
		sem = make(chan struct{}, maxConcurrent)
	}
	return &Pool{
		sem:    sem,
		group:  group,
		ctx:    gctx,
		cancel: cancel,
	}
}

// Context returns the pool's context, cancelled by Stop or by the first
// worker error (errgroup semantics).
func (p *Pool) Context() context.Context { return p.ctx }

// Submit runs fn in a new goroutine once a concurrency slot is free. It
// never blocks the caller waiting for the slot to free; the wait happens
// inside the spawned goroutine so Submit itself is always non-blocking
// to the producer loop (e.g. an Accept loop must keep accepting).
func (p *Pool) Submit(fn func(ctx context.Context) error) {
	p.mu.Lock()
	p.running++
	p.mu.Unlock()

	p.group.Go(func() error {
		defer func() {
			p.mu.Lock()
			p.running--
			p.mu.Unlock()
		}()

		if p.sem != nil {
			select {
			case p.sem <- struct{}{}:
				defer func() { <-p.sem }()
			case <-p.ctx.Done():
				return nil
			}
		}

		select {
		case <-p.ctx.Done():
			return nil
		default:
		}
		return fn(p.ctx)
	})
}

// Running returns the number of work items currently submitted (queued
// for a slot or executing).
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stop cancels the pool's context, signalling every in-flight worker to
// wind down, then waits for them to return.
func (p *Pool) Stop() error {
	p.cancel()
	return p.group.Wait()
}

// Wait blocks until every submitted item has returned, without
// cancelling the pool's context first (use for graceful drain).
func (p *Pool) Wait() error {
	return p.group.Wait()
}
