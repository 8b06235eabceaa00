package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := New(context.Background(), 2)
	var current int32
	var maxSeen int32
	release := make(chan struct{})

	for i := 0; i < 5; i++ {
		p.Submit(func(ctx context.Context) error {
			n := atomic.AddInt32(&current, 1)
			for {
				old := atomic.LoadInt32(&maxSeen)
				if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&current, -1)
			return nil
		})
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	if err := p.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if maxSeen > 2 {
		t.Errorf("expected at most 2 concurrent workers, saw %d", maxSeen)
	}
}

func TestPoolStopCancelsContext(t *testing.T) {
	p := New(context.Background(), 0)
	started := make(chan struct{})
	cancelled := make(chan struct{})

	p.Submit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return nil
	})

	<-started
	if err := p.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-cancelled:
	default:
		t.Error("expected worker context to be cancelled by Stop")
	}
}

func TestPoolRunningCount(t *testing.T) {
	p := New(context.Background(), 0)
	block := make(chan struct{})
	p.Submit(func(ctx context.Context) error {
		<-block
		return nil
	})
	time.Sleep(10 * time.Millisecond)
	if p.Running() != 1 {
		t.Errorf("expected 1 running worker, got %d", p.Running())
	}
	close(block)
	p.Wait()
	if p.Running() != 0 {
		t.Errorf("expected 0 running workers after completion, got %d", p.Running())
	}
}
