package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_RunsAllTasks(t *testing.T) {
	p := NewWorkerPool(3)

	var count int64
	for i := 0; i < 10; i++ {
		if !p.Acquire(context.Background()) {
			t.Fatal("Expected to acquire a slot")
		}
		p.Go(context.Background(), "task", func(ctx context.Context, taskID string) {
			atomic.AddInt64(&count, 1)
		})
	}
	p.Wait()

	if count != 10 {
		t.Errorf("Expected 10 tasks to run, got %d", count)
	}
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	p := NewWorkerPool(2)

	var mu sync.Mutex
	var active, peak int

	for i := 0; i < 8; i++ {
		if !p.Acquire(context.Background()) {
			t.Fatal("Expected to acquire a slot")
		}
		p.Go(context.Background(), "task", func(ctx context.Context, taskID string) {
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		})
	}
	p.Wait()

	if peak > 2 {
		t.Errorf("Expected at most 2 concurrent tasks, saw %d", peak)
	}
}

func TestWorkerPool_AcquireBlocksUntilSlotFrees(t *testing.T) {
	p := NewWorkerPool(1)

	release := make(chan struct{})
	if !p.Acquire(context.Background()) {
		t.Fatal("Expected to acquire the only slot")
	}
	p.Go(context.Background(), "blocker", func(ctx context.Context, taskID string) {
		<-release
	})

	acquired := make(chan struct{})
	go func() {
		p.Acquire(context.Background())
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("Expected Acquire to block while the slot is busy")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Expected Acquire to succeed once the slot freed")
	}
	p.Release()
	p.Wait()
}

func TestWorkerPool_AcquireHonoursCancellation(t *testing.T) {
	p := NewWorkerPool(1)

	release := make(chan struct{})
	if !p.Acquire(context.Background()) {
		t.Fatal("Expected to acquire the only slot")
	}
	p.Go(context.Background(), "blocker", func(ctx context.Context, taskID string) {
		<-release
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if p.Acquire(ctx) {
		t.Error("Expected no slot after cancellation")
	}

	close(release)
	p.Wait()
}
