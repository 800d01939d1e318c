package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/averko/marketpulse/internal/platform/observability"
)

func TestPoolRunsTasks(t *testing.T) {
	pool := NewPool(context.Background(), 2, 8, observability.NewNopLogger())
	defer pool.Close()

	var ran atomic.Int32
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		ok := pool.TrySubmit(Task{
			Key: "task",
			Run: func(ctx context.Context) error {
				if ran.Add(1) == 5 {
					close(done)
				}
				return nil
			},
		})
		if !ok {
			t.Fatalf("submit %d rejected", i)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("tasks did not finish, ran=%d", ran.Load())
	}

	t.Log("✓ all submitted tasks executed")
}

func TestPoolRejectsWhenFull(t *testing.T) {
	pool := NewPool(context.Background(), 1, 1, observability.NewNopLogger())
	defer pool.Close()

	block := make(chan struct{})
	pool.TrySubmit(Task{Key: "blocker", Run: func(ctx context.Context) error {
		<-block
		return nil
	}})

	// Give the worker a moment to pick up the blocker so the queue is empty.
	time.Sleep(20 * time.Millisecond)

	if !pool.TrySubmit(Task{Key: "queued", Run: func(ctx context.Context) error { return nil }}) {
		t.Fatal("expected queue slot to be available")
	}
	if pool.TrySubmit(Task{Key: "overflow", Run: func(ctx context.Context) error { return nil }}) {
		t.Fatal("expected overflow submit to be rejected")
	}
	if pool.Rejected() != 1 {
		t.Errorf("expected 1 rejection, got %d", pool.Rejected())
	}

	close(block)
	t.Log("✓ full queue rejects instead of blocking")
}

func TestPoolSurvivesPanics(t *testing.T) {
	pool := NewPool(context.Background(), 1, 4, observability.NewNopLogger())
	defer pool.Close()

	pool.TrySubmit(Task{Key: "bad", Run: func(ctx context.Context) error {
		panic("boom")
	}})

	done := make(chan struct{})
	pool.TrySubmit(Task{Key: "good", Run: func(ctx context.Context) error {
		close(done)
		return nil
	}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}

	t.Log("✓ panicking task did not kill the worker")
}

func TestPoolCloseConcurrentWithSubmit(t *testing.T) {
	// A stale read during shutdown submits a refresh while Close runs;
	// the pool must never panic with a send on a closed channel.
	for i := 0; i < 500; i++ {
		pool := NewPool(context.Background(), 2, 4, observability.NewNopLogger())

		start := make(chan struct{})
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 16; j++ {
					pool.TrySubmit(Task{Key: "refresh", Run: func(ctx context.Context) error { return nil }})
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			pool.Close()
		}()

		close(start)
		wg.Wait()

		if pool.TrySubmit(Task{Key: "late", Run: func(ctx context.Context) error { return nil }}) {
			t.Fatal("submit accepted after close")
		}
	}

	t.Log("✓ submissions racing close never panic")
}

func TestPoolCloseStopsSubmission(t *testing.T) {
	pool := NewPool(context.Background(), 1, 4, observability.NewNopLogger())
	pool.Close()

	if pool.TrySubmit(Task{Key: "late", Run: func(ctx context.Context) error { return nil }}) {
		t.Fatal("expected submit after close to fail")
	}

	// Close is idempotent.
	pool.Close()
	t.Log("✓ closed pool rejects new tasks")
}
