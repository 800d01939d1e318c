package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiterAllowsBurst(t *testing.T) {
	rl := NewRateLimiter(10, 5)

	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow() {
			allowed++
		}
	}
	if allowed != 5 {
		t.Fatalf("expected exactly the burst of 5 to pass, got %d", allowed)
	}

	t.Log("✓ burst consumed, further requests denied")
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(100, 1)

	if !rl.Allow() {
		t.Fatal("expected first request to pass")
	}
	if rl.Allow() {
		t.Fatal("expected second immediate request to be denied")
	}

	time.Sleep(30 * time.Millisecond) // 100/s refills one token in 10ms

	if !rl.Allow() {
		t.Fatal("expected a token after refill")
	}

	t.Log("✓ tokens refill over time")
}

func TestRateLimiterWaitHonorsContext(t *testing.T) {
	rl := NewRateLimiter(0.5, 1)
	rl.Allow() // drain

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	t.Log("✓ wait gave up when the context expired")
}
