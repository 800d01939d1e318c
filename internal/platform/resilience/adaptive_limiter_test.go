package resilience

import (
	"testing"
)

func TestAdaptiveLimiterBacksOffOnThrottle(t *testing.T) {
	al := NewAdaptiveLimiter(AdaptiveLimiterConfig{
		BaseRate: 20,
		MinRate:  1,
		MaxRate:  100,
		Burst:    10,
	})

	al.RecordRateLimitError()
	if rate := al.CurrentRate(); rate != 10 {
		t.Fatalf("expected rate halved to 10, got %f", rate)
	}

	al.RecordRateLimitError()
	if rate := al.CurrentRate(); rate >= 10 {
		t.Fatalf("expected further backoff below 10, got %f", rate)
	}
	if al.RateLimitHits() != 2 {
		t.Errorf("expected 2 recorded throttles, got %d", al.RateLimitHits())
	}

	t.Log("✓ throttling responses cut the write rate")
}

func TestAdaptiveLimiterRespectsFloor(t *testing.T) {
	al := NewAdaptiveLimiter(AdaptiveLimiterConfig{
		BaseRate: 4,
		MinRate:  2,
		MaxRate:  100,
		Burst:    4,
	})

	for i := 0; i < 10; i++ {
		al.RecordRateLimitError()
	}
	if rate := al.CurrentRate(); rate != 2 {
		t.Fatalf("expected rate pinned at floor 2, got %f", rate)
	}

	t.Log("✓ rate never dropped below the configured floor")
}

func TestAdaptiveLimiterErrorsResetRecoveryOnly(t *testing.T) {
	al := NewAdaptiveLimiter(AdaptiveLimiterConfig{
		BaseRate: 20,
		MinRate:  1,
		MaxRate:  100,
		Burst:    10,
	})

	al.RecordError()
	if rate := al.CurrentRate(); rate != 20 {
		t.Fatalf("non-throttle errors must not reduce the rate, got %f", rate)
	}

	t.Log("✓ generic errors reset the recovery window without backing off")
}

func TestAdaptiveLimiterDefaults(t *testing.T) {
	al := NewAdaptiveLimiter(AdaptiveLimiterConfig{})

	if rate := al.CurrentRate(); rate != 1.0 {
		t.Fatalf("expected default base rate 1.0, got %f", rate)
	}

	t.Log("✓ zero config falls back to safe defaults")
}
