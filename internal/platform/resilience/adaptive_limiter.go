package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// AdaptiveLimiter adjusts a token-bucket rate based on the dependency's
// throttling responses: it halves the rate on quota errors and slowly
// recovers after a window of consecutive successes. Used for DynamoDB
// writes, where the effective quota moves with table load.
type AdaptiveLimiter struct {
	limiter *RateLimiter

	baseRate       float64
	minRate        float64
	maxRate        float64
	backoffFactor  float64
	recoveryFactor float64
	recoveryWindow int

	currentRate         float64
	consecutiveSuccess  int64
	consecutiveFailures int64
	lastAdjustment      time.Time
	mu                  sync.RWMutex

	rateLimitHits int64
}

// AdaptiveLimiterConfig configures the adaptive limiter.
type AdaptiveLimiterConfig struct {
	BaseRate       float64 // starting rate in req/sec (default 1.0)
	MinRate        float64 // floor (default 0.1)
	MaxRate        float64 // ceiling (default 10.0)
	Burst          int     // bucket size (default 2x base)
	BackoffFactor  float64 // rate multiplier on throttle (default 0.5)
	RecoveryFactor float64 // rate multiplier on recovery (default 1.1)
	RecoveryWindow int     // consecutive successes before increasing (default 10)
}

// NewAdaptiveLimiter creates a new adaptive rate limiter.
func NewAdaptiveLimiter(cfg AdaptiveLimiterConfig) *AdaptiveLimiter {
	if cfg.BaseRate <= 0 {
		cfg.BaseRate = 1.0
	}
	if cfg.MinRate <= 0 {
		cfg.MinRate = 0.1
	}
	if cfg.MaxRate <= 0 {
		cfg.MaxRate = 10.0
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.BaseRate * 2)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if cfg.BackoffFactor <= 0 || cfg.BackoffFactor >= 1 {
		cfg.BackoffFactor = 0.5
	}
	if cfg.RecoveryFactor <= 1 {
		cfg.RecoveryFactor = 1.1
	}
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = 10
	}
	if cfg.MinRate > cfg.BaseRate {
		cfg.MinRate = cfg.BaseRate
	}
	if cfg.MaxRate < cfg.BaseRate {
		cfg.MaxRate = cfg.BaseRate
	}

	return &AdaptiveLimiter{
		limiter:        NewRateLimiter(cfg.BaseRate, cfg.Burst),
		baseRate:       cfg.BaseRate,
		minRate:        cfg.MinRate,
		maxRate:        cfg.MaxRate,
		backoffFactor:  cfg.BackoffFactor,
		recoveryFactor: cfg.RecoveryFactor,
		recoveryWindow: cfg.RecoveryWindow,
		currentRate:    cfg.BaseRate,
		lastAdjustment: time.Now(),
	}
}

// Wait blocks until a token is available or the context is cancelled.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// RecordSuccess indicates a successful call to the dependency.
func (a *AdaptiveLimiter) RecordSuccess() {
	atomic.StoreInt64(&a.consecutiveFailures, 0)

	if int(atomic.AddInt64(&a.consecutiveSuccess, 1)) >= a.recoveryWindow {
		a.tryRecover()
	}
}

// RecordRateLimitError indicates the dependency throttled us.
func (a *AdaptiveLimiter) RecordRateLimitError() {
	atomic.AddInt64(&a.rateLimitHits, 1)
	atomic.StoreInt64(&a.consecutiveSuccess, 0)
	failures := atomic.AddInt64(&a.consecutiveFailures, 1)

	a.backoff(int(failures))
}

// RecordError indicates a non-throttle error. Resets the recovery window
// without backing off.
func (a *AdaptiveLimiter) RecordError() {
	atomic.StoreInt64(&a.consecutiveSuccess, 0)
}

// backoff reduces the rate based on consecutive failure count.
func (a *AdaptiveLimiter) backoff(failureCount int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Cap to avoid extreme slowdown
	if failureCount > 5 {
		failureCount = 5
	}

	multiplier := 1.0
	for i := 0; i < failureCount; i++ {
		multiplier *= a.backoffFactor
	}

	newRate := a.currentRate * multiplier
	if newRate < a.minRate {
		newRate = a.minRate
	}

	if newRate != a.currentRate {
		a.currentRate = newRate
		a.limiter.SetRate(newRate)
		a.lastAdjustment = time.Now()
	}
}

// tryRecover increases the rate after a full window of successes.
func (a *AdaptiveLimiter) tryRecover() {
	a.mu.Lock()
	defer a.mu.Unlock()

	atomic.StoreInt64(&a.consecutiveSuccess, 0)

	if a.currentRate >= a.maxRate {
		return
	}
	if time.Since(a.lastAdjustment) < time.Second {
		return
	}

	newRate := a.currentRate * a.recoveryFactor
	if newRate > a.maxRate {
		newRate = a.maxRate
	}

	if newRate != a.currentRate {
		a.currentRate = newRate
		a.limiter.SetRate(newRate)
		a.lastAdjustment = time.Now()
	}
}

// CurrentRate returns the current rate in requests per second.
func (a *AdaptiveLimiter) CurrentRate() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.currentRate
}

// RateLimitHits returns the number of throttling responses observed.
func (a *AdaptiveLimiter) RateLimitHits() int64 {
	return atomic.LoadInt64(&a.rateLimitHits)
}
