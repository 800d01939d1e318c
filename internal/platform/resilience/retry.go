// Package resilience provides retry, circuit breaking, and rate limiting
// primitives used around remote dependencies.
package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/averko/marketpulse/internal/platform/observability"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // 0.0 to 1.0
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      0.2,
	}
}

// Validate checks the configuration invariants.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("retry: max attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("retry: base delay must be positive, got %v", c.BaseDelay)
	}
	if c.BaseDelay > c.MaxDelay {
		return fmt.Errorf("retry: base delay %v exceeds max delay %v", c.BaseDelay, c.MaxDelay)
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		return fmt.Errorf("retry: jitter must be in [0,1], got %f", c.Jitter)
	}
	return nil
}

// Executor runs operations with bounded retries and exponential backoff.
// Permanent errors are returned immediately; transient and rate-limited
// errors are retried until the budget or the context deadline runs out.
type Executor struct {
	cfg     RetryConfig
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewExecutor creates a retry executor.
func NewExecutor(cfg RetryConfig, logger *observability.Logger, metrics *observability.Metrics) *Executor {
	if cfg.MaxAttempts < 1 {
		cfg = DefaultRetryConfig()
	}
	return &Executor{cfg: cfg, logger: logger, metrics: metrics}
}

// Config returns the executor's retry configuration.
func (e *Executor) Config() RetryConfig {
	return e.cfg
}

// Do executes fn with retries. The op string names the operation for logs
// and metrics only.
func (e *Executor) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := Execute(e, ctx, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Execute runs fn with retries and returns its result. A standalone generic
// function rather than a method, as Go does not support generic methods.
func Execute[T any](e *Executor, ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s: %w", op, err)
		}

		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if IsPermanent(err) {
			return zero, err
		}

		if e.metrics != nil {
			e.metrics.RecordRetryAttempt(ctx, op)
		}

		if attempt == e.cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(attempt, e.cfg)
		if IsRateLimited(err) {
			// Quota errors get extra headroom before the next attempt.
			delay *= 2
		}

		if e.logger != nil {
			e.logger.LogDebug(ctx, "retrying operation",
				"operation", op,
				"attempt", attempt,
				"delay_ms", delay.Milliseconds(),
				"error", err.Error(),
			)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("%s: retry abandoned: %w", op, ctx.Err())
		}
	}

	if e.metrics != nil {
		e.metrics.RecordRetryExhaustion(ctx, op)
	}
	return zero, &RetryExhaustedError{Op: op, Attempts: e.cfg.MaxAttempts, Err: lastErr}
}

// backoffDelay returns the delay after the given 1-based attempt:
// min(maxDelay, baseDelay * 2^(attempt-1)), randomized by ±jitter.
func backoffDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.Jitter > 0 {
		spread := delay * cfg.Jitter
		delay = delay - spread + rand.Float64()*spread*2
	}

	return time.Duration(delay)
}
