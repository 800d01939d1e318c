package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recording helpers. All of them are safe to call on a disabled Metrics
// instance (nil instruments), so callers never need to branch on enablement.

func (m *Metrics) RecordCacheHit(ctx context.Context, tier, namespace string) {
	if m.CacheHits == nil {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("namespace", namespace),
	))
}

func (m *Metrics) RecordCacheMiss(ctx context.Context, tier, namespace string) {
	if m.CacheMisses == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("namespace", namespace),
	))
}

func (m *Metrics) AddEvictions(ctx context.Context, n int64, namespace string) {
	if m.CacheEvictions == nil || n == 0 {
		return
	}
	m.CacheEvictions.Add(ctx, n, metric.WithAttributes(attribute.String("namespace", namespace)))
}

func (m *Metrics) RecordDegradedRead(ctx context.Context, namespace string) {
	if m.DegradedReads == nil {
		return
	}
	m.DegradedReads.Add(ctx, 1, metric.WithAttributes(attribute.String("namespace", namespace)))
}

func (m *Metrics) RecordGetDuration(ctx context.Context, ms float64, namespace, source string) {
	if m.GetDuration == nil {
		return
	}
	m.GetDuration.Record(ctx, ms, metric.WithAttributes(
		attribute.String("namespace", namespace),
		attribute.String("source", source),
	))
}

func (m *Metrics) RecordPutDuration(ctx context.Context, ms float64, namespace string) {
	if m.PutDuration == nil {
		return
	}
	m.PutDuration.Record(ctx, ms, metric.WithAttributes(attribute.String("namespace", namespace)))
}

func (m *Metrics) RecordBackingStoreCall(ctx context.Context, op, outcome string, ms float64) {
	if m.BackingStoreCalls != nil {
		m.BackingStoreCalls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("outcome", outcome),
		))
	}
	if m.BackingStoreDuration != nil {
		m.BackingStoreDuration.Record(ctx, ms, metric.WithAttributes(attribute.String("operation", op)))
	}
}

func (m *Metrics) RecordRetryAttempt(ctx context.Context, op string) {
	if m.RetryAttempts == nil {
		return
	}
	m.RetryAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}

func (m *Metrics) RecordRetryExhaustion(ctx context.Context, op string) {
	if m.RetryExhaustion == nil {
		return
	}
	m.RetryExhaustion.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}

func (m *Metrics) RecordRefreshScheduled(ctx context.Context, namespace string) {
	if m.RefreshScheduled == nil {
		return
	}
	m.RefreshScheduled.Add(ctx, 1, metric.WithAttributes(attribute.String("namespace", namespace)))
}

func (m *Metrics) RecordRefreshDropped(ctx context.Context, namespace string) {
	if m.RefreshDropped == nil {
		return
	}
	m.RefreshDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("namespace", namespace)))
}

func (m *Metrics) RecordRefreshFailure(ctx context.Context, namespace string) {
	if m.RefreshFailures == nil {
		return
	}
	m.RefreshFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("namespace", namespace)))
}

func (m *Metrics) SetRefreshQueueLen(ctx context.Context, n int64) {
	if m.RefreshQueueLen == nil {
		return
	}
	m.RefreshQueueLen.Record(ctx, n)
}

func (m *Metrics) RecordWarmingRun(ctx context.Context, task string, ok bool) {
	if m.WarmingRuns != nil {
		outcome := "ok"
		if !ok {
			outcome = "error"
		}
		m.WarmingRuns.Add(ctx, 1, metric.WithAttributes(
			attribute.String("task", task),
			attribute.String("outcome", outcome),
		))
	}
	if !ok && m.WarmingFailures != nil {
		m.WarmingFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("task", task)))
	}
}

func (m *Metrics) SetBreakerState(ctx context.Context, name string, state int64) {
	if m.CircuitBreakerState == nil {
		return
	}
	m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(attribute.String("breaker", name)))
}

func (m *Metrics) RecordError(ctx context.Context, component, kind string) {
	if m.Errors == nil {
		return
	}
	m.Errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component", component),
		attribute.String("kind", kind),
	))
}
