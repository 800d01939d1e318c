package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Metrics holds all application metrics
type Metrics struct {
	meter metric.Meter

	// Cache tier metrics
	CacheHits      metric.Int64Counter
	CacheMisses    metric.Int64Counter
	CacheEvictions metric.Int64Counter
	DegradedReads  metric.Int64Counter

	// Read/write path metrics
	GetDuration metric.Float64Histogram
	PutDuration metric.Float64Histogram

	// Backing store metrics
	BackingStoreCalls    metric.Int64Counter
	BackingStoreDuration metric.Float64Histogram

	// Retry metrics
	RetryAttempts   metric.Int64Counter
	RetryExhaustion metric.Int64Counter

	// Background refresh metrics
	RefreshScheduled metric.Int64Counter
	RefreshDropped   metric.Int64Counter
	RefreshFailures  metric.Int64Counter
	RefreshQueueLen  metric.Int64Gauge

	// Warming metrics
	WarmingRuns     metric.Int64Counter
	WarmingFailures metric.Int64Counter

	// Circuit breaker metrics
	CircuitBreakerState metric.Int64Gauge

	// Error metrics
	Errors metric.Int64Counter

	// Prometheus exporter for HTTP handler
	exporter *prometheus.Exporter
}

// NewMetrics creates a new Metrics instance
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	m := &Metrics{
		meter:    provider.Meter(serviceName),
		exporter: exporter,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// initMetrics initializes all metric instruments
func (m *Metrics) initMetrics() error {
	var err error

	m.CacheHits, err = m.meter.Int64Counter(
		"dal.cache.hits",
		metric.WithDescription("Cache hits by tier and namespace"),
	)
	if err != nil {
		return err
	}

	m.CacheMisses, err = m.meter.Int64Counter(
		"dal.cache.misses",
		metric.WithDescription("Cache misses by tier and namespace"),
	)
	if err != nil {
		return err
	}

	m.CacheEvictions, err = m.meter.Int64Counter(
		"dal.cache.evictions",
		metric.WithDescription("L1 entries evicted to respect capacity"),
	)
	if err != nil {
		return err
	}

	m.DegradedReads, err = m.meter.Int64Counter(
		"dal.cache.degraded_reads",
		metric.WithDescription("Reads served from expired entries because the backing store was unreachable"),
	)
	if err != nil {
		return err
	}

	m.GetDuration, err = m.meter.Float64Histogram(
		"dal.get.duration",
		metric.WithDescription("Read path duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.PutDuration, err = m.meter.Float64Histogram(
		"dal.put.duration",
		metric.WithDescription("Write path duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.BackingStoreCalls, err = m.meter.Int64Counter(
		"dal.backing_store.calls",
		metric.WithDescription("Calls to the backing store by operation and outcome"),
	)
	if err != nil {
		return err
	}

	m.BackingStoreDuration, err = m.meter.Float64Histogram(
		"dal.backing_store.duration",
		metric.WithDescription("Backing store call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.RetryAttempts, err = m.meter.Int64Counter(
		"dal.retry.attempts",
		metric.WithDescription("Retry attempts by operation"),
	)
	if err != nil {
		return err
	}

	m.RetryExhaustion, err = m.meter.Int64Counter(
		"dal.retry.exhaustion",
		metric.WithDescription("Operations that exhausted their retry budget"),
	)
	if err != nil {
		return err
	}

	m.RefreshScheduled, err = m.meter.Int64Counter(
		"dal.refresh.scheduled",
		metric.WithDescription("Background refreshes scheduled by stale-while-revalidate"),
	)
	if err != nil {
		return err
	}

	m.RefreshDropped, err = m.meter.Int64Counter(
		"dal.refresh.dropped",
		metric.WithDescription("Background refreshes dropped because the queue was full"),
	)
	if err != nil {
		return err
	}

	m.RefreshFailures, err = m.meter.Int64Counter(
		"dal.refresh.failures",
		metric.WithDescription("Background refreshes that failed"),
	)
	if err != nil {
		return err
	}

	m.RefreshQueueLen, err = m.meter.Int64Gauge(
		"dal.refresh.queue_length",
		metric.WithDescription("Current background refresh queue length"),
	)
	if err != nil {
		return err
	}

	m.WarmingRuns, err = m.meter.Int64Counter(
		"dal.warming.runs",
		metric.WithDescription("Warming task executions by task and outcome"),
	)
	if err != nil {
		return err
	}

	m.WarmingFailures, err = m.meter.Int64Counter(
		"dal.warming.failures",
		metric.WithDescription("Warming task executions that failed"),
	)
	if err != nil {
		return err
	}

	m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"dal.circuit_breaker.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	)
	if err != nil {
		return err
	}

	m.Errors, err = m.meter.Int64Counter(
		"dal.errors",
		metric.WithDescription("Errors by component and kind"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m.exporter == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// Enabled reports whether metrics collection is active
func (m *Metrics) Enabled() bool {
	return m.exporter != nil
}
