package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/averko/marketpulse/internal/dal"
	"github.com/averko/marketpulse/internal/platform/aws"
	"github.com/averko/marketpulse/internal/platform/config"
	"github.com/averko/marketpulse/internal/platform/observability"
	"github.com/averko/marketpulse/internal/platform/resilience"
	"github.com/averko/marketpulse/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Create root context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	log.Println("Loading configuration...")
	cfg := config.MustLoad(*configPath)

	// Setup observability (foundational - must be first)
	log.Println("Setting up observability...")
	logger := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	metrics, err := observability.NewMetrics("marketpulse", cfg.Observability.Metrics.Enabled)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	tracer, err := observability.NewTracerProvider(ctx, "marketpulse", cfg.Observability.Tracing.Endpoint, cfg.Observability.Tracing.Enabled)
	if err != nil {
		log.Fatalf("Failed to create tracer: %v", err)
	}
	defer tracer.Shutdown(ctx)

	logger.Info("observability setup complete")

	// Setup infrastructure
	logger.Info("setting up infrastructure...")

	retrier := resilience.NewExecutor(resilience.RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      cfg.Retry.Jitter,
	}, logger, metrics)

	// L2 cache tier
	l2, err := dal.NewRedisTier(ctx, dal.RedisTierConfig{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Retrier:  retrier,
		Logger:   logger,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create Redis tier", err)
		log.Fatalf("Failed to create Redis tier: %v", err)
	}
	defer l2.Close()

	// Backing store
	backing, err := buildStore(ctx, cfg, logger, metrics)
	if err != nil {
		logger.LogError(ctx, "failed to create backing store", err)
		log.Fatalf("Failed to create backing store: %v", err)
	}
	defer backing.Close()

	// Single-writer coordination
	coordinator := dal.NewKeyedCoordinator(cfg.Coordination.Keys)

	// Orchestrator
	logger.Info("creating cache orchestrator...")
	orchestrator, err := dal.NewOrchestrator(ctx, dal.OrchestratorConfig{
		Namespaces:  cfg.Namespaces,
		Cache:       cfg.Cache,
		Store:       backing,
		L2:          l2,
		Retrier:     retrier,
		Coordinator: coordinator,
		Logger:      logger,
		Metrics:     metrics,
		Tracer:      tracer.Tracer(),
	})
	if err != nil {
		logger.LogError(ctx, "failed to create orchestrator", err)
		log.Fatalf("Failed to create orchestrator: %v", err)
	}
	defer orchestrator.Close()

	// Warming scheduler
	var scheduler *dal.WarmingScheduler
	if cfg.Warming.Enabled && len(cfg.Warming.Tasks) > 0 {
		logger.Info("starting warming scheduler...", "tasks", len(cfg.Warming.Tasks))
		scheduler = dal.NewWarmingScheduler(orchestrator, cfg.Warming, logger, metrics)
		scheduler.Start()
		defer scheduler.Stop()
	}

	// Start HTTP server for health checks and metrics
	logger.Info("starting HTTP server...")
	go startHTTPServer(cfg.HTTP.Port, orchestrator, l2, metrics, logger)

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("marketpulse data access layer running")

	// Wait for shutdown signal
	<-sigCh
	logger.Info("shutdown signal received, gracefully stopping...")

	if scheduler != nil {
		scheduler.Stop()
	}
	orchestrator.Close()

	stats := orchestrator.Stats()
	logger.Info("final cache statistics",
		"hits", stats.Hits,
		"misses", stats.Misses,
		"hit_rate", fmt.Sprintf("%.3f", stats.HitRate),
		"degraded_reads", stats.DegradedReads,
		"evictions", stats.EvictionCount,
	)
	logger.Info("application stopped")
}

// buildStore creates the configured backing store implementation.
func buildStore(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		logger.Info("using in-memory backing store")
		return store.NewMemoryStore(), nil

	case "dynamodb":
		awsCfg, err := aws.LoadAWSConfig(ctx, aws.Config{Region: cfg.Store.Region})
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}

		return store.NewDynamoStore(store.DynamoStoreConfig{
			AWSConfig: awsCfg,
			Table:     cfg.Store.Table,
			Endpoint:  cfg.Store.Endpoint,
			Logger:    logger,
			Metrics:   metrics,
			Breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
				Name:             "dynamodb",
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
				OnStateChange: func(from, to resilience.State) {
					logger.Info("backing store circuit breaker state changed",
						"from", from.String(), "to", to.String())
					metrics.SetBreakerState(context.Background(), "dynamodb", int64(to))
				},
			}),
			WriteLimiter: resilience.NewAdaptiveLimiter(resilience.AdaptiveLimiterConfig{
				BaseRate: cfg.Store.WriteRate,
				MinRate:  cfg.Store.WriteRateMin,
				MaxRate:  cfg.Store.WriteRateMax,
				Burst:    cfg.Store.WriteRateBurst,
			}),
		})

	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}

// startHTTPServer starts HTTP server for health checks and metrics
func startHTTPServer(port int, orchestrator *dal.Orchestrator, l2 *dal.RedisTier, metrics *observability.Metrics, logger *observability.Logger) {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Readiness check: not ready without the shared cache tier
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := l2.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready","reason":"l2 unreachable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// Cache statistics
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats := orchestrator.Stats()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w,
			`{"hits":%d,"misses":%d,"hit_rate":%.4f,"miss_rate":%.4f,"degraded_reads":%d,"evictions":%d,"avg_response_time_ms":%.3f}`,
			stats.Hits, stats.Misses, stats.HitRate, stats.MissRate,
			stats.DegradedReads, stats.EvictionCount,
			float64(stats.AvgResponseTime)/float64(time.Millisecond),
		)
	})

	// Metrics endpoint
	mux.Handle("/metrics", metrics.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("HTTP server listening", "address", addr)

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.LogError(context.Background(), "HTTP server error", err)
	}
}
