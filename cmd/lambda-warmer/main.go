package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/averko/marketpulse/internal/dal"
	"github.com/averko/marketpulse/internal/platform/aws"
	"github.com/averko/marketpulse/internal/platform/config"
	"github.com/averko/marketpulse/internal/platform/observability"
	"github.com/averko/marketpulse/internal/platform/resilience"
	"github.com/averko/marketpulse/internal/store"
)

var (
	orchestrator *dal.Orchestrator
	scheduler    *dal.WarmingScheduler
	logger       *observability.Logger
)

func init() {
	ctx := context.Background()

	configPath := os.Getenv("MARKETPULSE_CONFIG")
	cfg := config.MustLoad(configPath)

	logger = observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	// No long-running scrape target inside Lambda; metrics stay disabled.
	metrics, err := observability.NewMetrics("marketpulse-warmer", false)
	if err != nil {
		panic(fmt.Sprintf("failed to create metrics: %v", err))
	}

	retrier := resilience.NewExecutor(resilience.RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      cfg.Retry.Jitter,
	}, logger, metrics)

	l2, err := dal.NewRedisTier(ctx, dal.RedisTierConfig{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Retrier:  retrier,
		Logger:   logger,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to create Redis tier: %v", err))
	}

	awsCfg, err := aws.LoadAWSConfig(ctx, aws.Config{Region: cfg.Store.Region})
	if err != nil {
		panic(fmt.Sprintf("failed to load AWS config: %v", err))
	}

	backing, err := store.NewDynamoStore(store.DynamoStoreConfig{
		AWSConfig: awsCfg,
		Table:     cfg.Store.Table,
		Endpoint:  cfg.Store.Endpoint,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to create backing store: %v", err))
	}

	orchestrator, err = dal.NewOrchestrator(ctx, dal.OrchestratorConfig{
		Namespaces: cfg.Namespaces,
		Cache:      cfg.Cache,
		Store:      backing,
		L2:         l2,
		Retrier:    retrier,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to create orchestrator: %v", err))
	}

	scheduler = dal.NewWarmingScheduler(orchestrator, cfg.Warming, logger, metrics)

	logger.Info("warmer lambda initialized", "tasks", len(cfg.Warming.Tasks))
}

// WarmingReport summarizes one warming invocation.
type WarmingReport struct {
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
}

// Handler runs every configured warming task once. Invoked on a schedule
// by EventBridge.
func Handler(ctx context.Context) (WarmingReport, error) {
	start := time.Now()

	err := scheduler.RunAll(ctx)
	report := WarmingReport{
		Status:     "ok",
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		// Partial failures are reported but do not fail the invocation;
		// the next scheduled run retries the same keys anyway.
		report.Status = "partial"
		logger.LogWarn(ctx, "warming pass completed with failures", "error", err.Error())
	}

	logger.Info("warming pass finished", "status", report.Status, "duration_ms", report.DurationMS)
	return report, nil
}

func main() {
	lambda.Start(Handler)
}
