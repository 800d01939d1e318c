package dal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/averko/marketpulse/internal/platform/config"
	"github.com/averko/marketpulse/internal/platform/observability"
)

// WarmingScheduler pre-fetches configured keys on fixed intervals so hot
// data is already cached before traffic asks for it. Critical tasks also
// run once at startup. Failures are logged and counted, never propagated:
// a warming miss just means the next read pays the cold-path cost.
type WarmingScheduler struct {
	orchestrator *Orchestrator
	tasks        []config.WarmingTaskConfig
	timeout      time.Duration
	logger       *observability.Logger
	metrics      *observability.Metrics

	stopCh    chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWarmingScheduler creates a scheduler over the given tasks.
func NewWarmingScheduler(orch *Orchestrator, cfg config.WarmingConfig, logger *observability.Logger, metrics *observability.Metrics) *WarmingScheduler {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WarmingScheduler{
		orchestrator: orch,
		tasks:        cfg.Tasks,
		timeout:      timeout,
		logger:       logger,
		metrics:      metrics,
		stopCh:       make(chan struct{}),
	}
}

// Start launches one goroutine per task. Critical tasks run immediately,
// the rest wait for their first tick.
func (s *WarmingScheduler) Start() {
	s.startOnce.Do(func() {
		for _, task := range s.tasks {
			s.wg.Add(1)
			go s.runTaskLoop(task)
		}
		s.logger.LogInfo(context.Background(), "warming scheduler started", "tasks", len(s.tasks))
	})
}

// Stop halts all task loops and waits for in-flight runs to finish.
func (s *WarmingScheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
	})
}

// RunAll executes every task once, sequentially. Used by one-shot invokers
// that have no long-running process to host the tickers.
func (s *WarmingScheduler) RunAll(ctx context.Context) error {
	var firstErr error
	for _, task := range s.tasks {
		if err := s.runTask(ctx, task); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *WarmingScheduler) runTaskLoop(task config.WarmingTaskConfig) {
	defer s.wg.Done()

	if task.Priority == "critical" {
		s.runTaskSafe(task)
	}

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runTaskSafe(task)
		}
	}
}

// runTaskSafe runs one task iteration, containing panics so one bad task
// cannot take down the scheduler.
func (s *WarmingScheduler) runTaskSafe(task config.WarmingTaskConfig) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.LogError(context.Background(), "warming task panicked", nil,
				"task", task.Name, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.runTask(ctx, task); err != nil {
		s.logger.LogWarn(ctx, "warming task failed",
			"task", task.Name, "namespace", task.Namespace, "error", err.Error())
	}
}

func (s *WarmingScheduler) runTask(ctx context.Context, task config.WarmingTaskConfig) error {
	start := time.Now()
	var failed int
	var firstErr error

	for _, key := range task.Keys {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("warming task %s: %w", task.Name, err)
		}
		if err := s.orchestrator.ForceRefresh(ctx, task.Namespace, key); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	ok := failed == 0
	if s.metrics != nil {
		s.metrics.RecordWarmingRun(ctx, task.Name, ok)
	}
	s.logger.LogDebug(ctx, "warming task finished",
		"task", task.Name,
		"keys", len(task.Keys),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if firstErr != nil {
		return fmt.Errorf("warming task %s: %d/%d keys failed: %w", task.Name, failed, len(task.Keys), firstErr)
	}
	return nil
}
