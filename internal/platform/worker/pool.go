// Package worker provides a bounded pool for fire-and-forget background tasks.
package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/averko/marketpulse/internal/platform/observability"
)

// Task is a unit of background work. Key identifies the task for logging.
type Task struct {
	Key string
	Run func(ctx context.Context) error
}

// Pool executes tasks on a fixed set of goroutines pulling from a bounded
// queue. Submission never blocks: when the queue is full the task is
// rejected, so a burst of background work cannot pile up unboundedly.
type Pool struct {
	workers  int
	tasks    chan Task
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *observability.Logger
	rejected atomic.Int64

	// mu orders submissions against Close so a send can never hit a
	// closed channel.
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// NewPool creates a pool with the given number of workers and queue capacity.
// Workers start immediately.
func NewPool(ctx context.Context, workers, queueSize int, logger *observability.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	poolCtx, cancel := context.WithCancel(ctx)

	p := &Pool{
		workers: workers,
		tasks:   make(chan Task, queueSize),
		ctx:     poolCtx,
		cancel:  cancel,
		logger:  logger,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(task)
		}
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.LogError(p.ctx, "background task panicked", nil,
				"task", task.Key, "panic", r)
		}
	}()

	if err := task.Run(p.ctx); err != nil {
		p.logger.LogWarn(p.ctx, "background task failed",
			"task", task.Key, "error", err.Error())
	}
}

// TrySubmit enqueues a task without blocking. Returns false if the pool is
// shut down or the queue is full.
func (p *Pool) TrySubmit(task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.ctx.Err() != nil {
		return false
	}

	select {
	case p.tasks <- task:
		return true
	default:
		p.rejected.Add(1)
		return false
	}
}

// QueueLen returns the number of tasks waiting in the queue.
func (p *Pool) QueueLen() int {
	return len(p.tasks)
}

// Rejected returns the number of tasks rejected due to a full queue.
func (p *Pool) Rejected() int64 {
	return p.rejected.Load()
}

// Close stops accepting tasks and waits for in-flight tasks to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()

		p.cancel()
		p.wg.Wait()
	})
}
