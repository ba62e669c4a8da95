package async

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/missionctl/errors"
	"github.com/teranos/missionctl/logger"
)

// pulseLogger wraps zap.SugaredLogger with special methods for Pulse operations
// Uses different log levels to create visual distinction:
// - DEBUG level → STARTING (✿ Opening operations)
// - WARN level → CLOSING (❀ Closing operations)
// - INFO level → PULSE (general worker operations)
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	logger.AddPulseOpenSymbol(l.SugaredLogger).Debugw(msg, keysAndValues...)
}

// Closing logs a Closing (❀) event
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	logger.AddPulseCloseSymbol(l.SugaredLogger).Warnw(msg, keysAndValues...)
}

// Pulse logs general Pulse/worker operations
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	logger.AddPulseSymbol(l.SugaredLogger).Infow(msg, keysAndValues...)
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers      int           `json:"workers"`       // Number of concurrent workers
	PollInterval time.Duration `json:"poll_interval"` // How often an idle worker looks for work
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      1,
		PollInterval: 2 * time.Second,
	}
}

// WorkerPool runs Runner.RunOnce on N goroutines.
// Jobs left running by a crashed host are not re-queued on start: the stall
// rule of the dispatch sweep surfaces them to an operator instead.
type WorkerPool struct {
	runner        *Runner
	poolConfig    WorkerPoolConfig
	workers       int
	parentCtx     context.Context
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	queue         *Queue
	jobsProcessed int
	activeWorkers int
	startTime     time.Time
	logger        pulseLogger
	mu            sync.Mutex
}

// NewWorkerPool creates a worker pool driving runner. Cancelling ctx stops the workers.
func NewWorkerPool(ctx context.Context, runner *Runner, poolCfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	if poolCfg.Workers < 1 {
		poolCfg.Workers = 1
	}
	if poolCfg.PollInterval <= 0 {
		poolCfg.PollInterval = DefaultWorkerPoolConfig().PollInterval
	}
	if log == nil {
		log = logger.Logger
	}
	workerCtx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		runner:     runner,
		queue:      runner.Queue(),
		poolConfig: poolCfg,
		workers:    poolCfg.Workers,
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
		logger:     pulseLogger{log.Named("pulse")},
	}
}

// Start begins processing jobs with the worker pool
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	// Restart after Stop needs a fresh context
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
	}
	wp.startTime = time.Now()
	wp.jobsProcessed = 0
	wp.mu.Unlock()

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.workers)
	}

	wp.logger.Starting("Worker pool starting",
		"workers", wp.workers,
		"poll_interval", wp.poolConfig.PollInterval,
		"engines", wp.runner.Engines().Names())

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop cancels the workers and waits for in-flight jobs to write their outcome.
// A job interrupted by Stop is finished as failed ("runner shutdown").
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	wp.cancel()
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	timeout := 30 * time.Second
	select {
	case <-done:
		wp.logger.Pulse("Worker pool stopped, all workers exited cleanly")
	case <-time.After(timeout):
		wp.logger.Closing("Worker pool stop timed out, workers may still be finishing", "timeout", timeout)
	}
}

// worker polls for jobs until the pool is stopped
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.mu.Lock()
	ctx := logger.WithComponent(wp.ctx, fmt.Sprintf("pulse.worker.%d", id))
	wp.mu.Unlock()

	ticker := time.NewTicker(wp.poolConfig.PollInterval)
	defer ticker.Stop()

	// Error backoff state
	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := wp.drain(ctx)
			if err == nil {
				if errorCount > 0 {
					wp.logger.Infow("Worker recovered from errors",
						"worker_id", id,
						"previous_error_count", errorCount)
				}
				errorCount = 0
				backoffDuration = time.Second
				continue
			}

			if ctx.Err() != nil || errors.Is(err, sql.ErrConnDone) {
				return
			}

			errorCount++
			wp.logger.Errorw("Worker error processing job",
				"worker_id", id,
				"error", err,
				"consecutive_errors", errorCount)

			if errorCount >= maxConsecutiveErrors {
				wp.logger.Warnw("Worker backing off due to consecutive errors",
					"worker_id", id,
					"backoff", backoffDuration,
					"consecutive_errors", errorCount)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoffDuration):
				}
				backoffDuration = min(backoffDuration*2, maxBackoff)
			}
		}
	}
}

// drain runs jobs back to back until the queue has nothing claimable
func (wp *WorkerPool) drain(ctx context.Context) error {
	for ctx.Err() == nil {
		wp.setActive(1)
		res, err := wp.runner.RunOnce(ctx)
		wp.setActive(-1)
		if err != nil {
			return err
		}
		if !res.Claimed {
			return nil
		}
		wp.mu.Lock()
		wp.jobsProcessed++
		wp.mu.Unlock()
	}
	return nil
}

func (wp *WorkerPool) setActive(delta int) {
	wp.mu.Lock()
	wp.activeWorkers += delta
	wp.mu.Unlock()
}

// GetQueue returns the job queue
func (wp *WorkerPool) GetQueue() *Queue {
	return wp.queue
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// JobsProcessed returns how many jobs this pool has run since Start
func (wp *WorkerPool) JobsProcessed() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.jobsProcessed
}

// Uptime returns how long the pool has been running
func (wp *WorkerPool) Uptime() time.Duration {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.startTime.IsZero() {
		return 0
	}
	return time.Since(wp.startTime)
}
