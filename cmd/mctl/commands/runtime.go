package commands

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/missionctl/am"
	"github.com/teranos/missionctl/logger"
	"github.com/teranos/missionctl/pulse/async"
	"github.com/teranos/missionctl/pulse/budget"
	"github.com/teranos/missionctl/pulse/dispatch"
	"github.com/teranos/missionctl/pulse/engine"
)

// runtime is the job machinery shared by pulse start, server and jobs run:
// engines, the runner with its finish hook, and the dispatch sweeper
type runtime struct {
	cfg     *am.Config
	db      *sql.DB
	queue   *async.Queue
	runner  *async.Runner
	sweeper *dispatch.Sweeper
	quotas  *budget.Quotas
	logger  *zap.SugaredLogger
}

func newRuntime(cfg *am.Config, database *sql.DB) (*runtime, error) {
	log := logger.Logger

	quotas := budget.NewQuotas()
	engines, err := engine.NewRegistry(cfg, database, quotas, log.Named("engine"))
	if err != nil {
		return nil, err
	}

	queue := async.NewQueue(database)
	runner := async.NewRunner(queue, async.NewSettingsStore(database), engines, log)
	runner.EngineTimeout = time.Duration(cfg.Pulse.EngineTimeoutSeconds) * time.Second

	sweeper := dispatch.NewSweeper(database, queue, dispatch.PolicyFromConfig(cfg.Dispatch), log)

	// Every written outcome closes research items and re-runs the sweep
	runner.OnFinish(sweeper.OnJobFinished)

	return &runtime{
		cfg:     cfg,
		db:      database,
		queue:   queue,
		runner:  runner,
		sweeper: sweeper,
		quotas:  quotas,
		logger:  log,
	}, nil
}

// workerPool builds a pool of n workers (n < 0 takes pulse.workers)
func (rt *runtime) workerPool(ctx context.Context, n int) *async.WorkerPool {
	poolCfg := async.DefaultWorkerPoolConfig()
	poolCfg.Workers = rt.cfg.Pulse.Workers
	if n >= 0 {
		poolCfg.Workers = n
	}
	if rt.cfg.Pulse.PollIntervalMS > 0 {
		poolCfg.PollInterval = time.Duration(rt.cfg.Pulse.PollIntervalMS) * time.Millisecond
	}
	return async.NewWorkerPool(ctx, rt.runner, poolCfg, rt.logger)
}

// sweepTicker builds the dispatch ticker from dispatch.interval_seconds
func (rt *runtime) sweepTicker(ctx context.Context) *dispatch.Ticker {
	interval := time.Duration(rt.cfg.Dispatch.IntervalSeconds) * time.Second
	return dispatch.NewTicker(ctx, rt.sweeper, interval, rt.logger)
}

// watchConfig hot-reloads the dispatch policy (and whatever extra wants the
// new config) when the active config file changes. Returns nil when there is
// no file to watch.
func (rt *runtime) watchConfig(extra ...func(*am.Config)) *am.ConfigWatcher {
	path := watchedConfigPath()
	if path == "" {
		return nil
	}
	watcher, err := am.NewConfigWatcher(path)
	if err != nil {
		rt.logger.Warnw("Config watcher unavailable, changes need a restart", "path", path, logger.FieldError, err)
		return nil
	}
	watcher.OnReload(func(cfg *am.Config) error {
		rt.sweeper.SetPolicy(dispatch.PolicyFromConfig(cfg.Dispatch))
		for _, fn := range extra {
			fn(cfg)
		}
		return nil
	})
	am.SetGlobalWatcher(watcher)
	watcher.Start()
	rt.logger.Infow("Watching config for changes", "path", path)
	return watcher
}
