package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/missionctl/logger"
)

// Ticker runs the sweep on a fixed interval
type Ticker struct {
	sweeper  *Sweeper
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *zap.SugaredLogger

	mu     sync.Mutex
	ticks  int64
	last   *SweepReport
	lastAt time.Time
}

// NewTicker creates a sweep ticker bound to ctx
func NewTicker(ctx context.Context, sweeper *Sweeper, interval time.Duration, log *zap.SugaredLogger) *Ticker {
	if log == nil {
		log = logger.Logger
	}
	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		sweeper:  sweeper,
		interval: interval,
		ctx:      tickerCtx,
		cancel:   cancel,
		logger:   logger.AddDispatchSymbol(log.Named("dispatch")),
	}
}

// Start begins the loop. A zero interval leaves sweeping to job completions.
func (t *Ticker) Start() {
	if t.interval <= 0 {
		t.logger.Infow("Dispatch ticker disabled; sweeping after job completion only")
		return
	}
	t.wg.Add(1)
	go t.run()
	t.logger.Infow("Dispatch ticker started", "interval", t.interval)
}

// Stop cancels the loop and waits for an in-flight sweep
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			report := t.sweeper.Trigger(t.ctx)

			t.mu.Lock()
			t.ticks++
			t.last = report
			t.lastAt = tickTime
			t.mu.Unlock()
		}
	}
}

// Last returns the most recent tick's report, or nil before the first tick
func (t *Ticker) Last() (*SweepReport, time.Time, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.lastAt, t.ticks
}
