// Package server is the mission control HTTP API: job submission and
// inspection, the runner endpoints guarded by a shared secret, routing,
// review, settings, notifications, and a websocket stream of job updates.
package server

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/missionctl/agent"
	"github.com/teranos/missionctl/am"
	"github.com/teranos/missionctl/logger"
	"github.com/teranos/missionctl/notify"
	"github.com/teranos/missionctl/pulse/async"
	"github.com/teranos/missionctl/pulse/dispatch"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
	maxRequestBytes = 1 << 20
	// MaxClients caps concurrent /ws/jobs connections
	MaxClients = 64
)

// Deps are the components the server exposes. Pool and Ticker are
// optional: without a pool jobs only run on explicit run-once/run-batch
// calls, without a ticker the sweep only runs on demand and after jobs finish.
type Deps struct {
	DB      *sql.DB
	Config  *am.Config
	Runner  *async.Runner
	Sweeper *dispatch.Sweeper
	Pool    *async.WorkerPool
	Ticker  *dispatch.Ticker
	Logger  *zap.SugaredLogger
}

// Server serves the HTTP API
type Server struct {
	db       *sql.DB
	queue    *async.Queue
	runner   *async.Runner
	settings *async.SettingsStore
	sweeper  *dispatch.Sweeper
	pool     *async.WorkerPool
	ticker   *dispatch.Ticker
	agents   *agent.Store
	reviews  *agent.ReviewStore
	router   *agent.Router
	scorer   *agent.Scorer
	notes    *notify.Store
	logger   *zap.SugaredLogger

	cfgMu          sync.RWMutex
	runnerSecret   string
	allowedOrigins []string
	scoreConfig    agent.ScoreConfig
	runLimiter     *rate.Limiter

	clientsMu sync.Mutex
	clients   map[*client]bool

	httpServer *http.Server
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	startedAt  time.Time
}

// New builds a server from its dependencies
func New(d Deps) *Server {
	log := d.Logger
	if log == nil {
		log = logger.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		db:        d.DB,
		queue:     d.Runner.Queue(),
		runner:    d.Runner,
		settings:  async.NewSettingsStore(d.DB),
		sweeper:   d.Sweeper,
		pool:      d.Pool,
		ticker:    d.Ticker,
		agents:    agent.NewStore(d.DB),
		reviews:   agent.NewReviewStore(d.DB),
		router:    agent.NewRouter(d.DB),
		scorer:    agent.NewScorer(d.DB),
		notes:     notify.NewStore(d.DB),
		logger:    log.Named("server"),
		clients:   make(map[*client]bool),
		ctx:       ctx,
		cancel:    cancel,
		startedAt: time.Now(),
	}
	s.ApplyConfig(d.Config)
	return s
}

// ApplyConfig takes the server, review and rate-limit settings from cfg.
// It is safe to call while serving; the config watcher does so on reload.
func (s *Server) ApplyConfig(cfg *am.Config) {
	if cfg == nil {
		return
	}
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	s.runnerSecret = cfg.Server.RunnerSecret
	s.allowedOrigins = cfg.GetServerAllowedOrigins()
	s.scoreConfig = agent.ScoreConfig{
		PassThreshold: cfg.Review.PassThreshold,
		RollingWindow: cfg.Review.RollingWindow,
	}
	s.runLimiter = nil
	if n := cfg.Server.RunOncePerMinute; n > 0 {
		s.runLimiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
	}
}

func (s *Server) secret() string {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.runnerSecret
}

func (s *Server) origins() []string {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.allowedOrigins
}

func (s *Server) reviewPolicy() agent.ScoreConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.scoreConfig
}

func (s *Server) limiter() *rate.Limiter {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.runLimiter
}
