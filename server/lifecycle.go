package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/teranos/missionctl/errors"
	"github.com/teranos/missionctl/logger"
	"github.com/teranos/missionctl/sym"
)

// ShutdownTimeout bounds the wait for background goroutines on Stop
const ShutdownTimeout = 10 * time.Second

// startBackgroundServices starts the worker pool, the sweep ticker and the job broadcaster
func (s *Server) startBackgroundServices() {
	if s.pool != nil {
		s.pool.Start()
		s.logger.Infow(fmt.Sprintf("%s Worker pool started", sym.Pulse), "workers", s.pool.Workers())
	}
	if s.ticker != nil {
		s.ticker.Start()
	}
	s.startJobUpdateBroadcaster()
}

// Start serves the API on port, falling back to the next free port.
// It blocks until the listener fails or Stop shuts it down.
func (s *Server) Start(port int) error {
	actualPort, err := findAvailablePort(port)
	if err != nil {
		return errors.Wrap(err, "failed to find available port")
	}
	if actualPort != port {
		s.logger.Infow("Port in use, using alternative", "requested_port", port, logger.FieldPort, actualPort)
	}

	s.startBackgroundServices()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", actualPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	s.logger.Infow(fmt.Sprintf("%s HTTP server listening", sym.AM),
		logger.FieldAddress, fmt.Sprintf("http://localhost:%d", actualPort),
		logger.FieldPort, actualPort,
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "HTTP server failed")
	}
	return nil
}

// Stop drains HTTP requests, stops the pool and ticker, closes websocket
// clients and waits for background goroutines.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Infow("Initiating server shutdown")

	var shutdownErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			shutdownErr = errors.Wrap(err, "HTTP shutdown incomplete")
		}
	}

	// Pool first: running jobs still write their outcomes
	if s.pool != nil {
		s.pool.Stop()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}

	s.closeClients()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Infow("Server stopped")
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("Goroutine shutdown timed out", "timeout", ShutdownTimeout)
	}
	return shutdownErr
}
