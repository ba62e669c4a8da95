package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/missionctl/logger"
)

// RequestIDHeader carries a caller-supplied request ID; one is minted when absent
const RequestIDHeader = "X-Request-ID"

// Handler returns the server's routes wrapped in CORS and request logging
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Runner endpoints: shared secret, then rate limit
	mux.HandleFunc("POST /api/jobs/run-once", s.runnerOnly(s.rateLimited(s.HandleRunOnce)))
	mux.HandleFunc("POST /api/jobs/run-batch", s.runnerOnly(s.rateLimited(s.HandleRunBatch)))
	mux.HandleFunc("POST /api/dispatch/sweep", s.runnerOnly(s.HandleDispatchSweep))

	mux.HandleFunc("GET /api/jobs", s.HandleListJobs)
	mux.HandleFunc("POST /api/jobs", s.HandleCreateJob)
	mux.HandleFunc("GET /api/jobs/{id}", s.HandleGetJob)
	mux.HandleFunc("PATCH /api/jobs/{id}", s.HandlePatchJob)
	mux.HandleFunc("POST /api/jobs/{id}/route", s.HandleRouteJob)
	mux.HandleFunc("POST /api/jobs/{id}/review", s.HandleReviewJob)
	mux.HandleFunc("GET /api/jobs/{id}/reviews", s.HandleListReviews)
	mux.HandleFunc("POST /api/jobs/{id}/requeue", s.HandleRequeueJob)
	mux.HandleFunc("GET /api/jobs/{id}/children", s.HandleJobChildren)

	mux.HandleFunc("GET /api/agents", s.HandleListAgents)
	mux.HandleFunc("POST /api/agents/{id}/resume", s.HandleResumeAgent)

	mux.HandleFunc("GET /api/notifications", s.HandleListNotifications)
	mux.HandleFunc("POST /api/notifications/{id}/ack", s.HandleAckNotification)

	mux.HandleFunc("GET /api/settings", s.HandleListSettings)
	mux.HandleFunc("GET /api/settings/{key}", s.HandleGetSetting)
	mux.HandleFunc("PUT /api/settings/{key}", s.HandlePutSetting)

	mux.HandleFunc("GET /api/pulse/metrics", s.HandlePulseMetrics)
	mux.HandleFunc("GET /ws/jobs", s.HandleJobsWebSocket)
	mux.HandleFunc("GET /health", s.HandleHealth)

	return s.logRequests(s.corsMiddleware(mux))
}

// corsMiddleware adds CORS headers for allowed origins and answers preflight
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Runner-Secret, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// runnerOnly rejects requests without the runner secret
func (s *Server) runnerOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.authorizeRunner(r); err != nil {
			s.logger.Warnw("Rejected runner request", logger.FieldPath, r.URL.Path, logger.FieldError, err)
			handleError(w, s.logger, err, "Unauthorized")
			return
		}
		next(w, r)
	}
}

// rateLimited answers 429 once server.run_once_per_minute is spent
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if lim := s.limiter(); lim != nil && !lim.Allow() {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// statusRecorder captures the status code for request logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the hijacker
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Websocket upgrades need the raw writer
		if r.URL.Path == "/ws/jobs" {
			next.ServeHTTP(w, r)
			return
		}
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)
		ctx := logger.WithRequestID(r.Context(), requestID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		s.logger.With(logger.FieldsFromContext(ctx)...).Debugw("HTTP request",
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldStatus, rec.status,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
		)
	})
}
