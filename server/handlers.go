package server

import (
	"net/http"
	"time"

	"github.com/teranos/missionctl/agent"
	"github.com/teranos/missionctl/errors"
	"github.com/teranos/missionctl/logger"
	"github.com/teranos/missionctl/notify"
	"github.com/teranos/missionctl/pulse/async"
	"github.com/teranos/missionctl/version"
)

// SettingRequest is the PUT /api/settings/{key} body
type SettingRequest struct {
	Value string `json:"value"`
}

// MetricsResponse combines worker, system and queue state
type MetricsResponse struct {
	Queue         *async.QueueStats    `json:"queue"`
	System        *async.SystemMetrics `json:"system,omitempty"`
	Settings      async.Settings       `json:"settings"`
	JobsProcessed int                  `json:"jobs_processed"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	WSClients     int                  `json:"ws_clients"`
}

// HandleHealth is the liveness probe (GET /health)
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	info := version.Get()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": info.Short(),
		"commit":  info.CommitHash,
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// HandleListAgents returns the roster (GET /api/agents)
func (s *Server) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.agents.List(r.Context())
	if err != nil {
		handleError(w, s.logger, err, "Failed to list agents")
		return
	}
	if agents == nil {
		agents = []*agent.Agent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": agents})
}

// HandleResumeAgent reactivates an auto-paused agent (POST /api/agents/{id}/resume)
func (s *Server) HandleResumeAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.agents.Resume(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, s.logger, err, "Failed to resume agent")
		return
	}
	s.logger.Infow("Agent resumed", logger.FieldAgentID, a.ID)
	writeJSON(w, http.StatusOK, a)
}

// HandleDispatchSweep runs one auto-dispatch sweep and returns its report (POST /api/dispatch/sweep)
func (s *Server) HandleDispatchSweep(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "Dispatch sweeper not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.sweeper.Trigger(r.Context()))
}

// HandleListNotifications lists notifications newest first (GET /api/notifications)
func (s *Server) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := notify.Filter{
		Status:   notify.Status(q.Get("status")),
		Category: q.Get("category"),
		Limit:    parseIntQueryParam(r, "limit", defaultJobLimit, 1, maxJobLimit),
	}
	notes, err := s.notes.List(r.Context(), filter)
	if err != nil {
		handleError(w, s.logger, err, "Failed to list notifications")
		return
	}
	if notes == nil {
		notes = []*notify.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": notes})
}

// HandleAckNotification acknowledges a notification (POST /api/notifications/{id}/ack)
func (s *Server) HandleAckNotification(w http.ResponseWriter, r *http.Request) {
	n, err := s.notes.Acknowledge(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, s.logger, err, "Failed to acknowledge notification")
		return
	}
	logger.AddNotifySymbol(s.logger).Infow("Notification acknowledged",
		"notification_id", n.ID, "category", n.Category)
	writeJSON(w, http.StatusOK, n)
}

// HandleListSettings returns every stored runtime setting (GET /api/settings)
func (s *Server) HandleListSettings(w http.ResponseWriter, r *http.Request) {
	all, err := s.settings.All(r.Context())
	if err != nil {
		handleError(w, s.logger, err, "Failed to list settings")
		return
	}
	writeJSON(w, http.StatusOK, all)
}

// HandleGetSetting returns one setting (GET /api/settings/{key})
func (s *Server) HandleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, err := s.settings.Get(r.Context(), key)
	if err != nil {
		handleError(w, s.logger, err, "Failed to read setting")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

// HandlePutSetting writes one setting (PUT /api/settings/{key}).
// pause_all and max_concurrency take effect on the next claim.
func (s *Server) HandlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var req SettingRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.settings.Set(r.Context(), key, req.Value); err != nil {
		handleError(w, s.logger, err, "Failed to write setting")
		return
	}
	value, err := s.settings.Get(r.Context(), key)
	if err != nil {
		handleError(w, s.logger, errors.Wrap(err, "setting vanished after write"), "Failed to read setting")
		return
	}
	s.logger.Infow("Setting changed", "key", key, "value", value)
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

// HandlePulseMetrics reports queue, worker and memory state (GET /api/pulse/metrics)
func (s *Server) HandlePulseMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		handleError(w, s.logger, err, "Failed to read queue stats")
		return
	}
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		handleError(w, s.logger, err, "Failed to read settings")
		return
	}

	resp := MetricsResponse{
		Queue:         stats,
		Settings:      snap,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		WSClients:     s.clientCount(),
	}
	if s.pool != nil {
		metrics := s.pool.GetSystemMetrics(ctx)
		resp.System = &metrics
		resp.JobsProcessed = s.pool.JobsProcessed()
	}
	writeJSON(w, http.StatusOK, resp)
}
