package am

import "github.com/teranos/missionctl/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port != nil && *c.Server.Port <= 0 {
		return errors.Newf("server.port must be positive, got %d (omit for default %d)", *c.Server.Port, DefaultServerPort)
	}
	if c.Server.RunOncePerMinute < 0 {
		return errors.Newf("server.run_once_per_minute must be >= 0, got %d", c.Server.RunOncePerMinute)
	}

	// 0 workers is valid: the process only serves the API
	if c.Pulse.Workers < 0 {
		return errors.Newf("pulse.workers must be >= 0, got %d", c.Pulse.Workers)
	}
	if c.Pulse.PollIntervalMS <= 0 {
		return errors.Newf("pulse.poll_interval_ms must be > 0, got %d", c.Pulse.PollIntervalMS)
	}
	if c.Pulse.EngineTimeoutSeconds < 0 {
		return errors.Newf("pulse.engine_timeout_seconds must be >= 0, got %d", c.Pulse.EngineTimeoutSeconds)
	}

	if c.Dispatch.IntervalSeconds < 0 {
		return errors.Newf("dispatch.interval_seconds must be >= 0, got %d", c.Dispatch.IntervalSeconds)
	}
	for key, value := range map[string]int{
		"dispatch.stall_timeout_minutes":  c.Dispatch.StallTimeoutMinutes,
		"dispatch.retry_batch":            c.Dispatch.RetryBatch,
		"dispatch.research_stale_minutes": c.Dispatch.ResearchStaleMinutes,
		"dispatch.research_batch":         c.Dispatch.ResearchBatch,
		"dispatch.pause_threshold":        c.Dispatch.PauseThreshold,
		"review.rolling_window":           c.Review.RollingWindow,
	} {
		if value <= 0 {
			return errors.Newf("%s must be > 0, got %d", key, value)
		}
	}
	// 0 retries disables auto-retry
	if c.Dispatch.MaxRetries < 0 {
		return errors.Newf("dispatch.max_retries must be >= 0, got %d", c.Dispatch.MaxRetries)
	}

	// Five dimensions scored 1..10
	if c.Review.PassThreshold < 5 || c.Review.PassThreshold > 50 {
		return errors.Newf("review.pass_threshold must be between 5 and 50, got %d", c.Review.PassThreshold)
	}

	if c.Engines.CallsPerMinute < 0 {
		return errors.Newf("engines.calls_per_minute must be >= 0, got %d", c.Engines.CallsPerMinute)
	}
	if c.Engines.Local.BaseURL != "" && c.Engines.Local.TimeoutSeconds <= 0 {
		return errors.Newf("engines.local.timeout_seconds must be > 0, got %d", c.Engines.Local.TimeoutSeconds)
	}

	return nil
}
