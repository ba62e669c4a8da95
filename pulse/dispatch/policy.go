// Package dispatch is the auto-dispatch sweep: a pass over four independent
// self-healing rules (stall alerts, bounded retry, stale research
// re-dispatch and agent auto-pause) run after every job and on a ticker.
package dispatch

import (
	"time"

	"github.com/teranos/missionctl/am"
)

// Defaults for each rule
const (
	DefaultStallTimeout   = 10 * time.Minute
	DefaultMaxRetries     = 3
	DefaultRetryBatch     = 5
	DefaultResearchStale  = 30 * time.Minute
	DefaultResearchBatch  = 3
	DefaultPauseThreshold = 3

	// ResearchJobPriority is the priority of assessment jobs the sweep creates
	ResearchJobPriority = 7
)

// Policy is the sweep's tunable thresholds
type Policy struct {
	StallTimeout   time.Duration
	MaxRetries     int
	RetryBatch     int
	ResearchStale  time.Duration
	ResearchBatch  int
	PauseThreshold int
}

// DefaultPolicy returns the built-in thresholds
func DefaultPolicy() Policy {
	return Policy{
		StallTimeout:   DefaultStallTimeout,
		MaxRetries:     DefaultMaxRetries,
		RetryBatch:     DefaultRetryBatch,
		ResearchStale:  DefaultResearchStale,
		ResearchBatch:  DefaultResearchBatch,
		PauseThreshold: DefaultPauseThreshold,
	}
}

// PolicyFromConfig reads the dispatch section. Unset values keep their default.
func PolicyFromConfig(c am.DispatchConfig) Policy {
	p := DefaultPolicy()
	if c.StallTimeoutMinutes > 0 {
		p.StallTimeout = time.Duration(c.StallTimeoutMinutes) * time.Minute
	}
	if c.MaxRetries > 0 {
		p.MaxRetries = c.MaxRetries
	}
	if c.RetryBatch > 0 {
		p.RetryBatch = c.RetryBatch
	}
	if c.ResearchStaleMinutes > 0 {
		p.ResearchStale = time.Duration(c.ResearchStaleMinutes) * time.Minute
	}
	if c.ResearchBatch > 0 {
		p.ResearchBatch = c.ResearchBatch
	}
	if c.PauseThreshold > 0 {
		p.PauseThreshold = c.PauseThreshold
	}
	return p
}
