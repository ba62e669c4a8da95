// Package agent holds the roster of execution roles jobs are routed to,
// the router that picks one for a job, and the quality scorer that feeds
// review results back into each agent's performance fields.
package agent

import (
	"time"

	"github.com/teranos/missionctl/pulse/async"
)

// Role is the job an agent performs
type Role string

const (
	RoleOrchestrator Role = "orchestrator"
	RoleCoder        Role = "coder"
	RoleResearcher   Role = "researcher"
	RoleQA           Role = "qa"
	RoleOps          Role = "ops"
	RoleAnalyst      Role = "analyst"
	RoleProduct      Role = "product"
	RoleCreative     Role = "creative"
	RoleMarketing    Role = "marketing"
	RolePublisher    Role = "publisher"
)

var roles = []Role{
	RoleOrchestrator, RoleCoder, RoleResearcher, RoleQA, RoleOps,
	RoleAnalyst, RoleProduct, RoleCreative, RoleMarketing, RolePublisher,
}

// IsValidRole reports whether s names a known role
func IsValidRole(s string) bool {
	for _, r := range roles {
		if string(r) == s {
			return true
		}
	}
	return false
}

// CostTier orders agents by what a run costs
type CostTier string

const (
	CostFree   CostTier = "free"
	CostLow    CostTier = "low"
	CostMedium CostTier = "medium"
	CostHigh   CostTier = "high"
)

// Rank maps free=0 through high=3. Unknown tiers rank as high.
func (c CostTier) Rank() int {
	switch c {
	case CostFree:
		return 0
	case CostLow:
		return 1
	case CostMedium:
		return 2
	default:
		return 3
	}
}

// IsValidCostTier reports whether s names a known cost tier
func IsValidCostTier(s string) bool {
	switch CostTier(s) {
	case CostFree, CostLow, CostMedium, CostHigh:
		return true
	}
	return false
}

// Status is the agent's operational status, separate from job status
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
)

// Agent is a named execution role
type Agent struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Role          Role             `json:"role"`
	DefaultEngine async.EngineName `json:"default_engine"`
	CostTier      CostTier         `json:"cost_tier"`
	DepartmentID  string           `json:"department_id,omitempty"`
	Active        bool             `json:"active"`
	Status        Status           `json:"status"`

	QualityScoreAvg     float64 `json:"quality_score_avg"`
	TotalJobsCompleted  int     `json:"total_jobs_completed"`
	ConsecutiveFailures int     `json:"consecutive_failures"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Eligible reports whether the agent may receive work: enabled and not paused
func (a *Agent) Eligible() bool {
	return a.Active && a.Status == StatusActive
}

// CanServe reports engine compatibility. Shell jobs need a shell agent;
// LLM jobs need an agent on that engine or on the general LLM engine.
func (a *Agent) CanServe(engine async.EngineName) bool {
	if engine == async.EngineShell {
		return a.DefaultEngine == async.EngineShell
	}
	return a.DefaultEngine == engine || a.DefaultEngine == async.EngineGeneralLLM
}
