package agent

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	"github.com/teranos/missionctl/errors"
	"github.com/teranos/missionctl/pulse/async"
)

// Scoring weights
const (
	departmentBonus = 10.0
	costWeight      = 2.0
	loadPenalty     = 3.0
)

// Title keyword sets that send a job straight to a role. Checked in order.
var keywordRoutes = []struct {
	role     Role
	keywords []string
}{
	{RoleAnalyst, []string{"finance", "financial", "budget", "revenue", "invoice", "pricing", "accounting", "expense", "payroll", "forecast"}},
	{RoleOps, []string{"security", "vulnerability", "vulnerabilities", "cve", "exploit", "firewall", "incident", "breach", "pentest", "secrets"}},
}

// Route is the router's pick for a job
type Route struct {
	AgentID   string  `json:"agent_id"`
	AgentName string  `json:"agent_name"`
	Reason    string  `json:"reason"`
	Score     float64 `json:"score,omitempty"`
}

// Router picks the agent best suited to a job. It performs no writes.
type Router struct {
	agents *Store
	jobs   *async.Store
}

// NewRouter creates a router over db
func NewRouter(db *sql.DB) *Router {
	return &Router{agents: NewStore(db), jobs: async.NewStore(db)}
}

// Route returns the chosen agent for jobID, or nil when no agent qualifies
func (r *Router) Route(ctx context.Context, jobID string) (*Route, error) {
	job, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	agents, err := r.agents.ListEligible(ctx)
	if err != nil {
		return nil, err
	}
	load, err := r.jobs.ActiveLoadByAgent(ctx)
	if err != nil {
		return nil, err
	}
	dept, err := r.agents.PreferredDepartment(ctx, job.ProjectID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to route job %s", jobID)
	}
	return Pick(job, agents, load, dept), nil
}

// Pick is the routing decision over a snapshot: eligible agents in a stable
// order, running+assigned counts per agent id, and the preferred department.
// Equal inputs always give the same answer.
func Pick(job *async.Job, agents []*Agent, load map[string]int, preferredDept string) *Route {
	switch job.JobType {
	case async.JobTypeReview:
		if a := firstWithRole(agents, RoleQA); a != nil {
			return &Route{AgentID: a.ID, AgentName: a.Name, Reason: "review job goes to qa"}
		}
	case async.JobTypeDecomposition, async.JobTypeIntegration:
		if a := firstWithRole(agents, RoleOrchestrator); a != nil {
			return &Route{AgentID: a.ID, AgentName: a.Name, Reason: fmt.Sprintf("%s job goes to orchestrator", job.JobType)}
		}
	}

	words := titleWords(job.Title)
	for _, kr := range keywordRoutes {
		if kw := matchKeyword(words, kr.keywords); kw != "" {
			if a := firstWithRole(agents, kr.role); a != nil {
				return &Route{AgentID: a.ID, AgentName: a.Name, Reason: fmt.Sprintf("title mentions %q", kw)}
			}
			break
		}
	}

	var best *Agent
	var bestScore float64
	for _, a := range agents {
		if !a.Eligible() || a.Role == RoleOrchestrator || !a.CanServe(job.Engine) {
			continue
		}
		score := Score(a, load[a.ID], preferredDept)
		if best == nil || score > bestScore {
			best, bestScore = a, score
		}
	}
	if best == nil {
		return nil
	}

	return &Route{
		AgentID:   best.ID,
		AgentName: best.Name,
		Score:     bestScore,
		Reason: fmt.Sprintf("score %.1f (%s tier, quality %.1f, load %d%s)",
			bestScore, best.CostTier, best.QualityScoreAvg, load[best.ID], deptNote(best, preferredDept)),
	}
}

// Score rates one candidate. Higher is better.
func Score(a *Agent, load int, preferredDept string) float64 {
	score := float64(3-a.CostTier.Rank())*costWeight + a.QualityScoreAvg - loadPenalty*float64(load)
	if preferredDept != "" && a.DepartmentID == preferredDept {
		score += departmentBonus
	}
	return score
}

func deptNote(a *Agent, preferredDept string) string {
	if preferredDept != "" && a.DepartmentID == preferredDept {
		return ", project department"
	}
	return ""
}

func firstWithRole(agents []*Agent, role Role) *Agent {
	for _, a := range agents {
		if a.Role == role && a.Eligible() {
			return a
		}
	}
	return nil
}

func titleWords(title string) []string {
	return strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func matchKeyword(words, keywords []string) string {
	for _, w := range words {
		for _, kw := range keywords {
			if w == kw {
				return kw
			}
		}
	}
	return ""
}
