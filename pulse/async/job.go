// Package async implements the job lifecycle: the job model and its state
// machine, the SQLite-backed store with compare-and-set transitions, the
// claim protocol, the engine runner and the worker pool that drives it.
package async

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/missionctl/errors"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusQueued      JobStatus = "queued"
	JobStatusAssigned    JobStatus = "assigned"
	JobStatusRunning     JobStatus = "running"
	JobStatusDone        JobStatus = "done"
	JobStatusFailed      JobStatus = "failed"
	JobStatusRejected    JobStatus = "rejected"
	JobStatusPausedHuman JobStatus = "paused_human"
	JobStatusPausedQuota JobStatus = "paused_quota"
	JobStatusReviewing   JobStatus = "reviewing"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []JobStatus{
	JobStatusQueued, JobStatusAssigned, JobStatusRunning, JobStatusDone, JobStatusReviewing,
	JobStatusFailed, JobStatusRejected, JobStatusPausedHuman, JobStatusPausedQuota,
}

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	for _, st := range AllStatuses {
		if string(st) == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends a run. completed_at is set
// exactly when a job is in one of these, or in reviewing: review is a
// sub-state of done and keeps done's completed_at until the scorer settles
// it as done or rejected.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusDone, JobStatusFailed, JobStatusRejected, JobStatusPausedHuman, JobStatusPausedQuota:
		return true
	default:
		return false
	}
}

// transitions is the lifecycle graph. Terminal states are never re-entered
// except failed -> queued (retry) and the operator requeue.
var transitions = map[JobStatus][]JobStatus{
	JobStatusQueued:      {JobStatusAssigned, JobStatusRunning},
	JobStatusAssigned:    {JobStatusAssigned, JobStatusRunning},
	JobStatusRunning:     {JobStatusDone, JobStatusFailed, JobStatusPausedHuman, JobStatusPausedQuota},
	JobStatusDone:        {JobStatusReviewing, JobStatusDone, JobStatusRejected, JobStatusQueued},
	JobStatusReviewing:   {JobStatusDone, JobStatusRejected},
	JobStatusFailed:      {JobStatusQueued},
	JobStatusRejected:    {JobStatusDone, JobStatusRejected, JobStatusQueued},
	JobStatusPausedHuman: {JobStatusQueued},
	JobStatusPausedQuota: {JobStatusQueued},
}

// CanTransition reports whether the lifecycle allows from -> to
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// sourcesOf returns every status that may move to target
func sourcesOf(target JobStatus) []JobStatus {
	var from []JobStatus
	for _, s := range AllStatuses {
		if CanTransition(s, target) {
			from = append(from, s)
		}
	}
	return from
}

// EngineName identifies which engine runner executes a job
type EngineName string

const (
	EngineShell      EngineName = "shell"
	EngineOpenRouter EngineName = "openrouter"
	EngineAnthropic  EngineName = "anthropic"
	EngineLocal      EngineName = "local"

	// EngineGeneralLLM is the LLM engine any LLM-capable agent can serve
	EngineGeneralLLM = EngineOpenRouter
)

// IsValidEngine reports whether s names a known engine
func IsValidEngine(s string) bool {
	switch EngineName(s) {
	case EngineShell, EngineOpenRouter, EngineAnthropic, EngineLocal:
		return true
	default:
		return false
	}
}

// JobType classifies the work a job represents
type JobType string

const (
	JobTypeTask          JobType = "task"
	JobTypeDecomposition JobType = "decomposition"
	JobTypeReview        JobType = "review"
	JobTypeIntegration   JobType = "integration"
	JobTypePM            JobType = "pm"
)

// IsValidJobType reports whether s names a known job type
func IsValidJobType(s string) bool {
	switch JobType(s) {
	case JobTypeTask, JobTypeDecomposition, JobTypeReview, JobTypeIntegration, JobTypePM:
		return true
	default:
		return false
	}
}

// DefaultPriority is used when a job is created without one. Lower is more urgent.
const DefaultPriority = 5

// OutcomeStatus is the normalized result class an engine runner reports
type OutcomeStatus string

const (
	OutcomeOK                OutcomeStatus = "ok"
	OutcomeFailed            OutcomeStatus = "failed"
	OutcomeHumanIntervention OutcomeStatus = "human-intervention-requested"
	OutcomeQuotaExhausted    OutcomeStatus = "quota-exhausted"
)

// Outcome is what an engine runner returns for one execution
type Outcome struct {
	Status OutcomeStatus `json:"status"`
	Result string        `json:"result,omitempty"`
	LogRef string        `json:"log_ref,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// FailedOutcome builds a failed outcome with the given error text
func FailedOutcome(format string, args ...interface{}) Outcome {
	return Outcome{Status: OutcomeFailed, Error: fmt.Sprintf(format, args...)}
}

// TerminalStatus maps an outcome onto the job status it produces.
// Anything unrecognized is a failure; an outcome never silently succeeds.
func (o Outcome) TerminalStatus() JobStatus {
	switch o.Status {
	case OutcomeOK:
		return JobStatusDone
	case OutcomeHumanIntervention:
		return JobStatusPausedHuman
	case OutcomeQuotaExhausted:
		return JobStatusPausedQuota
	default:
		return JobStatusFailed
	}
}

// Job represents a unit of work executed by an engine
type Job struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Prompt      string     `json:"prompt"`
	Engine      EngineName `json:"engine"`
	WorkDir     string     `json:"work_dir,omitempty"`
	OutputDir   string     `json:"output_dir,omitempty"`
	Priority    int        `json:"priority"`
	ParentJobID string     `json:"parent_job_id,omitempty"`
	ProjectID   string     `json:"project_id,omitempty"`
	AgentID     string     `json:"agent_id,omitempty"`
	JobType     JobType    `json:"job_type"`
	Source      string     `json:"source"`

	Status         JobStatus  `json:"status"`
	RetryCount     int        `json:"retry_count"`
	Result         string     `json:"result,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	LastRunOutcome *Outcome   `json:"last_run_outcome,omitempty"`
	QualityScore   *int       `json:"quality_score,omitempty"`
	ReviewFeedback string     `json:"review_feedback,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
}

// JobSpec describes a job to create. Zero values take defaults.
type JobSpec struct {
	Title       string     `json:"title"`
	Prompt      string     `json:"prompt"`
	Engine      EngineName `json:"engine"`
	WorkDir     string     `json:"work_dir,omitempty"`
	OutputDir   string     `json:"output_dir,omitempty"`
	Priority    *int       `json:"priority,omitempty"`
	ParentJobID string     `json:"parent_job_id,omitempty"`
	ProjectID   string     `json:"project_id,omitempty"`
	AgentID     string     `json:"agent_id,omitempty"`
	JobType     JobType    `json:"job_type,omitempty"`
	Source      string     `json:"source,omitempty"`
}

// NewJob validates spec and returns a queued job
func NewJob(spec JobSpec, now time.Time) (*Job, error) {
	if strings.TrimSpace(spec.Title) == "" {
		return nil, errors.NewInvalidRequestError("job title cannot be empty")
	}
	if !IsValidEngine(string(spec.Engine)) {
		return nil, errors.NewInvalidRequestError("unknown engine %q", spec.Engine)
	}
	jobType := spec.JobType
	if jobType == "" {
		jobType = JobTypeTask
	}
	if !IsValidJobType(string(jobType)) {
		return nil, errors.NewInvalidRequestError("unknown job_type %q", jobType)
	}
	priority := DefaultPriority
	if spec.Priority != nil {
		priority = *spec.Priority
	}
	source := spec.Source
	if source == "" {
		source = "manual"
	}

	now = now.UTC()
	return &Job{
		ID:          uuid.New().String(),
		Title:       spec.Title,
		Prompt:      spec.Prompt,
		Engine:      spec.Engine,
		WorkDir:     spec.WorkDir,
		OutputDir:   spec.OutputDir,
		Priority:    priority,
		ParentJobID: spec.ParentJobID,
		ProjectID:   spec.ProjectID,
		AgentID:     spec.AgentID,
		JobType:     jobType,
		Source:      source,
		Status:      JobStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// MarshalOutcome converts an Outcome to its stored JSON form
func MarshalOutcome(o *Outcome) (string, error) {
	if o == nil {
		return "", nil
	}
	data, err := json.Marshal(o)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal outcome")
	}
	return string(data), nil
}

// UnmarshalOutcome converts stored JSON back into an Outcome
func UnmarshalOutcome(data string) (*Outcome, error) {
	if data == "" {
		return nil, nil
	}
	var o Outcome
	if err := json.Unmarshal([]byte(data), &o); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal outcome")
	}
	return &o, nil
}
