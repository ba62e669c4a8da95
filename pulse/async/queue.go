package async

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/teranos/missionctl/errors"
)

const (
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100

	// claimCandidates is how many queued ids one claim round looks at
	claimCandidates = 16
	// claimRounds bounds re-selection after every candidate was lost to another claimant
	claimRounds = 3
)

// Queue is the job lifecycle on top of Store. It owns every status transition:
// claim, outcome mapping, reset, assignment and the review gate.
type Queue struct {
	store       *Store
	mu          sync.RWMutex
	subscribers []chan *Job // Channels to notify of job updates

	// Now is the clock used for every timestamp the queue writes
	Now func() time.Time
}

// NewQueue creates a new job queue
func NewQueue(db *sql.DB) *Queue {
	return &Queue{
		store:       NewStore(db),
		subscribers: make([]chan *Job, 0),
		Now:         time.Now,
	}
}

// Store returns the underlying job store
func (q *Queue) Store() *Store {
	return q.store
}

func (q *Queue) now() time.Time {
	return q.Now().UTC()
}

// Enqueue validates spec and adds a queued job
func (q *Queue) Enqueue(ctx context.Context, spec JobSpec) (*Job, error) {
	job, err := NewJob(spec, q.now())
	if err != nil {
		return nil, err
	}

	if err := q.store.CreateJob(ctx, job); err != nil {
		err = errors.Wrap(err, "failed to enqueue job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Engine: %s", job.Engine))
		err = errors.WithDetail(err, fmt.Sprintf("Source: %s", job.Source))
		return nil, err
	}

	q.notifySubscribers(job)
	return job, nil
}

// ClaimNext atomically moves the most urgent queued job to running and returns it.
// It returns nil when nothing is eligible, when pause_all is set, when the
// concurrency cap is reached, or when every candidate was taken by another claimant.
func (q *Queue) ClaimNext(ctx context.Context, settings Settings) (*Job, error) {
	if settings.PauseAll {
		return nil, nil
	}

	for round := 0; round < claimRounds; round++ {
		if full, err := q.atCapacity(ctx, settings); err != nil || full {
			return nil, err
		}

		ids, err := q.store.queuedCandidateIDs(ctx, claimCandidates)
		if err != nil {
			return nil, errors.Wrap(err, "failed to select claim candidates")
		}
		if len(ids) == 0 {
			return nil, nil
		}

		for _, id := range ids {
			won, err := q.store.claim(ctx, id, []JobStatus{JobStatusQueued}, q.now(), settings.MaxConcurrency)
			if err != nil {
				err = errors.Wrap(err, "failed to claim job")
				return nil, errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
			}
			if won {
				return q.reload(ctx, id)
			}
		}
	}

	return nil, nil
}

// ClaimJob claims one named job, queued or assigned. A lost race or a job in
// any other status returns nil without error.
func (q *Queue) ClaimJob(ctx context.Context, id string, settings Settings) (*Job, error) {
	if settings.PauseAll {
		return nil, nil
	}
	if full, err := q.atCapacity(ctx, settings); err != nil || full {
		return nil, err
	}

	won, err := q.store.claim(ctx, id, []JobStatus{JobStatusQueued, JobStatusAssigned}, q.now(), settings.MaxConcurrency)
	if err != nil {
		err = errors.Wrap(err, "failed to claim job")
		return nil, errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
	}
	if !won {
		if err := q.requireExists(ctx, id); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return q.reload(ctx, id)
}

// atCapacity is the cheap pre-check; the claim statement re-checks the cap atomically
func (q *Queue) atCapacity(ctx context.Context, settings Settings) (bool, error) {
	if settings.MaxConcurrency <= 0 {
		return false, nil
	}
	running, err := q.store.CountRunning(ctx)
	if err != nil {
		return false, err
	}
	return running >= settings.MaxConcurrency, nil
}

// Assign earmarks a queued job for an agent before it runs
func (q *Queue) Assign(ctx context.Context, id, agentID string) (*Job, error) {
	if agentID == "" {
		return nil, errors.NewInvalidRequestError("agent id cannot be empty")
	}

	won, err := q.store.transition(ctx, id, sourcesOf(JobStatusAssigned),
		`status = 'assigned', agent_id = ?, updated_at = ?`, agentID, q.now())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to assign job %s", id)
	}
	if !won {
		return nil, q.conflictOrNotFound(ctx, id, "job %s cannot be assigned", id)
	}
	return q.reload(ctx, id)
}

// Finish writes an engine outcome back onto a running job.
// The outcome decides the terminal status: ok is done, the two pause signals
// pause, everything else is failed with last_error populated.
func (q *Queue) Finish(ctx context.Context, id string, outcome Outcome) (*Job, error) {
	status := outcome.TerminalStatus()
	if status == JobStatusFailed {
		outcome.Status = OutcomeFailed
		if strings.TrimSpace(outcome.Error) == "" {
			outcome.Error = "engine reported failure without error text"
		}
	}

	var lastError sql.NullString
	if status != JobStatusDone {
		lastError = nullString(outcome.Error)
	}

	encoded, err := MarshalOutcome(&outcome)
	if err != nil {
		return nil, err
	}

	now := q.now()
	won, err := q.store.transition(ctx, id, []JobStatus{JobStatusRunning},
		`status = ?, completed_at = ?, result = ?, last_error = ?, last_run_outcome = ?, updated_at = ?`,
		status, now, nullString(outcome.Result), lastError, encoded, now)
	if err != nil {
		err = errors.Wrap(err, "failed to record job outcome")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
		return nil, errors.WithDetail(err, fmt.Sprintf("Outcome: %s", outcome.Status))
	}
	if !won {
		return nil, q.conflictOrNotFound(ctx, id, "job %s is no longer running", id)
	}
	return q.reload(ctx, id)
}

// RequeueOptions selects which of the two reset paths Requeue takes
type RequeueOptions struct {
	// IncrementRetry is the auto-retry path: only from failed, only while
	// retry_count < MaxRetries, and retry_count goes up by one.
	IncrementRetry bool
	MaxRetries     int

	// ResetRetries is the operator path: from any terminal status, retry_count back to 0.
	ResetRetries bool
}

// requeueCleared is the SET clause shared by every path back to queued
const requeueCleared = `status = 'queued', started_at = NULL, completed_at = NULL, result = NULL,
	last_error = NULL, last_run_outcome = NULL, updated_at = ?`

// Requeue is the single reset used by auto-retry and operator requeue.
// Both clear started_at, completed_at, result, last_error and last_run_outcome.
// It reports false when the job was not in a status the chosen path accepts.
func (q *Queue) Requeue(ctx context.Context, id string, opts RequeueOptions) (bool, error) {
	var (
		won bool
		err error
	)
	switch {
	case opts.IncrementRetry && opts.ResetRetries:
		return false, errors.NewInvalidRequestError("requeue cannot both increment and reset retries")
	case opts.IncrementRetry:
		won, err = q.store.execCAS(ctx, `
			UPDATE jobs SET `+requeueCleared+`, retry_count = COALESCE(retry_count, 0) + 1
			WHERE id = ? AND status = 'failed' AND COALESCE(retry_count, 0) < ?`,
			q.now(), id, opts.MaxRetries)
	case opts.ResetRetries:
		won, err = q.store.transition(ctx, id, sourcesOf(JobStatusQueued),
			requeueCleared+`, retry_count = 0`, q.now())
	default:
		return false, errors.NewInvalidRequestError("requeue needs IncrementRetry or ResetRetries")
	}
	if err != nil {
		err = errors.Wrap(err, "failed to requeue job")
		return false, errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
	}
	if won {
		q.notifyByID(ctx, id)
	}
	return won, nil
}

// BeginReview moves a done job into review. completed_at is kept.
func (q *Queue) BeginReview(ctx context.Context, id string) (*Job, error) {
	won, err := q.store.transition(ctx, id, []JobStatus{JobStatusDone},
		`status = 'reviewing', updated_at = ?`, q.now())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to start review of job %s", id)
	}
	if !won {
		return nil, q.conflictOrNotFound(ctx, id, "job %s is not done", id)
	}
	return q.reload(ctx, id)
}

// JobPatch is an administrative partial update. Nil fields are left alone.
type JobPatch struct {
	Priority *int       `json:"priority,omitempty"`
	JobType  *JobType   `json:"job_type,omitempty"`
	AgentID  *string    `json:"agent_id,omitempty"`
	Title    *string    `json:"title,omitempty"`
	Status   *JobStatus `json:"status,omitempty"`
}

// Patch applies an administrative edit touching only the named columns.
// The only status it accepts is queued, which goes through the operator requeue.
func (q *Queue) Patch(ctx context.Context, id string, patch JobPatch) (*Job, error) {
	var sets []string
	var args []interface{}

	if patch.Status != nil && *patch.Status != JobStatusQueued {
		return nil, errors.NewInvalidRequestError("status can only be patched to %q, got %q", JobStatusQueued, *patch.Status)
	}
	if patch.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *patch.Priority)
	}
	if patch.JobType != nil {
		if !IsValidJobType(string(*patch.JobType)) {
			return nil, errors.NewInvalidRequestError("unknown job_type %q", *patch.JobType)
		}
		sets = append(sets, "job_type = ?")
		args = append(args, *patch.JobType)
	}
	if patch.AgentID != nil {
		sets = append(sets, "agent_id = ?")
		args = append(args, nullString(*patch.AgentID))
	}
	if patch.Title != nil {
		if strings.TrimSpace(*patch.Title) == "" {
			return nil, errors.NewInvalidRequestError("job title cannot be empty")
		}
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}

	// A status patch folds the column edits into the operator requeue CAS,
	// so a lost requeue writes nothing.
	if patch.Status != nil {
		sets = append(sets, requeueCleared, "retry_count = 0")
		args = append(args, q.now())
		won, err := q.store.transition(ctx, id, sourcesOf(JobStatusQueued), strings.Join(sets, ", "), args...)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to patch job %s", id)
		}
		if !won {
			return nil, q.conflictOrNotFound(ctx, id, "job %s cannot be requeued from its current status", id)
		}
		q.notifyByID(ctx, id)
		return q.reload(ctx, id)
	}

	if len(sets) > 0 {
		sets = append(sets, "updated_at = ?")
		args = append(args, q.now(), id)
		result, err := q.store.db.ExecContext(ctx,
			`UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to patch job %s", id)
		}
		if n, err := result.RowsAffected(); err == nil && n == 0 {
			return nil, errors.NewNotFoundError("job not found: %s", id)
		}
	}

	return q.reload(ctx, id)
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	return q.store.GetJob(ctx, id)
}

// ListJobs returns jobs in claim order
func (q *Queue) ListJobs(ctx context.Context, f JobFilter) ([]*Job, error) {
	return q.store.ListJobs(ctx, f)
}

// QueueStats counts jobs per status
type QueueStats struct {
	ByStatus map[JobStatus]int `json:"by_status"`
	Queued   int               `json:"queued"`
	Running  int               `json:"running"`
	Failed   int               `json:"failed"`
	Total    int               `json:"total"`
}

// Stats returns queue statistics
func (q *Queue) Stats(ctx context.Context) (*QueueStats, error) {
	counts, err := q.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &QueueStats{ByStatus: make(map[JobStatus]int, len(AllStatuses))}
	for _, st := range AllStatuses {
		stats.ByStatus[st] = counts[st]
		stats.Total += counts[st]
	}
	stats.Queued = counts[JobStatusQueued]
	stats.Running = counts[JobStatusRunning]
	stats.Failed = counts[JobStatusFailed]
	return stats, nil
}

// Subscribe returns a channel that receives job updates.
// The caller is responsible for calling Unsubscribe when done.
// The returned channel is buffered to prevent blocking the notifier.
func (q *Queue) Subscribe() chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel from the queue.
// The channel is NOT closed by this method; callers close it themselves.
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers sends job updates to all subscribers without blocking
func (q *Queue) notifySubscribers(job *Job) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, ch := range q.subscribers {
		select {
		case ch <- job:
		default:
			// Channel full, skip
		}
	}
}

func (q *Queue) notifyByID(ctx context.Context, id string) {
	if job, err := q.store.GetJob(ctx, id); err == nil {
		q.notifySubscribers(job)
	}
}

// reload re-reads a job after a won transition and fans it out
func (q *Queue) reload(ctx context.Context, id string) (*Job, error) {
	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	q.notifySubscribers(job)
	return job, nil
}

func (q *Queue) requireExists(ctx context.Context, id string) error {
	found, err := q.store.exists(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return errors.NewNotFoundError("job not found: %s", id)
	}
	return nil
}

// conflictOrNotFound explains a zero-row transition to a caller that asked for it explicitly
func (q *Queue) conflictOrNotFound(ctx context.Context, id, format string, args ...interface{}) error {
	if err := q.requireExists(ctx, id); err != nil {
		return err
	}
	return errors.NewConflictError(format, args...)
}
