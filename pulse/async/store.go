package async

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/teranos/missionctl/errors"
)

// Store handles persistence of jobs.
// Every status change is a conditional UPDATE ... WHERE status IN (...) whose
// affected-row count decides whether the caller won; reads never gate writes.
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle
func (s *Store) DB() *sql.DB {
	return s.db
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateJob inserts a new job
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO jobs (
			id, title, prompt, engine, work_dir, output_dir,
			priority, parent_job_id, project_id, agent_id, job_type, source,
			status, retry_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.Title,
		job.Prompt,
		job.Engine,
		job.WorkDir,
		job.OutputDir,
		job.Priority,
		nullString(job.ParentJobID),
		nullString(job.ProjectID),
		nullString(job.AgentID),
		job.JobType,
		job.Source,
		job.Status,
		job.RetryCount,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + ` FROM jobs WHERE id = ?`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	return job, nil
}

// JobFilter narrows ListJobs. Empty fields match everything.
type JobFilter struct {
	Statuses  []JobStatus
	ProjectID string
	Engine    EngineName
	AgentID   string
	Limit     int
}

// ListJobs returns jobs in claim order: priority ascending, then oldest first.
// An operator's view of the queue therefore matches what ClaimNext will pick.
func (s *Store) ListJobs(ctx context.Context, f JobFilter) ([]*Job, error) {
	var where []string
	var args []interface{}

	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}
	if f.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.Engine != "" {
		where = append(where, "engine = ?")
		args = append(args, f.Engine)
	}
	if f.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, f.AgentID)
	}

	query := `SELECT ` + StandardJobSelectColumns() + ` FROM jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY priority ASC, created_at ASC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// scanJobs scans every row of a jobs query
func scanJobs(rows *sql.Rows, what string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s", what)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", what)
	}
	return jobs, nil
}

// CountByStatus returns the number of jobs in each status
func (s *Store) CountByStatus(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// CountRunning returns how many jobs are running right now
func (s *Store) CountRunning(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = 'running'`).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count running jobs")
	}
	return n, nil
}

// ActiveLoadByAgent returns running plus assigned job counts keyed by agent id
func (s *Store) ActiveLoadByAgent(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, COUNT(*) FROM jobs
		WHERE agent_id IS NOT NULL AND status IN ('running', 'assigned')
		GROUP BY agent_id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load agent job counts")
	}
	defer rows.Close()

	load := make(map[string]int)
	for rows.Next() {
		var agentID string
		var n int
		if err := rows.Scan(&agentID, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan agent load")
		}
		load[agentID] = n
	}
	return load, rows.Err()
}

// HasActiveJobMentioning reports whether a queued, assigned or running job's title contains needle
func (s *Store) HasActiveJobMentioning(ctx context.Context, needle string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM jobs
			WHERE status IN ('queued', 'assigned', 'running') AND instr(title, ?) > 0
		)`, needle).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check for active job")
	}
	return exists, nil
}

// ListRetryable returns failed jobs still under the retry cap, most recently completed first
func (s *Store) ListRetryable(ctx context.Context, maxRetries, limit int) ([]*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM jobs
		WHERE status = 'failed' AND COALESCE(retry_count, 0) < ?
		ORDER BY completed_at DESC, id ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, maxRetries, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list retryable jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "retryable jobs")
}

// ListRunningSince returns running jobs whose started_at is set
func (s *Store) ListRunningSince(ctx context.Context) ([]*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM jobs
		WHERE status = 'running' AND started_at IS NOT NULL
		ORDER BY started_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list running jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "running jobs")
}

// ListChildren returns the sub-tasks of a decomposed job
func (s *Store) ListChildren(ctx context.Context, parentJobID string) ([]*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM jobs
		WHERE parent_job_id = ?
		ORDER BY priority ASC, created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, parentJobID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list child jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "child jobs")
}

// queuedCandidateIDs returns the ids at the head of the claim order
func (s *Store) queuedCandidateIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM jobs
		WHERE status = 'queued'
		ORDER BY priority ASC, created_at ASC, id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select queued jobs")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan queued job id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// claim is the compare-and-set at the heart of the claim protocol.
// The concurrency cap is evaluated inside the same statement, so two
// claimants cannot both slip under it.
func (s *Store) claim(ctx context.Context, id string, from []JobStatus, now time.Time, maxConcurrency int) (bool, error) {
	query := `
		UPDATE jobs
		SET status = 'running', started_at = ?, last_error = NULL, updated_at = ?
		WHERE id = ?
		  AND status IN (` + placeholders(len(from)) + `)
		  AND (? <= 0 OR (SELECT COUNT(*) FROM jobs WHERE status = 'running') < ?)`

	args := []interface{}{now, now, id}
	for _, st := range from {
		args = append(args, st)
	}
	args = append(args, maxConcurrency, maxConcurrency)

	return s.execCAS(ctx, query, args...)
}

// transition applies set to a job only while it is in one of from.
// set is a SQL fragment assigning columns; setArgs are its placeholders.
func (s *Store) transition(ctx context.Context, id string, from []JobStatus, set string, setArgs ...interface{}) (bool, error) {
	query := `UPDATE jobs SET ` + set + ` WHERE id = ? AND status IN (` + placeholders(len(from)) + `)`

	args := append([]interface{}{}, setArgs...)
	args = append(args, id)
	for _, st := range from {
		args = append(args, st)
	}

	return s.execCAS(ctx, query, args...)
}

// execCAS runs a conditional update and reports whether it matched a row
func (s *Store) execCAS(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.Wrap(err, "conditional update failed")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return affected == 1, nil
}

// exists reports whether a job with id exists, to tell "not found" from "lost the race"
func (s *Store) exists(ctx context.Context, id string) (bool, error) {
	var found bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM jobs WHERE id = ?)`, id).Scan(&found); err != nil {
		return false, errors.Wrap(err, "failed to check job")
	}
	return found, nil
}

// DeleteJob removes a job. Only administrative cleanup uses this.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete job")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("job not found: %s", id)
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
