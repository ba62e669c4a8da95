package async

import (
	"database/sql"

	"github.com/teranos/missionctl/errors"
)

// JobScanArgs holds the nullable columns scanned from a jobs row
type JobScanArgs struct {
	WorkDir        sql.NullString
	OutputDir      sql.NullString
	ParentJobID    sql.NullString
	ProjectID      sql.NullString
	AgentID        sql.NullString
	RetryCount     sql.NullInt64
	Result         sql.NullString
	LastError      sql.NullString
	LastRunOutcome sql.NullString
	QualityScore   sql.NullInt64
	ReviewFeedback sql.NullString
	StartedAt      sql.NullTime
	CompletedAt    sql.NullTime
	ReviewedAt     sql.NullTime
}

// GetJobScanArgs returns a JobScanArgs struct with all variables ready for scanning
func GetJobScanArgs() *JobScanArgs {
	return &JobScanArgs{}
}

// GetJobScanTargets returns scan destinations in StandardJobSelectColumns order
func GetJobScanTargets(job *Job, args *JobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.Title,
		&job.Prompt,
		&job.Engine,
		&args.WorkDir,
		&args.OutputDir,
		&job.Priority,
		&args.ParentJobID,
		&args.ProjectID,
		&args.AgentID,
		&job.JobType,
		&job.Source,
		&job.Status,
		&args.RetryCount,
		&args.Result,
		&args.LastError,
		&args.LastRunOutcome,
		&args.QualityScore,
		&args.ReviewFeedback,
		&job.CreatedAt,
		&job.UpdatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&args.ReviewedAt,
	}
}

// ProcessJobScanArgs copies scanned nullable values into job
func ProcessJobScanArgs(job *Job, args *JobScanArgs) error {
	job.WorkDir = args.WorkDir.String
	job.OutputDir = args.OutputDir.String
	job.ParentJobID = args.ParentJobID.String
	job.ProjectID = args.ProjectID.String
	job.AgentID = args.AgentID.String
	// Legacy rows may carry NULL retry_count; treat as 0
	job.RetryCount = int(args.RetryCount.Int64)
	job.Result = args.Result.String
	job.LastError = args.LastError.String
	job.ReviewFeedback = args.ReviewFeedback.String

	if args.LastRunOutcome.Valid {
		outcome, err := UnmarshalOutcome(args.LastRunOutcome.String)
		if err != nil {
			return errors.Wrapf(err, "job %s", job.ID)
		}
		job.LastRunOutcome = outcome
	}
	if args.QualityScore.Valid {
		score := int(args.QualityScore.Int64)
		job.QualityScore = &score
	}
	if args.StartedAt.Valid {
		t := args.StartedAt.Time
		job.StartedAt = &t
	}
	if args.CompletedAt.Valid {
		t := args.CompletedAt.Time
		job.CompletedAt = &t
	}
	if args.ReviewedAt.Valid {
		t := args.ReviewedAt.Time
		job.ReviewedAt = &t
	}

	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJob scans a single job from a row or rows cursor
func scanJob(row rowScanner) (*Job, error) {
	var job Job
	args := GetJobScanArgs()
	if err := row.Scan(GetJobScanTargets(&job, args)...); err != nil {
		return nil, err
	}
	if err := ProcessJobScanArgs(&job, args); err != nil {
		return nil, err
	}
	return &job, nil
}

// StandardJobSelectColumns returns the standard column list for job SELECT queries
func StandardJobSelectColumns() string {
	return `id, title, prompt, engine, work_dir, output_dir,
		priority, parent_job_id, project_id, agent_id, job_type, source,
		status, retry_count, result, last_error, last_run_outcome,
		quality_score, review_feedback,
		created_at, updated_at, started_at, completed_at, reviewed_at`
}
