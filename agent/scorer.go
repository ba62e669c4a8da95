package agent

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/missionctl/errors"
	"github.com/teranos/missionctl/pulse/async"
)

const (
	DefaultPassThreshold = 35
	DefaultRollingWindow = 20
)

// ScoreConfig is the review policy passed in per call
type ScoreConfig struct {
	PassThreshold int
	RollingWindow int
}

// DefaultScoreConfig passes at 35 and averages the last 20 reviewed jobs
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{PassThreshold: DefaultPassThreshold, RollingWindow: DefaultRollingWindow}
}

// ScoreResult is what Score reports back
type ScoreResult struct {
	ReviewID string          `json:"review_id"`
	Total    int             `json:"total"`
	Passed   bool            `json:"passed"`
	Status   async.JobStatus `json:"status"`
	AgentID  string          `json:"agent_id,omitempty"`
}

// reviewable statuses: done and reviewing on first review, rejected on resubmission
var reviewable = []async.JobStatus{async.JobStatusDone, async.JobStatusReviewing, async.JobStatusRejected}

// Scorer records reviews and rolls them up into agent statistics
type Scorer struct {
	db  *sql.DB
	Now func() time.Time
}

// NewScorer creates a quality scorer
func NewScorer(db *sql.DB) *Scorer {
	return &Scorer{db: db, Now: time.Now}
}

// Score records a review of jobID and applies it. The review row, the job
// verdict and the owning agent's statistics are written in one transaction,
// so a failed review insert leaves no partial effect.
func (s *Scorer) Score(ctx context.Context, jobID, reviewerID string, dims Dimensions, feedback string, cfg ScoreConfig) (*ScoreResult, error) {
	if err := dims.Validate(); err != nil {
		return nil, err
	}
	if cfg.PassThreshold == 0 {
		cfg.PassThreshold = DefaultPassThreshold
	}
	if cfg.RollingWindow <= 0 {
		cfg.RollingWindow = DefaultRollingWindow
	}

	total := dims.Total()
	result := &ScoreResult{
		ReviewID: uuid.New().String(),
		Total:    total,
		Passed:   total >= cfg.PassThreshold,
		Status:   async.JobStatusRejected,
	}
	if result.Passed {
		result.Status = async.JobStatusDone
	}
	now := s.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin review transaction")
	}
	defer tx.Rollback()

	var status async.JobStatus
	var agentID sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT status, agent_id FROM jobs WHERE id = ?`, jobID).Scan(&status, &agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job not found: %s", jobID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load job %s for review", jobID)
	}
	if !isReviewable(status) {
		return nil, errors.NewConflictError("job %s is %s and cannot be reviewed", jobID, status)
	}
	result.AgentID = agentID.String

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reviews (id, job_id, reviewer_id, completeness, accuracy, actionability, relevance, evidence,
		                     total, passed, feedback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ReviewID, jobID, reviewerID,
		dims.Completeness, dims.Accuracy, dims.Actionability, dims.Relevance, dims.Evidence,
		total, result.Passed, feedback, now)
	if err != nil {
		err = errors.Wrap(err, "failed to insert review")
		return nil, errors.WithDetail(err, fmt.Sprintf("Job ID: %s", jobID))
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET quality_score = ?, status = ?, review_feedback = ?, reviewed_at = ?, updated_at = ?
		WHERE id = ?`,
		total, result.Status, feedback, now, now, jobID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to apply review to job %s", jobID)
	}

	if agentID.Valid && agentID.String != "" {
		if err := rollup(ctx, tx, agentID.String, result.Passed, cfg.RollingWindow, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit review")
	}
	return result, nil
}

// rollup recomputes the agent's rolling quality average from its most
// recently reviewed jobs. Each job counts once, with its latest score.
func rollup(ctx context.Context, tx *sql.Tx, agentID string, passed bool, window int, now time.Time) error {
	var avg sql.NullFloat64
	err := tx.QueryRowContext(ctx, `
		SELECT AVG(quality_score) FROM (
			SELECT quality_score FROM jobs
			WHERE agent_id = ? AND reviewed_at IS NOT NULL AND quality_score IS NOT NULL
			ORDER BY reviewed_at DESC, id ASC
			LIMIT ?
		)`, agentID, window).Scan(&avg)
	if err != nil {
		return errors.Wrapf(err, "failed to average reviews for agent %s", agentID)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE agents SET
			quality_score_avg = ?,
			consecutive_failures = CASE WHEN ? THEN 0 ELSE consecutive_failures + 1 END,
			total_jobs_completed = total_jobs_completed + CASE WHEN ? THEN 1 ELSE 0 END,
			updated_at = ?
		WHERE id = ?`,
		avg.Float64, passed, passed, now, agentID)
	if err != nil {
		return errors.Wrapf(err, "failed to update statistics for agent %s", agentID)
	}
	return nil
}

func isReviewable(s async.JobStatus) bool {
	for _, r := range reviewable {
		if s == r {
			return true
		}
	}
	return false
}
