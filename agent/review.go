package agent

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/missionctl/errors"
)

// Dimensions are the five review scores, each 1..10
type Dimensions struct {
	Completeness  int `json:"completeness"`
	Accuracy      int `json:"accuracy"`
	Actionability int `json:"actionability"`
	Relevance     int `json:"relevance"`
	Evidence      int `json:"evidence"`
}

// Total sums the dimensions (5..50 when valid)
func (d Dimensions) Total() int {
	return d.Completeness + d.Accuracy + d.Actionability + d.Relevance + d.Evidence
}

// Validate rejects scores outside 1..10
func (d Dimensions) Validate() error {
	for name, v := range map[string]int{
		"completeness":  d.Completeness,
		"accuracy":      d.Accuracy,
		"actionability": d.Actionability,
		"relevance":     d.Relevance,
		"evidence":      d.Evidence,
	} {
		if v < 1 || v > 10 {
			return errors.NewInvalidRequestError("%s score %d is outside 1..10", name, v)
		}
	}
	return nil
}

// Review is one quality assessment of a completed job
type Review struct {
	ID         string `json:"id"`
	JobID      string `json:"job_id"`
	ReviewerID string `json:"reviewer_id"`
	Dimensions
	Total     int       `json:"total"`
	Passed    bool      `json:"passed"`
	Feedback  string    `json:"feedback,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ReviewStore reads recorded reviews
type ReviewStore struct {
	db *sql.DB
}

// NewReviewStore creates a review store
func NewReviewStore(db *sql.DB) *ReviewStore {
	return &ReviewStore{db: db}
}

// ListForJob returns a job's reviews, newest first
func (s *ReviewStore) ListForJob(ctx context.Context, jobID string) ([]*Review, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, reviewer_id, completeness, accuracy, actionability, relevance, evidence,
		       total, passed, feedback, created_at
		FROM reviews
		WHERE job_id = ?
		ORDER BY created_at DESC, rowid DESC`, jobID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list reviews for job %s", jobID)
	}
	defer rows.Close()

	var reviews []*Review
	for rows.Next() {
		var r Review
		if err := rows.Scan(&r.ID, &r.JobID, &r.ReviewerID,
			&r.Completeness, &r.Accuracy, &r.Actionability, &r.Relevance, &r.Evidence,
			&r.Total, &r.Passed, &r.Feedback, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan review")
		}
		reviews = append(reviews, &r)
	}
	return reviews, rows.Err()
}
