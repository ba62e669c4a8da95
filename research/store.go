// Package research stores captured research items. Items left in the
// captured state past the staleness window are re-dispatched for assessment.
package research

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/missionctl/errors"
)

// Status of a research item
type Status string

const (
	StatusCaptured  Status = "captured"
	StatusAssessing Status = "assessing"
	StatusAssessed  Status = "assessed"
	StatusArchived  Status = "archived"
)

// IsValidStatus reports whether s names a research status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusCaptured, StatusAssessing, StatusAssessed, StatusArchived:
		return true
	}
	return false
}

// Item is a captured link or idea awaiting assessment
type Item struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	URL       string    `json:"url,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists research items
type Store struct {
	db  *sql.DB
	Now func() time.Time
}

// NewStore creates a research store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, Now: time.Now}
}

const selectColumns = `id, title, url, summary, status, created_at, updated_at`

// Create inserts a captured item
func (s *Store) Create(ctx context.Context, item *Item) error {
	if strings.TrimSpace(item.Title) == "" {
		return errors.NewInvalidRequestError("research title cannot be empty")
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = StatusCaptured
	}
	now := s.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO research_items (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Title, item.URL, item.Summary, item.Status, item.CreatedAt.UTC(), item.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to create research item")
	}
	return nil
}

// Get returns one item
func (s *Store) Get(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM research_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("research item not found: %s", id)
	}
	return item, err
}

// List returns items in status (all when empty), oldest first
func (s *Store) List(ctx context.Context, status Status, limit int) ([]*Item, error) {
	query := `SELECT ` + selectColumns + ` FROM research_items`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.query(ctx, query, args...)
}

// ListStale returns captured items created before cutoff, oldest first
func (s *Store) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*Item, error) {
	query := `SELECT ` + selectColumns + ` FROM research_items
		WHERE status = ? AND created_at < ?
		ORDER BY created_at ASC, id ASC`
	args := []interface{}{StatusCaptured, cutoff.UTC()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.query(ctx, query, args...)
}

// SetStatus moves an item from one status to another. It reports false
// when the item was no longer in from.
func (s *Store) SetStatus(ctx context.Context, id string, from, to Status) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE research_items SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, s.Now().UTC(), id, from)
	if err != nil {
		return false, errors.Wrapf(err, "failed to move research item %s to %s", id, to)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return n == 1, nil
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list research items")
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.Title, &item.URL, &item.Summary, &item.Status, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan research item")
	}
	return &item, nil
}
