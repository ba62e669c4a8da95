package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/missionctl/errors"
)

// Store persists notifications
type Store struct {
	db *sql.DB

	// Now is the clock; tests replace it
	Now func() time.Time
}

// NewStore creates a notification store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, Now: time.Now}
}

// Create inserts n, filling in ID, status, priority and creation time when unset
func (s *Store) Create(ctx context.Context, n *Notification) error {
	if strings.TrimSpace(n.Title) == "" {
		return errors.NewInvalidRequestError("notification title cannot be empty")
	}
	if n.Category == "" {
		return errors.NewInvalidRequestError("notification category cannot be empty")
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Status == "" {
		n.Status = StatusPending
	}
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.Now().UTC()
	}

	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return errors.Wrap(err, "failed to marshal notification metadata")
	}
	if n.Metadata == nil {
		meta = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, title, body, category, priority, status, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Title, n.Body, n.Category, n.Priority, n.Status, string(meta), n.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to create notification")
	}
	return nil
}

// ExistsOpen reports whether a pending or delivered notification of category
// carries metadata[key] == value
func (s *Store) ExistsOpen(ctx context.Context, category, key, value string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE category = ?
		  AND status IN (?, ?)
		  AND json_extract(metadata, ?) = ?`,
		category, StatusPending, StatusDelivered, "$."+key, value).Scan(&n)
	if err != nil {
		return false, errors.Wrapf(err, "failed to check for open %s notification", category)
	}
	return n > 0, nil
}

// Exists reports whether any notification, open or not, of category carries
// metadata[key] == value
func (s *Store) Exists(ctx context.Context, category, key, value string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE category = ? AND json_extract(metadata, ?) = ?`,
		category, "$."+key, value).Scan(&n)
	if err != nil {
		return false, errors.Wrapf(err, "failed to check for %s notification", category)
	}
	return n > 0, nil
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Status   Status
	Category string
	Limit    int
}

// List returns notifications newest first
func (s *Store) List(ctx context.Context, f Filter) ([]*Notification, error) {
	query := `SELECT id, title, body, category, priority, status, metadata, created_at, acknowledged_at
		FROM notifications WHERE 1=1`
	var args []interface{}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list notifications")
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Get returns one notification
func (s *Store) Get(ctx context.Context, id string) (*Notification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, body, category, priority, status, metadata, created_at, acknowledged_at
		FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("notification not found: %s", id)
	}
	return n, err
}

// Acknowledge marks an open notification acknowledged. Acknowledging twice is a no-op.
func (s *Store) Acknowledge(ctx context.Context, id string) (*Notification, error) {
	return s.close(ctx, id, StatusAcknowledged)
}

// Dismiss marks an open notification dismissed
func (s *Store) Dismiss(ctx context.Context, id string) (*Notification, error) {
	return s.close(ctx, id, StatusDismissed)
}

func (s *Store) close(ctx context.Context, id string, to Status) (*Notification, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET status = ?, acknowledged_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		to, s.Now().UTC(), id, StatusPending, StatusDelivered)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mark notification %s %s", id, to)
	}
	return s.Get(ctx, id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*Notification, error) {
	var n Notification
	var meta string
	var ackedAt sql.NullTime
	if err := row.Scan(&n.ID, &n.Title, &n.Body, &n.Category, &n.Priority, &n.Status, &meta, &n.CreatedAt, &ackedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan notification")
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &n.Metadata); err != nil {
			return nil, errors.Wrapf(err, "notification %s has malformed metadata", n.ID)
		}
	}
	if ackedAt.Valid {
		t := ackedAt.Time
		n.AcknowledgedAt = &t
	}
	return &n, nil
}
