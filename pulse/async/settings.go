package async

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/missionctl/errors"
)

// Runtime setting keys stored in the settings table
const (
	SettingPauseAll       = "pause_all"
	SettingMaxConcurrency = "max_concurrency"
)

// Settings is the snapshot of runtime settings passed into a claim.
// Callers read it once per call so tests can hand in a fixed value.
type Settings struct {
	PauseAll       bool `json:"pause_all"`
	MaxConcurrency int  `json:"max_concurrency"`
}

// SettingsStore reads and writes the settings table
type SettingsStore struct {
	db  *sql.DB
	Now func() time.Time
}

// NewSettingsStore creates a settings store
func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db, Now: time.Now}
}

// Get returns the raw value of key
func (s *SettingsStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.NewNotFoundError("setting not found: %s", key)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to read setting %s", key)
	}
	return value, nil
}

// Set validates and stores a setting value
func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case SettingPauseAll:
		if _, ok := parseFlag(value); !ok {
			return errors.NewInvalidRequestError("%s must be true or false, got %q", key, value)
		}
	case SettingMaxConcurrency:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return errors.NewInvalidRequestError("%s must be a non-negative integer, got %q", key, value)
		}
	default:
		return errors.NewInvalidRequestError("unknown setting %q", key)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.Now().UTC())
	if err != nil {
		return errors.Wrapf(err, "failed to write setting %s", key)
	}
	return nil
}

// All returns every stored setting
func (s *SettingsStore) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list settings")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errors.Wrap(err, "failed to scan setting")
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Keys returns the setting keys in display order
func Keys(settings map[string]string) []string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot reads the runtime settings the claim protocol consumes.
// Missing or malformed values fall back to "not paused, unlimited".
func (s *SettingsStore) Snapshot(ctx context.Context) (Settings, error) {
	all, err := s.All(ctx)
	if err != nil {
		return Settings{}, err
	}

	var snap Settings
	if v, ok := all[SettingPauseAll]; ok {
		snap.PauseAll, _ = parseFlag(v)
	}
	if v, ok := all[SettingMaxConcurrency]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			snap.MaxConcurrency = n
		}
	}
	return snap, nil
}

// parseFlag accepts the boolean-like spellings operators type
func parseFlag(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off", "":
		return false, true
	default:
		return false, false
	}
}
