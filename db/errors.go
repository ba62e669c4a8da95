package db

import (
	"strings"

	"github.com/teranos/missionctl/errors"
)

// ErrDatabaseClosed is returned when work arrives after shutdown closed the pool.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err means the pool is gone.
// The driver returns its own error values, so the message is checked as a fallback.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

// IsBusy reports whether err is SQLite's "database is locked" after busy_timeout expired
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
