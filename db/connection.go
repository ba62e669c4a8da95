package db

import (
	"database/sql"
	"net/url"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/missionctl/errors"
)

// BusyTimeoutMS is how long a connection waits on a locked database before
// giving up. Concurrent claimants rely on it while another writer commits.
const BusyTimeoutMS = 5000

// DSN builds a go-sqlite3 data source name for path.
// Pragmas are passed as DSN parameters so every pooled connection gets them,
// not just the first one. _txlock=immediate makes BEGIN take the write lock
// up front, which keeps read-then-write transactions from deadlocking.
func DSN(path string) string {
	params := url.Values{}
	params.Set("_busy_timeout", "5000")
	params.Set("_journal_mode", "WAL")
	params.Set("_foreign_keys", "on")
	params.Set("_txlock", "immediate")

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	prefix := ""
	if !strings.HasPrefix(path, "file:") {
		prefix = "file:"
	}
	return prefix + path + sep + params.Encode()
}

// Open opens a SQLite database at the specified path with WAL, foreign keys
// and a busy timeout enabled on every connection.
// If logger is provided, logs database operations; otherwise operates silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path)
	}
	db, err := sql.Open("sqlite3", DSN(path))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", path)
	}

	// sql.Open is lazy; surface unwritable paths here rather than on first query
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.WithHint(
			errors.Wrapf(err, "failed to connect to database %s", path),
			"check database.path in am.toml and that its directory is writable",
		)
	}

	if logger != nil {
		logger.Infow("Database opened",
			"path", path,
			"wal_mode", true,
			"foreign_keys", true,
		)
	}

	return db, nil
}

// OpenWithMigrations opens the database and applies pending migrations
func OpenWithMigrations(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(path, logger)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to migrate database %s", path)
	}
	return db, nil
}
