package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/teranos/missionctl/db"
)

// CreateTestDB creates a migrated SQLite database in a temp directory.
// A file is used rather than :memory: so that pooled connections share one
// database and concurrency tests exercise real SQLite locking.
// Cleanup is registered via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "mctl_test.db"), nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %+v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}
