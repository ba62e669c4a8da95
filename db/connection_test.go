package db

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/missionctl/errors"
)

func TestDSN(t *testing.T) {
	dsn := DSN("/tmp/mctl.db")
	assert.Contains(t, dsn, "file:/tmp/mctl.db?")
	assert.Contains(t, dsn, "_busy_timeout=5000")
	assert.Contains(t, dsn, "_journal_mode=WAL")
	assert.Contains(t, dsn, "_txlock=immediate")

	assert.Contains(t, DSN("file:x.db?cache=shared"), "file:x.db?cache=shared&")
}

func TestOpen(t *testing.T) {
	t.Run("applies pragmas on every pooled connection", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		db, err := Open(dbPath, zaptest.NewLogger(t).Sugar())
		require.NoError(t, err)
		defer db.Close()

		db.SetMaxOpenConns(4)

		var wg sync.WaitGroup
		results := make([]int, 4)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				conn, err := db.Conn(t.Context())
				if err != nil {
					return
				}
				defer conn.Close()
				_ = conn.QueryRowContext(t.Context(), "PRAGMA busy_timeout").Scan(&results[i])
			}(i)
		}
		wg.Wait()

		for i, v := range results {
			assert.Equal(t, BusyTimeoutMS, v, "connection %d", i)
		}

		var journalMode string
		require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
		assert.Equal(t, "wal", journalMode)

		var foreignKeys int
		require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
		assert.Equal(t, 1, foreignKeys)
	})

	t.Run("unwritable directory fails with hint", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "test.db"), nil)
		require.Error(t, err)
		assert.NotEmpty(t, errors.GetAllHints(err))
		assert.Contains(t, fmt.Sprintf("%+v", err), "connection.go")
	})
}

func TestIsDatabaseClosed(t *testing.T) {
	assert.False(t, IsDatabaseClosed(nil))
	assert.True(t, IsDatabaseClosed(ErrDatabaseClosed))
	assert.True(t, IsDatabaseClosed(errors.Wrap(ErrDatabaseClosed, "claim")))
	assert.True(t, IsDatabaseClosed(errors.New("sql: database is closed")))
	assert.False(t, IsDatabaseClosed(errors.New("no such table")))

	assert.True(t, IsBusy(errors.New("database is locked")))
	assert.False(t, IsBusy(nil))
}
