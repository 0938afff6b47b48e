package store

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"mangasync/pkg/database"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(db))
	return New(db)
}
