package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpSQLiteIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, Up(ctx, db, goose.DialectSQLite3))
	require.NoError(t, Up(ctx, db, goose.DialectSQLite3))

	var name string
	err = db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name='files'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "files", name)
}

func TestUpUnsupportedDialect(t *testing.T) {
	err := Up(context.Background(), nil, goose.DialectMySQL)
	assert.ErrorContains(t, err, "unsupported dialect")
}

func TestEmbeddedFilesPerDialect(t *testing.T) {
	for _, dir := range dirs {
		entries, err := files.ReadDir(dir)
		require.NoError(t, err)
		assert.NotEmpty(t, entries, dir)
	}
}
