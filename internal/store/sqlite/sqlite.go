// Package sqlite provides a SQLite-backed implementation of the
// app.MetadataStore port for persisting file metadata.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/haukened/stash/internal/app"
	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/store/migrations"

	// database/sql SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

var _ app.MetadataStore = (*Index)(nil)

// Index implements app.MetadataStore using SQLite (via database/sql). It is safe for
// concurrent use; database/sql manages connection pooling and serialization.
// Timestamps are stored as Unix milliseconds.
type Index struct{ db *sql.DB }

// New constructs an Index, migrating the schema to the latest version.
func New(db *sql.DB) (*Index, error) {
	if err := migrations.Up(context.Background(), db, goose.DialectSQLite3); err != nil {
		return nil, err
	}
	return &Index{db: db}, nil
}

const columns = `id, blob_path, password_hash, message, filename, size, created_at, expires_at`

type scanner interface{ Scan(dest ...any) error }

func scanFile(s scanner) (domain.FileObject, error) {
	var (
		f                  domain.FileObject
		id                 string
		created, expiresAt int64
	)
	if err := s.Scan(&id, &f.BlobPath, &f.PasswordHash, &f.Message, &f.Filename, &f.Size, &created, &expiresAt); err != nil {
		return domain.FileObject{}, err
	}
	f.ID = domain.FileID(id)
	f.CreatedAt = time.UnixMilli(created).UTC()
	f.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	return f, nil
}

// Insert stores a new file row.
func (i *Index) Insert(ctx context.Context, f domain.FileObject) error {
	const q = `INSERT INTO files (` + columns + `) VALUES (?,?,?,?,?,?,?,?)`
	_, err := i.db.ExecContext(ctx, q, f.ID.String(), f.BlobPath, f.PasswordHash, f.Message, f.Filename, f.Size, f.CreatedAt.UnixMilli(), f.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// Get returns the row for id.
func (i *Index) Get(ctx context.Context, id domain.FileID) (domain.FileObject, error) {
	const q = `SELECT ` + columns + ` FROM files WHERE id=?`
	f, err := scanFile(i.db.QueryRowContext(ctx, q, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FileObject{}, domain.ErrNotFound
	}
	return f, err
}

// Delete hard-deletes the row and returns it if it existed. Concurrent callers
// race on the single DELETE statement; exactly one of them sees the row.
func (i *Index) Delete(ctx context.Context, id domain.FileID) (domain.FileObject, error) {
	const q = `DELETE FROM files WHERE id=? RETURNING ` + columns
	f, err := scanFile(i.db.QueryRowContext(ctx, q, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FileObject{}, domain.ErrNotFound
	}
	return f, err
}

// List returns all rows ordered by creation time.
func (i *Index) List(ctx context.Context) ([]domain.FileObject, error) {
	const q = `SELECT ` + columns + ` FROM files ORDER BY created_at, id`
	rows, err := i.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// DeleteAll removes every row.
func (i *Index) DeleteAll(ctx context.Context) (int64, error) {
	res, err := i.db.ExecContext(ctx, `DELETE FROM files`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ExpireBefore deletes rows expiring at or before t, returning them for blob cleanup.
func (i *Index) ExpireBefore(ctx context.Context, t time.Time) ([]domain.FileObject, error) {
	const q = `DELETE FROM files WHERE expires_at <= ? RETURNING ` + columns
	rows, err := i.db.QueryContext(ctx, q, t.UnixMilli())
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Ping reports whether the database is reachable.
func (i *Index) Ping(ctx context.Context) error { return i.db.PingContext(ctx) }

func collect(rows *sql.Rows) ([]domain.FileObject, error) {
	var out []domain.FileObject
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			if cErr := rows.Close(); cErr != nil {
				return nil, fmt.Errorf("scan error: %v; close error: %w", err, cErr)
			}
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
