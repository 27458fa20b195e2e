// Package postgres provides a PostgreSQL-backed implementation of the
// app.MetadataStore port, for deployments that keep metadata off the node.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// database/sql pgx driver ("pgx")
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/haukened/stash/internal/app"
	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/store/migrations"
)

var _ app.MetadataStore = (*Index)(nil)

// Index implements app.MetadataStore on PostgreSQL.
type Index struct{ db *sql.DB }

// Open connects to dsn with the pgx driver and migrates the schema.
func Open(ctx context.Context, dsn string) (*Index, *sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("postgres ping: %w", err)
	}
	ix, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return ix, db, nil
}

// New wraps an open database, migrating the schema to the latest version.
func New(ctx context.Context, db *sql.DB) (*Index, error) {
	if err := migrations.Up(ctx, db, goose.DialectPostgres); err != nil {
		return nil, err
	}
	return &Index{db: db}, nil
}

const columns = `id, blob_path, password_hash, message, filename, size, created_at, expires_at`

type scanner interface{ Scan(dest ...any) error }

func scanFile(s scanner) (domain.FileObject, error) {
	var (
		f  domain.FileObject
		id string
	)
	if err := s.Scan(&id, &f.BlobPath, &f.PasswordHash, &f.Message, &f.Filename, &f.Size, &f.CreatedAt, &f.ExpiresAt); err != nil {
		return domain.FileObject{}, err
	}
	f.ID = domain.FileID(id)
	f.CreatedAt = f.CreatedAt.UTC()
	f.ExpiresAt = f.ExpiresAt.UTC()
	return f, nil
}

// Insert stores a new file row.
func (i *Index) Insert(ctx context.Context, f domain.FileObject) error {
	const q = `INSERT INTO files (` + columns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	if _, err := i.db.ExecContext(ctx, q, f.ID.String(), f.BlobPath, f.PasswordHash, f.Message, f.Filename, f.Size, f.CreatedAt, f.ExpiresAt); err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// Get returns the row for id.
func (i *Index) Get(ctx context.Context, id domain.FileID) (domain.FileObject, error) {
	const q = `SELECT ` + columns + ` FROM files WHERE id=$1`
	f, err := scanFile(i.db.QueryRowContext(ctx, q, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FileObject{}, domain.ErrNotFound
	}
	return f, err
}

// Delete removes the row and returns it; the DELETE is the arbiter between
// concurrent deleters.
func (i *Index) Delete(ctx context.Context, id domain.FileID) (domain.FileObject, error) {
	const q = `DELETE FROM files WHERE id=$1 RETURNING ` + columns
	f, err := scanFile(i.db.QueryRowContext(ctx, q, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FileObject{}, domain.ErrNotFound
	}
	return f, err
}

// List returns all rows ordered by creation time.
func (i *Index) List(ctx context.Context) ([]domain.FileObject, error) {
	rows, err := i.db.QueryContext(ctx, `SELECT `+columns+` FROM files ORDER BY created_at, id`)
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

// ExpireBefore deletes rows expiring at or before t and returns them.
func (i *Index) ExpireBefore(ctx context.Context, t time.Time) ([]domain.FileObject, error) {
	rows, err := i.db.QueryContext(ctx, `DELETE FROM files WHERE expires_at <= $1 RETURNING `+columns, t)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Ping reports whether the database is reachable.
func (i *Index) Ping(ctx context.Context) error { return i.db.PingContext(ctx) }

func collect(rows *sql.Rows) ([]domain.FileObject, error) {
	defer rows.Close()
	var out []domain.FileObject
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
