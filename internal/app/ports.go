// Package app defines the application layer "ports" (interfaces) and simple
// data contracts that the core use-cases of Stash depend upon. It follows a
// hexagonal (ports & adapters) design: this package declares what the core
// needs, while adapter packages (e.g. SQLite/Postgres metadata, filesystem/S3
// blobs, the expiry scheduler, the HTTP layer) provide concrete
// implementations. No SQL or network concerns belong here.
package app

import (
	"context"
	"io"
	"time"

	"github.com/haukened/stash/internal/domain"
)

// Clock abstracts time to enable deterministic testing of expiry logic.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
}

// MetadataStore is the durable record store keyed by file id.
type MetadataStore interface {
	// Insert persists a new record. The call returns only once the record is committed.
	Insert(ctx context.Context, obj domain.FileObject) error

	// Get returns the record for id or domain.ErrNotFound.
	Get(ctx context.Context, id domain.FileID) (domain.FileObject, error)

	// Delete atomically removes the record and returns what was removed. It
	// returns domain.ErrNotFound when no record exists, which is how concurrent
	// deleters learn that another path already won.
	Delete(ctx context.Context, id domain.FileID) (domain.FileObject, error)

	// List returns every record, oldest first.
	List(ctx context.Context) ([]domain.FileObject, error)

	// DeleteAll removes every record and returns the count removed.
	DeleteAll(ctx context.Context) (int64, error)

	// ExpireBefore removes records whose expiry is at or before t and returns them.
	ExpireBefore(ctx context.Context, t time.Time) ([]domain.FileObject, error)
}

// BlobStore persists the raw uploaded bytes, addressed by the path it hands out.
type BlobStore interface {
	// Put stores exactly size bytes from r for id and returns the blob path.
	// Partial blobs are removed on failure.
	Put(ctx context.Context, id domain.FileID, r io.Reader, size int64) (path string, err error)

	// Open returns a stream over the blob at path and its size. A missing blob
	// yields domain.ErrNotFound.
	Open(ctx context.Context, path string) (io.ReadCloser, int64, error)

	// Delete removes the blob at path if present and reports whether it existed.
	Delete(ctx context.Context, path string) (existed bool, err error)

	// List returns the paths of all settled blobs.
	List(ctx context.Context) ([]string, error)
}

// Purged describes the outcome of removing an object from both stores.
type Purged struct {
	Object      domain.FileObject
	BlobMissing bool // metadata was removed but the blob was already gone
}

// Purger removes an object's metadata and then its blob as one logical
// transition. It returns domain.ErrNotFound if the metadata was already gone.
type Purger interface {
	Purge(ctx context.Context, id domain.FileID) (Purged, error)
}

// Scheduler tracks exactly one pending expiry per live object.
type Scheduler interface {
	// Register arms (or re-arms) the expiry of id at the given instant.
	Register(id domain.FileID, at time.Time) error
	// Cancel disarms a pending expiry. It is a no-op for unknown ids.
	Cancel(id domain.FileID) bool
}

// ExpiryPolicy decides when an object created at a given instant expires.
type ExpiryPolicy interface {
	ExpiresAt(created time.Time) time.Time
}

// Verifier hashes passwords and checks them against stored hashes.
type Verifier interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

// Metrics receives counter increments and summary observations.
type Metrics interface {
	Inc(name string, delta int64)
	Observe(name string, value int64)
}
