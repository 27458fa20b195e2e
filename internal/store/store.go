// Package store composes a metadata store and a blob store into the single
// logical object the rest of Stash deletes, expires, and reconciles. Adapters
// live in the sub-packages (sqlite, postgres, filesystem, s3blob).
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haukened/stash/internal/app"
	"github.com/haukened/stash/internal/domain"
)

// DefaultGrace is how old a record must be before Reconcile treats its
// missing blob as dangling rather than an upload still in flight.
const DefaultGrace = time.Minute

// Store removes objects from both stores as one transition: metadata first,
// then the blob.
type Store struct {
	meta   app.MetadataStore
	blobs  app.BlobStore
	clock  app.Clock
	logger *slog.Logger
	grace  time.Duration
}

var _ app.Purger = (*Store)(nil)

// New returns a Store. A nil logger falls back to slog.Default.
func New(meta app.MetadataStore, blobs app.BlobStore, clock app.Clock, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{meta: meta, blobs: blobs, clock: clock, logger: logger.With("domain", "store"), grace: DefaultGrace}
}

// SetGrace overrides DefaultGrace.
func (s *Store) SetGrace(d time.Duration) { s.grace = d }

// Purge deletes the metadata for id and then its blob. Whoever removes the
// metadata owns the blob; everyone else gets domain.ErrNotFound. A blob that
// is already gone is reported, not treated as failure.
func (s *Store) Purge(ctx context.Context, id domain.FileID) (app.Purged, error) {
	obj, err := s.meta.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return app.Purged{}, domain.ErrNotFound
		}
		return app.Purged{}, fmt.Errorf("%w: delete metadata: %w", domain.ErrStorageUnavailable, err)
	}
	existed, err := s.blobs.Delete(ctx, obj.BlobPath)
	if err != nil {
		// metadata is gone; the orphan blob is left for Reconcile
		s.logger.Warn("blob delete failed", "id", id.String(), "path", obj.BlobPath, "err", err)
		return app.Purged{Object: obj}, nil
	}
	return app.Purged{Object: obj, BlobMissing: !existed}, nil
}

// DeleteExpired removes every object whose expiry is at or before now and
// returns how many records were removed.
func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	expired, err := s.meta.ExpireBefore(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	for _, obj := range expired {
		if _, err := s.blobs.Delete(ctx, obj.BlobPath); err != nil {
			s.logger.Warn("expired blob delete failed", "id", obj.ID.String(), "err", err)
		}
	}
	return len(expired), nil
}

// Reconciled counts what a Reconcile pass removed.
type Reconciled struct {
	OrphanBlobs     int
	DanglingRecords int
}

// Reconcile removes blobs no record references and records older than the
// grace period whose blob is gone.
func (s *Store) Reconcile(ctx context.Context) (Reconciled, error) {
	var res Reconciled
	// blobs first: anything listed here was written before the records below were read
	paths, err := s.blobs.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list blobs: %w", err)
	}
	objs, err := s.meta.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list metadata: %w", err)
	}
	referenced := make(map[string]struct{}, len(objs))
	for _, o := range objs {
		referenced[o.BlobPath] = struct{}{}
	}
	present := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		present[p] = struct{}{}
		if _, ok := referenced[p]; ok {
			continue
		}
		existed, err := s.blobs.Delete(ctx, p)
		if err != nil {
			s.logger.Warn("orphan blob delete failed", "path", p, "err", err)
			continue
		}
		if existed {
			res.OrphanBlobs++
		}
	}
	cutoff := s.clock.Now().Add(-s.grace)
	for _, o := range objs {
		if _, ok := present[o.BlobPath]; ok || o.CreatedAt.After(cutoff) {
			continue
		}
		dangling, err := s.blobGone(ctx, o.BlobPath)
		if err != nil {
			s.logger.Warn("blob probe failed", "id", o.ID.String(), "err", err)
			continue
		}
		if !dangling {
			continue
		}
		if _, err := s.meta.Delete(ctx, o.ID); err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				s.logger.Warn("dangling record delete failed", "id", o.ID.String(), "err", err)
			}
			continue
		}
		res.DanglingRecords++
	}
	return res, nil
}

func (s *Store) blobGone(ctx context.Context, path string) (bool, error) {
	rc, _, err := s.blobs.Open(ctx, path)
	if errors.Is(err, domain.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	_ = rc.Close()
	return false, nil
}
