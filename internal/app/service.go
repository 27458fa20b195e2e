// Package app contains the application orchestration layer for Stash. It wires
// domain validation, the credential gate and expiry scheduling with the
// persistence ports.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/metrics"
)

// Service orchestrates upload, lookup, download and deletion of file objects.
// It is safe for concurrent use; no lock spans unrelated objects.
type Service struct {
	Meta      MetadataStore
	Blobs     BlobStore
	Purger    Purger
	Scheduler Scheduler
	Verifier  Verifier
	Policy    ExpiryPolicy
	Clock     Clock
	Metrics   Metrics      // optional
	Logger    *slog.Logger // optional (defaults to slog.Default())
	MaxBytes  int64        // 0 disables the size limit
}

// UploadInput carries one upload request. Password and Message are optional.
type UploadInput struct {
	Body     io.Reader
	Size     int64
	Filename string
	Password string
	Message  string
}

// Download is an authorized, lazily read blob stream. The caller must close Body.
type Download struct {
	View domain.View
	Body io.ReadCloser
	Size int64
}

// Upload stores the blob, records its metadata and arms its expiry.
// If the metadata write fails the blob is removed before ErrStorageUnavailable
// is returned. A failed timer registration does not fail the upload; the
// janitor sweep still expires the object.
func (s *Service) Upload(ctx context.Context, in UploadInput) (domain.View, error) {
	if in.Body == nil || in.Size <= 0 {
		return domain.View{}, domain.ErrEmptyFile
	}
	if s.MaxBytes > 0 && in.Size > s.MaxBytes {
		return domain.View{}, domain.ErrSizeExceeded
	}
	log := s.log()
	id, err := domain.NewID()
	if err != nil {
		return domain.View{}, err
	}
	var hash string
	if in.Password != "" {
		if hash, err = s.Verifier.Hash(in.Password); err != nil {
			return domain.View{}, err
		}
	}
	now := s.Clock.Now().UTC().Truncate(time.Millisecond)
	obj := domain.FileObject{
		ID:           id,
		CreatedAt:    now,
		ExpiresAt:    s.Policy.ExpiresAt(now).UTC(),
		PasswordHash: hash,
		Message:      in.Message,
		Filename:     in.Filename,
		Size:         in.Size,
	}
	path, err := s.Blobs.Put(ctx, id, in.Body, in.Size)
	if err != nil {
		log.Error("blob write failed", "id", id, "error", err)
		return domain.View{}, fmt.Errorf("%w: write blob: %w", domain.ErrStorageUnavailable, err)
	}
	obj.BlobPath = path
	if err := s.Meta.Insert(ctx, obj); err != nil {
		// The request context may already be gone; compensation must still run.
		if _, derr := s.Blobs.Delete(context.WithoutCancel(ctx), path); derr != nil {
			log.Error("orphan blob left after failed insert", "id", id, "error", derr)
		}
		log.Error("metadata write failed", "id", id, "error", err)
		return domain.View{}, fmt.Errorf("%w: record metadata: %w", domain.ErrStorageUnavailable, err)
	}
	if err := s.Scheduler.Register(id, obj.ExpiresAt); err != nil {
		log.Warn("expiry registration failed; janitor sweep will expire object", "id", id, "expires_at", obj.ExpiresAt, "error", err)
	}
	s.inc(metrics.CounterFilesUploaded, 1)
	s.observe(metrics.SummaryUploadBytes, in.Size)
	log.Info("file uploaded", "id", id, "size", in.Size, "protected", obj.Protected(), "expires_at", obj.ExpiresAt)
	return obj.View(), nil
}

// Get returns the object's metadata after passing the credential gate.
func (s *Service) Get(ctx context.Context, idStr, password string) (domain.View, error) {
	obj, err := s.authorize(ctx, idStr, password)
	if err != nil {
		return domain.View{}, err
	}
	return obj.View(), nil
}

// Download passes the credential gate and only then opens the blob stream.
func (s *Service) Download(ctx context.Context, idStr, password string) (*Download, error) {
	obj, err := s.authorize(ctx, idStr, password)
	if err != nil {
		return nil, err
	}
	rc, size, err := s.Blobs.Open(ctx, obj.BlobPath)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log().Warn("metadata present but blob missing", "id", obj.ID)
		}
		return nil, storageErr("open blob", err)
	}
	s.inc(metrics.CounterFilesDownloaded, 1)
	return &Download{View: obj.View(), Body: rc, Size: size}, nil
}

// Delete passes the credential gate, cancels the pending expiry and removes
// metadata then blob. A blob that was already gone is reported through
// View.BlobMissing rather than as an error. If another path removed the
// object first, domain.ErrNotFound is returned.
func (s *Service) Delete(ctx context.Context, idStr, password string) (domain.View, error) {
	obj, err := s.authorize(ctx, idStr, password)
	if err != nil {
		return domain.View{}, err
	}
	log := s.log()
	s.Scheduler.Cancel(obj.ID)
	purged, err := s.Purger.Purge(ctx, obj.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.View{}, domain.ErrNotFound
		}
		if rerr := s.Scheduler.Register(obj.ID, obj.ExpiresAt); rerr != nil {
			log.Warn("expiry re-registration failed", "id", obj.ID, "error", rerr)
		}
		log.Error("delete failed", "id", obj.ID, "error", err)
		return domain.View{}, err
	}
	if purged.BlobMissing {
		log.Warn("blob already absent at delete", "id", obj.ID)
	}
	s.inc(metrics.CounterFilesDeleted, 1)
	v := purged.Object.View()
	v.BlobMissing = purged.BlobMissing
	return v, nil
}

// ListAll returns every record without the credential gate. Authorization is
// the transport's responsibility.
func (s *Service) ListAll(ctx context.Context) ([]domain.View, error) {
	objs, err := s.Meta.List(ctx)
	if err != nil {
		return nil, storageErr("list metadata", err)
	}
	out := make([]domain.View, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.View())
	}
	return out, nil
}

// DeleteAllMetadata removes every metadata record. Blobs and pending timers
// are left alone: timers fire into an already-gone record and the janitor
// reconciles the blobs.
func (s *Service) DeleteAllMetadata(ctx context.Context) (int64, error) {
	n, err := s.Meta.DeleteAll(ctx)
	if err != nil {
		return 0, storageErr("delete metadata", err)
	}
	s.log().Warn("all metadata deleted", "count", n)
	return n, nil
}

// authorize resolves idStr to a live record and applies the credential gate.
func (s *Service) authorize(ctx context.Context, idStr, password string) (domain.FileObject, error) {
	id, err := domain.ParseID(idStr)
	if err != nil {
		return domain.FileObject{}, domain.ErrNotFound
	}
	obj, err := s.Meta.Get(ctx, id)
	if err != nil {
		return domain.FileObject{}, storageErr("read metadata", err)
	}
	// Past its cutoff the object is expired even if the purge has not run yet.
	if !s.Clock.Now().Before(obj.ExpiresAt) {
		return domain.FileObject{}, domain.ErrNotFound
	}
	if !obj.Protected() {
		return obj, nil
	}
	if password == "" {
		return domain.FileObject{}, domain.ErrPasswordRequired
	}
	if !s.Verifier.Verify(password, obj.PasswordHash) {
		s.inc(metrics.CounterCredentialFailures, 1)
		return domain.FileObject{}, domain.ErrUnauthorized
	}
	return obj, nil
}

// storageErr passes domain.ErrNotFound through and marks anything else as a
// storage failure.
func storageErr(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStorageUnavailable, op, err)
}

func (s *Service) log() *slog.Logger {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("domain", "vault")
}

func (s *Service) inc(name string, delta int64) {
	if s.Metrics != nil {
		s.Metrics.Inc(name, delta)
	}
}

func (s *Service) observe(name string, v int64) {
	if s.Metrics != nil {
		s.Metrics.Observe(name, v)
	}
}
