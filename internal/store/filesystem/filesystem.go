// Package filesystem provides an app.BlobStore backed by a local directory.
// Each uploaded file is kept as one immutable blob named after its id.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haukened/stash/internal/app"
	"github.com/haukened/stash/internal/domain"
)

var _ app.BlobStore = (*BlobStore)(nil)

// ErrInvalidPath is returned for blob paths this store never hands out.
var ErrInvalidPath = errors.New("invalid blob path")

// DefaultSettle is how old a blob must be before List reports it. It must
// exceed the longest a metadata insert can wait after Put.
const DefaultSettle = time.Minute

// BlobStore implements app.BlobStore on the local filesystem. Blob paths are
// file names relative to the root directory.
type BlobStore struct {
	root string
	// settle is the minimum age of a blob before List reports it, so a
	// reconcile pass never races an upload still between Put and Insert.
	settle time.Duration
}

// New returns a blob store rooted at dir, which must already exist.
func New(root string) (*BlobStore, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, errors.New("blob root is not a directory")
	}
	return &BlobStore{root: root, settle: DefaultSettle}, nil
}

// SetSettle overrides the List settle window; non-positive values are ignored.
func (b *BlobStore) SetSettle(d time.Duration) {
	if d > 0 {
		b.settle = d
	}
}

// Put writes exactly size bytes from r to <root>/<id>.blob.
func (b *BlobStore) Put(ctx context.Context, id domain.FileID, r io.Reader, size int64) (string, error) {
	if !id.Valid() {
		return "", domain.ErrInvalidID
	}
	name := id.BlobName()
	p := filepath.Join(b.root, name)
	// #nosec G304: fixed root plus a validated hex id.
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", err
	}
	if _, err = io.CopyN(f, ctxReader{ctx: ctx, r: r}, size); err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(p)
		return "", err
	}
	return name, nil
}

// Open returns the blob at path and its size.
func (b *BlobStore) Open(_ context.Context, path string) (io.ReadCloser, int64, error) {
	p, err := b.resolve(path)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(p) // #nosec G304 path validated by resolve
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, domain.ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Delete removes the blob at path. A missing blob is not an error.
func (b *BlobStore) Delete(_ context.Context, path string) (bool, error) {
	p, err := b.resolve(path)
	if err != nil {
		return false, err
	}
	err = os.Remove(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// List returns the paths of blobs older than the settle window.
func (b *BlobStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), domain.BlobExt) {
			continue
		}
		if _, err := b.resolve(e.Name()); err != nil {
			continue
		}
		if info, err := e.Info(); err != nil || time.Since(info.ModTime()) < b.settle {
			continue
		}
		out = append(out, e.Name())
	}
	return out, nil
}

// resolve maps a blob path to a file under root, rejecting anything that is
// not a bare <id>.blob name.
func (b *BlobStore) resolve(path string) (string, error) {
	if filepath.Base(path) != path {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	if _, err := domain.IDFromBlobName(path); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return filepath.Join(b.root, path), nil
}

// ctxReader stops a long copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
