// Package s3blob provides an app.BlobStore backed by an S3-compatible bucket.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/haukened/stash/internal/app"
	"github.com/haukened/stash/internal/domain"
)

var _ app.BlobStore = (*BlobStore)(nil)

// ErrInvalidPath is returned for keys outside this store's prefix.
var ErrInvalidPath = errors.New("invalid blob key")

// API is the subset of *s3.Client used by the store.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Options configures a bucket connection.
type Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // custom endpoint for MinIO and friends; enables path-style addressing
	AccessKey string
	SecretKey string
}

// DefaultSettle is how old an object must be before List reports it.
const DefaultSettle = time.Minute

// BlobStore implements app.BlobStore. Blob paths are object keys.
type BlobStore struct {
	api    API
	bucket string
	prefix string
	settle time.Duration
	now    func() time.Time
}

// New wraps an existing client.
func New(api API, bucket, prefix string) *BlobStore {
	return &BlobStore{api: api, bucket: bucket, prefix: prefix, settle: DefaultSettle, now: time.Now}
}

// SetSettle overrides the List settle window; non-positive values are ignored.
func (b *BlobStore) SetSettle(d time.Duration) {
	if d > 0 {
		b.settle = d
	}
}

// NewFromOptions builds an S3 client from the default AWS config chain,
// overridden by any static credentials or endpoint in opts.
func NewFromOptions(ctx context.Context, opts Options) (*BlobStore, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return New(client, opts.Bucket, opts.Prefix), nil
}

func (b *BlobStore) key(id domain.FileID) string { return b.prefix + id.BlobName() }

func (b *BlobStore) check(key string) error {
	rest, ok := strings.CutPrefix(key, b.prefix)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPath, key)
	}
	if _, err := domain.IDFromBlobName(rest); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidPath, key)
	}
	return nil
}

// Put uploads exactly size bytes from r. Readers that cannot be re-read are
// spooled to a temporary file first since request signing needs a seekable body.
func (b *BlobStore) Put(ctx context.Context, id domain.FileID, r io.Reader, size int64) (string, error) {
	if !id.Valid() {
		return "", domain.ErrInvalidID
	}
	body, cleanup, err := seekable(r, size)
	if err != nil {
		return "", err
	}
	defer cleanup()
	key := b.key(id)
	_, err = b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}

func seekable(r io.Reader, size int64) (io.ReadSeeker, func(), error) {
	if ra, ok := r.(io.ReaderAt); ok {
		return io.NewSectionReader(ra, 0, size), func() {}, nil
	}
	f, err := os.CreateTemp("", "stash-upload-*")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}
	if _, err := io.CopyN(f, r, size); err != nil {
		cleanup()
		return nil, nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, nil, err
	}
	return f, cleanup, nil
}

// Open streams the object at key.
func (b *BlobStore) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if err := b.check(key); err != nil {
		return nil, 0, err
	}
	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return nil, 0, domain.ErrNotFound
		}
		return nil, 0, fmt.Errorf("get object: %w", err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// Delete removes the object at key, reporting whether it existed. S3 deletes
// succeed for absent keys, so existence is probed first.
func (b *BlobStore) Delete(ctx context.Context, key string) (bool, error) {
	if err := b.check(key); err != nil {
		return false, err
	}
	_, err := b.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head object: %w", err)
	}
	if _, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)}); err != nil {
		return false, fmt.Errorf("delete object: %w", err)
	}
	return true, nil
}

// List returns keys under the prefix that are older than the settle window.
func (b *BlobStore) List(ctx context.Context) ([]string, error) {
	p := s3.NewListObjectsV2Paginator(b.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})
	cutoff := b.now().Add(-b.settle)
	var out []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if b.check(key) != nil {
				continue
			}
			if obj.LastModified != nil && obj.LastModified.After(cutoff) {
				continue
			}
			out = append(out, key)
		}
	}
	return out, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}
