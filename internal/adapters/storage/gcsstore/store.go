// Package gcsstore implements ports.Storage on Google Cloud Storage.
package gcsstore

import (
	"context"
	"errors"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports"
	"go.trai.ch/zerr"
	"google.golang.org/api/iterator"
)

var _ ports.Storage = (*Store)(nil)

// Bucket is the object level surface of a GCS bucket used by the Store.
// Missing objects are reported with storage.ErrObjectNotExist.
type Bucket interface {
	Names(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, name string) (bool, error)
	NewReader(ctx context.Context, name string) (io.ReadCloser, error)
	NewWriter(ctx context.Context, name string) io.WriteCloser
}

// Store keeps one object per key below a prefix of a bucket.
type Store struct {
	bucket Bucket
	prefix string
}

// New wraps an existing bucket.
func New(bucket Bucket, prefix string) *Store {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Store{bucket: bucket, prefix: prefix}
}

// Open connects with Application Default Credentials.
func Open(ctx context.Context, bucket, prefix string) (*Store, error) {
	if bucket == "" {
		return nil, domain.WithKind(domain.ErrConfig, zerr.New("gs storage url has no bucket"))
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, domain.WithKind(domain.ErrConfig, zerr.Wrap(err, "failed to create gcs client"))
	}

	return New(&handle{bucket: client.Bucket(bucket)}, prefix), nil
}

// List returns every key starting with prefix, relative to the store prefix.
func (s *Store) List(ctx context.Context, prefix string) (domain.RemoteManifest, error) {
	names, err := s.bucket.Names(ctx, s.prefix+prefix)
	if err != nil {
		return nil, transport(ctx, err, "failed to list objects", "prefix", prefix)
	}

	out := make(domain.RemoteManifest, len(names))
	for _, name := range names {
		if key := strings.TrimPrefix(name, s.prefix); key != "" {
			out[key] = struct{}{}
		}
	}
	return out, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.bucket.Exists(ctx, s.prefix+key)
	if err != nil {
		return false, transport(ctx, err, "failed to stat object", "key", key)
	}
	return ok, nil
}

// Get opens the object stored under key.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, s.prefix+key)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, domain.WithKind(domain.ErrObjectNotFound, zerr.With(zerr.New("no such object"), "key", key))
	}
	if err != nil {
		return nil, transport(ctx, err, "failed to get object", "key", key)
	}
	return &body{ctx: ctx, rc: r, key: key}, nil
}

// Put stores body under key. The object only becomes visible once the writer is
// closed successfully.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, _ int64) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.NewWriter(wctx, s.prefix+key)
	if _, err := io.Copy(w, body); err != nil {
		// Cancelling the writer context aborts the upload.
		cancel()
		_ = w.Close()
		return transport(ctx, err, "failed to upload object", "key", key)
	}
	if err := w.Close(); err != nil {
		return transport(ctx, err, "failed to commit object", "key", key)
	}
	return nil
}

func transport(ctx context.Context, err error, msg, field, value string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return domain.WithKind(domain.ErrTransport, zerr.With(zerr.Wrap(err, msg), field, value))
}

// handle adapts *storage.BucketHandle to Bucket.
type handle struct {
	bucket *storage.BucketHandle
}

func (h *handle) Names(ctx context.Context, prefix string) ([]string, error) {
	it := h.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
}

func (h *handle) Exists(ctx context.Context, name string) (bool, error) {
	_, err := h.bucket.Object(name).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (h *handle) NewReader(ctx context.Context, name string) (io.ReadCloser, error) {
	return h.bucket.Object(name).NewReader(ctx)
}

func (h *handle) NewWriter(ctx context.Context, name string) io.WriteCloser {
	w := h.bucket.Object(name).NewWriter(ctx)
	w.ContentType = "application/zstd"
	return w
}

// body tags read failures of an object stream as transport errors.
type body struct {
	ctx context.Context //nolint:containedctx // scoped to one Get
	rc  io.ReadCloser
	key string
}

func (b *body) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = transport(b.ctx, err, "failed to read object", "key", b.key)
	}
	return n, err
}

func (b *body) Close() error {
	return b.rc.Close()
}
