// Package storage selects a storage backend from a storage URL.
package storage

import (
	"context"
	"net/url"
	"strings"

	"go.trai.ch/cratesync/internal/adapters/storage/fsstore"
	"go.trai.ch/cratesync/internal/adapters/storage/gcsstore"
	"go.trai.ch/cratesync/internal/adapters/storage/s3store"
	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.StorageFactory = (*Factory)(nil)

// Factory implements ports.StorageFactory.
type Factory struct{}

// NewFactory creates a new Factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Open returns the backend for rawURL:
//
//	/abs/path, ./rel/path, file:///abs/path   local directory
//	s3://bucket/prefix?region=..&endpoint=..  Amazon S3 or a compatible store
//	gs://bucket/prefix                        Google Cloud Storage
func (f *Factory) Open(ctx context.Context, rawURL string) (ports.Storage, error) {
	if rawURL == "" {
		return nil, domain.WithKind(domain.ErrConfig, domain.ErrMissingStorage)
	}

	if !strings.Contains(rawURL, "://") {
		return openFS(rawURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, domain.WithKind(domain.ErrConfig, zerr.With(zerr.Wrap(err, "invalid storage url"), "url", rawURL))
	}

	switch u.Scheme {
	case "file":
		if u.Host != "" && u.Host != "localhost" {
			return nil, domain.WithKind(domain.ErrConfig, zerr.With(zerr.New("file urls must not name a remote host"), "url", rawURL))
		}
		return openFS(u.Path)
	case "s3":
		q := u.Query()
		s, err := s3store.Open(ctx, s3store.Options{
			Bucket:   u.Host,
			Prefix:   u.Path,
			Region:   q.Get("region"),
			Endpoint: q.Get("endpoint"),
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "gs":
		s, err := gcsstore.Open(ctx, u.Host, u.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, domain.WithKind(domain.ErrConfig, zerr.With(domain.ErrUnsupportedScheme, "scheme", u.Scheme))
	}
}

func openFS(path string) (ports.Storage, error) {
	s, err := fsstore.New(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}
