package ports

import (
	"context"
	"io"

	"go.trai.ch/cratesync/internal/core/domain"
)

//go:generate go run go.uber.org/mock/mockgen -source=storage.go -destination=mocks/mock_storage.go -package=mocks

// Storage is the remote object store archives are mirrored to.
// Implementations report a missing key with domain.ErrObjectNotFound and tag network
// failures with domain.ErrTransport.
type Storage interface {
	// List returns every key starting with prefix.
	List(ctx context.Context, prefix string) (domain.RemoteManifest, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Get opens the object stored under key. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Put stores body under key, replacing any previous object atomically.
	// size may be -1 when unknown.
	Put(ctx context.Context, key string, body io.Reader, size int64) error
}

// StorageFactory selects a Storage implementation from a URL.
type StorageFactory interface {
	// Open returns the backend for rawURL. Unknown schemes are a domain.ErrConfig.
	Open(ctx context.Context, rawURL string) (Storage, error)
}
