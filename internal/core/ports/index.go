package ports

import "context"

// IndexRepository manages a local git mirror of a registry index.
//
//go:generate go run go.uber.org/mock/mockgen -source=index.go -destination=mocks/mock_index.go -package=mocks
type IndexRepository interface {
	// Head returns the fetched revision of the mirror at dir, or domain.ErrObjectNotFound
	// when dir holds no usable mirror.
	Head(ctx context.Context, dir string) (string, error)
	// Fetch incrementally updates (initializing if needed) the mirror at dir from url and
	// returns the new head revision.
	Fetch(ctx context.Context, dir, url string) (string, error)
	// ReadFile returns the content of rel at the fetched head.
	ReadFile(ctx context.Context, dir, rel string) ([]byte, error)
}
