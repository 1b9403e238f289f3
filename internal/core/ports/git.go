package ports

import "context"

// GitClient fetches git dependencies.
//
//go:generate go run go.uber.org/mock/mockgen -source=git.go -destination=mocks/mock_git.go -package=mocks
type GitClient interface {
	// Mirror creates or updates a bare database of url at dir.
	Mirror(ctx context.Context, url, dir string) error
	// Checkout materializes revision from the bare database db into dir, initializing
	// submodules recursively. It reports whether the revision has submodules.
	Checkout(ctx context.Context, db, dir, revision string) (bool, error)
}
