package ports

import (
	"context"

	"go.trai.ch/cratesync/internal/core/domain"
)

// Downloader fetches packed crates from their registry.
//
//go:generate go run go.uber.org/mock/mockgen -source=origin.go -destination=mocks/mock_origin.go -package=mocks
type Downloader interface {
	// Download returns the raw .crate bytes. Failures worth retrying carry domain.ErrTransport.
	Download(ctx context.Context, pkg domain.RegistryPackage) ([]byte, error)
}
