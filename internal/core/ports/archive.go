package ports

import (
	"context"
	"io"

	"go.trai.ch/cratesync/internal/core/domain"
)

// Archiver reads and writes the pinned archive format.
//
//go:generate go run go.uber.org/mock/mockgen -source=archive.go -destination=mocks/mock_archive.go -package=mocks
type Archiver interface {
	// Pack writes manifest followed by payload to w.
	Pack(ctx context.Context, w io.Writer, manifest domain.Manifest, payload domain.Payload) error
	// Unpack reads an archive, writing entries under a prefix of dirs to the mapped
	// directory and returning all other entries in memory.
	Unpack(ctx context.Context, r io.Reader, dirs map[string]string) (*domain.Unpacked, error)
	// ExtractCrate unpacks a gzip compressed .crate tarball into dest. Every entry must
	// lie below the top directory top.
	ExtractCrate(ctx context.Context, r io.Reader, dest, top string) error
}
