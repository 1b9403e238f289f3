package ports

import (
	"io"

	"go.trai.ch/cratesync/internal/core/domain"
)

// LockfileParser turns a lock artifact into identities.
//
//go:generate go run go.uber.org/mock/mockgen -source=lockfile.go -destination=mocks/mock_lockfile.go -package=mocks
type LockfileParser interface {
	// Parse reads a whole lock file. Any malformed entry fails the parse with domain.ErrParse.
	Parse(r io.Reader) (*domain.LockFile, error)
}
