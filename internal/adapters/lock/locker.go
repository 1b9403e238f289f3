// Package lock implements advisory file locks compatible with cargo's package cache lock.
package lock

import (
	"os"
	"path/filepath"

	"github.com/rogpeppe/go-internal/lockedfile"
	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.FileLocker = (*Locker)(nil)

// Locker takes exclusive flock-style locks.
type Locker struct{}

// NewLocker creates a new Locker.
func NewLocker() *Locker {
	return &Locker{}
}

// Lock creates path if needed and blocks until its lock is held.
func (l *Locker) Lock(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), domain.DirPerm); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to create lock directory"), "path", path)
	}
	unlock, err := lockedfile.MutexAt(path).Lock()
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to acquire lock"), "path", path)
	}
	return unlock, nil
}
