package fs

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.TreeHasher = (*Hasher)(nil)

// Hasher digests checkout trees so a restored tree can be compared with the mirrored one.
type Hasher struct {
	walker *Walker
}

// NewHasher creates a new Hasher.
func NewHasher(walker *Walker) *Hasher {
	return &Hasher{walker: walker}
}

// ComputeFileHash computes the XXHash of a file's content.
func (h *Hasher) ComputeFileHash(path string) (uint64, error) {
	f, err := os.Open(path) //nolint:gosec // Path is controlled by caller
	if err != nil {
		return 0, zerr.With(zerr.Wrap(err, "failed to open file"), "path", path)
	}
	defer f.Close() //nolint:errcheck // Best effort close in defer

	hasher := xxhash.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return 0, zerr.With(zerr.Wrap(err, "failed to hash file content"), "path", path)
	}

	return hasher.Sum64(), nil
}

// DigestTree hashes the relative path, kind and content of every file below root.
// Symlinks contribute their target, executable files their mode bit.
func (h *Hasher) DigestTree(root string) (string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return "", zerr.With(zerr.Wrap(err, "failed to stat tree"), "path", root)
	}
	if !info.IsDir() {
		return "", zerr.With(zerr.New("tree root is not a directory"), "path", root)
	}

	hasher := xxhash.New()

	var walkErr error
	for entry := range h.walker.WalkFiles(root, []string{domain.CargoOKFile}, &walkErr) {
		if err := h.hashEntry(entry, hasher); err != nil {
			return "", err
		}
	}
	if walkErr != nil {
		return "", zerr.With(zerr.Wrap(walkErr, "failed to walk tree"), "path", root)
	}

	return fmt.Sprintf("%016x", hasher.Sum64()), nil
}

func (h *Hasher) hashEntry(entry Entry, mainHasher *xxhash.Digest) error {
	_, _ = mainHasher.WriteString(entry.Rel)
	_, _ = mainHasher.Write([]byte{0})

	if entry.Type&fs.ModeSymlink != 0 {
		target, err := os.Readlink(entry.Path)
		if err != nil {
			return zerr.With(zerr.Wrap(err, "failed to read symlink"), "path", entry.Path)
		}
		_, _ = mainHasher.Write([]byte{'l'})
		_, _ = mainHasher.WriteString(target)
		_, _ = mainHasher.Write([]byte{0})
		return nil
	}

	info, err := os.Lstat(entry.Path)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to stat file"), "path", entry.Path)
	}
	kind := byte('f')
	if info.Mode().Perm()&0o111 != 0 {
		kind = 'x'
	}
	_, _ = mainHasher.Write([]byte{kind})

	hash, err := h.ComputeFileHash(entry.Path)
	if err != nil {
		return err
	}

	if err := binary.Write(mainHasher, binary.LittleEndian, hash); err != nil {
		return zerr.Wrap(err, "failed to write hash to digest")
	}
	return nil
}
