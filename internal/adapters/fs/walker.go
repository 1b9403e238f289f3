// Package fs provides file system adapters for walking and hashing source trees.
package fs

import (
	"io/fs"
	"iter"
	"path/filepath"
	"slices"
)

// Entry is a regular file or symlink yielded by the Walker.
type Entry struct {
	// Path is the absolute path of the entry.
	Path string
	// Rel is the slash-separated path relative to the walk root.
	Rel  string
	Type fs.FileMode
}

// Walker provides file walking functionality.
type Walker struct{}

// NewWalker creates a new Walker.
func NewWalker() *Walker {
	return &Walker{}
}

// WalkFiles yields every regular file and symlink below root in lexical order,
// skipping .git (directories and submodule gitlink files) and the names in ignores.
// Walk errors stop the iteration and are reported through errp when it is non-nil.
func (w *Walker) WalkFiles(root string, ignores []string, errp *error) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path == root {
				return nil
			}

			if skip, skipAction := w.shouldSkip(d, ignores); skip {
				return skipAction
			}

			if d.IsDir() {
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}

			if !yield(Entry{Path: path, Rel: filepath.ToSlash(rel), Type: d.Type()}) {
				return filepath.SkipAll
			}
			return nil
		})
		if errp != nil {
			*errp = err
		}
	}
}

// shouldSkip reports whether an entry is excluded. For directories the returned
// action is filepath.SkipDir.
func (w *Walker) shouldSkip(d fs.DirEntry, ignores []string) (bool, error) {
	name := d.Name()

	if name == ".git" || slices.Contains(ignores, name) {
		if d.IsDir() {
			return true, filepath.SkipDir
		}
		return true, nil
	}

	return false, nil
}
