// Package fsstore implements ports.Storage on a local or network mounted directory.
package fsstore

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports"
	"go.trai.ch/zerr"
)

// tempPrefix marks in-flight uploads; List never reports them.
const tempPrefix = ".upload-"

var _ ports.Storage = (*Store)(nil)

// Store keeps one file per key below a base directory. Writes go to a temp file in
// the destination directory and are renamed into place, so readers never observe a
// partial object.
type Store struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a Store rooted at basePath, creating the directory if needed.
func New(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, domain.WithKind(domain.ErrConfig, zerr.New("storage path required"))
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, domain.WithKind(domain.ErrConfig, zerr.With(zerr.Wrap(err, "failed to resolve storage path"), "path", basePath))
	}

	if err := os.MkdirAll(abs, domain.DirPerm); err != nil {
		return nil, domain.WithKind(domain.ErrConfig, zerr.With(zerr.Wrap(err, "failed to create storage path"), "path", abs))
	}

	return &Store{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// List returns every stored key starting with prefix.
func (s *Store) List(ctx context.Context, prefix string) (domain.RemoteManifest, error) {
	out := make(domain.RemoteManifest)

	err := filepath.WalkDir(s.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}

		rel, err := filepath.Rel(s.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			out[key] = struct{}{}
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, domain.WithKind(domain.ErrTransport, zerr.With(zerr.Wrap(err, "failed to list storage"), "prefix", prefix))
	}

	return out, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	filePath, err := s.path(key)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, domain.WithKind(domain.ErrTransport, zerr.With(zerr.Wrap(err, "failed to stat object"), "key", key))
	}
	return !info.IsDir(), nil
}

// Get opens the object stored under key.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filePath) //nolint:gosec // Path is checked by s.path
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.WithKind(domain.ErrObjectNotFound, zerr.With(zerr.New("no such object"), "key", key))
	}
	if err != nil {
		return nil, domain.WithKind(domain.ErrTransport, zerr.With(zerr.Wrap(err, "failed to open object"), "key", key))
	}

	info, err := f.Stat()
	if err == nil && info.IsDir() {
		_ = f.Close()
		return nil, domain.WithKind(domain.ErrObjectNotFound, zerr.With(zerr.New("no such object"), "key", key))
	}

	return f, nil
}

// Put stores body under key.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, _ int64) error {
	filePath, err := s.path(key)
	if err != nil {
		return err
	}

	unlock := s.lockEntry(key)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(filePath), domain.DirPerm); err != nil {
		return domain.WithKind(domain.ErrTransport, zerr.With(zerr.Wrap(err, "failed to create object directory"), "key", key))
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), tempPrefix+"*")
	if err != nil {
		return domain.WithKind(domain.ErrTransport, zerr.With(zerr.Wrap(err, "failed to create temp file"), "key", key))
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tempName)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return domain.WithKind(domain.ErrTransport, zerr.With(zerr.Wrap(err, "failed to write object"), "key", key))
	}

	if err := os.Chmod(tempName, domain.FilePerm); err != nil {
		_ = os.Remove(tempName)
		return domain.WithKind(domain.ErrTransport, zerr.With(zerr.Wrap(err, "failed to set object permissions"), "key", key))
	}

	if err := os.Rename(tempName, filePath); err != nil {
		_ = os.Remove(tempName)
		return domain.WithKind(domain.ErrTransport, zerr.With(zerr.Wrap(err, "failed to commit object"), "key", key))
	}
	return nil
}

func (s *Store) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// path maps a key onto the file system and rejects keys that leave the base path.
func (s *Store) path(key string) (string, error) {
	cleaned := path.Clean("/" + key)
	if key == "" || cleaned == "/" || cleaned != "/"+key {
		return "", domain.WithKind(domain.ErrConfig, zerr.With(domain.ErrInvalidKey, "key", key))
	}
	if strings.HasPrefix(path.Base(cleaned), tempPrefix) {
		return "", domain.WithKind(domain.ErrConfig, zerr.With(domain.ErrInvalidKey, "key", key))
	}
	return filepath.Join(s.basePath, filepath.FromSlash(strings.TrimPrefix(cleaned, "/"))), nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
