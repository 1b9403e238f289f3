// Package gitsync mirrors git dependencies, submodules included, through remote storage.
package gitsync

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports"
	"go.trai.ch/cratesync/internal/engine/limiter"
	"go.trai.ch/zerr"
)

// Syncer implements the mirror and restore transfers of git dependencies.
type Syncer struct {
	git      ports.GitClient
	hasher   ports.TreeHasher
	archiver ports.Archiver
	storage  ports.Storage
	tracer   ports.Tracer
	logger   ports.Logger
	home     domain.CargoHome
	cpu      *limiter.CPU

	// Several revisions of one repository share a database directory.
	mu      sync.Mutex
	dbLocks map[string]*sync.Mutex
}

// New creates a Syncer. Tree digests, packing and unpacking run on cpu.
func New(
	git ports.GitClient,
	hasher ports.TreeHasher,
	archiver ports.Archiver,
	storage ports.Storage,
	tracer ports.Tracer,
	logger ports.Logger,
	home domain.CargoHome,
	cpu *limiter.CPU,
) *Syncer {
	return &Syncer{
		git:      git,
		hasher:   hasher,
		archiver: archiver,
		storage:  storage,
		tracer:   tracer,
		logger:   logger,
		home:     home,
		cpu:      cpu,
		dbLocks:  make(map[string]*sync.Mutex),
	}
}

// Mirror clones the repository, checks out the revision with its submodules and stores
// both the bare database and the checkout under the item key.
func (s *Syncer) Mirror(ctx context.Context, item domain.WorkItem) (int64, error) {
	g := item.Identity.Git

	scratch, err := os.MkdirTemp("", "cratesync-git-")
	if err != nil {
		return 0, zerr.Wrap(err, "failed to create scratch directory")
	}
	defer os.RemoveAll(scratch) //nolint:errcheck // Best effort cleanup

	db := filepath.Join(scratch, "db")
	checkout := filepath.Join(scratch, "checkout")

	if err := s.stage(ctx, "fetch", func(ctx context.Context) error {
		return s.git.Mirror(ctx, g.URL, db)
	}); err != nil {
		return 0, err
	}

	if err := s.stage(ctx, "checkout", func(ctx context.Context) error {
		var err error
		g.HasSubmodules, err = s.git.Checkout(ctx, db, checkout, g.Revision)
		return err
	}); err != nil {
		return 0, err
	}

	var digest string
	if err := s.cpu.Do(ctx, func() error {
		var err error
		digest, err = s.hasher.DigestTree(checkout)
		return err
	}); err != nil {
		return 0, zerr.With(zerr.Wrap(err, "failed to digest checkout"), "key", item.Key)
	}

	archivePath := filepath.Join(scratch, "archive.tar.zst")
	err = s.stage(ctx, "pack", func(ctx context.Context) error {
		return s.cpu.Do(ctx, func() error {
			return s.pack(ctx, archivePath, manifest(item, g, digest), db, checkout)
		})
	})
	if err != nil {
		return 0, zerr.With(zerr.Wrap(err, "failed to pack repository"), "key", item.Key)
	}

	var size int64
	err = s.stage(ctx, "upload", func(ctx context.Context) error {
		f, err := os.Open(archivePath) //nolint:gosec // Scratch file written above
		if err != nil {
			return zerr.Wrap(err, "failed to open archive")
		}
		defer f.Close() //nolint:errcheck // Read-only file

		info, err := f.Stat()
		if err != nil {
			return zerr.Wrap(err, "failed to stat archive")
		}
		size = info.Size()
		return s.storage.Put(ctx, item.Key, f, size)
	})
	if err != nil {
		return 0, err
	}
	return size, nil
}

// Restore unpacks the stored database and checkout into CARGO_HOME and verifies the
// checkout against the recorded tree digest. A dependency missing from storage is
// fetched from its origin instead.
func (s *Syncer) Restore(ctx context.Context, item domain.WorkItem) (int64, error) {
	g := item.Identity.Git
	unlock := s.lockDB(s.home.GitDBDir(g))
	defer unlock()

	n, err := s.restoreArchived(ctx, item)
	if errors.Is(err, domain.ErrObjectNotFound) {
		s.logger.Warn("git dependency " + item.Identity.String() + " missing from storage, fetching from origin")
		n, err = 0, s.restoreFromOrigin(ctx, g)
	}
	if err != nil {
		return 0, err
	}

	return n, markComplete(s.home.GitCheckoutDir(g))
}

func (s *Syncer) restoreArchived(ctx context.Context, item domain.WorkItem) (int64, error) {
	g := item.Identity.Git
	checkout := s.home.GitCheckoutDir(g)

	archivePath, n, err := s.download(ctx, item)
	if err != nil {
		return 0, err
	}
	defer os.Remove(archivePath) //nolint:errcheck // Scratch file

	if err := os.RemoveAll(checkout); err != nil {
		return 0, zerr.With(zerr.Wrap(err, "failed to clean checkout"), "path", checkout)
	}

	err = s.stage(ctx, "unpack", func(ctx context.Context) error {
		return s.cpu.Do(ctx, func() error {
			f, err := os.Open(archivePath) //nolint:gosec // Scratch file written by download
			if err != nil {
				return zerr.Wrap(err, "failed to open archive")
			}
			defer f.Close() //nolint:errcheck // Read-only file

			unpacked, err := s.archiver.Unpack(ctx, f, map[string]string{
				domain.ArchiveDBPrefix:       s.home.GitDBDir(g),
				domain.ArchiveCheckoutPrefix: checkout,
			})
			if err != nil {
				return err
			}
			return s.verify(unpacked.Manifest, g, checkout)
		})
	})
	if err != nil {
		_ = os.RemoveAll(checkout)
		return 0, err
	}
	return n, nil
}

// download copies the stored archive of item into a scratch file and returns its path
// and size.
func (s *Syncer) download(ctx context.Context, item domain.WorkItem) (string, int64, error) {
	var (
		path string
		n    int64
	)
	err := s.stage(ctx, "download", func(ctx context.Context) error {
		rc, err := s.storage.Get(ctx, item.Key)
		if err != nil {
			return err
		}
		defer rc.Close() //nolint:errcheck // Read-only stream

		f, err := os.CreateTemp("", "cratesync-git-*.tar.zst")
		if err != nil {
			return zerr.Wrap(err, "failed to create scratch file")
		}
		path = f.Name()

		n, err = io.Copy(f, rc)
		if closeErr := f.Close(); err == nil && closeErr != nil {
			err = zerr.Wrap(closeErr, "failed to close scratch file")
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return zerr.With(zerr.Wrap(err, "failed to download archive"), "key", item.Key)
		}
		return nil
	})
	if err != nil {
		if path != "" {
			_ = os.Remove(path)
		}
		return "", 0, err
	}
	return path, n, nil
}

func (s *Syncer) verify(m domain.Manifest, g domain.GitPackage, checkout string) error {
	if m.Kind != domain.ArchiveGit || m.Revision != g.Revision {
		err := zerr.With(zerr.New("archive does not hold the pinned revision"), "revision", m.Revision)
		return domain.WithKind(domain.ErrArchiveFormat, zerr.With(err, "kind", string(m.Kind)))
	}

	digest, err := s.hasher.DigestTree(checkout)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to digest checkout"), "path", checkout)
	}
	if digest != m.TreeDigest {
		err := zerr.With(zerr.New("checkout differs from mirrored tree"), "expected", m.TreeDigest)
		return domain.WithKind(domain.ErrChecksumMismatch, zerr.With(err, "actual", digest))
	}
	return nil
}

func (s *Syncer) restoreFromOrigin(ctx context.Context, g domain.GitPackage) error {
	db := s.home.GitDBDir(g)
	checkout := s.home.GitCheckoutDir(g)

	if err := s.stage(ctx, "fetch", func(ctx context.Context) error {
		return s.git.Mirror(ctx, g.URL, db)
	}); err != nil {
		return err
	}
	if err := os.RemoveAll(checkout); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to clean checkout"), "path", checkout)
	}
	return s.stage(ctx, "checkout", func(ctx context.Context) error {
		_, err := s.git.Checkout(ctx, db, checkout, g.Revision)
		return err
	})
}

func (s *Syncer) pack(ctx context.Context, path string, m domain.Manifest, db, checkout string) error {
	f, err := os.Create(path) //nolint:gosec // Scratch file
	if err != nil {
		return zerr.Wrap(err, "failed to create archive")
	}

	err = s.archiver.Pack(ctx, f, m, domain.Payload{
		Dirs: []domain.PayloadDir{
			{Prefix: domain.ArchiveDBPrefix, Path: db},
			{Prefix: domain.ArchiveCheckoutPrefix, Path: checkout},
		},
	})
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = zerr.Wrap(closeErr, "failed to close archive")
	}
	return err
}

func (s *Syncer) lockDB(dir string) func() {
	s.mu.Lock()
	l, ok := s.dbLocks[dir]
	if !ok {
		l = &sync.Mutex{}
		s.dbLocks[dir] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *Syncer) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, name)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func manifest(item domain.WorkItem, g domain.GitPackage, digest string) domain.Manifest {
	return domain.Manifest{
		Kind:          domain.ArchiveGit,
		Key:           item.Key,
		Name:          g.RepoName(),
		Revision:      g.Revision,
		HasSubmodules: g.HasSubmodules,
		TreeDigest:    digest,
	}
}

// markComplete writes the empty .cargo-ok cargo expects in git checkouts.
func markComplete(checkout string) error {
	path := filepath.Join(checkout, domain.CargoOKFile)
	if err := os.WriteFile(path, nil, domain.FilePerm); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to write marker"), "path", path)
	}
	return nil
}
