// Package indexsync keeps registry index mirrors fresh and shares them through remote storage.
package indexsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports"
	"go.trai.ch/zerr"
)

// Syncer owns the IndexState of every registry it is asked to sync. It is the only
// writer of the .last-updated marker.
type Syncer struct {
	repo     ports.IndexRepository
	storage  ports.Storage
	archiver ports.Archiver
	tracer   ports.Tracer
	logger   ports.Logger
	home     domain.CargoHome
	now      func() time.Time
}

// New creates a Syncer.
func New(
	repo ports.IndexRepository,
	storage ports.Storage,
	archiver ports.Archiver,
	tracer ports.Tracer,
	logger ports.Logger,
	home domain.CargoHome,
) *Syncer {
	return &Syncer{
		repo:     repo,
		storage:  storage,
		archiver: archiver,
		tracer:   tracer,
		logger:   logger,
		home:     home,
		now:      time.Now,
	}
}

// WithClock replaces the time source.
func (s *Syncer) WithClock(now func() time.Time) *Syncer {
	s.now = now
	return s
}

// Run syncs the index of every git registry referenced by lock. In restore mode a
// missing mirror is first seeded from its storage snapshot; in mirror mode a refreshed
// index is uploaded as a new snapshot. Crates of lock get their cargo cache entries
// regenerated.
func (s *Syncer) Run(ctx context.Context, mode domain.Mode, lock *domain.LockFile, threshold time.Duration) ([]domain.IndexState, error) {
	var states []domain.IndexState
	for _, r := range lock.Registries() {
		if r.Protocol == domain.ProtocolSparse {
			s.logger.Debug("skipping index of sparse registry " + r.IndexURL)
			continue
		}

		state, err := s.run(ctx, mode, r, threshold)
		if err != nil {
			return states, err
		}
		if err := s.WriteCache(ctx, state, lock.RegistryCrates(r)); err != nil {
			s.logger.Warn(fmt.Sprintf("failed to write index cache for %s: %v", r.IndexURL, err))
		}
		states = append(states, state)
	}
	return states, nil
}

func (s *Syncer) run(ctx context.Context, mode domain.Mode, r domain.Registry, threshold time.Duration) (domain.IndexState, error) {
	ctx, span := s.tracer.Start(ctx, "index "+r.ShortName(), ports.WithAttribute("registry", r.IndexURL))
	defer span.End()

	if mode == domain.ModeRestore {
		if err := s.prepare(ctx, r); err != nil {
			span.RecordError(err)
			return domain.IndexState{}, err
		}
	}

	before, _ := s.State(ctx, r)
	state, err := s.Sync(ctx, r, threshold)
	if err != nil {
		span.RecordError(err)
		return domain.IndexState{}, err
	}

	if mode == domain.ModeMirror && !state.Stale && !state.LastRefresh.Equal(before.LastRefresh) {
		if _, err := s.Upload(ctx, state); err != nil {
			s.logger.Warn(fmt.Sprintf("failed to upload index snapshot of %s: %v", r.IndexURL, err))
		}
	}
	return state, nil
}

// prepare makes sure a restore starts from a usable mirror: a broken mirror is
// removed, and a missing one is seeded from storage when a snapshot exists.
func (s *Syncer) prepare(ctx context.Context, r domain.Registry) error {
	dir := s.home.IndexDir(r)

	_, err := s.repo.Head(ctx, dir)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, domain.ErrObjectNotFound):
		s.logger.Warn(fmt.Sprintf("removing unusable index mirror %s: %v", dir, err))
		if err := os.RemoveAll(dir); err != nil {
			return zerr.With(zerr.Wrap(err, "failed to remove index mirror"), "path", dir)
		}
	}

	seeded, err := s.Seed(ctx, r)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("failed to restore index snapshot of %s: %v", r.IndexURL, err))
		return nil
	}
	if seeded {
		s.logger.Info("restored index snapshot of " + r.IndexURL)
	}
	return nil
}

// State reads the mirror of r from disk.
func (s *Syncer) State(ctx context.Context, r domain.Registry) (domain.IndexState, error) {
	dir := s.home.IndexDir(r)
	state := domain.IndexState{Registry: r, Path: dir}

	rev, err := s.repo.Head(ctx, dir)
	if err != nil {
		return state, err
	}
	state.Revision = rev

	info, err := os.Stat(filepath.Join(dir, domain.LastUpdatedFile))
	switch {
	case err == nil:
		state.LastRefresh = info.ModTime()
	case !errors.Is(err, fs.ErrNotExist):
		return state, zerr.With(zerr.Wrap(err, "failed to read refresh marker"), "path", dir)
	}
	return state, nil
}

// Sync refreshes the mirror of r unless it was refreshed less than threshold ago.
// When the refresh fails the previous snapshot is served with Stale set; without a
// previous snapshot the failure is domain.ErrIndexUnavailable.
func (s *Syncer) Sync(ctx context.Context, r domain.Registry, threshold time.Duration) (domain.IndexState, error) {
	state, err := s.State(ctx, r)
	if err != nil && !errors.Is(err, domain.ErrObjectNotFound) {
		s.logger.Warn(fmt.Sprintf("index mirror %s is unreadable: %v", state.Path, err))
	}

	now := s.now()
	if state.Fresh(now, threshold) {
		s.logger.Debug("index of " + r.IndexURL + " is fresh, skipping fetch")
		return state, nil
	}

	rev, err := s.repo.Fetch(ctx, state.Path, r.IndexURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return state, ctxErr
		}
		if !state.Exists() {
			return state, domain.WithKind(domain.ErrIndexUnavailable, zerr.With(err, "registry", r.IndexURL))
		}
		s.logger.Warn(fmt.Sprintf("failed to refresh index of %s, serving revision %s: %v", r.IndexURL, state.Revision, err))
		state.Stale = true
		return state, nil
	}

	if err := touch(filepath.Join(state.Path, domain.LastUpdatedFile), now); err != nil {
		return state, err
	}
	state.Revision = rev
	state.LastRefresh = now
	state.Stale = false
	return state, nil
}

// Seed restores the snapshot of r from storage. It reports false when storage has none.
func (s *Syncer) Seed(ctx context.Context, r domain.Registry) (bool, error) {
	rc, err := s.storage.Get(ctx, domain.IndexKey(r))
	if errors.Is(err, domain.ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer rc.Close() //nolint:errcheck // Read-only stream

	dir := s.home.IndexDir(r)
	unpacked, err := s.archiver.Unpack(ctx, rc, map[string]string{domain.ArchiveIndexPrefix: dir})
	if err != nil {
		_ = os.RemoveAll(dir)
		return false, err
	}
	if unpacked.Manifest.Kind != domain.ArchiveIndex {
		_ = os.RemoveAll(dir)
		return false, domain.WithKind(domain.ErrArchiveFormat,
			zerr.With(zerr.New("archive is not an index snapshot"), "kind", string(unpacked.Manifest.Kind)))
	}

	// The snapshot counts as a refresh at the time it is restored.
	if err := touch(filepath.Join(dir, domain.LastUpdatedFile), s.now()); err != nil {
		return false, err
	}
	return true, nil
}

// Upload stores a snapshot of the mirror described by state and returns its size.
func (s *Syncer) Upload(ctx context.Context, state domain.IndexState) (int64, error) {
	var buf bytes.Buffer
	err := s.archiver.Pack(ctx, &buf, domain.Manifest{
		Kind:     domain.ArchiveIndex,
		Key:      domain.IndexKey(state.Registry),
		Name:     state.Registry.IndexURL,
		Revision: state.Revision,
	}, domain.Payload{
		Dirs: []domain.PayloadDir{{Prefix: domain.ArchiveIndexPrefix, Path: state.Path}},
	})
	if err != nil {
		return 0, zerr.Wrap(err, "failed to pack index")
	}

	size := int64(buf.Len())
	if err := s.storage.Put(ctx, domain.IndexKey(state.Registry), &buf, size); err != nil {
		return 0, err
	}
	return size, nil
}

// WriteCache regenerates cargo's .cache entry of every crate in crates from the
// mirrored index. Crates absent from the index are skipped.
func (s *Syncer) WriteCache(ctx context.Context, state domain.IndexState, crates []string) error {
	if !state.Exists() {
		return nil
	}

	var errs error
	for _, name := range crates {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel := domain.IndexPath(name)
		data, err := s.repo.ReadFile(ctx, state.Path, rel)
		if errors.Is(err, domain.ErrObjectNotFound) {
			s.logger.Debug("crate " + name + " not found in index " + state.Registry.IndexURL)
			continue
		}
		if err != nil {
			errs = errors.Join(errs, zerr.With(err, "crate", name))
			continue
		}

		path := filepath.Join(state.Path, domain.IndexCacheDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), domain.DirPerm); err != nil {
			errs = errors.Join(errs, zerr.With(zerr.Wrap(err, "failed to create cache directory"), "path", path))
			continue
		}
		if err := os.WriteFile(path, domain.EncodeIndexCache(state.Revision, data), domain.FilePerm); err != nil {
			errs = errors.Join(errs, zerr.With(zerr.Wrap(err, "failed to write cache entry"), "path", path))
		}
	}
	return errs
}

func touch(path string, at time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), domain.DirPerm); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to create directory"), "path", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, domain.FilePerm) //nolint:gosec // Marker inside CARGO_HOME
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to create marker"), "path", path)
	}
	if err := f.Close(); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to close marker"), "path", path)
	}
	if err := os.Chtimes(path, at, at); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to set marker time"), "path", path)
	}
	return nil
}
