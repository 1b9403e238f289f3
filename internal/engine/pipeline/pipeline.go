// Package pipeline moves registry crates between their origin, remote storage and CARGO_HOME.
package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"

	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports"
	"go.trai.ch/cratesync/internal/engine/limiter"
	"go.trai.ch/zerr"
)

// Pipeline implements the mirror and restore transfers of registry crates.
type Pipeline struct {
	origin   ports.Downloader
	storage  ports.Storage
	archiver ports.Archiver
	tracer   ports.Tracer
	logger   ports.Logger
	home     domain.CargoHome
	cpu      *limiter.CPU
}

// New creates a Pipeline. Checksums, packing and unpacking run on cpu.
func New(
	origin ports.Downloader,
	storage ports.Storage,
	archiver ports.Archiver,
	tracer ports.Tracer,
	logger ports.Logger,
	home domain.CargoHome,
	cpu *limiter.CPU,
) *Pipeline {
	return &Pipeline{
		origin:   origin,
		storage:  storage,
		archiver: archiver,
		tracer:   tracer,
		logger:   logger,
		home:     home,
		cpu:      cpu,
	}
}

// Mirror downloads the crate from its registry, verifies it against the lock file
// checksum and stores it under the item key. A crate that fails verification is never stored.
func (p *Pipeline) Mirror(ctx context.Context, item domain.WorkItem) (int64, error) {
	pkg := item.Identity.Registry

	var data []byte
	err := p.stage(ctx, "download", func(ctx context.Context) error {
		var err error
		data, err = p.origin.Download(ctx, pkg)
		return err
	})
	if err != nil {
		return 0, err
	}

	if err := p.cpu.Do(ctx, func() error { return Verify(pkg, data) }); err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	err = p.stage(ctx, "pack", func(ctx context.Context) error {
		return p.cpu.Do(ctx, func() error {
			return p.archiver.Pack(ctx, &buf, manifest(item), domain.Payload{
				Files: []domain.PayloadFile{{Name: pkg.FileName(), Data: data}},
			})
		})
	})
	if err != nil {
		return 0, zerr.With(zerr.Wrap(err, "failed to pack crate"), "key", item.Key)
	}

	size := int64(buf.Len())
	err = p.stage(ctx, "upload", func(ctx context.Context) error {
		return p.storage.Put(ctx, item.Key, bytes.NewReader(buf.Bytes()), size)
	})
	if err != nil {
		return 0, err
	}
	return size, nil
}

// Restore fetches the crate archive from storage, or the crate itself from its
// registry when storage does not have it, and installs it into CARGO_HOME.
func (p *Pipeline) Restore(ctx context.Context, item domain.WorkItem) (int64, error) {
	pkg := item.Identity.Registry

	data, n, err := p.fetchArchived(ctx, item)
	if errors.Is(err, domain.ErrObjectNotFound) {
		p.logger.Warn("crate " + item.Identity.String() + " missing from storage, downloading from registry")
		err = p.stage(ctx, "download", func(ctx context.Context) error {
			var err error
			data, err = p.origin.Download(ctx, pkg)
			n = int64(len(data))
			return err
		})
	}
	if err != nil {
		return 0, err
	}

	if err := p.cpu.Do(ctx, func() error { return Verify(pkg, data) }); err != nil {
		return 0, err
	}

	err = p.stage(ctx, "unpack", func(ctx context.Context) error {
		return p.cpu.Do(ctx, func() error { return p.install(ctx, pkg, data) })
	})
	if err != nil {
		return 0, zerr.With(err, "key", item.Key)
	}
	return n, nil
}

// fetchArchived downloads the stored archive of item and returns the crate it holds
// with the archive size. The download completes before a CPU slot is taken.
func (p *Pipeline) fetchArchived(ctx context.Context, item domain.WorkItem) ([]byte, int64, error) {
	pkg := item.Identity.Registry

	var raw []byte
	err := p.stage(ctx, "download", func(ctx context.Context) error {
		rc, err := p.storage.Get(ctx, item.Key)
		if err != nil {
			return err
		}
		defer rc.Close() //nolint:errcheck // Read-only stream

		raw, err = io.ReadAll(rc)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return zerr.With(zerr.Wrap(err, "failed to download archive"), "key", item.Key)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	var unpacked *domain.Unpacked
	err = p.cpu.Do(ctx, func() error {
		var err error
		unpacked, err = p.archiver.Unpack(ctx, bytes.NewReader(raw), nil)
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	if unpacked.Manifest.Kind != domain.ArchiveRegistry {
		return nil, 0, domain.WithKind(domain.ErrArchiveFormat,
			zerr.With(zerr.New("archive does not hold a registry crate"), "kind", string(unpacked.Manifest.Kind)))
	}
	data, ok := unpacked.Files[pkg.FileName()]
	if !ok {
		return nil, 0, domain.WithKind(domain.ErrArchiveFormat, zerr.With(zerr.New("archive is missing the crate"), "file", pkg.FileName()))
	}
	return data, int64(len(raw)), nil
}

// install writes the packed crate to the registry cache and unpacks it into the
// registry sources, marking the source directory complete last.
func (p *Pipeline) install(ctx context.Context, pkg domain.RegistryPackage, data []byte) error {
	if err := writeFileAtomic(p.home.CratePath(pkg), data); err != nil {
		return err
	}

	srcDir := p.home.CrateSrcDir(pkg)
	if err := os.RemoveAll(srcDir); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to clean source directory"), "path", srcDir)
	}
	if err := p.archiver.ExtractCrate(ctx, bytes.NewReader(data), p.home.SrcDir(pkg.Registry), pkg.DirName()); err != nil {
		return err
	}
	if _, err := os.Stat(srcDir); err != nil {
		return domain.WithKind(domain.ErrArchiveFormat, zerr.With(zerr.Wrap(err, "crate has no top-level directory"), "path", srcDir))
	}

	ok := filepath.Join(srcDir, domain.CargoOKFile)
	if err := os.WriteFile(ok, []byte(domain.RegistryOK), domain.FilePerm); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to write marker"), "path", ok)
	}
	return nil
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, name)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// Verify compares the SHA-256 of data with the lock file checksum of pkg.
func Verify(pkg domain.RegistryPackage, data []byte) error {
	sum := sha256.Sum256(data)
	actual := hex.EncodeToString(sum[:])
	if actual == pkg.Checksum {
		return nil
	}
	err := zerr.With(zerr.New("crate digest differs from lock file"), "crate", pkg.DirName())
	err = zerr.With(err, "expected", pkg.Checksum)
	err = zerr.With(err, "actual", actual)
	return domain.WithKind(domain.ErrChecksumMismatch, err)
}

func manifest(item domain.WorkItem) domain.Manifest {
	pkg := item.Identity.Registry
	return domain.Manifest{
		Kind:     domain.ArchiveRegistry,
		Key:      item.Key,
		Name:     pkg.Name.String(),
		Version:  pkg.Version.String(),
		Checksum: pkg.Checksum,
	}
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, domain.DirPerm); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to create directory"), "path", dir)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to create temp file"), "path", dir)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // Gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return zerr.With(zerr.Wrap(err, "failed to write file"), "path", path)
	}
	if err := tmp.Close(); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to close file"), "path", path)
	}
	if err := os.Chmod(tmp.Name(), domain.FilePerm); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to set permissions"), "path", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to move file into place"), "path", path)
	}
	return nil
}
