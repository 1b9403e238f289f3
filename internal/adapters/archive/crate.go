package archive

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/zerr"
)

// ExtractCrate unpacks a .crate tarball into dest. Crate tarballs already carry a
// `<name>-<version>/` top directory, so dest is the registry src directory and top is
// that directory name. Entries outside top are rejected.
func (a *Archiver) ExtractCrate(ctx context.Context, r io.Reader, dest, top string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return domain.WithKind(domain.ErrArchiveFormat, zerr.Wrap(err, "crate is not gzip compressed"))
	}
	defer gz.Close() //nolint:errcheck // Read-only stream

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return corrupt(err)
		}

		// pax_global_header and similar metadata entries carry no files.
		if hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}

		if !within(hdr.Name, top) {
			err := zerr.With(zerr.New("crate contains a file outside its directory"), "name", hdr.Name)
			return domain.WithKind(domain.ErrArchiveFormat, zerr.With(err, "dir", top))
		}
		if err := extractEntry(tr, hdr, dest, hdr.Name); err != nil {
			return err
		}
	}
}

func within(name, top string) bool {
	name = path.Clean(name)
	return name == top || strings.HasPrefix(name, top+"/")
}
