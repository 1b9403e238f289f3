// Package archive implements the pinned storage archive format: a zstd compressed
// tar stream whose first entry is MANIFEST.json.
package archive

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports"
	"go.trai.ch/zerr"
)

// maxInMemoryEntry bounds entries that Unpack returns in memory.
const maxInMemoryEntry = 512 << 20

// epoch is the fixed modification time written for in-memory entries.
var epoch = time.Unix(0, 0).UTC()

var _ ports.Archiver = (*Archiver)(nil)

// Archiver implements ports.Archiver.
type Archiver struct{}

// New creates a new Archiver.
func New() *Archiver {
	return &Archiver{}
}

// Pack writes manifest followed by payload to w.
func (a *Archiver) Pack(ctx context.Context, w io.Writer, manifest domain.Manifest, payload domain.Payload) error {
	if manifest.Format == 0 {
		manifest.Format = domain.ArchiveFormatVersion
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return zerr.Wrap(err, "failed to create zstd encoder")
	}
	tw := tar.NewWriter(enc)

	if err := a.writeEntries(ctx, tw, manifest, payload); err != nil {
		_ = enc.Close()
		return err
	}

	if err := tw.Close(); err != nil {
		_ = enc.Close()
		return zerr.Wrap(err, "failed to finish tar stream")
	}
	if err := enc.Close(); err != nil {
		return zerr.Wrap(err, "failed to finish zstd stream")
	}
	return nil
}

func (a *Archiver) writeEntries(ctx context.Context, tw *tar.Writer, manifest domain.Manifest, payload domain.Payload) error {
	data, err := json.Marshal(manifest)
	if err != nil {
		return zerr.Wrap(err, "failed to encode manifest")
	}
	if err := writeFile(tw, domain.ManifestFileName, data); err != nil {
		return err
	}

	files := make([]domain.PayloadFile, len(payload.Files))
	copy(files, payload.Files)
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	for _, f := range files {
		if err := writeFile(tw, f.Name, f.Data); err != nil {
			return err
		}
	}

	for _, dir := range payload.Dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeDir(ctx, tw, dir); err != nil {
			return zerr.With(err, "dir", dir.Path)
		}
	}
	return nil
}

func writeFile(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     domain.FilePerm,
		Size:     int64(len(data)),
		ModTime:  epoch,
		Format:   tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to write tar header"), "name", name)
	}
	if _, err := tw.Write(data); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to write tar entry"), "name", name)
	}
	return nil
}

// writeDir adds every entry below dir.Path under dir.Prefix. The walk is lexical so
// identical trees produce identical archives.
func writeDir(ctx context.Context, tw *tar.Writer, dir domain.PayloadDir) error {
	prefix := strings.TrimSuffix(dir.Prefix, "/")

	return filepath.WalkDir(dir.Path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dir.Path, p)
		if err != nil {
			return err
		}
		name := prefix
		if rel != "." {
			name = path.Join(prefix, filepath.ToSlash(rel))
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
		}
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "", ""
		hdr.Format = tar.FormatPAX

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(p) //nolint:gosec // Path comes from the walk
		if err != nil {
			return err
		}
		defer f.Close() //nolint:errcheck // Read-only file

		_, err = io.Copy(tw, f)
		return err
	})
}

// Unpack reads an archive. Entries below a prefix of dirs are written to the mapped
// directory; every other entry is returned in memory.
func (a *Archiver) Unpack(ctx context.Context, r io.Reader, dirs map[string]string) (*domain.Unpacked, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, corrupt(zerr.Wrap(err, "failed to open zstd stream"))
	}
	defer dec.Close()

	tr := tar.NewReader(dec)

	manifest, err := readManifest(tr)
	if err != nil {
		return nil, err
	}

	out := &domain.Unpacked{Manifest: manifest, Files: make(map[string][]byte)}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, corrupt(err)
		}

		if dest, rel, ok := route(hdr.Name, dirs); ok {
			if err := extractEntry(tr, hdr, dest, rel); err != nil {
				return nil, err
			}
			continue
		}

		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if hdr.Size > maxInMemoryEntry {
			return nil, domain.WithKind(domain.ErrArchiveFormat, zerr.With(zerr.New("entry too large"), "name", hdr.Name))
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, corrupt(err)
		}
		out.Files[hdr.Name] = data
	}
}

func readManifest(tr *tar.Reader) (domain.Manifest, error) {
	var manifest domain.Manifest

	hdr, err := tr.Next()
	if err != nil {
		return manifest, corrupt(err)
	}
	if hdr.Name != domain.ManifestFileName {
		return manifest, domain.WithKind(domain.ErrArchiveFormat, zerr.With(zerr.New("first entry is not the manifest"), "name", hdr.Name))
	}

	data, err := io.ReadAll(io.LimitReader(tr, 1<<20))
	if err != nil {
		return manifest, corrupt(err)
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return manifest, domain.WithKind(domain.ErrArchiveFormat, zerr.Wrap(err, "invalid manifest"))
	}
	if manifest.Format < 1 || manifest.Format > domain.ArchiveFormatVersion {
		return manifest, domain.WithKind(domain.ErrArchiveFormat,
			zerr.With(zerr.New("archive format not supported"), "format", manifest.Format))
	}
	return manifest, nil
}

// corrupt tags a read failure as a malformed archive. Failures of the underlying
// stream keep their transport kind so they stay retryable.
func corrupt(err error) error {
	if errors.Is(err, domain.ErrTransport) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.WithKind(domain.ErrArchiveFormat, zerr.Wrap(err, "corrupt archive"))
}

// route finds the directory an entry belongs to.
func route(name string, dirs map[string]string) (dest, rel string, ok bool) {
	for prefix, dir := range dirs {
		trimmed := strings.TrimSuffix(prefix, "/")
		switch {
		case name == trimmed || name == trimmed+"/":
			return dir, ".", true
		case strings.HasPrefix(name, trimmed+"/"):
			return dir, strings.TrimPrefix(name, trimmed+"/"), true
		}
	}
	return "", "", false
}

func extractEntry(tr *tar.Reader, hdr *tar.Header, dest, rel string) error {
	target, err := safeJoin(dest, rel)
	if err != nil {
		return domain.WithKind(domain.ErrArchiveFormat, zerr.With(err, "name", hdr.Name))
	}
	if err := checkParents(dest, target); err != nil {
		return domain.WithKind(domain.ErrArchiveFormat, zerr.With(err, "name", hdr.Name))
	}
	return writeEntry(tr, hdr, dest, target)
}

// checkParents rejects targets whose existing parent directories below root include a
// symlink. Archived trees never contain entries below a symlink, so such an entry can
// only come from a chain of links pointing out of root.
func checkParents(root, target string) error {
	rel, err := filepath.Rel(root, filepath.Dir(target))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}

	cur := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return zerr.With(zerr.Wrap(err, "failed to inspect directory"), "path", cur)
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return zerr.With(domain.ErrUnsafeArchivePath, "link", cur)
		}
	}
	return nil
}

// safeJoin joins rel onto dest and rejects paths that leave dest.
func safeJoin(dest, rel string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", zerr.With(domain.ErrUnsafeArchivePath, "path", rel)
	}
	return filepath.Join(dest, cleaned), nil
}

// writeEntry materializes a tar entry at target. Symlinks must resolve inside root.
func writeEntry(r io.Reader, hdr *tar.Header, root, target string) error {
	mode := hdr.FileInfo().Mode()

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, domain.DirPerm); err != nil {
			return zerr.With(zerr.Wrap(err, "failed to create directory"), "path", target)
		}
		return nil

	case tar.TypeSymlink:
		resolved := hdr.Linkname
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(filepath.Dir(target), resolved)
		}
		if rel, err := filepath.Rel(root, resolved); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return domain.WithKind(domain.ErrArchiveFormat, zerr.With(domain.ErrUnsafeArchivePath, "link", hdr.Linkname))
		}
		if err := os.MkdirAll(filepath.Dir(target), domain.DirPerm); err != nil {
			return zerr.With(zerr.Wrap(err, "failed to create directory"), "path", target)
		}
		_ = os.Remove(target)
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return zerr.With(zerr.Wrap(err, "failed to create symlink"), "path", target)
		}
		return nil

	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), domain.DirPerm); err != nil {
			return zerr.With(zerr.Wrap(err, "failed to create directory"), "path", target)
		}
		perm := os.FileMode(domain.FilePerm)
		if mode.Perm()&0o111 != 0 {
			perm = 0o755
		}
		// Git marks pack files read-only; replace rather than truncate.
		_ = os.Remove(target)
		f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm) //nolint:gosec // target is checked by safeJoin
		if err != nil {
			return zerr.With(zerr.Wrap(err, "failed to create file"), "path", target)
		}
		if _, err := io.Copy(f, r); err != nil { //nolint:gosec // archive sizes are bounded by storage
			_ = f.Close()
			return corrupt(err)
		}
		if err := f.Close(); err != nil {
			return zerr.With(zerr.Wrap(err, "failed to close file"), "path", target)
		}
		return os.Chmod(target, perm)

	default:
		// Hard links, devices and fifos never occur in crate or git payloads.
		return nil
	}
}
