package archive_test

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/cratesync/internal/adapters/archive"
	"go.trai.ch/cratesync/internal/core/domain"
)

type tarEntry struct {
	hdr  tar.Header
	data []byte
}

// buildArchive writes a raw zstd tar stream, bypassing Pack.
func buildArchive(t *testing.T, entries []tarEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(enc)
	for _, e := range entries {
		hdr := e.hdr
		hdr.Size = int64(len(e.data))
		if hdr.Typeflag == 0 {
			hdr.Typeflag = tar.TypeReg
		}
		if hdr.Mode == 0 {
			hdr.Mode = domain.FilePerm
		}
		require.NoError(t, tw.WriteHeader(&hdr))
		_, err := tw.Write(e.data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, enc.Close())
	return buf.Bytes()
}

func manifestEntry(t *testing.T, m domain.Manifest) tarEntry {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	return tarEntry{hdr: tar.Header{Name: domain.ManifestFileName}, data: data}
}

func TestArchiver_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := archive.New()

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "objects", "ab"), domain.DirPerm))
	require.NoError(t, os.WriteFile(filepath.Join(src, "HEAD"), []byte("ref: refs/heads/master\n"), domain.FilePerm))
	require.NoError(t, os.WriteFile(filepath.Join(src, "objects", "ab", "cdef"), []byte("blob"), domain.FilePerm))
	require.NoError(t, os.WriteFile(filepath.Join(src, "hook.sh"), []byte("#!/bin/sh\n"), 0o755)) //nolint:gosec // executable fixture
	require.NoError(t, os.Symlink("HEAD", filepath.Join(src, "link")))

	manifest := domain.Manifest{
		Kind:     domain.ArchiveGit,
		Key:      "git/repo-0011223344556677",
		Revision: "0123456789abcdef",
	}
	payload := domain.Payload{
		Files: []domain.PayloadFile{{Name: "extra.txt", Data: []byte("hello")}},
		Dirs:  []domain.PayloadDir{{Prefix: domain.ArchiveDBPrefix, Path: src}},
	}

	var buf bytes.Buffer
	require.NoError(t, a.Pack(ctx, &buf, manifest, payload))

	dest := filepath.Join(t.TempDir(), "db")
	out, err := a.Unpack(ctx, bytes.NewReader(buf.Bytes()), map[string]string{domain.ArchiveDBPrefix: dest})
	require.NoError(t, err)

	manifest.Format = domain.ArchiveFormatVersion
	assert.Equal(t, manifest, out.Manifest)
	assert.Equal(t, map[string][]byte{"extra.txt": []byte("hello")}, out.Files)

	data, err := os.ReadFile(filepath.Join(dest, "objects", "ab", "cdef"))
	require.NoError(t, err)
	assert.Equal(t, "blob", string(data))

	info, err := os.Stat(filepath.Join(dest, "hook.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o100)

	target, err := os.Readlink(filepath.Join(dest, "link"))
	require.NoError(t, err)
	assert.Equal(t, "HEAD", target)
}

func TestArchiver_ManifestIsFirst(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := archive.New().Pack(context.Background(), &buf, domain.Manifest{Kind: domain.ArchiveRegistry, Key: "k"},
		domain.Payload{Files: []domain.PayloadFile{{Name: "a.crate", Data: []byte("x")}}})
	require.NoError(t, err)

	dec, err := zstd.NewReader(&buf)
	require.NoError(t, err)
	defer dec.Close()

	hdr, err := tar.NewReader(dec).Next()
	require.NoError(t, err)
	assert.Equal(t, domain.ManifestFileName, hdr.Name)
}

func TestArchiver_Unpack_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries func(t *testing.T) []tarEntry
		raw     []byte
		target  error
	}{
		{
			name: "newer format",
			entries: func(t *testing.T) []tarEntry {
				return []tarEntry{manifestEntry(t, domain.Manifest{Format: domain.ArchiveFormatVersion + 1})}
			},
			target: domain.ErrArchiveFormat,
		},
		{
			name: "manifest not first",
			entries: func(t *testing.T) []tarEntry {
				return []tarEntry{
					{hdr: tar.Header{Name: "a"}, data: []byte("a")},
					manifestEntry(t, domain.Manifest{Format: 1}),
				}
			},
			target: domain.ErrArchiveFormat,
		},
		{
			name: "path traversal",
			entries: func(t *testing.T) []tarEntry {
				return []tarEntry{
					manifestEntry(t, domain.Manifest{Format: 1}),
					{hdr: tar.Header{Name: "db/../../escape"}, data: []byte("x")},
				}
			},
			target: domain.ErrArchiveFormat,
		},
		{
			name: "symlink escape",
			entries: func(t *testing.T) []tarEntry {
				return []tarEntry{
					manifestEntry(t, domain.Manifest{Format: 1}),
					{hdr: tar.Header{Name: "db/evil", Typeflag: tar.TypeSymlink, Linkname: "../../etc/passwd"}},
				}
			},
			target: domain.ErrArchiveFormat,
		},
		{
			name:   "not zstd",
			raw:    []byte("definitely not an archive"),
			target: domain.ErrArchiveFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			raw := tt.raw
			if tt.entries != nil {
				raw = buildArchive(t, tt.entries(t))
			}

			dest := filepath.Join(t.TempDir(), "db")
			_, err := archive.New().Unpack(context.Background(), bytes.NewReader(raw), map[string]string{domain.ArchiveDBPrefix: dest})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestArchiver_Unpack_Cancelled(t *testing.T) {
	t.Parallel()

	raw := buildArchive(t, []tarEntry{
		manifestEntry(t, domain.Manifest{Format: 1}),
		{hdr: tar.Header{Name: "a"}, data: []byte("a")},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := archive.New().Unpack(ctx, bytes.NewReader(raw), nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestArchiver_ExtractCrate(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range map[string]string{
		"foo-1.2.3/Cargo.toml": "[package]\nname = \"foo\"\n",
		"foo-1.2.3/src/lib.rs": "pub fn foo() {}\n",
	} {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: domain.FilePerm, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	dest := t.TempDir()
	require.NoError(t, archive.New().ExtractCrate(context.Background(), &buf, dest, "foo-1.2.3"))

	data, err := os.ReadFile(filepath.Join(dest, "foo-1.2.3", "src", "lib.rs"))
	require.NoError(t, err)
	assert.Equal(t, "pub fn foo() {}\n", string(data))
}

func TestArchiver_ExtractCrate_NotGzip(t *testing.T) {
	t.Parallel()

	err := archive.New().ExtractCrate(context.Background(), bytes.NewReader([]byte("plain")), t.TempDir(), "foo-1.2.3")
	require.ErrorIs(t, err, domain.ErrArchiveFormat)
}

// gzipTar writes entries as a gzip compressed tar stream, the .crate format.
func gzipTar(t *testing.T, entries []tarEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := e.hdr
		hdr.Size = int64(len(e.data))
		if hdr.Typeflag == 0 {
			hdr.Typeflag = tar.TypeReg
		}
		if hdr.Mode == 0 {
			hdr.Mode = domain.FilePerm
		}
		require.NoError(t, tw.WriteHeader(&hdr))
		_, err := tw.Write(e.data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestArchiver_ExtractCrate_RejectsForeignDirectory(t *testing.T) {
	t.Parallel()

	raw := gzipTar(t, []tarEntry{
		{hdr: tar.Header{Name: "foo-1.2.3/Cargo.toml"}, data: []byte("[package]\n")},
		{hdr: tar.Header{Name: "serde-1.0.0/src/lib.rs"}, data: []byte("// replaced\n")},
	})

	dest := t.TempDir()
	err := archive.New().ExtractCrate(context.Background(), bytes.NewReader(raw), dest, "foo-1.2.3")
	require.ErrorIs(t, err, domain.ErrArchiveFormat)
	assert.NoFileExists(t, filepath.Join(dest, "serde-1.0.0", "src", "lib.rs"))
}

func TestArchiver_ExtractCrate_RejectsDotDotInsideTop(t *testing.T) {
	t.Parallel()

	raw := gzipTar(t, []tarEntry{
		{hdr: tar.Header{Name: "foo-1.2.3/../serde-1.0.0/src/lib.rs"}, data: []byte("// replaced\n")},
	})

	dest := t.TempDir()
	err := archive.New().ExtractCrate(context.Background(), bytes.NewReader(raw), dest, "foo-1.2.3")
	require.ErrorIs(t, err, domain.ErrArchiveFormat)
	assert.NoFileExists(t, filepath.Join(dest, "serde-1.0.0", "src", "lib.rs"))
}

func TestArchiver_ExtractCrate_RejectsSymlinkChain(t *testing.T) {
	t.Parallel()

	raw := gzipTar(t, []tarEntry{
		{hdr: tar.Header{Name: "foo-1.2.3/", Typeflag: tar.TypeDir, Mode: 0o755}},
		{hdr: tar.Header{Name: "foo-1.2.3/a", Typeflag: tar.TypeSymlink, Linkname: "."}},
		{hdr: tar.Header{Name: "foo-1.2.3/a/b", Typeflag: tar.TypeSymlink, Linkname: ".."}},
		{hdr: tar.Header{Name: "foo-1.2.3/b/escaped"}, data: []byte("x")},
	})

	root := t.TempDir()
	dest := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(dest, 0o750))

	err := archive.New().ExtractCrate(context.Background(), bytes.NewReader(raw), dest, "foo-1.2.3")
	require.ErrorIs(t, err, domain.ErrArchiveFormat)
	assert.NoFileExists(t, filepath.Join(dest, "escaped"))
	assert.NoFileExists(t, filepath.Join(root, "escaped"))
}

func TestArchiver_Unpack_RejectsSymlinkChain(t *testing.T) {
	t.Parallel()

	raw := buildArchive(t, []tarEntry{
		manifestEntry(t, domain.Manifest{Format: 1}),
		{hdr: tar.Header{Name: "db/a", Typeflag: tar.TypeSymlink, Linkname: "."}},
		{hdr: tar.Header{Name: "db/a/b", Typeflag: tar.TypeSymlink, Linkname: ".."}},
		{hdr: tar.Header{Name: "db/b/escaped"}, data: []byte("x")},
	})

	root := t.TempDir()
	dest := filepath.Join(root, "db")
	_, err := archive.New().Unpack(context.Background(), bytes.NewReader(raw), map[string]string{domain.ArchiveDBPrefix: dest})
	require.ErrorIs(t, err, domain.ErrArchiveFormat)
	assert.NoFileExists(t, filepath.Join(root, "escaped"))
}

// resetReader returns the first n bytes of data, then fails like a dropped connection.
type resetReader struct {
	data []byte
	n    int
}

func (r *resetReader) Read(p []byte) (int, error) {
	if r.n <= 0 {
		return 0, domain.WithKind(domain.ErrTransport, syscall.ECONNRESET)
	}
	k := copy(p, r.data[:min(len(r.data), r.n)])
	r.data = r.data[k:]
	r.n -= k
	return k, nil
}

func TestArchiver_Unpack_KeepsTransportFailures(t *testing.T) {
	t.Parallel()

	payload := make([]byte, 256<<10)
	rng := rand.New(rand.NewPCG(1, 2)) //nolint:gosec // Incompressible test data
	for i := range payload {
		payload[i] = byte(rng.UintN(256))
	}

	var buf bytes.Buffer
	require.NoError(t, archive.New().Pack(context.Background(), &buf,
		domain.Manifest{Kind: domain.ArchiveRegistry, Key: "k"},
		domain.Payload{Files: []domain.PayloadFile{{Name: "blob", Data: payload}}}))

	r := &resetReader{data: buf.Bytes(), n: buf.Len() / 2}
	_, err := archive.New().Unpack(context.Background(), io.Reader(r), nil)
	require.ErrorIs(t, err, domain.ErrTransport)
	assert.NotErrorIs(t, err, domain.ErrArchiveFormat)
	assert.True(t, domain.IsRetryable(err))
}
