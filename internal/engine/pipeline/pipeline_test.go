package pipeline_test

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/cratesync/internal/adapters/archive"
	"go.trai.ch/cratesync/internal/adapters/storage/fsstore"
	"go.trai.ch/cratesync/internal/adapters/telemetry"
	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports"
	"go.trai.ch/cratesync/internal/core/ports/mocks"
	"go.trai.ch/cratesync/internal/engine/limiter"
	"go.trai.ch/cratesync/internal/engine/pipeline"
	"go.uber.org/mock/gomock"
)

// crateTarball builds a .crate the way cargo package does: a gzip tar with a
// "<name>-<version>/" top directory.
func crateTarball(t *testing.T, name, version string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	files := map[string]string{
		"Cargo.toml": "[package]\nname = \"" + name + "\"\nversion = \"" + version + "\"\n",
		"src/lib.rs": "pub fn hello() {}\n",
	}
	for _, rel := range []string{"Cargo.toml", "src/lib.rs"} {
		body := files[rel]
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name + "-" + version + "/" + rel,
			Mode:     0o644,
			Size:     int64(len(body)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type fixture struct {
	origin  *mocks.MockDownloader
	logger  *mocks.MockLogger
	store   *fsstore.Store
	home    domain.CargoHome
	crate   []byte
	item    domain.WorkItem
	subject *pipeline.Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	store, err := fsstore.New(t.TempDir())
	require.NoError(t, err)

	crate := crateTarball(t, "foo", "1.2.3")
	id := domain.NewRegistryIdentity(domain.CratesIO(), "foo", "1.2.3", checksum(crate))
	f := &fixture{
		origin: mocks.NewMockDownloader(ctrl),
		logger: mocks.NewMockLogger(ctrl),
		store:  store,
		home:   domain.CargoHome{Root: t.TempDir()},
		crate:  crate,
		item:   domain.WorkItem{Identity: id, Key: domain.StorageKey(id), Entries: []string{"foo 1.2.3"}},
	}
	f.subject = f.pipeline(f.home)
	return f
}

func (f *fixture) pipeline(home domain.CargoHome) *pipeline.Pipeline {
	return pipeline.New(f.origin, f.store, archive.New(), telemetry.NewNoOpTracer(), f.logger, home, limiter.NewCPU(2))
}

func TestPipeline_MirrorThenRestore(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.origin.EXPECT().Download(gomock.Any(), f.item.Identity.Registry).Return(f.crate, nil).Times(1)

	n, err := f.subject.Mirror(ctx, f.item)
	require.NoError(t, err)
	assert.Positive(t, n)

	ok, err := f.store.Exists(ctx, f.item.Key)
	require.NoError(t, err)
	assert.True(t, ok)

	restored, err := f.subject.Restore(ctx, f.item)
	require.NoError(t, err)
	assert.Positive(t, restored)

	pkg := f.item.Identity.Registry
	got, err := os.ReadFile(f.home.CratePath(pkg))
	require.NoError(t, err)
	assert.Equal(t, f.crate, got)

	src := f.home.CrateSrcDir(pkg)
	assert.FileExists(t, filepath.Join(src, "Cargo.toml"))
	assert.FileExists(t, filepath.Join(src, "src", "lib.rs"))
	marker, err := os.ReadFile(filepath.Join(src, domain.CargoOKFile))
	require.NoError(t, err)
	assert.Equal(t, domain.RegistryOK, string(marker))
}

func TestPipeline_MirrorChecksumMismatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	corrupt := bytes.Clone(f.crate)
	corrupt[len(corrupt)/2] ^= 0xff
	f.origin.EXPECT().Download(gomock.Any(), gomock.Any()).Return(corrupt, nil)

	_, err := f.subject.Mirror(ctx, f.item)
	require.ErrorIs(t, err, domain.ErrChecksumMismatch)
	assert.False(t, domain.IsRetryable(err))

	ok, err := f.store.Exists(ctx, f.item.Key)
	require.NoError(t, err)
	assert.False(t, ok, "a crate failing verification must not be stored")
}

func TestPipeline_MirrorTransportError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.origin.EXPECT().Download(gomock.Any(), gomock.Any()).
		Return(nil, domain.WithKind(domain.ErrTransport, errors.New("connection reset")))

	_, err := f.subject.Mirror(context.Background(), f.item)
	require.ErrorIs(t, err, domain.ErrTransport)
	assert.True(t, domain.IsRetryable(err))
}

func TestPipeline_RestoreFallsBackToOrigin(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.logger.EXPECT().Warn(gomock.Any()).Times(1)
	f.origin.EXPECT().Download(gomock.Any(), f.item.Identity.Registry).Return(f.crate, nil).Times(1)

	n, err := f.subject.Restore(context.Background(), f.item)
	require.NoError(t, err)
	assert.Equal(t, int64(len(f.crate)), n)
	assert.FileExists(t, filepath.Join(f.home.CrateSrcDir(f.item.Identity.Registry), domain.CargoOKFile))
}

func TestPipeline_RestoreRejectsCorruptArchive(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	// Store an archive whose crate bytes differ from the lock file checksum.
	other := crateTarball(t, "foo", "9.9.9")
	var buf bytes.Buffer
	require.NoError(t, archive.New().Pack(ctx, &buf, domain.Manifest{Kind: domain.ArchiveRegistry, Key: f.item.Key},
		domain.Payload{Files: []domain.PayloadFile{{Name: f.item.Identity.Registry.FileName(), Data: other}}}))
	require.NoError(t, f.store.Put(ctx, f.item.Key, &buf, int64(buf.Len())))

	_, err := f.subject.Restore(ctx, f.item)
	require.ErrorIs(t, err, domain.ErrChecksumMismatch)
	assert.NoFileExists(t, filepath.Join(f.home.CrateSrcDir(f.item.Identity.Registry), domain.CargoOKFile))
}

func TestPipeline_RestoreCleansPartialSource(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	src := f.home.CrateSrcDir(f.item.Identity.Registry)
	require.NoError(t, os.MkdirAll(src, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(src, "stale.rs"), []byte("old"), 0o600))

	f.logger.EXPECT().Warn(gomock.Any())
	f.origin.EXPECT().Download(gomock.Any(), gomock.Any()).Return(f.crate, nil)

	_, err := f.subject.Restore(context.Background(), f.item)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(src, "stale.rs"))
	assert.FileExists(t, filepath.Join(src, "Cargo.toml"))
}

func TestVerify(t *testing.T) {
	t.Parallel()

	data := []byte("payload")
	pkg := domain.NewRegistryIdentity(domain.CratesIO(), "foo", "1.0.0", checksum(data)).Registry
	require.NoError(t, pipeline.Verify(pkg, data))

	err := pipeline.Verify(pkg, []byte("payloae"))
	require.ErrorIs(t, err, domain.ErrChecksumMismatch)
	assert.ErrorContains(t, err, "crate digest differs from lock file")
}

// stalledStore serves bodies that block until release is closed and then fail like a
// dropped connection.
type stalledStore struct {
	ports.Storage
	once    sync.Once
	reading chan struct{}
	release chan struct{}
}

func newStalledStore(base ports.Storage) *stalledStore {
	return &stalledStore{Storage: base, reading: make(chan struct{}), release: make(chan struct{})}
}

func (s *stalledStore) Get(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(s), nil
}

func (s *stalledStore) Read([]byte) (int, error) {
	s.once.Do(func() { close(s.reading) })
	<-s.release
	return 0, domain.WithKind(domain.ErrTransport, syscall.ECONNRESET)
}

func TestPipeline_RestoreDownloadDoesNotHoldCPU(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	store := newStalledStore(f.store)
	cpu := limiter.NewCPU(1)
	subject := pipeline.New(f.origin, store, archive.New(), telemetry.NewNoOpTracer(), f.logger, f.home, cpu)

	done := make(chan error, 1)
	go func() {
		_, err := subject.Restore(ctx, f.item)
		done <- err
	}()
	<-store.reading

	cpuCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, cpu.Do(cpuCtx, func() error { return nil }), "a stalled download must not occupy the CPU pool")

	close(store.release)
	err := <-done
	require.ErrorIs(t, err, domain.ErrTransport)
	assert.NotErrorIs(t, err, domain.ErrArchiveFormat)
	assert.True(t, domain.IsRetryable(err))
}

func TestPipeline_RestoreRejectsForeignCrateFiles(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range []string{"foo-1.2.3/Cargo.toml", "serde-1.0.0/src/lib.rs"} {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: 1, Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte("x"))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	crate := buf.Bytes()

	id := domain.NewRegistryIdentity(domain.CratesIO(), "foo", "1.2.3", checksum(crate))
	item := domain.WorkItem{Identity: id, Key: domain.StorageKey(id)}

	f.logger.EXPECT().Warn(gomock.Any())
	f.origin.EXPECT().Download(gomock.Any(), id.Registry).Return(crate, nil)

	_, err := f.subject.Restore(context.Background(), item)
	require.ErrorIs(t, err, domain.ErrArchiveFormat)
	assert.NoFileExists(t, filepath.Join(f.home.SrcDir(id.Registry.Registry), "serde-1.0.0", "src", "lib.rs"))
	assert.NoFileExists(t, filepath.Join(f.home.CrateSrcDir(id.Registry), domain.CargoOKFile))
}
