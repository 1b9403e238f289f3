package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/cratesync/internal/adapters/config"
	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports/mocks"
	"go.uber.org/mock/gomock"
)

func createFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), domain.PrivateFilePerm))
	return path
}

func TestLoader_Load_Overrides(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	loader := config.NewLoader(mocks.NewMockLogger(ctrl))

	dir := t.TempDir()
	path := createFile(t, dir, domain.ConfigFileName, `
storage: s3://bucket/cache?region=eu-west-1
lockfile: project/Cargo.lock
root: /opt/cargo
index:
  ttl: 30m
concurrency:
  network: 8
  cpu: 2
retry:
  max_attempts: 6
  initial: 100ms
  max: 5s
http:
  timeout: 2m
registries:
  https://git.example.com/index: https://dl.example.com/api/v1/crates
`)

	cfg, err := loader.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "s3://bucket/cache?region=eu-west-1", cfg.Storage)
	assert.Equal(t, filepath.Join(dir, "project", "Cargo.lock"), cfg.Lockfile)
	assert.Equal(t, "/opt/cargo", cfg.Root)
	assert.True(t, cfg.Index.Include)
	assert.Equal(t, 30*time.Minute, cfg.Index.TTL)
	assert.Equal(t, 8, cfg.Concurrency.Network)
	assert.Equal(t, 2, cfg.Concurrency.CPU)
	assert.Equal(t, 6, cfg.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.Initial)
	assert.Equal(t, 5*time.Second, cfg.Retry.Max)
	assert.Equal(t, 2*time.Minute, cfg.HTTPTimeout)

	tmpl, ok := cfg.DownloadTemplate(domain.Registry{IndexURL: "https://git.example.com/index"})
	require.True(t, ok)
	assert.Equal(t, "https://dl.example.com/api/v1/crates", tmpl)
}

func TestLoader_Load_KeepsDefaults(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	loader := config.NewLoader(mocks.NewMockLogger(ctrl))

	path := createFile(t, t.TempDir(), domain.ConfigFileName, "storage: /srv/cache\n")

	cfg, err := loader.Load(path)
	require.NoError(t, err)

	want := domain.DefaultConfig()
	want.Storage = "/srv/cache"
	assert.Equal(t, want, cfg)
}

func TestLoader_Load_WarnsOnIneffectiveTTL(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	mockLogger := mocks.NewMockLogger(ctrl)
	mockLogger.EXPECT().Warn(gomock.Any()).Times(1)

	loader := config.NewLoader(mockLogger)
	path := createFile(t, t.TempDir(), domain.ConfigFileName, `
index:
  include: false
  ttl: 5m
`)

	cfg, err := loader.Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Index.Include)
}

func TestLoader_Load_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		target  error
	}{
		{
			name:    "malformed yaml",
			content: "storage: [unterminated\n",
			target:  domain.ErrConfig,
		},
		{
			name:    "invalid duration",
			content: "index:\n  ttl: soon\n",
			target:  domain.ErrConfig,
		},
		{
			name:    "wrong type",
			content: "concurrency:\n  network: many\n",
			target:  domain.ErrConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			loader := config.NewLoader(mocks.NewMockLogger(ctrl))
			path := createFile(t, t.TempDir(), domain.ConfigFileName, tt.content)

			_, err := loader.Load(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestLoader_Load_NotFound(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	loader := config.NewLoader(mocks.NewMockLogger(ctrl))

	_, err := loader.Load(filepath.Join(t.TempDir(), domain.ConfigFileName))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfig)
	assert.ErrorIs(t, err, domain.ErrConfigNotFound)
}
