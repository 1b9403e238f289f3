package commands_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/cratesync/cmd/cratesync/commands"
	"go.trai.ch/cratesync/internal/app"
	"go.trai.ch/cratesync/internal/build"
	"go.trai.ch/cratesync/internal/core/domain"
)

type mockApp struct {
	mode domain.Mode
	opts app.Options
	err  error
}

func (m *mockApp) Mirror(_ context.Context, opts app.Options) (domain.Summary, error) {
	m.mode, m.opts = domain.ModeMirror, opts
	return domain.Summary{}, m.err
}

func (m *mockApp) Restore(_ context.Context, opts app.Options) (domain.Summary, error) {
	m.mode, m.opts = domain.ModeRestore, opts
	return domain.Summary{}, m.err
}

func TestCommands_Mirror(t *testing.T) {
	t.Run("wires flags correctly", func(t *testing.T) {
		mock := &mockApp{}
		cli := commands.New(mock)
		cli.SetArgs([]string{
			"mirror",
			"--lockfile", "sub/Cargo.lock",
			"-s", "s3://bucket/prefix",
			"--index-ttl", "10m",
			"--network-jobs", "8",
			"--json",
		})

		require.NoError(t, cli.Execute(context.Background()))
		assert.Equal(t, domain.ModeMirror, mock.mode)
		assert.Equal(t, "sub/Cargo.lock", mock.opts.Lockfile)
		assert.Equal(t, "s3://bucket/prefix", mock.opts.Storage)
		assert.Equal(t, 10*time.Minute, mock.opts.IndexTTL)
		assert.Equal(t, 8, mock.opts.NetworkJobs)
		assert.True(t, mock.opts.JSON)
		assert.Nil(t, mock.opts.IncludeIndex, "unset flags keep the configured value")
	})

	t.Run("returns error on failure", func(t *testing.T) {
		mock := &mockApp{err: errors.New("simulated error")}
		cli := commands.New(mock)
		cli.SetArgs([]string{"mirror", "-s", "/tmp/store"})
		cli.SetOutput(new(bytes.Buffer), new(bytes.Buffer))

		err := cli.Execute(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "simulated error")
	})

	t.Run("rejects arguments", func(t *testing.T) {
		cli := commands.New(&mockApp{})
		cli.SetArgs([]string{"mirror", "extra"})
		cli.SetOutput(new(bytes.Buffer), new(bytes.Buffer))

		require.Error(t, cli.Execute(context.Background()))
	})
}

func TestCommands_Restore(t *testing.T) {
	for _, name := range []string{"restore", "sync"} {
		t.Run(name, func(t *testing.T) {
			mock := &mockApp{}
			cli := commands.New(mock)
			cli.SetArgs([]string{name, "--root", "/tmp/cargo", "--include-index=false", "--env-file", ".env"})

			require.NoError(t, cli.Execute(context.Background()))
			assert.Equal(t, domain.ModeRestore, mock.mode)
			assert.Equal(t, "/tmp/cargo", mock.opts.Root)
			assert.Equal(t, ".env", mock.opts.EnvFile)
			require.NotNil(t, mock.opts.IncludeIndex)
			assert.False(t, *mock.opts.IncludeIndex)
		})
	}
}

func TestCommands_Version(t *testing.T) {
	cli := commands.New(&mockApp{})
	buf := new(bytes.Buffer)
	cli.SetOutput(buf, buf)
	cli.SetArgs([]string{"version"})

	require.NoError(t, cli.Execute(context.Background()))
	assert.Contains(t, buf.String(), "cratesync version "+build.Version)
}
