package git_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/cratesync/internal/adapters/git"
	"go.trai.ch/cratesync/internal/adapters/git/gittest"
	"go.trai.ch/cratesync/internal/adapters/shell"
	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports/mocks"
	"go.uber.org/mock/gomock"
)

func newClient(t *testing.T) *git.ShellClient {
	t.Helper()
	ctrl := gomock.NewController(t)
	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Debug(gomock.Any()).AnyTimes()
	return git.NewShellClient(shell.NewRunner(log), git.WithConfig("protocol.file.allow", "always"))
}

func TestShellClient_MirrorAndCheckout(t *testing.T) {
	gittest.RequireGit(t)
	t.Parallel()

	ctx := context.Background()
	work := t.TempDir()
	sub, _ := gittest.Repo(t, work, "sub", map[string]string{"sub.txt": "submodule\n"})
	upstream, rev := gittest.RepoWithSubmodule(t, work, "dep", sub)

	client := newClient(t)
	home := t.TempDir()
	db := filepath.Join(home, "git", "db", "dep-0000000000000000")
	checkout := filepath.Join(home, "git", "checkouts", "dep-0000000000000000", rev[:7])

	require.NoError(t, client.Mirror(ctx, upstream, db))
	assert.FileExists(t, filepath.Join(db, "HEAD"))

	hasSubmodules, err := client.Checkout(ctx, db, checkout, rev)
	require.NoError(t, err)
	assert.True(t, hasSubmodules)

	data, err := os.ReadFile(filepath.Join(checkout, "vendor", "sub", "sub.txt"))
	require.NoError(t, err)
	assert.Equal(t, "submodule\n", string(data))

	// A second mirror fetches into the existing database and picks up new commits.
	next := gittest.Commit(t, upstream, map[string]string{"src/extra.rs": "\n"})
	require.NoError(t, client.Mirror(ctx, upstream, db))
	hasSubmodules, err = client.Checkout(ctx, db, checkout, next)
	require.NoError(t, err)
	assert.True(t, hasSubmodules)
	assert.FileExists(t, filepath.Join(checkout, "src", "extra.rs"))
}

func TestShellClient_Checkout_WithoutSubmodules(t *testing.T) {
	gittest.RequireGit(t)
	t.Parallel()

	ctx := context.Background()
	upstream, rev := gittest.Repo(t, t.TempDir(), "plain", map[string]string{"README": "plain\n"})

	client := newClient(t)
	db := filepath.Join(t.TempDir(), "db")
	require.NoError(t, client.Mirror(ctx, upstream, db))

	hasSubmodules, err := client.Checkout(ctx, db, filepath.Join(t.TempDir(), "co"), rev)
	require.NoError(t, err)
	assert.False(t, hasSubmodules)
}

func TestShellClient_Checkout_UnknownRevision(t *testing.T) {
	gittest.RequireGit(t)
	t.Parallel()

	ctx := context.Background()
	upstream, _ := gittest.Repo(t, t.TempDir(), "plain", map[string]string{"README": "plain\n"})

	client := newClient(t)
	db := filepath.Join(t.TempDir(), "db")
	require.NoError(t, client.Mirror(ctx, upstream, db))

	_, err := client.Checkout(ctx, db, filepath.Join(t.TempDir(), "co"), "0123456789abcdef0123456789abcdef01234567")
	require.ErrorIs(t, err, domain.ErrGit)
	assert.False(t, domain.IsRetryable(err))
}

func TestShellClient_Mirror_CloneFailureIsTransport(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	runner := mocks.NewMockCommandRunner(ctrl)
	runner.EXPECT().
		Run(gomock.Any(), "", []string{"GIT_TERMINAL_PROMPT=0"}, "git", "clone", "--bare", "--quiet", "https://example.com/dep", gomock.Any()).
		Return(nil, errors.New("could not resolve host"))

	client := git.NewShellClient(runner)
	err := client.Mirror(context.Background(), "https://example.com/dep", filepath.Join(t.TempDir(), "db"))
	require.ErrorIs(t, err, domain.ErrTransport)
	assert.True(t, domain.IsRetryable(err))
}

func TestShellClient_PassesConfig(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	runner := mocks.NewMockCommandRunner(ctrl)
	runner.EXPECT().
		Run(gomock.Any(), "", gomock.Any(), "git", "-c", "core.askPass=true", "clone", "--bare", "--quiet", "u", gomock.Any()).
		Return(nil, nil)

	client := git.NewShellClient(runner, git.WithConfig("core.askPass", "true"))
	err := client.Mirror(context.Background(), "u", filepath.Join(t.TempDir(), "db"))

	// The mocked clone creates nothing, so moving it into place fails.
	require.Error(t, err)
}
