package index_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/cratesync/internal/adapters/git/gittest"
	"go.trai.ch/cratesync/internal/adapters/index"
	"go.trai.ch/cratesync/internal/core/domain"
)

func upstream(t *testing.T) (string, string) {
	t.Helper()
	gittest.RequireGit(t)
	return gittest.Repo(t, t.TempDir(), "index", map[string]string{
		"config.json": `{"dl":"https://example.com/dl","api":"https://example.com"}`,
		"3/f/foo":     `{"name":"foo","vers":"1.2.3","deps":[],"cksum":"aa","features":{},"yanked":false}` + "\n",
	})
}

func TestRepository_FetchAndRead(t *testing.T) {
	t.Parallel()

	origin, rev := upstream(t)
	dir := filepath.Join(t.TempDir(), "github.com-0000000000000000")
	repo := index.NewRepository()
	ctx := context.Background()

	_, err := repo.Head(ctx, dir)
	require.ErrorIs(t, err, domain.ErrObjectNotFound)

	got, err := repo.Fetch(ctx, dir, origin)
	require.NoError(t, err)
	assert.Equal(t, rev, got)

	head, err := repo.Head(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, rev, head)

	data, err := repo.ReadFile(ctx, dir, "3/f/foo")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"vers":"1.2.3"`)

	_, err = repo.ReadFile(ctx, dir, "3/b/bar")
	require.ErrorIs(t, err, domain.ErrObjectNotFound)
}

func TestRepository_FetchIsIncremental(t *testing.T) {
	t.Parallel()

	origin, first := upstream(t)
	dir := filepath.Join(t.TempDir(), "index")
	repo := index.NewRepository()
	ctx := context.Background()

	got, err := repo.Fetch(ctx, dir, origin)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	again, err := repo.Fetch(ctx, dir, origin)
	require.NoError(t, err)
	assert.Equal(t, first, again, "up to date fetch keeps the head")

	second := gittest.Commit(t, origin, map[string]string{
		"3/f/foo": `{"name":"foo","vers":"1.2.4","deps":[],"cksum":"bb","features":{},"yanked":false}` + "\n",
	})
	got, err = repo.Fetch(ctx, dir, origin)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	data, err := repo.ReadFile(ctx, dir, "3/f/foo")
	require.NoError(t, err)
	assert.Contains(t, string(data), "1.2.4")
}

func TestRepository_FetchFailure(t *testing.T) {
	t.Parallel()
	gittest.RequireGit(t)

	dir := filepath.Join(t.TempDir(), "index")
	_, err := index.NewRepository().Fetch(context.Background(), dir, filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, domain.ErrTransport)
}
