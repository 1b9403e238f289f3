// Package git fetches git dependencies by shelling out to the git command.
package git

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.GitClient = (*ShellClient)(nil)

// ShellClient implements ports.GitClient with the git binary.
type ShellClient struct {
	runner ports.CommandRunner
	config []string
}

// Option configures a ShellClient.
type Option func(*ShellClient)

// WithConfig passes `-c key=value` to every git invocation.
func WithConfig(key, value string) Option {
	return func(c *ShellClient) {
		c.config = append(c.config, "-c", key+"="+value)
	}
}

// NewShellClient creates a new git client that uses the git command.
func NewShellClient(runner ports.CommandRunner, opts ...Option) *ShellClient {
	c := &ShellClient{runner: runner}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mirror clones url as a bare database at dir, or fetches every branch and tag into
// an existing one. Fresh clones land in a sibling directory and are renamed into place.
func (c *ShellClient) Mirror(ctx context.Context, url, dir string) error {
	if isBareRepo(dir) {
		_, err := c.git(ctx, "", "--git-dir", dir, "fetch", "--force", "--prune", "--tags", "origin",
			"+refs/heads/*:refs/heads/*")
		if err != nil {
			return domain.WithKind(domain.ErrTransport, zerr.With(zerr.Wrap(err, "git fetch failed"), "url", url))
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dir), domain.DirPerm); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to create parent directory"), "path", dir)
	}

	tmp, err := os.MkdirTemp(filepath.Dir(dir), ".clone-")
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to create clone directory"), "path", dir)
	}
	defer os.RemoveAll(tmp) //nolint:errcheck // Best effort cleanup

	target := filepath.Join(tmp, "db")
	if _, err := c.git(ctx, "", "clone", "--bare", "--quiet", url, target); err != nil {
		return domain.WithKind(domain.ErrTransport, zerr.With(zerr.Wrap(err, "git clone failed"), "url", url))
	}

	if err := os.RemoveAll(dir); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to remove stale database"), "path", dir)
	}
	if err := os.Rename(target, dir); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to move database into place"), "path", dir)
	}
	return nil
}

// Checkout clones db into dir at revision and initializes submodules recursively.
// Submodule urls resolve against the upstream url of db, not against db itself.
func (c *ShellClient) Checkout(ctx context.Context, db, dir, revision string) (bool, error) {
	if err := c.ensureRevision(ctx, db, revision); err != nil {
		return false, err
	}

	upstream, err := c.git(ctx, "", "--git-dir", db, "config", "--get", "remote.origin.url")
	if err != nil {
		return false, domain.WithKind(domain.ErrGit, zerr.With(zerr.Wrap(err, "database has no origin"), "db", db))
	}

	if err := os.RemoveAll(dir); err != nil {
		return false, zerr.With(zerr.Wrap(err, "failed to clean checkout"), "path", dir)
	}
	if err := os.MkdirAll(filepath.Dir(dir), domain.DirPerm); err != nil {
		return false, zerr.With(zerr.Wrap(err, "failed to create parent directory"), "path", dir)
	}

	steps := [][]string{
		{"clone", "--no-checkout", "--quiet", db, dir},
		{"-C", dir, "remote", "set-url", "origin", strings.TrimSpace(string(upstream))},
		{"-C", dir, "checkout", "--force", "--quiet", "--detach", revision},
	}
	for _, args := range steps {
		if _, err := c.git(ctx, "", args...); err != nil {
			return false, domain.WithKind(domain.ErrGit, zerr.With(zerr.Wrap(err, "git checkout failed"), "revision", revision))
		}
	}

	if _, err := os.Stat(filepath.Join(dir, ".gitmodules")); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if _, err := c.git(ctx, dir, "submodule", "update", "--init", "--recursive", "--quiet"); err != nil {
		return true, domain.WithKind(domain.ErrGit, zerr.With(zerr.Wrap(err, "submodule update failed"), "revision", revision))
	}
	return true, nil
}

// ensureRevision fetches revision into db when no branch or tag carries it.
func (c *ShellClient) ensureRevision(ctx context.Context, db, revision string) error {
	if c.hasCommit(ctx, db, revision) {
		return nil
	}

	if _, err := c.git(ctx, "", "--git-dir", db, "fetch", "--quiet", "origin", revision); err == nil && c.hasCommit(ctx, db, revision) {
		return nil
	}

	return domain.WithKind(domain.ErrGit, zerr.With(domain.ErrMissingRevision, "revision", revision))
}

func (c *ShellClient) hasCommit(ctx context.Context, db, revision string) bool {
	_, err := c.git(ctx, "", "--git-dir", db, "cat-file", "-e", revision+"^{commit}")
	return err == nil
}

func (c *ShellClient) git(ctx context.Context, dir string, args ...string) ([]byte, error) {
	full := make([]string, 0, len(c.config)+len(args))
	full = append(full, c.config...)
	full = append(full, args...)
	return c.runner.Run(ctx, dir, []string{"GIT_TERMINAL_PROMPT=0"}, "git", full...)
}

func isBareRepo(dir string) bool {
	for _, name := range []string{"HEAD", "objects", "refs"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}
