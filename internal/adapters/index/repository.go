// Package index keeps git mirrors of registry indexes using go-git.
package index

import (
	"context"
	"errors"
	"io"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports"
	"go.trai.ch/zerr"
)

const remoteName = "origin"

// Remote tracking refs written by Fetch. HEAD is preferred, master is the fallback
// for servers that do not advertise a symbolic HEAD.
const (
	remoteHead   plumbing.ReferenceName = "refs/remotes/origin/HEAD"
	remoteMaster plumbing.ReferenceName = "refs/remotes/origin/master"
)

var fetchSpecs = []config.RefSpec{
	"+refs/heads/master:refs/remotes/origin/master",
	"+HEAD:refs/remotes/origin/HEAD",
}

var _ ports.IndexRepository = (*Repository)(nil)

// Repository implements ports.IndexRepository. Mirrors are plain repositories without
// a work tree, the same shape cargo creates under registry/index.
type Repository struct {
	progress io.Writer
}

// NewRepository creates a new Repository.
func NewRepository() *Repository {
	return &Repository{}
}

// WithProgress streams the server's progress messages to w.
func (r *Repository) WithProgress(w io.Writer) *Repository {
	r.progress = w
	return r
}

// Head returns the revision the mirror at dir was last fetched to.
func (r *Repository) Head(_ context.Context, dir string) (string, error) {
	repo, err := open(dir)
	if err != nil {
		return "", err
	}
	hash, err := head(repo)
	if err != nil {
		return "", zerr.With(err, "path", dir)
	}
	return hash.String(), nil
}

// Fetch initializes the mirror at dir when needed and fetches the index head from url.
func (r *Repository) Fetch(ctx context.Context, dir, url string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(dir, false)
	}
	if err != nil {
		return "", zerr.With(zerr.Wrap(err, "failed to open index repository"), "path", dir)
	}

	if err := ensureRemote(repo, url); err != nil {
		return "", zerr.With(err, "path", dir)
	}

	opts := &git.FetchOptions{
		RemoteName: remoteName,
		RemoteURL:  url,
		RefSpecs:   fetchSpecs,
		Tags:       git.NoTags,
		Force:      true,
	}
	if r.progress != nil {
		opts.Progress = r.progress
	}

	err = repo.FetchContext(ctx, opts)
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", domain.WithKind(domain.ErrTransport,
			zerr.With(zerr.Wrap(err, "failed to fetch index"), "url", url))
	}

	hash, err := head(repo)
	if err != nil {
		return "", zerr.With(err, "url", url)
	}
	return hash.String(), nil
}

// ReadFile returns the blob at rel in the fetched head commit.
func (r *Repository) ReadFile(_ context.Context, dir, rel string) ([]byte, error) {
	repo, err := open(dir)
	if err != nil {
		return nil, err
	}
	hash, err := head(repo)
	if err != nil {
		return nil, zerr.With(err, "path", dir)
	}

	commit, err := repo.CommitObject(hash)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to load index commit"), "revision", hash.String())
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to load index tree"), "revision", hash.String())
	}

	file, err := tree.File(rel)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, domain.WithKind(domain.ErrObjectNotFound, zerr.With(zerr.Wrap(err, "index file not found"), "file", rel))
		}
		return nil, zerr.With(zerr.Wrap(err, "failed to read index file"), "file", rel)
	}

	rd, err := file.Reader()
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to read index file"), "file", rel)
	}
	defer rd.Close() //nolint:errcheck // Read-only blob

	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to read index file"), "file", rel)
	}
	return data, nil
}

func open(dir string) (*git.Repository, error) {
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, domain.WithKind(domain.ErrObjectNotFound, zerr.With(zerr.Wrap(err, "no index mirror"), "path", dir))
	}
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to open index repository"), "path", dir)
	}
	return repo, nil
}

func head(repo *git.Repository) (plumbing.Hash, error) {
	for _, name := range []plumbing.ReferenceName{remoteHead, remoteMaster} {
		ref, err := repo.Reference(name, true)
		if err == nil {
			return ref.Hash(), nil
		}
		if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return plumbing.ZeroHash, zerr.Wrap(err, "failed to resolve index head")
		}
	}
	return plumbing.ZeroHash, domain.WithKind(domain.ErrObjectNotFound, zerr.New("index mirror was never fetched"))
}

func ensureRemote(repo *git.Repository, url string) error {
	remote, err := repo.Remote(remoteName)
	switch {
	case errors.Is(err, git.ErrRemoteNotFound):
	case err != nil:
		return zerr.Wrap(err, "failed to read index remote")
	case len(remote.Config().URLs) == 1 && remote.Config().URLs[0] == url:
		return nil
	default:
		if err := repo.DeleteRemote(remoteName); err != nil {
			return zerr.Wrap(err, "failed to replace index remote")
		}
	}

	_, err = repo.CreateRemote(&config.RemoteConfig{
		Name:  remoteName,
		URLs:  []string{url},
		Fetch: fetchSpecs,
	})
	if err != nil {
		return zerr.Wrap(err, "failed to configure index remote")
	}
	return nil
}
