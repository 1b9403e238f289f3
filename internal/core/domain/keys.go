package domain

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	// GitKeyPrefix is the storage prefix of git dependency archives.
	GitKeyPrefix = "git/"

	// IndexKeyPrefix is the storage prefix of registry index snapshots.
	IndexKeyPrefix = "index/"
)

// StorageKey derives the remote object key of an identity. It is the only key
// derivation in the program and depends on nothing but the identity fields.
func StorageKey(id PackageIdentity) string {
	switch id.Kind {
	case KindRegistry:
		p := id.Registry
		return p.Registry.Host() + "/" + p.Name.String() + "/" + p.Version.String()
	case KindGit:
		h := xxhash.New()
		_, _ = h.WriteString(id.Git.URL)
		_, _ = h.Write([]byte{'|'})
		_, _ = h.WriteString(id.Git.Revision)
		return fmt.Sprintf("%s%s-%016x", GitKeyPrefix, id.Git.RepoName(), h.Sum64())
	default:
		return ""
	}
}

// IndexKey is the remote object key of a registry index snapshot.
func IndexKey(r Registry) string {
	return IndexKeyPrefix + r.ShortName()
}
