package domain

import (
	"net/url"
	"path"
	"strings"
)

// SourceKind discriminates the variants of PackageIdentity.
type SourceKind uint8

const (
	// KindRegistry is a crate downloaded from a registry.
	KindRegistry SourceKind = iota + 1
	// KindGit is a git repository pinned to a revision.
	KindGit
)

// String returns a human-readable kind.
func (k SourceKind) String() string {
	switch k {
	case KindRegistry:
		return "registry"
	case KindGit:
		return "git"
	default:
		return "unknown"
	}
}

// RegistryPackage is a crate version published on a registry.
type RegistryPackage struct {
	Registry Registry
	Name     InternedString
	Version  InternedString
	Checksum string
}

// FileName returns the name of the packed crate, "<name>-<version>.crate".
func (p RegistryPackage) FileName() string {
	return p.DirName() + ".crate"
}

// DirName returns the name of the unpacked crate, "<name>-<version>".
func (p RegistryPackage) DirName() string {
	return p.Name.String() + "-" + p.Version.String()
}

// GitPackage is a git repository at a fully resolved revision.
type GitPackage struct {
	URL      string
	Revision string
	// HasSubmodules is discovered while fetching and is not part of the identity.
	HasSubmodules bool
}

// RepoName returns the last path segment of the repository url without ".git".
func (g GitPackage) RepoName() string {
	u, err := url.Parse(g.URL)
	p := g.URL
	if err == nil && u.Path != "" {
		p = u.Path
	}
	name := strings.TrimSuffix(path.Base(strings.TrimSuffix(p, "/")), ".git")
	if name == "" || name == "." || name == "/" {
		return "_empty"
	}
	return name
}

// Ident returns the directory ident cargo uses under git/db and git/checkouts.
func (g GitPackage) Ident() string {
	return g.RepoName() + "-" + urlHash(g.URL)
}

// ShortRevision returns the abbreviated revision cargo uses for checkout directories.
// Git lengthens the abbreviation when seven characters are ambiguous in the database;
// that case is not reproduced.
func (g GitPackage) ShortRevision() string {
	if len(g.Revision) > 7 {
		return g.Revision[:7]
	}
	return g.Revision
}

// PackageIdentity is a tagged variant naming one immutable source.
// Exactly one of Registry or Git is meaningful, selected by Kind.
type PackageIdentity struct {
	Kind     SourceKind
	Registry RegistryPackage
	Git      GitPackage
}

// Fingerprint is the comparable projection of a PackageIdentity's identity fields.
type Fingerprint struct {
	Kind     SourceKind
	Source   string
	Name     string
	Version  string
	Checksum string
	Revision string
}

// NewRegistryIdentity builds a registry identity.
func NewRegistryIdentity(r Registry, name, version, checksum string) PackageIdentity {
	return PackageIdentity{
		Kind: KindRegistry,
		Registry: RegistryPackage{
			Registry: r,
			Name:     NewInternedString(name),
			Version:  NewInternedString(version),
			Checksum: checksum,
		},
	}
}

// NewGitIdentity builds a git identity from an already canonical url.
func NewGitIdentity(repoURL, revision string) PackageIdentity {
	return PackageIdentity{
		Kind: KindGit,
		Git:  GitPackage{URL: repoURL, Revision: revision},
	}
}

// Fingerprint returns the value used for equality and deduplication.
func (p PackageIdentity) Fingerprint() Fingerprint {
	switch p.Kind {
	case KindRegistry:
		return Fingerprint{
			Kind:     KindRegistry,
			Source:   p.Registry.Registry.SourceID(),
			Name:     p.Registry.Name.String(),
			Version:  p.Registry.Version.String(),
			Checksum: p.Registry.Checksum,
		}
	case KindGit:
		return Fingerprint{
			Kind:     KindGit,
			Source:   p.Git.URL,
			Revision: p.Git.Revision,
		}
	default:
		return Fingerprint{}
	}
}

// Equal reports whether both identities name the same source.
func (p PackageIdentity) Equal(other PackageIdentity) bool {
	return p.Fingerprint() == other.Fingerprint()
}

// String returns a short description for logs.
func (p PackageIdentity) String() string {
	switch p.Kind {
	case KindRegistry:
		return p.Registry.Name.String() + "@" + p.Registry.Version.String()
	case KindGit:
		return p.Git.RepoName() + "#" + p.Git.ShortRevision()
	default:
		return "<invalid>"
	}
}

// CanonicalGitURL normalizes a git url the way cargo does before hashing it:
// lowercase github hosts, no trailing slash, no ".git" suffix.
func CanonicalGitURL(raw string) string {
	s := strings.TrimSuffix(raw, "/")
	s = strings.TrimSuffix(s, ".git")

	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	if strings.EqualFold(u.Host, "github.com") {
		u.Host = "github.com"
		u.Path = strings.ToLower(u.Path)
	}
	return u.String()
}
