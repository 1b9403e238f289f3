// Package lockfile parses Cargo.lock files into package identities.
package lockfile

import (
	"encoding/hex"
	"io"
	"net/url"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml/v2"
	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports"
	"go.trai.ch/zerr"
)

// MaxLockVersion is the newest Cargo.lock schema understood by the parser.
const MaxLockVersion = 4

var _ ports.LockfileParser = (*Parser)(nil)

// Parser implements ports.LockfileParser for Cargo.lock.
type Parser struct{}

// NewParser creates a new Parser.
func NewParser() *Parser {
	return &Parser{}
}

type lockDTO struct {
	Version  int               `toml:"version"`
	Packages []packageDTO      `toml:"package"`
	Metadata map[string]string `toml:"metadata"`
}

type packageDTO struct {
	Name     string `toml:"name"`
	Version  string `toml:"version"`
	Source   string `toml:"source"`
	Checksum string `toml:"checksum"`
}

// Parse reads a whole Cargo.lock. Both the v1 layout (checksums in [metadata]) and the
// v2+ layout (inline checksums) yield the same identities.
func (p *Parser) Parse(r io.Reader) (*domain.LockFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, domain.WithKind(domain.ErrParse, zerr.Wrap(err, "failed to read lock file"))
	}

	var dto lockDTO
	if err := toml.Unmarshal(data, &dto); err != nil {
		return nil, domain.WithKind(domain.ErrParse, zerr.Wrap(err, "invalid TOML"))
	}

	version := schemaVersion(&dto)
	if version > MaxLockVersion {
		return nil, domain.WithKind(domain.ErrParse, zerr.With(domain.ErrUnsupportedLockVersion, "version", version))
	}

	lock := &domain.LockFile{
		Version: version,
		Entries: make([]domain.LockEntry, 0, len(dto.Packages)),
	}

	for i := range dto.Packages {
		pkg := &dto.Packages[i]
		if pkg.Source == "" {
			// Path dependencies live in the workspace and are never fetched.
			continue
		}

		id, err := resolve(pkg, dto.Metadata)
		if err != nil {
			return nil, domain.WithKind(domain.ErrParse, zerr.With(err, "entry", pkg.Name+" "+pkg.Version))
		}

		lock.Entries = append(lock.Entries, domain.LockEntry{
			Name:     pkg.Name,
			Version:  pkg.Version,
			Source:   pkg.Source,
			Identity: id,
		})
	}

	return lock, nil
}

func schemaVersion(dto *lockDTO) int {
	if dto.Version != 0 {
		return dto.Version
	}
	for i := range dto.Packages {
		if dto.Packages[i].Checksum != "" {
			return 2
		}
	}
	return 1
}

func resolve(pkg *packageDTO, metadata map[string]string) (domain.PackageIdentity, error) {
	if pkg.Name == "" {
		return domain.PackageIdentity{}, zerr.New("package has no name")
	}
	if _, err := semver.StrictNewVersion(pkg.Version); err != nil {
		return domain.PackageIdentity{}, zerr.With(domain.ErrInvalidVersion, "version", pkg.Version)
	}

	switch {
	case strings.HasPrefix(pkg.Source, "registry+"), strings.HasPrefix(pkg.Source, "sparse+"):
		return resolveRegistry(pkg, metadata)
	case strings.HasPrefix(pkg.Source, "git+"):
		return resolveGit(pkg.Source)
	default:
		return domain.PackageIdentity{}, zerr.With(domain.ErrUnknownSource, "source", pkg.Source)
	}
}

func resolveRegistry(pkg *packageDTO, metadata map[string]string) (domain.PackageIdentity, error) {
	reg, err := domain.ParseRegistrySource(pkg.Source)
	if err != nil {
		return domain.PackageIdentity{}, err
	}

	checksum := pkg.Checksum
	if checksum == "" {
		checksum = metadata["checksum "+pkg.Name+" "+pkg.Version+" ("+pkg.Source+")"]
	}
	if checksum == "" || checksum == "<none>" {
		return domain.PackageIdentity{}, domain.ErrMissingChecksum
	}
	if raw, err := hex.DecodeString(checksum); err != nil || len(raw) != 32 {
		return domain.PackageIdentity{}, zerr.With(zerr.New("checksum is not a sha256 hex digest"), "checksum", checksum)
	}

	return domain.NewRegistryIdentity(reg, pkg.Name, pkg.Version, strings.ToLower(checksum)), nil
}

// resolveGit parses `git+<url>[?branch=..|tag=..|rev=..]#<revision>`. The query only
// records how the revision was requested and does not take part in the identity.
func resolveGit(source string) (domain.PackageIdentity, error) {
	raw := strings.TrimPrefix(source, "git+")

	repo, revision, found := strings.Cut(raw, "#")
	if !found || revision == "" {
		return domain.PackageIdentity{}, zerr.With(domain.ErrMissingRevision, "source", source)
	}

	u, err := url.Parse(repo)
	if err != nil {
		return domain.PackageIdentity{}, zerr.With(zerr.Wrap(err, "invalid git url"), "source", source)
	}
	u.RawQuery = ""
	u.Fragment = ""

	return domain.NewGitIdentity(domain.CanonicalGitURL(u.String()), revision), nil
}
