package domain

import (
	"encoding/binary"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/dchest/siphash"
	"go.trai.ch/zerr"
)

// Protocol is the transport a registry index is served over.
type Protocol uint8

const (
	// ProtocolGit is a registry whose index is a git repository.
	ProtocolGit Protocol = iota
	// ProtocolSparse is a registry whose index is served file by file over HTTP.
	ProtocolSparse
)

// String returns the cargo source prefix for the protocol.
func (p Protocol) String() string {
	if p == ProtocolSparse {
		return "sparse"
	}
	return "registry"
}

const (
	// CratesIOIndexURL is the git index of crates.io.
	CratesIOIndexURL = "https://github.com/rust-lang/crates.io-index"

	// CratesIOSparseURL is the sparse index of crates.io.
	CratesIOSparseURL = "https://index.crates.io/"

	// CratesIODownloadTemplate is the download endpoint of crates.io.
	CratesIODownloadTemplate = "https://static.crates.io/crates/{crate}/{crate}-{version}.crate"
)

// cargo SourceKind discriminants used in its stable directory hash.
const (
	gitKindDiscriminant      = 0
	registryKindDiscriminant = 2
	sparseKindDiscriminant   = 3
)

// Registry identifies a crate registry by its index URL.
type Registry struct {
	IndexURL string
	Protocol Protocol
}

// CratesIO returns the git-protocol crates.io registry.
func CratesIO() Registry {
	return Registry{IndexURL: CratesIOIndexURL, Protocol: ProtocolGit}
}

// ParseRegistrySource parses a `registry+<url>` or `sparse+<url>` source string.
func ParseRegistrySource(source string) (Registry, error) {
	var r Registry
	switch {
	case strings.HasPrefix(source, "registry+"):
		r = Registry{IndexURL: strings.TrimPrefix(source, "registry+"), Protocol: ProtocolGit}
	case strings.HasPrefix(source, "sparse+"):
		r = Registry{IndexURL: strings.TrimPrefix(source, "sparse+"), Protocol: ProtocolSparse}
	default:
		return Registry{}, zerr.With(ErrUnknownSource, "source", source)
	}

	u, err := url.Parse(r.IndexURL)
	if err != nil || u.Host == "" {
		return Registry{}, zerr.With(zerr.Wrap(ErrUnknownSource, "registry url has no host"), "source", source)
	}
	return r, nil
}

// SourceID returns the lock file source string of the registry.
func (r Registry) SourceID() string {
	return r.Protocol.String() + "+" + r.IndexURL
}

// Host returns the host of the index URL.
func (r Registry) Host() string {
	u, err := url.Parse(r.IndexURL)
	if err != nil {
		return "unknown"
	}
	return u.Hostname()
}

// IsCratesIO reports whether the registry is crates.io over either protocol.
func (r Registry) IsCratesIO() bool {
	return r.IndexURL == CratesIOIndexURL || r.IndexURL == CratesIOSparseURL
}

// ShortName returns the directory ident cargo uses for the registry under
// registry/{index,cache,src}, e.g. "github.com-1ecc6299db9ec823".
func (r Registry) ShortName() string {
	kind := uint64(registryKindDiscriminant)
	if r.Protocol == ProtocolSparse {
		kind = sparseKindDiscriminant
	}
	return r.Host() + "-" + stableHash(kind, r.IndexURL)
}

// stableHash reproduces cargo's short_hash: SipHash-2-4 with zero keys over the
// kind discriminant and the url as hashed by Rust's Hash for str.
func stableHash(kind uint64, s string) string {
	buf := make([]byte, 8, 8+len(s)+1)
	binary.LittleEndian.PutUint64(buf, kind)
	buf = append(buf, s...)
	buf = append(buf, 0xff)

	return shortHex(siphash.Hash(0, 0, buf))
}

// urlHash is cargo's short_hash of a canonical git url.
func urlHash(s string) string {
	buf := make([]byte, 0, len(s)+1)
	buf = append(buf, s...)
	buf = append(buf, 0xff)
	return shortHex(siphash.Hash(0, 0, buf))
}

func shortHex(h uint64) string {
	var out [8]byte
	binary.LittleEndian.PutUint64(out[:], h)
	return hex.EncodeToString(out[:])
}

// IndexPath returns the relative path of a crate's file inside a registry index,
// following the 1/2/3/ab/cd layout.
func IndexPath(name string) string {
	lower := strings.ToLower(name)
	switch len(lower) {
	case 0:
		return ""
	case 1:
		return "1/" + lower
	case 2:
		return "2/" + lower
	case 3:
		return "3/" + lower[:1] + "/" + lower
	default:
		return lower[:2] + "/" + lower[2:4] + "/" + lower
	}
}

// ExpandDownloadURL fills a registry `dl` template for pkg. Templates without
// markers get `/{crate}/{version}/download` appended.
func ExpandDownloadURL(template string, pkg RegistryPackage) string {
	markers := []string{"{crate}", "{version}", "{prefix}", "{lowerprefix}", "{sha256-checksum}"}
	hasMarker := false
	for _, m := range markers {
		if strings.Contains(template, m) {
			hasMarker = true
			break
		}
	}
	if !hasMarker {
		return strings.TrimSuffix(template, "/") + "/" + pkg.Name.String() + "/" + pkg.Version.String() + "/download"
	}

	name := pkg.Name.String()
	prefix := strings.TrimSuffix(IndexPath(name), "/"+strings.ToLower(name))
	r := strings.NewReplacer(
		"{crate}", name,
		"{version}", pkg.Version.String(),
		"{lowerprefix}", strings.ToLower(prefix),
		"{prefix}", prefix,
		"{sha256-checksum}", pkg.Checksum,
	)
	return r.Replace(template)
}
