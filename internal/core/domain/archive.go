package domain

// ArchiveFormatVersion is the archive layout written by this build. Readers accept
// this version and older ones.
const ArchiveFormatVersion = 1

// ManifestFileName is the first entry of every archive.
const ManifestFileName = "MANIFEST.json"

// Archive payload prefixes.
const (
	ArchiveDBPrefix       = "db/"
	ArchiveCheckoutPrefix = "checkout/"
	ArchiveIndexPrefix    = "index/"
)

// ArchiveKind names what an archive contains.
type ArchiveKind string

const (
	// ArchiveRegistry holds a single packed crate.
	ArchiveRegistry ArchiveKind = "registry"
	// ArchiveGit holds a bare git database and a checkout with submodules.
	ArchiveGit ArchiveKind = "git"
	// ArchiveIndex holds a registry index snapshot.
	ArchiveIndex ArchiveKind = "index"
)

// Manifest describes an archive's payload.
type Manifest struct {
	Format        int         `json:"format"`
	Kind          ArchiveKind `json:"kind"`
	Key           string      `json:"key"`
	Name          string      `json:"name,omitempty"`
	Version       string      `json:"version,omitempty"`
	Checksum      string      `json:"checksum,omitempty"`
	Revision      string      `json:"revision,omitempty"`
	HasSubmodules bool        `json:"has_submodules,omitempty"`
	TreeDigest    string      `json:"tree_digest,omitempty"`
}

// PayloadFile is an in-memory archive entry.
type PayloadFile struct {
	Name string
	Data []byte
}

// PayloadDir is a directory tree stored under Prefix.
type PayloadDir struct {
	Prefix string
	Path   string
}

// Payload is what gets packed after the manifest.
type Payload struct {
	Files []PayloadFile
	Dirs  []PayloadDir
}

// Unpacked is the result of reading an archive. Entries under a prefix mapped to a
// directory are written to disk; every other entry ends up in Files.
type Unpacked struct {
	Manifest Manifest
	Files    map[string][]byte
}
