package domain

import "path/filepath"

const (
	// LockfileName is the default lock file name.
	LockfileName = "Cargo.lock"

	// ConfigFileName is the name of the optional configuration file.
	ConfigFileName = "cratesync.yaml"

	// CargoOKFile marks a fully unpacked source directory.
	CargoOKFile = ".cargo-ok"

	// LastUpdatedFile records, through its mtime, the last successful index refresh.
	LastUpdatedFile = ".last-updated"

	// PackageCacheLockFile is the file cargo locks while it mutates CARGO_HOME.
	PackageCacheLockFile = ".package-cache"

	// IndexCacheDir is the directory holding cargo's per-crate index cache inside an index.
	IndexCacheDir = ".cache"

	// RegistryOK is the content of the registry .cargo-ok marker. Git checkouts use an empty one.
	RegistryOK = "ok"

	// DirPerm is the default permission for directories (rwxr-x---).
	DirPerm = 0o750

	// FilePerm is the default permission for files (rw-r--r--).
	FilePerm = 0o644

	// PrivateFilePerm is the default permission for private files (rw-------).
	PrivateFilePerm = 0o600
)

// CargoHome resolves the on-disk layout of a CARGO_HOME directory.
type CargoHome struct {
	Root string
}

// IndexDir returns registry/index/<ident>.
func (h CargoHome) IndexDir(r Registry) string {
	return filepath.Join(h.Root, "registry", "index", r.ShortName())
}

// CacheDir returns registry/cache/<ident>.
func (h CargoHome) CacheDir(r Registry) string {
	return filepath.Join(h.Root, "registry", "cache", r.ShortName())
}

// SrcDir returns registry/src/<ident>.
func (h CargoHome) SrcDir(r Registry) string {
	return filepath.Join(h.Root, "registry", "src", r.ShortName())
}

// CratePath returns the path of the packed crate in the registry cache.
func (h CargoHome) CratePath(p RegistryPackage) string {
	return filepath.Join(h.CacheDir(p.Registry), p.FileName())
}

// CrateSrcDir returns the unpacked source directory of a crate.
func (h CargoHome) CrateSrcDir(p RegistryPackage) string {
	return filepath.Join(h.SrcDir(p.Registry), p.DirName())
}

// GitDBDir returns git/db/<ident>.
func (h CargoHome) GitDBDir(g GitPackage) string {
	return filepath.Join(h.Root, "git", "db", g.Ident())
}

// GitCheckoutDir returns git/checkouts/<ident>/<short-rev>.
func (h CargoHome) GitCheckoutDir(g GitPackage) string {
	return filepath.Join(h.Root, "git", "checkouts", g.Ident(), g.ShortRevision())
}

// PackageCacheLock returns the path of the CARGO_HOME package cache lock.
func (h CargoHome) PackageCacheLock() string {
	return filepath.Join(h.Root, PackageCacheLockFile)
}
