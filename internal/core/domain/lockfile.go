package domain

// LockFile is the parsed form of a Cargo.lock.
// It carries only entries that need fetching; path dependencies are dropped by the parser.
type LockFile struct {
	// Version is the lock file schema version (1 when the file carries no version marker).
	Version int

	// Entries holds one element per [[package]] with a remote source, in file order.
	Entries []LockEntry
}

// LockEntry is a single [[package]] of the lock file together with its resolved identity.
type LockEntry struct {
	Name     string
	Version  string
	Source   string
	Identity PackageIdentity
}

// Ref returns "name version" as cargo prints it.
func (e LockEntry) Ref() string {
	return e.Name + " " + e.Version
}

// Registries returns the distinct registries referenced by the lock file, in first-use order.
func (l *LockFile) Registries() []Registry {
	seen := make(map[Registry]bool)
	var out []Registry
	for _, e := range l.Entries {
		if e.Identity.Kind != KindRegistry {
			continue
		}
		r := e.Identity.Registry.Registry
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

// RegistryCrates returns the distinct crate names the lock file uses from r.
func (l *LockFile) RegistryCrates(r Registry) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range l.Entries {
		if e.Identity.Kind != KindRegistry || e.Identity.Registry.Registry != r {
			continue
		}
		name := e.Identity.Registry.Name.String()
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
