package ports

// TreeHasher digests directory trees.
//
//go:generate go run go.uber.org/mock/mockgen -source=hasher.go -destination=mocks/mock_hasher.go -package=mocks
type TreeHasher interface {
	// DigestTree hashes every file under root (paths relative to root and contents),
	// ignoring .git and .cargo-ok.
	DigestTree(root string) (string, error)
}
