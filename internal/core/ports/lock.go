package ports

// FileLocker takes advisory locks shared with other processes.
//
//go:generate go run go.uber.org/mock/mockgen -source=lock.go -destination=mocks/mock_lock.go -package=mocks
type FileLocker interface {
	// Lock blocks until the lock file at path is held and returns its release function.
	Lock(path string) (func(), error)
}
