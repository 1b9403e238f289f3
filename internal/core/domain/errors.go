package domain

import (
	"errors"

	"go.trai.ch/zerr"
)

// Error kinds. Every failure surfaced by an adapter or engine is tagged with exactly one
// of these so callers can classify it with errors.Is.
var (
	// ErrParse is returned when the lock file is malformed or contains an unknown source.
	ErrParse = zerr.New("failed to parse lock file")

	// ErrConfig is returned for invalid configuration, unsupported storage URLs or missing credentials.
	ErrConfig = zerr.New("invalid configuration")

	// ErrTransport is returned for network or remote storage failures that may succeed on retry.
	ErrTransport = zerr.New("transport failure")

	// ErrChecksumMismatch is returned when downloaded or restored bytes do not match the lock file checksum.
	ErrChecksumMismatch = zerr.New("checksum mismatch")

	// ErrGit is returned when a git operation fails, including unknown revisions and submodule failures.
	ErrGit = zerr.New("git operation failed")

	// ErrObjectNotFound is returned by storage backends when a key does not exist.
	ErrObjectNotFound = zerr.New("object not found")

	// ErrArchiveFormat is returned when an archive is corrupt or was written by a newer format version.
	ErrArchiveFormat = zerr.New("unsupported archive format")

	// ErrIndexUnavailable is returned when a registry index could not be fetched and no prior snapshot exists.
	ErrIndexUnavailable = zerr.New("registry index unavailable")

	// ErrSyncFailed is returned when at least one work item failed.
	ErrSyncFailed = zerr.New("sync failed")
)

// Detail errors, always wrapped into one of the kinds above.
var (
	// ErrUnknownSource is returned when a lock entry has a source string that is not registry, sparse or git.
	ErrUnknownSource = zerr.New("unknown package source")

	// ErrMissingChecksum is returned when a registry package has no checksum in the lock file.
	ErrMissingChecksum = zerr.New("registry package is missing a checksum")

	// ErrInvalidVersion is returned when a package version is not valid semver.
	ErrInvalidVersion = zerr.New("invalid package version")

	// ErrMissingRevision is returned when a git source has no resolved revision.
	ErrMissingRevision = zerr.New("git source is missing a resolved revision")

	// ErrUnsupportedLockVersion is returned for lock file versions newer than supported.
	ErrUnsupportedLockVersion = zerr.New("unsupported lock file version")

	// ErrUnsupportedScheme is returned for storage URLs with an unknown scheme.
	ErrUnsupportedScheme = zerr.New("unsupported storage scheme")

	// ErrInvalidKey is returned when a storage key escapes the storage root.
	ErrInvalidKey = zerr.New("invalid storage key")

	// ErrUnsafeArchivePath is returned when an archive entry would be written outside its destination.
	ErrUnsafeArchivePath = zerr.New("archive entry escapes destination")

	// ErrConfigReadFailed is returned when the config file cannot be read.
	ErrConfigReadFailed = zerr.New("failed to read config file")

	// ErrConfigParseFailed is returned when the config file cannot be parsed.
	ErrConfigParseFailed = zerr.New("failed to parse config file")

	// ErrConfigNotFound is returned when the config file does not exist.
	ErrConfigNotFound = zerr.New("config file not found")

	// ErrMissingStorage is returned when no storage URL is configured.
	ErrMissingStorage = zerr.New("no storage URL configured")
)

// WithKind tags err with kind so errors.Is(err, kind) holds.
// A nil err yields nil.
func WithKind(kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return errors.Join(kind, err)
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrChecksumMismatch) || errors.Is(err, ErrParse) || errors.Is(err, ErrGit) {
		return false
	}
	return errors.Is(err, ErrTransport)
}
