package domain

import (
	"runtime"
	"time"

	"go.trai.ch/zerr"
)

// Config holds the resolved settings of a run.
type Config struct {
	// Storage is the URL of the remote object store (file://, s3://, gs:// or a plain path).
	Storage string
	// Lockfile is the path of the Cargo.lock to sync.
	Lockfile string
	// Root is CARGO_HOME.
	Root string

	Index       IndexConfig
	Concurrency ConcurrencyConfig
	Retry       RetryConfig

	// HTTPTimeout bounds a single origin request.
	HTTPTimeout time.Duration

	// Registries maps an index URL to its download template, overriding config.json lookups.
	Registries map[string]string
}

// IndexConfig controls the registry index mirror.
type IndexConfig struct {
	Include bool
	TTL     time.Duration
}

// ConcurrencyConfig sizes the worker pools.
type ConcurrencyConfig struct {
	Network int
	CPU     int
}

// RetryConfig controls transport retries.
type RetryConfig struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Lockfile: LockfileName,
		Index: IndexConfig{
			Include: true,
			TTL:     time.Hour,
		},
		Concurrency: ConcurrencyConfig{
			Network: 32,
			CPU:     runtime.NumCPU(),
		},
		Retry: RetryConfig{
			MaxAttempts: 4,
			Initial:     250 * time.Millisecond,
			Max:         10 * time.Second,
		},
		HTTPTimeout: 60 * time.Second,
		Registries:  map[string]string{},
	}
}

// Validate checks the settings needed before any work starts.
func (c Config) Validate() error {
	if c.Storage == "" {
		return WithKind(ErrConfig, ErrMissingStorage)
	}
	if c.Root == "" {
		return WithKind(ErrConfig, zerr.New("no CARGO_HOME configured"))
	}
	if c.Concurrency.Network < 1 {
		return WithKind(ErrConfig, zerr.With(zerr.New("network concurrency must be positive"), "value", c.Concurrency.Network))
	}
	if c.Concurrency.CPU < 1 {
		return WithKind(ErrConfig, zerr.With(zerr.New("cpu concurrency must be positive"), "value", c.Concurrency.CPU))
	}
	if c.Retry.MaxAttempts < 1 {
		return WithKind(ErrConfig, zerr.With(zerr.New("retry attempts must be positive"), "value", c.Retry.MaxAttempts))
	}
	return nil
}

// DownloadTemplate returns the configured download template for r, if any.
func (c Config) DownloadTemplate(r Registry) (string, bool) {
	if t, ok := c.Registries[r.IndexURL]; ok {
		return t, true
	}
	if r.IsCratesIO() {
		return CratesIODownloadTemplate, true
	}
	return "", false
}
