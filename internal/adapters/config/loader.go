// Package config provides the configuration loader for cratesync.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

var _ ports.ConfigLoader = (*Loader)(nil)

// Loader implements ports.ConfigLoader using a YAML file.
type Loader struct {
	Logger ports.Logger
}

// NewLoader creates a new Loader with the given logger.
func NewLoader(logger ports.Logger) *Loader {
	return &Loader{Logger: logger}
}

// Load reads the configuration file at path on top of domain.DefaultConfig.
// Relative lockfile and root paths are resolved against the directory of the file.
func (l *Loader) Load(path string) (domain.Config, error) {
	cfg := domain.DefaultConfig()

	var file File
	if err := readAndUnmarshalYAML(path, &file); err != nil {
		return cfg, err
	}

	if err := l.apply(&cfg, &file, filepath.Dir(path)); err != nil {
		return cfg, domain.WithKind(domain.ErrConfig, zerr.With(err, "path", path))
	}

	return cfg, nil
}

func (l *Loader) apply(cfg *domain.Config, file *File, configDir string) error {
	if file.Storage != nil {
		cfg.Storage = *file.Storage
	}
	if file.Lockfile != nil {
		cfg.Lockfile = resolvePath(configDir, *file.Lockfile)
	}
	if file.Root != nil {
		cfg.Root = resolvePath(configDir, *file.Root)
	}

	if file.Index != nil {
		if file.Index.Include != nil {
			cfg.Index.Include = *file.Index.Include
		}
		if err := setDuration(&cfg.Index.TTL, file.Index.TTL, "index.ttl"); err != nil {
			return err
		}
		if !cfg.Index.Include && file.Index.TTL != nil {
			l.Logger.Warn("'index.ttl' has no effect when 'index.include' is false")
		}
	}

	if file.Concurrency != nil {
		setInt(&cfg.Concurrency.Network, file.Concurrency.Network)
		setInt(&cfg.Concurrency.CPU, file.Concurrency.CPU)
	}

	if file.Retry != nil {
		setInt(&cfg.Retry.MaxAttempts, file.Retry.MaxAttempts)
		if err := setDuration(&cfg.Retry.Initial, file.Retry.Initial, "retry.initial"); err != nil {
			return err
		}
		if err := setDuration(&cfg.Retry.Max, file.Retry.Max, "retry.max"); err != nil {
			return err
		}
	}

	if file.HTTP != nil {
		if err := setDuration(&cfg.HTTPTimeout, file.HTTP.Timeout, "http.timeout"); err != nil {
			return err
		}
	}

	for indexURL, template := range file.Registries {
		cfg.Registries[indexURL] = template
	}

	return nil
}

func setInt(dst, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string, field string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "invalid duration"), "field", field)
	}
	*dst = d
	return nil
}

// resolvePath expands a leading "~/" and anchors relative paths at base.
func resolvePath(base, p string) string {
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readAndUnmarshalYAML reads a YAML file and unmarshals it into the target struct.
func readAndUnmarshalYAML[T any](configPath string, target *T) error {
	// #nosec G304 -- configPath is provided by the user
	configFile, err := os.ReadFile(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.WithKind(domain.ErrConfig,
			domain.WithKind(domain.ErrConfigNotFound, zerr.With(zerr.Wrap(err, "no such file"), "path", configPath)))
	}
	if err != nil {
		return domain.WithKind(domain.ErrConfig, zerr.Wrap(err, domain.ErrConfigReadFailed.Error()))
	}

	if parseErr := yaml.Unmarshal(configFile, target); parseErr != nil {
		return domain.WithKind(domain.ErrConfig, zerr.Wrap(parseErr, domain.ErrConfigParseFailed.Error()))
	}

	return nil
}
