// Package app implements the application layer for cratesync.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.trai.ch/cratesync/internal/adapters/registry"
	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports"
	"go.trai.ch/cratesync/internal/engine/gitsync"
	"go.trai.ch/cratesync/internal/engine/indexsync"
	"go.trai.ch/cratesync/internal/engine/limiter"
	"go.trai.ch/cratesync/internal/engine/pipeline"
	"go.trai.ch/cratesync/internal/engine/planner"
	"go.trai.ch/cratesync/internal/engine/scheduler"
	"go.trai.ch/cratesync/internal/ui/output"
	"go.trai.ch/zerr"
)

// LogSettings is implemented by loggers whose output is tuned per run.
type LogSettings interface {
	SetJSON(enable bool)
	SetVerbose(enable bool)
	SetRunID(id string)
}

// Options carries the command line settings of a run. Zero values leave the
// configured value untouched.
type Options struct {
	// Config is the path of an optional cratesync.yaml.
	Config string
	// EnvFile is an optional dotenv file loaded before storage is opened.
	EnvFile string

	Lockfile string
	Storage  string
	Root     string

	IndexTTL     time.Duration
	IncludeIndex *bool
	NetworkJobs  int
	CPUJobs      int

	JSON    bool
	Verbose bool
}

// App represents the main application logic.
type App struct {
	configLoader ports.ConfigLoader
	parser       ports.LockfileParser
	storage      ports.StorageFactory
	origin       *registry.Client
	index        ports.IndexRepository
	git          ports.GitClient
	hasher       ports.TreeHasher
	archiver     ports.Archiver
	locker       ports.FileLocker
	tracer       ports.Tracer
	progress     ports.Telemetry
	logger       ports.Logger

	out   io.Writer
	isTTY func() bool
}

// New creates a new App instance.
func New(
	loader ports.ConfigLoader,
	parser ports.LockfileParser,
	storage ports.StorageFactory,
	origin *registry.Client,
	index ports.IndexRepository,
	git ports.GitClient,
	hasher ports.TreeHasher,
	archiver ports.Archiver,
	locker ports.FileLocker,
	tracer ports.Tracer,
	progress ports.Telemetry,
	log ports.Logger,
) *App {
	return &App{
		configLoader: loader,
		parser:       parser,
		storage:      storage,
		origin:       origin,
		index:        index,
		git:          git,
		hasher:       hasher,
		archiver:     archiver,
		locker:       locker,
		tracer:       tracer,
		progress:     progress,
		logger:       log,
		out:          os.Stdout,
		isTTY:        func() bool { return output.IsTerminal(os.Stderr) },
	}
}

// WithOutput redirects the run summary to w.
func (a *App) WithOutput(w io.Writer) *App {
	a.out = w
	return a
}

// Mirror uploads every dependency of the lock file that storage does not hold yet.
func (a *App) Mirror(ctx context.Context, opts Options) (domain.Summary, error) {
	return a.run(ctx, domain.ModeMirror, opts)
}

// Restore populates CARGO_HOME with every dependency of the lock file.
func (a *App) Restore(ctx context.Context, opts Options) (domain.Summary, error) {
	return a.run(ctx, domain.ModeRestore, opts)
}

//nolint:cyclop // orchestration function
func (a *App) run(ctx context.Context, mode domain.Mode, opts Options) (domain.Summary, error) {
	runID := uuid.NewString()
	if ls, ok := a.logger.(LogSettings); ok {
		ls.SetJSON(opts.JSON || !a.isTTY())
		ls.SetVerbose(opts.Verbose)
		ls.SetRunID(runID)
	}

	// 1. Resolve configuration
	cfg, err := a.loadConfig(opts)
	if err != nil {
		return domain.Summary{}, err
	}
	if err := cfg.Validate(); err != nil {
		return domain.Summary{}, err
	}

	// 2. Open storage and parse the lock file
	store, err := a.storage.Open(ctx, cfg.Storage)
	if err != nil {
		return domain.Summary{}, zerr.Wrap(err, "failed to open storage")
	}

	lock, err := a.parseLockfile(cfg.Lockfile)
	if err != nil {
		return domain.Summary{}, err
	}

	home := domain.CargoHome{Root: cfg.Root}
	a.logger.Info(fmt.Sprintf("%s %d packages of %s (run %s)", mode, len(lock.Entries), cfg.Lockfile, runID))

	// 3. Keep cargo out of CARGO_HOME while it is written to
	if mode == domain.ModeRestore {
		unlock, err := a.locker.Lock(home.PackageCacheLock())
		if err != nil {
			return domain.Summary{}, zerr.Wrap(err, "failed to lock package cache")
		}
		defer unlock()
	}

	// 4. Registry indexes
	if cfg.Index.Include {
		_, err := indexsync.New(a.index, store, a.archiver, a.tracer, a.logger, home).
			Run(ctx, mode, lock, cfg.Index.TTL)
		if err != nil {
			return domain.Summary{}, err
		}
	}

	// 5. Plan against the snapshot of the target
	target, err := a.target(ctx, mode, store, home)
	if err != nil {
		return domain.Summary{}, err
	}
	plan, err := planner.New(ctx, lock.Entries, target)
	if err != nil {
		return domain.Summary{}, err
	}
	a.logger.Debug(fmt.Sprintf("planned %d transfers, %d already present", len(plan.Pending), len(plan.Satisfied)))

	// 6. Transfer
	cpu := limiter.NewCPU(cfg.Concurrency.CPU)
	sched := scheduler.New(
		pipeline.New(a.origin.ForRun(cfg), store, a.archiver, a.tracer, a.logger, home, cpu),
		gitsync.New(a.git, a.hasher, a.archiver, store, a.tracer, a.logger, home, cpu),
		a.tracer,
		a.progress,
		a.logger,
		scheduler.OptionsFromConfig(cfg),
	)
	summary := sched.Run(ctx, mode, plan)
	a.report(mode, summary)
	return summary, summary.Err()
}

func (a *App) loadConfig(opts Options) (domain.Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return domain.Config{}, domain.WithKind(domain.ErrConfig,
				zerr.With(zerr.Wrap(err, "failed to load env file"), "path", opts.EnvFile))
		}
	}

	cfg := domain.DefaultConfig()
	if opts.Config != "" {
		var err error
		if cfg, err = a.configLoader.Load(opts.Config); err != nil {
			return cfg, zerr.Wrap(err, "failed to load configuration")
		}
	}

	if opts.Storage != "" {
		cfg.Storage = opts.Storage
	}
	if opts.Lockfile != "" {
		cfg.Lockfile = opts.Lockfile
	}
	if opts.Root != "" {
		cfg.Root = opts.Root
	}
	if cfg.Root == "" {
		cfg.Root = DefaultCargoHome()
	}
	if opts.IndexTTL > 0 {
		cfg.Index.TTL = opts.IndexTTL
	}
	if opts.IncludeIndex != nil {
		cfg.Index.Include = *opts.IncludeIndex
	}
	if opts.NetworkJobs != 0 {
		cfg.Concurrency.Network = opts.NetworkJobs
	}
	if opts.CPUJobs != 0 {
		cfg.Concurrency.CPU = opts.CPUJobs
	}
	return cfg, nil
}

func (a *App) parseLockfile(path string) (*domain.LockFile, error) {
	f, err := os.Open(path) //nolint:gosec // Path is provided by the user
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.WithKind(domain.ErrConfig, zerr.With(zerr.New("lock file not found"), "path", path))
	}
	if err != nil {
		return nil, domain.WithKind(domain.ErrConfig, zerr.With(zerr.Wrap(err, "failed to open lock file"), "path", path))
	}
	defer f.Close() //nolint:errcheck // Read-only file

	lock, err := a.parser.Parse(f)
	if err != nil {
		return nil, zerr.With(err, "path", path)
	}
	return lock, nil
}

func (a *App) target(ctx context.Context, mode domain.Mode, store ports.Storage, home domain.CargoHome) (planner.Target, error) {
	if mode == domain.ModeRestore {
		return planner.LocalTarget{Home: home}, nil
	}
	manifest, err := store.List(ctx, "")
	if err != nil {
		return nil, zerr.Wrap(err, "failed to list storage")
	}
	return planner.RemoteTarget{Manifest: manifest, Store: store}, nil
}

// DefaultCargoHome returns $CARGO_HOME, falling back to ~/.cargo.
func DefaultCargoHome() string {
	if dir := os.Getenv("CARGO_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cargo"
	}
	return filepath.Join(home, ".cargo")
}
