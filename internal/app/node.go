package app

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/cratesync/internal/adapters/archive"            //nolint:depguard // Wired in app layer
	"go.trai.ch/cratesync/internal/adapters/config"             //nolint:depguard // Wired in app layer
	"go.trai.ch/cratesync/internal/adapters/fs"                 //nolint:depguard // Wired in app layer
	"go.trai.ch/cratesync/internal/adapters/git"                //nolint:depguard // Wired in app layer
	"go.trai.ch/cratesync/internal/adapters/index"              //nolint:depguard // Wired in app layer
	"go.trai.ch/cratesync/internal/adapters/lock"               //nolint:depguard // Wired in app layer
	"go.trai.ch/cratesync/internal/adapters/lockfile"           //nolint:depguard // Wired in app layer
	"go.trai.ch/cratesync/internal/adapters/logger"             //nolint:depguard // Wired in app layer
	"go.trai.ch/cratesync/internal/adapters/registry"           //nolint:depguard // Wired in app layer
	"go.trai.ch/cratesync/internal/adapters/storage"            //nolint:depguard // Wired in app layer
	"go.trai.ch/cratesync/internal/adapters/telemetry"          //nolint:depguard // Wired in app layer
	"go.trai.ch/cratesync/internal/adapters/telemetry/progrock" //nolint:depguard // Wired in app layer
	"go.trai.ch/cratesync/internal/core/ports"
)

const (
	// AppNodeID is the unique identifier for the main App Graft node.
	AppNodeID graft.ID = "app.main"
	// ComponentsNodeID is the unique identifier for the App components Graft node.
	ComponentsNodeID graft.ID = "app.components"
)

// Components contains the initialized application components the CLI layer needs.
type Components struct {
	App      *App
	Logger   ports.Logger
	Progress ports.Telemetry
}

func init() {
	graft.Register(graft.Node[*App]{
		ID:        AppNodeID,
		Cacheable: true,
		DependsOn: []graft.ID{
			config.NodeID,
			lockfile.NodeID,
			storage.NodeID,
			registry.NodeID,
			index.NodeID,
			git.NodeID,
			fs.HasherNodeID,
			archive.NodeID,
			lock.NodeID,
			telemetry.TracerNodeID,
			progrock.NodeID,
			logger.NodeID,
		},
		Run: runAppNode,
	})

	graft.Register(graft.Node[*Components]{
		ID:        ComponentsNodeID,
		Cacheable: true,
		DependsOn: []graft.ID{
			AppNodeID,
			logger.NodeID,
			progrock.NodeID,
		},
		Run: func(ctx context.Context) (*Components, error) {
			a, err := graft.Dep[*App](ctx)
			if err != nil {
				return nil, err
			}
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			progress, err := graft.Dep[ports.Telemetry](ctx)
			if err != nil {
				return nil, err
			}
			return &Components{App: a, Logger: log, Progress: progress}, nil
		},
	})
}

//nolint:cyclop // one lookup per dependency
func runAppNode(ctx context.Context) (*App, error) {
	loader, err := graft.Dep[ports.ConfigLoader](ctx)
	if err != nil {
		return nil, err
	}
	parser, err := graft.Dep[ports.LockfileParser](ctx)
	if err != nil {
		return nil, err
	}
	factory, err := graft.Dep[ports.StorageFactory](ctx)
	if err != nil {
		return nil, err
	}
	origin, err := graft.Dep[*registry.Client](ctx)
	if err != nil {
		return nil, err
	}
	repo, err := graft.Dep[ports.IndexRepository](ctx)
	if err != nil {
		return nil, err
	}
	gitClient, err := graft.Dep[ports.GitClient](ctx)
	if err != nil {
		return nil, err
	}
	hasher, err := graft.Dep[ports.TreeHasher](ctx)
	if err != nil {
		return nil, err
	}
	archiver, err := graft.Dep[ports.Archiver](ctx)
	if err != nil {
		return nil, err
	}
	locker, err := graft.Dep[ports.FileLocker](ctx)
	if err != nil {
		return nil, err
	}
	tracer, err := graft.Dep[ports.Tracer](ctx)
	if err != nil {
		return nil, err
	}
	progress, err := graft.Dep[ports.Telemetry](ctx)
	if err != nil {
		return nil, err
	}
	log, err := graft.Dep[ports.Logger](ctx)
	if err != nil {
		return nil, err
	}

	return New(loader, parser, factory, origin, repo, gitClient, hasher, archiver, locker, tracer, progress, log), nil
}
