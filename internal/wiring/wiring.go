// Package wiring registers all Graft nodes for the application.
package wiring

import (
	// Register adapter nodes.
	_ "go.trai.ch/cratesync/internal/adapters/archive"
	_ "go.trai.ch/cratesync/internal/adapters/config"
	_ "go.trai.ch/cratesync/internal/adapters/fs"
	_ "go.trai.ch/cratesync/internal/adapters/git"
	_ "go.trai.ch/cratesync/internal/adapters/index"
	_ "go.trai.ch/cratesync/internal/adapters/lock"
	_ "go.trai.ch/cratesync/internal/adapters/lockfile"
	_ "go.trai.ch/cratesync/internal/adapters/logger"
	_ "go.trai.ch/cratesync/internal/adapters/registry"
	_ "go.trai.ch/cratesync/internal/adapters/shell"
	_ "go.trai.ch/cratesync/internal/adapters/storage"
	_ "go.trai.ch/cratesync/internal/adapters/telemetry"
	_ "go.trai.ch/cratesync/internal/adapters/telemetry/progrock"
	// Register app nodes.
	_ "go.trai.ch/cratesync/internal/app"
)
