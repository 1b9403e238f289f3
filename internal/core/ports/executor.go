// Package ports defines the core interfaces for the application.
package ports

import "context"

// CommandRunner runs external programs.
//
//go:generate go run go.uber.org/mock/mockgen -source=executor.go -destination=mocks/mock_executor.go -package=mocks
type CommandRunner interface {
	// Run executes name with args in dir and returns its combined output.
	// env entries in "KEY=VALUE" form are appended to the process environment.
	Run(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error)
}
