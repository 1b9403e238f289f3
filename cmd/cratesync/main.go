// Package main is the entry point for cratesync.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/grindlemire/graft"
	"go.trai.ch/cratesync/cmd/cratesync/commands"
	"go.trai.ch/cratesync/internal/app"
	"go.trai.ch/cratesync/internal/core/domain"
	_ "go.trai.ch/cratesync/internal/wiring"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

// ComponentProvider is a function that returns the application components.
type ComponentProvider func(context.Context) (*app.Components, func(), error)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, func(ctx context.Context) (*app.Components, func(), error) {
		c, _, err := graft.ExecuteFor[*app.Components](ctx)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { _ = c.Progress.Close() }, nil
	}))
}

func run(
	ctx context.Context,
	args []string,
	stdout, stderr io.Writer,
	provider ComponentProvider,
) int {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	components, cleanup, err := provider(ctx)
	if err != nil {
		// The logger is not available yet.
		_, _ = fmt.Fprintln(stderr, "Error: "+err.Error())
		return exitFailed
	}
	defer cleanup()

	cli := commands.New(components.App.WithOutput(stdout))
	cli.SetArgs(args)
	cli.SetOutput(stdout, stderr)

	err = cli.Execute(ctx)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, domain.ErrSyncFailed):
		// Failed items were already reported.
		return exitFailed
	case errors.Is(err, domain.ErrConfig), errors.Is(err, domain.ErrParse):
		components.Logger.Error(err)
		return exitConfig
	default:
		components.Logger.Error(err)
		return exitFailed
	}
}
