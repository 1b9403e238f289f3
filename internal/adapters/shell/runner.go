// Package shell provides the command runner adapter.
package shell

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"go.trai.ch/cratesync/internal/core/ports"
	"go.trai.ch/zerr"
)

// maxErrorOutput bounds the command output attached to an error.
const maxErrorOutput = 4096

var _ ports.CommandRunner = (*Runner)(nil)

// Runner implements ports.CommandRunner using os/exec.
type Runner struct {
	logger ports.Logger
}

// NewRunner creates a new Runner.
func NewRunner(logger ports.Logger) *Runner {
	return &Runner{
		logger: logger,
	}
}

// Run executes name with args in dir. env entries override the process environment.
// Output lines are streamed to the logger at debug level and returned combined.
func (r *Runner) Run(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error) {
	cmdEnv := resolveEnvironment(os.Environ(), env)

	executable := name
	if !filepath.IsAbs(name) {
		if lp, err := lookPath(name, cmdEnv); err == nil {
			executable = lp
		}
	}

	cmd := exec.CommandContext(ctx, executable, args...) //nolint:gosec // fixed programs with arguments built internally
	if len(cmd.Args) > 0 {
		cmd.Args[0] = name
	}
	cmd.Dir = dir
	cmd.Env = cmdEnv

	var out bytes.Buffer
	w := &logWriter{logger: r.logger, out: &out}
	cmd.Stdout = w
	cmd.Stderr = w

	err := cmd.Run()
	w.Flush()
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out.Bytes(), ctxErr
		}

		wrapped := zerr.With(zerr.Wrap(err, "command failed"), "command", name+" "+strings.Join(args, " "))
		wrapped = zerr.With(wrapped, "exit_code", exitCode)
		return out.Bytes(), zerr.With(wrapped, "output", tail(out.String(), maxErrorOutput))
	}

	return out.Bytes(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// logWriter records everything written to it and forwards complete lines to the logger.
type logWriter struct {
	logger ports.Logger
	out    *bytes.Buffer

	mu      sync.Mutex
	pending []byte
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.out.Write(p)
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.emit(w.pending[:i])
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

// Flush forwards a trailing partial line.
func (w *logWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) > 0 {
		w.emit(w.pending)
		w.pending = nil
	}
}

func (w *logWriter) emit(line []byte) {
	if s := strings.TrimRight(string(line), "\r"); s != "" {
		w.logger.Debug(s)
	}
}

// resolveEnvironment applies overrides on top of the system environment.
// Later entries win; the result is sorted for reproducible invocations.
func resolveEnvironment(sysEnv, overrides []string) []string {
	envMap := make(map[string]string, len(sysEnv)+len(overrides))
	for _, entry := range slices.Concat(sysEnv, overrides) {
		if k, v, ok := strings.Cut(entry, "="); ok {
			envMap[k] = v
		}
	}

	result := make([]string, 0, len(envMap))
	for k, v := range envMap {
		result = append(result, k+"="+v)
	}
	slices.Sort(result)
	return result
}

// lookPath searches for an executable in the directories named by the PATH environment variable.
func lookPath(file string, env []string) (string, error) {
	var path string
	for _, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			path = strings.TrimPrefix(e, "PATH=")
			break
		}
	}

	if path == "" {
		return "", exec.ErrNotFound
	}

	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			// Unix shell semantics: path element "" means "."
			dir = "."
		}
		path := filepath.Join(dir, file)
		if err := findExecutable(path); err == nil {
			return path, nil
		}
	}
	return "", exec.ErrNotFound
}

func findExecutable(file string) error {
	d, err := os.Stat(file)
	if err != nil {
		return err
	}
	if m := d.Mode(); !m.IsDir() && m&0o111 != 0 {
		return nil
	}
	return os.ErrPermission
}
