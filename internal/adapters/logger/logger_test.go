package logger_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/cratesync/internal/adapters/logger"
	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/zerr"
)

// newTestLogger creates a logger writing to a buffer without ANSI escape codes.
func newTestLogger(t *testing.T) (*logger.Logger, *bytes.Buffer) {
	t.Helper()
	t.Setenv("NO_COLOR", "1")

	buf := &bytes.Buffer{}
	lg := logger.New()
	lg.SetOutput(buf)
	return lg, buf
}

func TestLogger_Levels(t *testing.T) {
	lg, buf := newTestLogger(t)

	lg.Debug("hidden")
	lg.Info("mirrored 3 crates")
	lg.Warn("index is stale")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "mirrored 3 crates\n")
	assert.Contains(t, out, "! index is stale\n")

	lg.SetVerbose(true)
	lg.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestLogger_ErrorChain(t *testing.T) {
	lg, buf := newTestLogger(t)

	err := zerr.Wrap(
		zerr.Wrap(errors.New("connection refused"), "failed to download crate"),
		"failed to mirror foo@1.0.0",
	)
	lg.Error(err)

	out := buf.String()
	assert.Contains(t, out, "Error: failed to mirror foo@1.0.0")
	assert.Contains(t, out, "Caused by:")
	assert.Contains(t, out, "→ failed to download crate")
	assert.Contains(t, out, "→ connection refused")
}

func TestLogger_ErrorNil(t *testing.T) {
	lg, buf := newTestLogger(t)
	lg.Error(nil)
	assert.Empty(t, buf.String())
}

func TestLogger_JSON(t *testing.T) {
	lg, buf := newTestLogger(t)
	lg.SetJSON(true)
	lg.SetRunID("run-1")

	lg.Info("hello")
	lg.Error(fmt.Errorf("wrapped: %w", errors.New("boom")))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "run-1", rec["run_id"])

	require.NoError(t, json.Unmarshal(lines[1], &rec))
	assert.Equal(t, "wrapped: boom", rec["error"])
}

func TestPrettyHandler_Attrs(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	buf := &bytes.Buffer{}
	lg := slog.New(logger.NewPrettyHandler(buf, nil)).
		With("mode", "mirror").
		WithGroup("item")
	lg.Info("done", "key", "crates.io/foo/1.0.0", slog.Group("bytes", "total", 42))
	lg.Debug("filtered")

	assert.Equal(t, "done mode=mirror item.key=crates.io/foo/1.0.0 item.bytes.total=42\n", buf.String())
}

func TestCollectErrorEntries_Joined(t *testing.T) {
	t.Parallel()

	err := errors.Join(domain.ErrSyncFailed, domain.WithKind(domain.ErrTransport, errors.New("503 from origin")))
	entries := logger.CollectErrorEntries(err)

	assert.Equal(t, []string{"sync failed", "transport failure", "503 from origin"}, entries)
}

func TestFormatErrorEntries(t *testing.T) {
	t.Parallel()

	got := logger.FormatErrorEntries([]string{"top", "middle\nmore", "root"})
	want := "Error: top\n\n  Caused by:\n    → middle\n      more\n    → root"
	assert.Equal(t, want, got)
}
