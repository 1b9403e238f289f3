package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.trai.ch/cratesync/internal/adapters/telemetry"
	"go.trai.ch/cratesync/internal/app"
	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports/mocks"
	"go.uber.org/mock/gomock"
)

type testMocks struct {
	factory *mocks.MockStorageFactory
	logger  *mocks.MockLogger
}

func newProvider(t *testing.T) (ComponentProvider, testMocks) {
	t.Helper()
	ctrl := gomock.NewController(t)
	m := testMocks{
		factory: mocks.NewMockStorageFactory(ctrl),
		logger:  mocks.NewMockLogger(ctrl),
	}
	m.logger.EXPECT().Info(gomock.Any()).AnyTimes()

	application := app.New(
		mocks.NewMockConfigLoader(ctrl),
		mocks.NewMockLockfileParser(ctrl),
		m.factory,
		nil,
		mocks.NewMockIndexRepository(ctrl),
		mocks.NewMockGitClient(ctrl),
		mocks.NewMockTreeHasher(ctrl),
		mocks.NewMockArchiver(ctrl),
		mocks.NewMockFileLocker(ctrl),
		telemetry.NewNoOpTracer(),
		mocks.NewMockTelemetry(ctrl),
		m.logger,
	)

	provider := func(context.Context) (*app.Components, func(), error) {
		return &app.Components{App: application, Logger: m.logger}, func() {}, nil
	}
	return provider, m
}

func TestRun_Version(t *testing.T) {
	provider, _ := newProvider(t)

	stdout := new(bytes.Buffer)
	exitCode := run(context.Background(), []string{"version"}, stdout, io.Discard, provider)

	assert.Equal(t, exitOK, exitCode)
	assert.Contains(t, stdout.String(), "cratesync version")
}

func TestRun_InitializationError(t *testing.T) {
	provider := func(context.Context) (*app.Components, func(), error) {
		return nil, nil, errors.New("init failed")
	}

	stderr := new(bytes.Buffer)
	exitCode := run(context.Background(), []string{"version"}, io.Discard, stderr, provider)

	assert.Equal(t, exitFailed, exitCode)
	assert.Contains(t, stderr.String(), "Error: init failed")
}

func TestRun_ConfigErrorExitsWithTwo(t *testing.T) {
	provider, m := newProvider(t)
	m.logger.EXPECT().Error(gomock.Any()).Times(1)

	exitCode := run(context.Background(), []string{"restore", "--root", t.TempDir()}, io.Discard, io.Discard, provider)
	assert.Equal(t, exitConfig, exitCode)
}

func TestRun_StorageErrorExitsWithOne(t *testing.T) {
	provider, m := newProvider(t)
	m.logger.EXPECT().Error(gomock.Any()).Times(1)
	m.factory.EXPECT().Open(gomock.Any(), "s3://bucket").
		Return(nil, domain.WithKind(domain.ErrTransport, errors.New("no route to host")))

	args := []string{"mirror", "-s", "s3://bucket", "--root", t.TempDir(), "-l", filepath.Join(t.TempDir(), "Cargo.lock")}
	exitCode := run(context.Background(), args, io.Discard, io.Discard, provider)
	assert.Equal(t, exitFailed, exitCode)
}
