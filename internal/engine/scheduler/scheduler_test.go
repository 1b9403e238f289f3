package scheduler_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/cratesync/internal/adapters/telemetry"
	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports/mocks"
	"go.trai.ch/cratesync/internal/engine/planner"
	"go.trai.ch/cratesync/internal/engine/scheduler"
	"go.uber.org/mock/gomock"
)

type transferFunc func(ctx context.Context, item domain.WorkItem) (int64, error)

// fakeTransfer counts calls per key and delegates to fn in both directions.
type fakeTransfer struct {
	fn transferFunc

	mu    sync.Mutex
	calls map[string]int
}

func newTransfer(fn transferFunc) *fakeTransfer {
	return &fakeTransfer{fn: fn, calls: make(map[string]int)}
}

func (f *fakeTransfer) Mirror(ctx context.Context, item domain.WorkItem) (int64, error) {
	return f.call(ctx, item)
}

func (f *fakeTransfer) Restore(ctx context.Context, item domain.WorkItem) (int64, error) {
	return f.call(ctx, item)
}

func (f *fakeTransfer) call(ctx context.Context, item domain.WorkItem) (int64, error) {
	f.mu.Lock()
	f.calls[item.Key]++
	f.mu.Unlock()
	return f.fn(ctx, item)
}

func (f *fakeTransfer) Calls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func ok(n int64) transferFunc {
	return func(context.Context, domain.WorkItem) (int64, error) { return n, nil }
}

func crateItem(name string) domain.WorkItem {
	id := domain.NewRegistryIdentity(domain.CratesIO(), name, "1.0.0", "aa")
	return domain.WorkItem{Identity: id, Key: domain.StorageKey(id)}
}

func gitItem(url string) domain.WorkItem {
	id := domain.NewGitIdentity(url, "0123456789abcdef0123456789abcdef01234567")
	return domain.WorkItem{Identity: id, Key: domain.StorageKey(id)}
}

type deps struct {
	logger   *mocks.MockLogger
	progress *mocks.MockTelemetry
}

func newDeps(t *testing.T) deps {
	t.Helper()
	ctrl := gomock.NewController(t)

	vertex := mocks.NewMockVertex(ctrl)
	vertex.EXPECT().Stdout().Return(io.Discard).AnyTimes()
	vertex.EXPECT().Cached().AnyTimes()
	vertex.EXPECT().Complete(gomock.Any()).AnyTimes()

	progress := mocks.NewMockTelemetry(ctrl)
	progress.EXPECT().Record(gomock.Any(), gomock.Any()).Return(vertex).AnyTimes()

	return deps{logger: mocks.NewMockLogger(ctrl), progress: progress}
}

func (d deps) scheduler(registry, git scheduler.Transfer, opts scheduler.Options) *scheduler.Scheduler {
	return scheduler.New(registry, git, telemetry.NewNoOpTracer(), d.progress, d.logger, opts)
}

func defaultOptions() scheduler.Options {
	return scheduler.Options{Network: 4, MaxAttempts: 3, Initial: 100 * time.Millisecond, Max: time.Second}
}

func TestScheduler_DispatchesByKindAndSkipsSatisfied(t *testing.T) {
	t.Parallel()

	d := newDeps(t)
	registry := newTransfer(ok(10))
	git := newTransfer(ok(100))

	a, b, g, done := crateItem("a"), crateItem("b"), gitItem("https://example.com/repo"), crateItem("done")
	plan := planner.Plan{Pending: []domain.WorkItem{a, b, g}, Satisfied: []domain.WorkItem{done}}

	summary := d.scheduler(registry, git, defaultOptions()).Run(context.Background(), domain.ModeMirror, plan)

	require.NoError(t, summary.Err())
	assert.Equal(t, 3, summary.Good)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Bad)
	assert.Equal(t, int64(120), summary.TotalBytes)

	assert.Equal(t, 1, registry.Calls(a.Key))
	assert.Equal(t, 1, registry.Calls(b.Key))
	assert.Equal(t, 1, git.Calls(g.Key))
	assert.Zero(t, registry.Calls(done.Key))
}

func TestScheduler_BoundsNetworkWorkers(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		d := newDeps(t)

		var active, peak atomic.Int32
		registry := newTransfer(func(context.Context, domain.WorkItem) (int64, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Second)
			active.Add(-1)
			return 1, nil
		})

		var items []domain.WorkItem
		for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
			items = append(items, crateItem(name))
		}

		opts := defaultOptions()
		opts.Network = 2
		start := time.Now()
		summary := d.scheduler(registry, nil, opts).Run(t.Context(), domain.ModeRestore, planner.Plan{Pending: items})

		require.NoError(t, summary.Err())
		assert.Equal(t, 6, summary.Good)
		assert.Equal(t, int32(2), peak.Load())
		assert.Equal(t, 3*time.Second, time.Since(start))
	})
}

func TestScheduler_RetriesTransportErrors(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		d := newDeps(t)
		d.logger.EXPECT().Warn(gomock.Any()).Times(2)

		var attempts atomic.Int32
		registry := newTransfer(func(context.Context, domain.WorkItem) (int64, error) {
			if attempts.Add(1) < 3 {
				return 0, domain.WithKind(domain.ErrTransport, errors.New("connection reset"))
			}
			return 42, nil
		})

		item := crateItem("flaky")
		summary := d.scheduler(registry, nil, defaultOptions()).Run(t.Context(), domain.ModeMirror, planner.Plan{Pending: []domain.WorkItem{item}})

		require.NoError(t, summary.Err())
		require.Len(t, summary.Outcomes, 1)
		assert.Equal(t, domain.StatusSucceeded, summary.Outcomes[0].Status)
		assert.Equal(t, 3, summary.Outcomes[0].Attempts)
		assert.Equal(t, int64(42), summary.TotalBytes)
	})
}

func TestScheduler_GivesUpAfterMaxAttempts(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		d := newDeps(t)
		d.logger.EXPECT().Warn(gomock.Any()).Times(2)
		d.logger.EXPECT().Error(gomock.Any()).Times(1)

		registry := newTransfer(func(context.Context, domain.WorkItem) (int64, error) {
			return 0, domain.WithKind(domain.ErrTransport, errors.New("503"))
		})

		item := crateItem("down")
		summary := d.scheduler(registry, nil, defaultOptions()).Run(t.Context(), domain.ModeMirror, planner.Plan{Pending: []domain.WorkItem{item}})

		require.ErrorIs(t, summary.Err(), domain.ErrSyncFailed)
		require.Len(t, summary.Outcomes, 1)
		assert.Equal(t, domain.StatusRetryableFailure, summary.Outcomes[0].Status)
		assert.Equal(t, 3, summary.Outcomes[0].Attempts)
		assert.Equal(t, 3, registry.Calls(item.Key))
	})
}

func TestScheduler_FailureIsIsolatedAndNotRetried(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		d := newDeps(t)
		d.logger.EXPECT().Error(gomock.Any()).Times(1)

		bad := crateItem("bad")
		registry := newTransfer(func(_ context.Context, item domain.WorkItem) (int64, error) {
			if item.Key == bad.Key {
				return 0, domain.WithKind(domain.ErrChecksumMismatch, errors.New("digest differs"))
			}
			time.Sleep(time.Second)
			return 1, nil
		})

		plan := planner.Plan{Pending: []domain.WorkItem{bad, crateItem("x"), crateItem("y")}}
		summary := d.scheduler(registry, nil, defaultOptions()).Run(t.Context(), domain.ModeMirror, plan)

		err := summary.Err()
		require.ErrorIs(t, err, domain.ErrSyncFailed)
		require.ErrorIs(t, err, domain.ErrChecksumMismatch)
		assert.ErrorContains(t, err, "digest differs")
		assert.Equal(t, 2, summary.Good)
		assert.Equal(t, 1, summary.Bad)
		assert.Equal(t, 1, registry.Calls(bad.Key))

		for _, o := range summary.Outcomes {
			if o.Key == bad.Key {
				assert.Equal(t, domain.StatusFatalFailure, o.Status)
			}
		}
	})
}

func TestScheduler_CancelledRunRecordsEveryItem(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		d := newDeps(t)
		d.logger.EXPECT().Error(gomock.Any()).AnyTimes()

		registry := newTransfer(func(ctx context.Context, _ domain.WorkItem) (int64, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})

		ctx, cancel := context.WithCancel(t.Context())
		go func() {
			time.Sleep(time.Second)
			cancel()
		}()

		opts := defaultOptions()
		opts.Network = 1
		plan := planner.Plan{Pending: []domain.WorkItem{crateItem("a"), crateItem("b"), crateItem("c")}}
		summary := d.scheduler(registry, nil, opts).Run(ctx, domain.ModeRestore, plan)

		assert.Equal(t, 3, summary.Bad)
		for _, o := range summary.Outcomes {
			require.ErrorIs(t, o.Err, context.Canceled)
		}
	})
}
