// Package scheduler runs the work items of a sync run on a bounded pool of network workers.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports"
	"go.trai.ch/cratesync/internal/engine/planner"
	"go.trai.ch/zerr"
)

// Transfer moves one kind of work item in either direction.
type Transfer interface {
	Mirror(ctx context.Context, item domain.WorkItem) (int64, error)
	Restore(ctx context.Context, item domain.WorkItem) (int64, error)
}

// Options sizes the worker pool and the retry policy.
type Options struct {
	// Network is the number of items transferred at once.
	Network int
	// MaxAttempts bounds the attempts of an item failing with a transport error.
	MaxAttempts int
	// Initial and Max bound the exponential backoff between attempts.
	Initial time.Duration
	Max     time.Duration
}

// OptionsFromConfig reads the scheduler options out of cfg.
func OptionsFromConfig(cfg domain.Config) Options {
	return Options{
		Network:     cfg.Concurrency.Network,
		MaxAttempts: cfg.Retry.MaxAttempts,
		Initial:     cfg.Retry.Initial,
		Max:         cfg.Retry.Max,
	}
}

// Scheduler dispatches work items to the transfer of their kind.
type Scheduler struct {
	registry Transfer
	git      Transfer
	tracer   ports.Tracer
	progress ports.Telemetry
	logger   ports.Logger
	opts     Options
}

// New creates a Scheduler.
func New(
	registry Transfer,
	git Transfer,
	tracer ports.Tracer,
	progress ports.Telemetry,
	logger ports.Logger,
	opts Options,
) *Scheduler {
	if opts.Network < 1 {
		opts.Network = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Scheduler{
		registry: registry,
		git:      git,
		tracer:   tracer,
		progress: progress,
		logger:   logger,
		opts:     opts,
	}
}

// Run transfers every pending item of plan and records satisfied items as skipped.
// A failing item never cancels its siblings. Items still queued when ctx is cancelled
// are recorded as failed with the context error.
func (s *Scheduler) Run(ctx context.Context, mode domain.Mode, plan planner.Plan) domain.Summary {
	s.tracer.EmitPlan(ctx, plan.Keys())

	state := &runState{
		s:         s,
		ctx:       ctx,
		mode:      mode,
		ready:     append([]domain.WorkItem(nil), plan.Pending...),
		resultsCh: make(chan domain.Outcome, s.opts.Network),
	}

	for _, item := range plan.Satisfied {
		v := s.progress.Record(ctx, item.Identity.String())
		v.Cached()
		v.Complete(nil)
		state.summary.Record(domain.Outcome{Key: item.Key, Identity: item.Identity, Status: domain.StatusSkipped})
	}

	state.loop()
	return state.summary
}

type runState struct {
	s         *Scheduler
	ctx       context.Context
	mode      domain.Mode
	ready     []domain.WorkItem
	active    int
	resultsCh chan domain.Outcome
	summary   domain.Summary
}

func (state *runState) isDone() bool {
	return state.active == 0 && len(state.ready) == 0
}

func (state *runState) loop() {
	for !state.isDone() {
		state.schedule()

		cancelled := state.ctx.Err() != nil
		if cancelled {
			state.abandon()
		}
		if state.isDone() {
			return
		}

		// In-flight transfers observe the cancellation themselves; wait them out.
		if cancelled {
			state.handleResult(<-state.resultsCh)
			continue
		}

		select {
		case o := <-state.resultsCh:
			state.handleResult(o)
		case <-state.ctx.Done():
		}
	}
}

func (state *runState) schedule() {
	for len(state.ready) > 0 && state.active < state.s.opts.Network && state.ctx.Err() == nil {
		item := state.ready[0]
		state.ready = state.ready[1:]

		state.active++
		go state.execute(item)
	}
}

// abandon records every queued item as failed with the context error.
func (state *runState) abandon() {
	for _, item := range state.ready {
		state.summary.Record(domain.NewFailure(item, 0, state.ctx.Err()))
	}
	state.ready = nil
}

func (state *runState) handleResult(o domain.Outcome) {
	state.active--
	if o.Status.Failed() {
		state.s.logger.Error(zerr.With(zerr.Wrap(o.Err, "transfer failed"), "key", o.Key))
	}
	state.summary.Record(o)
}

func (state *runState) execute(item domain.WorkItem) {
	// The span and vertex end before the outcome is sent so the run never finishes
	// ahead of its telemetry.
	o := func() domain.Outcome {
		ctx, span := state.s.tracer.Start(state.ctx, item.Identity.String(),
			ports.WithAttribute("key", item.Key),
			ports.WithAttribute("mode", state.mode.String()))
		defer span.End()

		v := state.s.progress.Record(ctx, item.Identity.String())

		n, attempts, err := state.s.transfer(ctx, state.mode, item, v)
		v.Complete(err)
		if err != nil {
			span.RecordError(err)
			return domain.NewFailure(item, attempts, err)
		}

		span.SetAttribute("bytes", n)
		span.SetAttribute("attempts", attempts)
		return domain.Outcome{
			Key:      item.Key,
			Identity: item.Identity,
			Status:   domain.StatusSucceeded,
			Bytes:    n,
			Attempts: attempts,
		}
	}()

	state.resultsCh <- o
}

// transfer runs the item with retries on transport errors.
func (s *Scheduler) transfer(ctx context.Context, mode domain.Mode, item domain.WorkItem, v ports.Vertex) (int64, int, error) {
	t, err := s.transferFor(item)
	if err != nil {
		return 0, 0, err
	}

	attempts := 0
	op := func() (int64, error) {
		attempts++
		var (
			n   int64
			err error
		)
		if mode == domain.ModeMirror {
			n, err = t.Mirror(ctx, item)
		} else {
			n, err = t.Restore(ctx, item)
		}
		if err != nil && !domain.IsRetryable(err) {
			return 0, backoff.Permanent(err)
		}
		return n, err
	}

	notify := func(err error, wait time.Duration) {
		msg := fmt.Sprintf("%s: attempt %d failed, retrying in %s: %v", item.Identity, attempts, wait.Round(time.Millisecond), err)
		s.logger.Warn(msg)
		_, _ = fmt.Fprintln(v.Stdout(), msg)
	}

	n, err := backoff.RetryNotifyWithData(op, s.policy(ctx), notify)
	return n, attempts, err
}

func (s *Scheduler) transferFor(item domain.WorkItem) (Transfer, error) {
	switch item.Identity.Kind {
	case domain.KindRegistry:
		return s.registry, nil
	case domain.KindGit:
		return s.git, nil
	default:
		return nil, zerr.With(zerr.New("unknown package kind"), "key", item.Key)
	}
}

func (s *Scheduler) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(s.opts.Initial),
		backoff.WithMaxInterval(s.opts.Max),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(s.opts.MaxAttempts-1)), ctx) //nolint:gosec // MaxAttempts is at least 1
}
