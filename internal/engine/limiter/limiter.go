// Package limiter bounds the CPU heavy stages shared by every worker of a run.
package limiter

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// CPU admits a fixed number of concurrent CPU bound stages.
type CPU struct {
	sem *semaphore.Weighted
}

// NewCPU creates a limiter admitting n stages at a time. n below 1 is treated as 1.
func NewCPU(n int) *CPU {
	if n < 1 {
		n = 1
	}
	return &CPU{sem: semaphore.NewWeighted(int64(n))}
}

// Do runs fn once a slot is free. It returns ctx.Err() if ctx ends first.
func (c *CPU) Do(ctx context.Context, fn func() error) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)
	return fn()
}
