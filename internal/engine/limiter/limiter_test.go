package limiter_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/cratesync/internal/engine/limiter"
)

func TestCPU_Bounds(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cpu := limiter.NewCPU(2)

		var running, peak atomic.Int32
		var wg sync.WaitGroup
		for range 6 {
			wg.Go(func() {
				_ = cpu.Do(context.Background(), func() error {
					n := running.Add(1)
					for {
						old := peak.Load()
						if n <= old || peak.CompareAndSwap(old, n) {
							break
						}
					}
					time.Sleep(time.Second)
					running.Add(-1)
					return nil
				})
			})
		}
		wg.Wait()

		assert.Equal(t, int32(2), peak.Load())
	})
}

func TestCPU_Cancelled(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cpu := limiter.NewCPU(1)
		hold := make(chan struct{})
		go func() {
			_ = cpu.Do(context.Background(), func() error {
				<-hold
				return nil
			})
		}()
		synctest.Wait()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		called := false
		err := cpu.Do(ctx, func() error {
			called = true
			return nil
		})
		require.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
		close(hold)
	})
}
