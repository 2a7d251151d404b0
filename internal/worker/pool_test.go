package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// testTask is a simple task struct for testing
type testTask struct {
	ID   int
	Data string
}

func TestNewPool(t *testing.T) {
	t.Run("limited parallelism", func(t *testing.T) {
		p := NewPool(5, func(context.Context, testTask) int { return 0 })

		require.Equal(t, 5, p.Capacity())
		require.Equal(t, 5, p.Free())
	})

	t.Run("non-positive parallelism treated as one", func(t *testing.T) {
		p := NewPool(-1, func(context.Context, testTask) int { return 0 })

		require.Equal(t, 1, p.Capacity())
	})
}

func TestPool_TryDispatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	block := make(chan struct{})
	p := NewPool(2, func(ctx context.Context, task testTask) int {
		<-block
		return task.ID
	})

	ctx := context.Background()
	require.True(t, p.TryDispatch(ctx, testTask{ID: 1}))
	require.True(t, p.TryDispatch(ctx, testTask{ID: 2}))

	// Slots full
	require.False(t, p.TryDispatch(ctx, testTask{ID: 3}))
	require.Equal(t, 0, p.Free())

	close(block)

	got := []int{<-p.Results(), <-p.Results()}
	require.ElementsMatch(t, []int{1, 2}, got)

	p.Wait()
	require.Equal(t, 2, p.Free())
}

func TestPool_BoundsConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	var running, maxRunning atomic.Int32
	p := NewPool(3, func(ctx context.Context, task testTask) testTask {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}

		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return task
	})

	ctx := context.Background()
	pending := 20
	dispatched := 0
	received := 0
	for received < pending {
		for dispatched < pending && p.TryDispatch(ctx, testTask{ID: dispatched}) {
			dispatched++
		}

		<-p.Results()
		received++
	}

	p.Wait()
	require.LessOrEqual(t, maxRunning.Load(), int32(3))
}

func TestPool_PassesContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := NewPool(1, func(ctx context.Context, task testTask) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, p.TryDispatch(ctx, testTask{}))
	cancel()

	require.ErrorIs(t, <-p.Results(), context.Canceled)
	p.Wait()
}
