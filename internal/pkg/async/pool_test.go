package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolExecute(t *testing.T) {
	t.Run("collects every result by name", func(t *testing.T) {
		boom := errors.New("boom")
		results := NewPool(2).Execute(context.Background(), []Task{
			{Name: "a", Execute: func(context.Context) (any, error) { return 1, nil }},
			{Name: "b", Execute: func(context.Context) (any, error) { return "two", nil }},
			{Name: "c", Execute: func(context.Context) (any, error) { return nil, boom }},
		})

		require.Len(t, results, 3)
		assert.Equal(t, 1, results["a"].Data)
		assert.Equal(t, "two", results["b"].Data)
		assert.ErrorIs(t, results["c"].Err, boom)
	})

	t.Run("never exceeds the worker count", func(t *testing.T) {
		var running, peak int32
		task := func(context.Context) (any, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil, nil
		}

		tasks := make([]Task, 8)
		for i := range tasks {
			tasks[i] = Task{Name: string(rune('a' + i)), Execute: task}
		}
		results := NewPool(3).Execute(context.Background(), tasks)

		assert.Len(t, results, 8)
		assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	})

	t.Run("recovers panics", func(t *testing.T) {
		results := NewPool(1).Execute(context.Background(), []Task{
			{Name: "bad", Execute: func(context.Context) (any, error) { panic("nope") }},
		})
		assert.Error(t, results["bad"].Err)
	})

	t.Run("cancelled context still reports every task", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		results := NewPool(1).Execute(ctx, []Task{
			{Name: "a", Execute: func(ctx context.Context) (any, error) { return nil, ctx.Err() }},
			{Name: "b", Execute: func(ctx context.Context) (any, error) { return nil, ctx.Err() }},
		})
		assert.Len(t, results, 2)
		assert.Error(t, results["a"].Err)
		assert.Error(t, results["b"].Err)
	})
}
