package reports

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapSettled_OrderAndIsolation(t *testing.T) {
	items := []int{5, 1, 4, 2, 3}
	out, err := MapSettled(context.Background(), 2, items, func(_ context.Context, n int) (int, error) {
		// later items finish first
		time.Sleep(time.Duration(n) * time.Millisecond)
		if n == 4 {
			return 0, errors.New("boom")
		}
		return n * 10, nil
	})
	require.NoError(t, err)
	require.Len(t, out, len(items))

	got := make([]int, len(out))
	for i, s := range out {
		got[i] = s.Or(-1)
	}
	assert.Equal(t, []int{50, 10, -1, 20, 30}, got)
	assert.Error(t, out[2].Err)
}

func TestMapSettled_Limit(t *testing.T) {
	var inFlight, peak int32
	items := make([]int, 20)
	_, err := MapSettled(context.Background(), 3, items, func(_ context.Context, _ int) (struct{}, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return struct{}{}, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestMapSettled_Empty(t *testing.T) {
	out, err := MapSettled(context.Background(), 4, []string{}, func(context.Context, string) (int, error) {
		t.Fatal("must not be called")
		return 0, nil
	})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMapSettled_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	_, err := MapSettled(ctx, 1, []int{1, 2, 3}, func(ctx context.Context, _ int) (int, error) {
		atomic.AddInt32(&calls, 1)
		cancel()
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
