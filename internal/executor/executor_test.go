package executor

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_ResultsFollowInputOrder(t *testing.T) {
	items := make([]int, 40)
	for i := range items {
		items[i] = i
	}
	r := rand.New(rand.NewSource(1))
	delays := make([]time.Duration, len(items))
	for i := range delays {
		delays[i] = time.Duration(r.Intn(3)) * time.Millisecond
	}

	got, err := Execute(context.Background(), items, 8, func(_ context.Context, i int, item int) (int, error) {
		time.Sleep(delays[i])
		return item * item, nil
	})
	require.NoError(t, err)
	for i, v := range got {
		assert.Equal(t, i*i, v)
	}
}

func TestExecute_SequentialMatchesParallel(t *testing.T) {
	items := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	fn := func(_ context.Context, _ int, s string) (int, error) { return len(s), nil }

	seq, err := Execute(context.Background(), items, 1, fn)
	require.NoError(t, err)
	par, err := Execute(context.Background(), items, 16, fn)
	require.NoError(t, err)
	assert.Equal(t, seq, par)
}

func TestExecute_BoundsInFlight(t *testing.T) {
	var inFlight, peak atomic.Int32
	items := make([]int, 20)
	_, err := Execute(context.Background(), items, 3, func(_ context.Context, _ int, _ int) (struct{}, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return struct{}{}, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestExecute_FailureKeepsOtherResults(t *testing.T) {
	boom := errors.New("boom")
	var mu sync.Mutex
	ran := map[int]bool{}

	got, err := Execute(context.Background(), []int{1, 2, 3, 4}, 2, func(_ context.Context, i int, item int) (int, error) {
		mu.Lock()
		ran[i] = true
		mu.Unlock()
		if item == 2 {
			return 0, boom
		}
		return item * 10, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var agg *AggregateError
	require.ErrorAs(t, err, &agg)
	require.Len(t, agg.Failures, 1)
	assert.Equal(t, 1, agg.Failures[0].Index)

	assert.Equal(t, []int{10, 0, 30, 40}, got)
	assert.Len(t, ran, 4, "every scheduled item completes")
}

func TestExecute_MultipleFailuresOrdered(t *testing.T) {
	_, err := Execute(context.Background(), []int{0, 1, 2}, 3, func(_ context.Context, i int, _ int) (int, error) {
		if i == 1 {
			time.Sleep(time.Millisecond)
		}
		if i > 0 {
			return 0, errors.New("nope")
		}
		return 0, nil
	})
	var agg *AggregateError
	require.ErrorAs(t, err, &agg)
	require.Len(t, agg.Failures, 2)
	assert.Equal(t, 1, agg.Failures[0].Index)
	assert.Equal(t, 2, agg.Failures[1].Index)
	assert.Contains(t, err.Error(), "2 items failed")
}

func TestExecute_InvalidConcurrency(t *testing.T) {
	for _, c := range []int{0, -1} {
		called := false
		_, err := Execute(context.Background(), []int{1}, c, func(_ context.Context, _ int, _ int) (int, error) {
			called = true
			return 0, nil
		})
		assert.ErrorIs(t, err, ErrInvalidConcurrency)
		assert.False(t, called)
	}
}

func TestExecute_Empty(t *testing.T) {
	got, err := Execute(context.Background(), []int(nil), 4, func(_ context.Context, _ int, _ int) (int, error) {
		t.Fatal("fn must not be called")
		return 0, nil
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}
