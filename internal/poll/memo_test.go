package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoizedFetcher_EmitsOnlyOnChange(t *testing.T) {
	value := 1
	var emitted []int

	m := NewMemoizedFetcher(
		func(ctx context.Context) (int, error) { return value, nil },
		func(v int) { emitted = append(emitted, v) },
		ChangedBy(func(a, b int) bool { return a == b }),
	)

	ctx := context.Background()
	require.NoError(t, m.Fetch(ctx, false))
	require.NoError(t, m.Fetch(ctx, false))
	assert.Equal(t, []int{1}, emitted)

	value = 2
	require.NoError(t, m.Fetch(ctx, false))
	assert.Equal(t, []int{1, 2}, emitted)

	last, ok := m.Last()
	assert.True(t, ok)
	assert.Equal(t, 2, last)
}

func TestMemoizedFetcher_ForceEmit(t *testing.T) {
	var count int
	m := NewMemoizedFetcher(
		func(ctx context.Context) (string, error) { return "same", nil },
		func(string) { count++ },
		ChangedBy(func(a, b string) bool { return a == b }),
	)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Fetch(context.Background(), true))
	}
	assert.Equal(t, 3, count)
}

func TestMemoizedFetcher_FetchErrorDoesNotEmit(t *testing.T) {
	boom := errors.New("boom")
	var count int
	m := NewMemoizedFetcher(
		func(ctx context.Context) (int, error) { return 0, boom },
		func(int) { count++ },
		nil,
	)

	err := m.Fetch(context.Background(), true)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, count)

	_, ok := m.Last()
	assert.False(t, ok)
}

func TestMemoizedFetcher_StaleResultDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var count int
	m := NewMemoizedFetcher(
		func(context.Context) (int, error) {
			// The tick is superseded while the request is in flight.
			cancel()
			return 7, nil
		},
		func(int) { count++ },
		nil,
	)

	err := m.Fetch(ctx, false)
	assert.True(t, IsCanceled(err))
	assert.Zero(t, count)
}

func TestMemoizedFetcher_HandlerMayReadLast(t *testing.T) {
	var m *MemoizedFetcher[int]
	var seen int
	m = NewMemoizedFetcher(
		func(context.Context) (int, error) { return 5, nil },
		func(int) {
			seen, _ = m.Last()
		},
		nil,
	)

	require.NoError(t, m.Fetch(context.Background(), false))
	assert.Equal(t, 5, seen)
}

func TestMemoizedFetcher_Reset(t *testing.T) {
	var count int
	m := NewMemoizedFetcher(
		func(context.Context) (int, error) { return 1, nil },
		func(int) { count++ },
		ChangedBy(func(a, b int) bool { return a == b }),
	)

	require.NoError(t, m.Fetch(context.Background(), false))
	m.Reset()
	require.NoError(t, m.Fetch(context.Background(), false))
	assert.Equal(t, 2, count)
}

func TestMemoizedFetcher_FetchFromOnChange(t *testing.T) {
	var m *MemoizedFetcher[int]
	value := 1
	var emitted []int
	m = NewMemoizedFetcher(
		func(context.Context) (int, error) { return value, nil },
		func(v int) {
			emitted = append(emitted, v)
			if v == 1 {
				value = 2
				// nested fetch queues its value and returns
				assert.NoError(t, m.Fetch(context.Background(), true))
				assert.Equal(t, []int{1}, emitted)
			}
		},
		nil,
	)

	done := make(chan error, 1)
	go func() { done <- m.Fetch(context.Background(), false) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch from onChange did not return")
	}
	assert.Equal(t, []int{1, 2}, emitted)
}
