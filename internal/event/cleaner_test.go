package event

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanerRunsInReverseOrder(t *testing.T) {
	cleaner := NewCleaner()
	var order []int
	for i := 1; i <= 3; i++ {
		cleaner.Add(CallableFunc(func(ctx context.Context) error {
			order = append(order, i)
			return nil
		}))
	}

	errs := cleaner.Clean()
	require.Empty(t, errs)
	require.Equal(t, []int{3, 2, 1}, order)

	select {
	case <-cleaner.Done():
	default:
		t.Fatal("cleaner should be done after Clean")
	}
}

func TestCleanerCollectsErrorsAndIgnoresLateAdd(t *testing.T) {
	cleaner := NewCleaner()
	boom := errors.New("boom")
	cleaner.Add(CallableFunc(func(ctx context.Context) error { return boom }))

	var loggerClosed bool
	cleaner.loggerShutdown = CallableFunc(func(ctx context.Context) error {
		loggerClosed = true
		return nil
	})

	errs := cleaner.Clean()
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], boom)
	require.True(t, loggerClosed)

	called := false
	cleaner.Add(CallableFunc(func(ctx context.Context) error {
		called = true
		return nil
	}))
	require.Empty(t, cleaner.Clean())
	require.False(t, called)
}
