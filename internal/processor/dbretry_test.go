package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/drips-network/dripfeed/internal/common"
	"github.com/drips-network/dripfeed/internal/config"
)

func TestIsTransientDBError(t *testing.T) {
	require.True(t, isTransientDBError(&pgconn.PgError{Code: "40001"}))
	require.True(t, isTransientDBError(&pgconn.PgError{Code: "40P01"}))
	require.True(t, isTransientDBError(&pgconn.PgError{Code: "08006"}))
	require.True(t, isTransientDBError(context.DeadlineExceeded))
	require.False(t, isTransientDBError(&pgconn.PgError{Code: "23505"})) // unique_violation
	require.False(t, isTransientDBError(errors.New("boom")))
	require.False(t, isTransientDBError(nil))
}

func testRetryConfig() *config.RetryConfig {
	return &config.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    common.NewDuration(time.Millisecond),
		MaxBackoff:        common.NewDuration(5 * time.Millisecond),
		BackoffMultiplier: 2.0,
	}
}

func TestWithDBRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := withDBRetry(context.Background(), testRetryConfig(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestWithDBRetry_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := withDBRetry(context.Background(), testRetryConfig(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestWithDBRetry_NonTransientFailsImmediately(t *testing.T) {
	calls := 0
	sentinel := errors.New("handler exploded")
	err := withDBRetry(context.Background(), testRetryConfig(), "op", func(ctx context.Context) error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, calls)
}

func TestWithDBRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := withDBRetry(context.Background(), testRetryConfig(), "op", func(ctx context.Context) error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestWithDBRetry_NilConfigRunsOnce(t *testing.T) {
	calls := 0
	err := withDBRetry(context.Background(), nil, "op", func(ctx context.Context) error {
		calls++
		return &pgconn.PgError{Code: "40001"}
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
