package rpcclient

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drips-network/dripfeed/internal/common"
	"github.com/drips-network/dripfeed/internal/config"
)

type codedError struct {
	code int
	msg  string
}

func (e *codedError) Error() string  { return e.msg }
func (e *codedError) ErrorCode() int { return e.code }

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "timeout", err: errors.New("operation timeout"), want: true},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: true},
		{name: "rate limited", err: errors.New("429 too many requests"), want: true},
		{name: "bad gateway", err: errors.New("502 bad gateway"), want: true},
		{name: "generic error", err: errors.New("invalid argument"), want: false},
		{name: "permanent invalid request code", err: &codedError{code: -32600, msg: "invalid request"}, want: false},
		{name: "permanent method not found code", err: &codedError{code: -32601, msg: "method not found"}, want: false},
		{name: "permanent invalid params code", err: &codedError{code: -32602, msg: "invalid params"}, want: false},
		{name: "non-permanent coded error falls through to text match", err: &codedError{code: -32000, msg: "rate limit exceeded"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, retryableError(tt.err))
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	cfg := &config.RetryConfig{
		InitialBackoff:    common.NewDuration(100 * time.Millisecond),
		MaxBackoff:        common.NewDuration(time.Second),
		BackoffMultiplier: 2.0,
	}

	require.Equal(t, time.Duration(0), calculateBackoff(1, cfg))

	for attempt := 2; attempt <= 10; attempt++ {
		d := calculateBackoff(attempt, cfg)
		require.LessOrEqual(t, d, cfg.MaxBackoff.Duration+cfg.MaxBackoff.Duration/4)
		require.GreaterOrEqual(t, d, time.Duration(0))
	}
}

func TestRetryWithBackoff_SucceedsAfterTransientFailures(t *testing.T) {
	cfg := &config.RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    common.NewDuration(time.Millisecond),
		MaxBackoff:        common.NewDuration(10 * time.Millisecond),
		BackoffMultiplier: 2,
		CallTimeout:       common.NewDuration(time.Second),
	}

	attempts := 0
	err := retryWithBackoff(context.Background(), cfg, "test_op", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("timeout talking to node")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_PermanentErrorFailsImmediately(t *testing.T) {
	cfg := &config.RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    common.NewDuration(time.Millisecond),
		MaxBackoff:        common.NewDuration(10 * time.Millisecond),
		BackoffMultiplier: 2,
		CallTimeout:       common.NewDuration(time.Second),
	}

	attempts := 0
	err := retryWithBackoff(context.Background(), cfg, "test_op", func(ctx context.Context) error {
		attempts++
		return &codedError{code: -32601, msg: "method not found"}
	})

	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestRetryWithBackoff_ExhaustsAttempts(t *testing.T) {
	cfg := &config.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    common.NewDuration(time.Millisecond),
		MaxBackoff:        common.NewDuration(5 * time.Millisecond),
		BackoffMultiplier: 2,
		CallTimeout:       common.NewDuration(time.Second),
	}

	attempts := 0
	err := retryWithBackoff(context.Background(), cfg, "test_op", func(ctx context.Context) error {
		attempts++
		return fmt.Errorf("connection timeout")
	})

	require.Error(t, err)
	require.Equal(t, 3, attempts)
}

func TestIsNullSlot(t *testing.T) {
	require.True(t, isNullSlot(errors.New("not found")))
	require.True(t, isNullSlot(errors.New("block is null")))
	require.False(t, isNullSlot(errors.New("connection refused")))
	require.False(t, isNullSlot(nil))
}
