package rpcclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/drips-network/dripfeed/internal/config"
)

// permanentJSONRPCCodes are the JSON-RPC error codes spec §4.1 names as
// always-permanent, regardless of message text.
var permanentJSONRPCCodes = map[int]struct{}{
	-32600: {}, // invalid request
	-32601: {}, // method not found
	-32602: {}, // invalid params
}

type rpcCoder interface {
	ErrorCode() int
}

// retryableError classifies an RpcClient error as transient (spec §4.1:
// network, timeout, rate-limit) or permanent (invalid params, not-found,
// unsupported method, and the explicit JSON-RPC codes above).
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	var coded rpcCoder
	if errors.As(err, &coded) {
		if _, permanent := permanentJSONRPCCodes[coded.ErrorCode()]; permanent {
			return false
		}
	}

	errStr := strings.ToLower(err.Error())

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") {
		return true
	}

	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "rate limit") {
		return true
	}

	if strings.Contains(errStr, "502") || strings.Contains(errStr, "503") || strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "bad gateway") || strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") {
		return true
	}

	return false
}

// isNullSlot reports whether err represents an expected absent block
// (spec §4.1: "null slot ... must not be treated as an error").
func isNullSlot(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "not found") || strings.Contains(errStr, "null")
}

// calculateBackoff computes exponential backoff with +/-25% jitter, capped
// at cfg.MaxBackoff.
func calculateBackoff(attempt int, cfg *config.RetryConfig) time.Duration {
	if attempt <= 1 {
		return 0
	}

	backoff := float64(cfg.InitialBackoff.Duration) * math.Pow(cfg.BackoffMultiplier, float64(attempt-2))
	if backoff > float64(cfg.MaxBackoff.Duration) {
		backoff = float64(cfg.MaxBackoff.Duration)
	}

	jitterRange := backoff * 0.25
	backoff += (rand.Float64() * 2 * jitterRange) - jitterRange
	if backoff < 0 {
		backoff = 0
	}

	return time.Duration(backoff)
}

// retryWithBackoff retries fn up to cfg.MaxAttempts times, each attempt
// bounded by cfg.CallTimeout and honoring ctx cancellation during backoff
// sleeps (spec §4.1: "each attempt bounded by a per-call timeout, and the
// total operation bounded by timeout × max_retries"). Permanent errors fail
// immediately.
func retryWithBackoff(ctx context.Context, cfg *config.RetryConfig, operation string, fn func(context.Context) error) error {
	if cfg == nil {
		return fn(ctx)
	}

	var lastErr error
	start := time.Now()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled before attempt %d: %w", attempt, err)
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout.Duration)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}

		lastErr = err

		if !retryableError(err) {
			return fmt.Errorf("non-retryable error on attempt %d/%d calling %s: %w", attempt, cfg.MaxAttempts, operation, err)
		}

		if attempt >= cfg.MaxAttempts {
			break
		}

		backoffDuration := calculateBackoff(attempt, cfg)
		if backoffDuration > 0 {
			select {
			case <-time.After(backoffDuration):
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during backoff (attempt %d/%d) calling %s: %w",
					attempt, cfg.MaxAttempts, operation, ctx.Err())
			}
		}

		retryInc(operation)
	}

	return fmt.Errorf("all %d attempts of %s failed after %v (last error: %w)",
		cfg.MaxAttempts, operation, time.Since(start), lastErr)
}
