package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/drips-network/dripfeed/internal/config"
)

// transientPgCodes are the Postgres SQLSTATE classes spec §9 calls
// "explicit predicate" territory for DB retry: serialization failures,
// deadlocks, and connection-level errors (class 08).
var transientPgCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"08000": {}, // connection_exception
	"08003": {}, // connection_does_not_exist
	"08006": {}, // connection_failure
	"53300": {}, // too_many_connections
}

// isTransientDBError reports whether err is a retryable database failure
// (spec §4.6: "Transient DB errors (serialization, deadlock, connection
// loss) bubble up so the outer retry restarts that single-event
// transaction").
func isTransientDBError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, transient := transientPgCodes[pgErr.Code]
		return transient
	}

	return errors.Is(err, context.DeadlineExceeded)
}

// calculateBackoff mirrors internal/rpcclient's exponential-with-jitter
// backoff shape, applied here to the DB retry boundary instead of the RPC
// boundary (spec §9: "No ambient retry; the boundary is the repository
// primitive").
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

// withDBRetry retries fn while it returns a transient DB error, up to
// cfg.MaxAttempts. Non-transient errors fail immediately.
func withDBRetry(ctx context.Context, cfg *config.RetryConfig, operation string, fn func(context.Context) error) error {
	if cfg == nil {
		return fn(ctx)
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled before attempt %d: %w", attempt, err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransientDBError(err) {
			return err
		}

		if attempt >= cfg.MaxAttempts {
			break
		}

		if d := calculateBackoff(attempt, cfg); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during backoff calling %s: %w", operation, ctx.Err())
			}
		}
	}

	return fmt.Errorf("all %d attempts of %s failed (last error: %w)", cfg.MaxAttempts, operation, lastErr)
}
