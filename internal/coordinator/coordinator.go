// Package coordinator implements the top-level run loop (spec §4.8):
// acquire the process-wide lock, initialize the cursor, then repeatedly
// detect reorgs, fetch, and process until told to stop.
package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/drips-network/dripfeed/internal/common"
	"github.com/drips-network/dripfeed/internal/fetcher"
	"github.com/drips-network/dripfeed/internal/lock"
	"github.com/drips-network/dripfeed/internal/logger"
	"github.com/drips-network/dripfeed/internal/processor"
	"github.com/drips-network/dripfeed/internal/reorg"
	"github.com/drips-network/dripfeed/internal/store"
)

// Config carries the knobs spec §6 exposes for the run loop itself.
type Config struct {
	Schema               string
	ChainID              uint64
	StartBlock           uint64
	PollDelay            time.Duration
	MaxConsecutiveErrors uint32
	BaseBackoff          time.Duration
	AutoHandleReorgs     bool
}

// Coordinator drives one (schema, chain) indexing process end to end.
type Coordinator struct {
	db        *sql.DB
	detector  *reorg.Detector
	fetcher   *fetcher.Fetcher
	processor *processor.Processor
	cursors   *store.CursorStore
	cfg       Config
	log       *logger.Logger

	stop chan struct{}
	done chan struct{}
}

// New builds a Coordinator wired to the given fetcher, detector, and
// processor. All three must already be configured for the same
// (schema, chain).
func New(db *sql.DB, detector *reorg.Detector, f *fetcher.Fetcher, p *processor.Processor, cfg Config, log *logger.Logger) *Coordinator {
	return &Coordinator{
		db:        db,
		detector:  detector,
		fetcher:   f,
		processor: p,
		cursors:   store.NewCursorStore(cfg.Schema),
		cfg:       cfg,
		log:       log.WithComponent(common.ComponentCoordinator),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ErrFatalReorg is raised when a reorg is detected but auto_handle_reorgs
// is disabled (spec §4.8: "if not auto_handle_reorgs: log fatal and
// raise").
type ErrFatalReorg struct {
	Block uint64
}

func (e *ErrFatalReorg) Error() string {
	return fmt.Sprintf("reorg detected at block %d, auto_handle_reorgs is disabled", e.Block)
}

// Stop requests a graceful shutdown and blocks until the run loop has
// exited. Safe to call once; it communicates via a channel rather than a
// shared mutable flag, so Run never needs a mutex to observe it (spec §9:
// "not shared mutable flags across threads").
func (c *Coordinator) Stop() {
	close(c.stop)
	<-c.done
}

// Run executes the coordinator loop until ctx is cancelled, Stop is
// called, or a fatal error occurs (spec §4.8).
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)

	mgr, err := lock.Acquire(ctx, c.db, c.cfg.Schema, c.cfg.ChainID)
	if err != nil {
		return fmt.Errorf("acquire process lock: %w", err)
	}
	defer func() {
		if err := mgr.Release(context.Background()); err != nil {
			c.log.Errorw("release process lock failed", "error", err)
		}
	}()

	if err := c.initializeCursor(ctx); err != nil {
		return fmt.Errorf("initialize cursor: %w", err)
	}

	var consecutiveErrors uint32
	for {
		select {
		case <-ctx.Done():
			c.log.Info("run loop cancelled")
			return ctx.Err()
		case <-c.stop:
			c.log.Info("run loop stopped")
			return nil
		default:
		}

		if err := c.tick(ctx); err != nil {
			var fatal *ErrFatalReorg
			if errors.As(err, &fatal) {
				c.log.Errorw("fatal reorg, stopping", "block", fatal.Block)
				return err
			}

			consecutiveErrors++
			c.log.Errorw("tick failed", "error", err, "consecutive_errors", consecutiveErrors)
			if c.cfg.MaxConsecutiveErrors > 0 && consecutiveErrors >= c.cfg.MaxConsecutiveErrors {
				return fmt.Errorf("aborting after %d consecutive errors: %w", consecutiveErrors, err)
			}

			if !c.sleep(ctx, backoffFor(consecutiveErrors, c.cfg.BaseBackoff)) {
				return ctx.Err()
			}
			continue
		}

		consecutiveErrors = 0
	}
}

// tick runs one iteration: detect, (maybe) recover, fetch, process.
func (c *Coordinator) tick(ctx context.Context) error {
	reorgBlock, err := c.detector.Detect(ctx)
	if err != nil {
		return fmt.Errorf("detect reorg: %w", err)
	}
	if reorgBlock != nil {
		if !c.cfg.AutoHandleReorgs {
			return &ErrFatalReorg{Block: *reorgBlock}
		}
		c.log.Warnw("reorg detected, recovering", "block", *reorgBlock)
		if err := c.detector.Handle(ctx, *reorgBlock); err != nil {
			return fmt.Errorf("handle reorg at block %d: %w", *reorgBlock, err)
		}
	}

	result, err := c.fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	if _, err := c.processor.ProcessBatch(ctx); err != nil {
		return fmt.Errorf("process batch: %w", err)
	}

	if result == nil {
		if !c.sleep(ctx, c.cfg.PollDelay) {
			return ctx.Err()
		}
	}

	return nil
}

// initializeCursor sets the cursor to start_block-1 if it has never been
// set (spec §4.8: "initialize cursor atomically to (start_block - 1) if
// absent").
func (c *Coordinator) initializeCursor(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cursor init transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			c.log.Errorw("rollback cursor init transaction failed", "error", rbErr)
		}
	}()

	_, err = c.cursors.GetForUpdate(ctx, tx, c.cfg.ChainID)
	var notInitialized store.ErrCursorNotInitialized
	switch {
	case err == nil:
		return tx.Commit()
	case errors.As(err, &notInitialized):
		start := uint64(0)
		if c.cfg.StartBlock > 0 {
			start = c.cfg.StartBlock - 1
		}
		if err := c.cursors.Initialize(ctx, tx, c.cfg.ChainID, start); err != nil {
			return err
		}
		return tx.Commit()
	default:
		return err
	}
}

// sleep waits for d or returns false if ctx or stop fires first.
func (c *Coordinator) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.stop:
		return false
	}
}

// backoffFor returns min(base × min(consecutiveErrors, 5), 1 minute) (spec
// §4.8).
func backoffFor(consecutiveErrors uint32, base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := consecutiveErrors
	if factor > 5 {
		factor = 5
	}
	d := base * time.Duration(factor)
	if d > time.Minute {
		d = time.Minute
	}
	return d
}
