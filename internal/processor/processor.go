// Package processor implements the transactional "process batch" step
// (spec §4.6): draining pending events in strict order and invoking the
// registered handler for each, with an isolated one-by-one fallback when
// the batch transaction aborts.
package processor

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/drips-network/dripfeed/internal/common"
	"github.com/drips-network/dripfeed/internal/config"
	"github.com/drips-network/dripfeed/internal/logger"
	"github.com/drips-network/dripfeed/internal/store"
)

// Config carries the knobs spec §6 exposes for the process step.
type Config struct {
	Schema                         string
	ChainID                        uint64
	ProcessBatchSize               uint32
	VisibilityThresholdBlockNumber *uint64
}

// Processor drains pending events and applies their registered handlers.
type Processor struct {
	db       *sql.DB
	registry *Registry
	events   *store.EventStore
	cfg      Config
	retry    *config.RetryConfig
	log      *logger.Logger
}

// New builds a Processor wired to the given pool and handler registry.
func New(db *sql.DB, registry *Registry, cfg Config, retry *config.RetryConfig, log *logger.Logger) *Processor {
	return &Processor{
		db:       db,
		registry: registry,
		events:   store.NewEventStore(cfg.Schema),
		cfg:      cfg,
		retry:    retry,
		log:      log.WithComponent(common.ComponentProcessor),
	}
}

// ProcessBatch drains up to cfg.ProcessBatchSize pending events in one
// transaction (spec §4.6 steps 1-4). If the batch transaction aborts, it
// falls back to processing the same events one-by-one (processOneByOne).
// Returns the pointers successfully marked processed.
func (p *Processor) ProcessBatch(ctx context.Context) ([]store.Pointer, error) {
	pointers, err := p.processAsBatch(ctx)
	if err == nil {
		return pointers, nil
	}

	p.log.Warnw("batch processing aborted, falling back to one-by-one", "error", err)
	return p.processOneByOne(ctx)
}

// processAsBatch runs the whole drain in a single transaction. Any error
// aborts the entire batch, including events already marked processed
// earlier in the loop (the transaction has not committed).
func (p *Processor) processAsBatch(ctx context.Context) ([]store.Pointer, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin process transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			p.log.Errorw("rollback process transaction failed", "error", rbErr)
		}
	}()

	batch, err := p.events.NextPendingBatch(ctx, tx, p.cfg.ChainID, p.cfg.ProcessBatchSize)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, tx.Commit()
	}

	pointers := make([]store.Pointer, 0, len(batch))
	for _, event := range batch {
		if err := p.invoke(ctx, tx, event); err != nil {
			return nil, fmt.Errorf("handle event %s at block %d tx %d log %d: %w",
				event.EventName, event.BlockNumber, event.TxIndex, event.LogIndex, err)
		}

		pointer := store.Pointer{BlockNumber: event.BlockNumber, TxIndex: event.TxIndex, LogIndex: event.LogIndex}
		if err := p.events.MarkProcessed(ctx, tx, p.cfg.ChainID, pointer); err != nil {
			return nil, err
		}
		pointers = append(pointers, pointer)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit process transaction: %w", err)
	}
	return pointers, nil
}

// processOneByOne re-drains the same pending events, each in its own
// transaction (spec §4.6 "Failure fallback"). Transient DB errors bubble
// up to the caller's outer retry; non-transient handler errors mark the
// single event failed, in a transaction separate from the one that
// aborted, so the failure record survives the abort's rollback.
func (p *Processor) processOneByOne(ctx context.Context) ([]store.Pointer, error) {
	var pointers []store.Pointer

	for i := uint32(0); i < p.cfg.ProcessBatchSize; i++ {
		event, err := p.nextPendingEvent(ctx)
		if err != nil {
			return pointers, err
		}
		if event == nil {
			return pointers, nil
		}

		pointer := store.Pointer{BlockNumber: event.BlockNumber, TxIndex: event.TxIndex, LogIndex: event.LogIndex}

		err = withDBRetry(ctx, p.retry, "process single event", func(ctx context.Context) error {
			return p.processSingle(ctx, *event, pointer)
		})
		if err != nil {
			if isTransientDBError(err) {
				return pointers, err
			}

			if failErr := p.markFailedIsolated(ctx, pointer, err.Error()); failErr != nil {
				return pointers, fmt.Errorf("mark event failed after handler error (%w): %w", err, failErr)
			}
			p.log.Errorw("event handler failed, marked event failed", "event_name", event.EventName,
				"block", event.BlockNumber, "tx_index", event.TxIndex, "log_index", event.LogIndex, "error", err)
			continue
		}

		pointers = append(pointers, pointer)
	}
	return pointers, nil
}

// nextPendingEvent fetches (without locking past the transaction) the next
// single pending event for one-by-one processing.
func (p *Processor) nextPendingEvent(ctx context.Context) (*store.RawEvent, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin peek transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			p.log.Errorw("rollback peek transaction failed", "error", rbErr)
		}
	}()

	event, err := p.events.NextPending(ctx, tx, p.cfg.ChainID)
	if err != nil {
		return nil, err
	}
	return event, tx.Commit()
}

// processSingle handles and marks processed one event in its own
// transaction.
func (p *Processor) processSingle(ctx context.Context, event store.RawEvent, pointer store.Pointer) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin single-event transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			p.log.Errorw("rollback single-event transaction failed", "error", rbErr)
		}
	}()

	if err := p.invoke(ctx, tx, event); err != nil {
		return err
	}
	if err := p.events.MarkProcessed(ctx, tx, p.cfg.ChainID, pointer); err != nil {
		return err
	}
	return tx.Commit()
}

// markFailedIsolated records a terminal handler failure in its own
// transaction, independent of whatever transaction the failing handler
// call rolled back.
func (p *Processor) markFailedIsolated(ctx context.Context, pointer store.Pointer, errMsg string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark-failed transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			p.log.Errorw("rollback mark-failed transaction failed", "error", rbErr)
		}
	}()

	if err := p.events.MarkFailed(ctx, tx, p.cfg.ChainID, pointer, errMsg); err != nil {
		return err
	}
	return tx.Commit()
}

// invoke resolves and runs the registered handler for event, bound to tx.
func (p *Processor) invoke(ctx context.Context, tx *sql.Tx, event store.RawEvent) error {
	handler, ok := p.registry.Resolve(event.EventName)
	if !ok {
		return &ErrNoHandler{EventName: event.EventName}
	}

	hctx := &handlerContext{
		tx:                  tx,
		schema:              p.cfg.Schema,
		chainID:             p.cfg.ChainID,
		visibilityThreshold: p.cfg.VisibilityThresholdBlockNumber,
		event: EventMeta{
			ChainID:         event.ChainID,
			BlockNumber:     event.BlockNumber,
			TxIndex:         event.TxIndex,
			LogIndex:        event.LogIndex,
			BlockTimestamp:  event.BlockTimestamp.Unix(),
			TransactionHash: event.TransactionHash.Hex(),
			ContractAddress: event.ContractAddress.Hex(),
		},
	}

	return handler(ctx, hctx, event.Args)
}
