// Package reorg implements the backward hash-walk detector and the
// transactional recovery path that rolls back raw events, derived
// projection tables, block hashes, and the cursor (spec §4.5).
package reorg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	dcommon "github.com/drips-network/dripfeed/internal/common"
	"github.com/drips-network/dripfeed/internal/lock"
	"github.com/drips-network/dripfeed/internal/logger"
	"github.com/drips-network/dripfeed/internal/rpcclient"
	"github.com/drips-network/dripfeed/internal/store"
)

// maxScanDepth bounds how far back Detect walks before failing hard (spec
// §4.5 "depth cap 100").
const maxScanDepth = 100

// Config carries the per-chain parameters Detect/Handle need.
type Config struct {
	Schema     string
	ChainID    uint64
	StartBlock uint64
}

// Detector implements spec §4.5's Detect and Handle operations.
type Detector struct {
	db      *sql.DB
	rpc     rpcclient.Client
	cursors *store.CursorStore
	hashes  *store.BlockHashStore
	events  *store.EventStore
	cfg     Config
	log     *logger.Logger
}

// New builds a Detector wired to the given pool and RPC client.
func New(db *sql.DB, rpc rpcclient.Client, cfg Config, log *logger.Logger) *Detector {
	return &Detector{
		db:      db,
		rpc:     rpc,
		cursors: store.NewCursorStore(cfg.Schema),
		hashes:  store.NewBlockHashStore(cfg.Schema),
		events:  store.NewEventStore(cfg.Schema),
		cfg:     cfg,
		log:     log.WithComponent(dcommon.ComponentReorgDetector),
	}
}

// Detect performs the read-only backward hash-walk (spec §4.5 "Detect").
// Returns nil if no reorg is found.
func (d *Detector) Detect(ctx context.Context) (*uint64, error) {
	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin detect transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cursor, err := d.cursors.Get(ctx, tx, d.cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}
	tail := cursor.FetchedToBlock

	scanFrom := d.cfg.StartBlock
	if tail >= maxScanDepth-1 {
		if candidate := tail - (maxScanDepth - 1); candidate > scanFrom {
			scanFrom = candidate
		}
	}

	storedHashes, err := d.hashes.GetRange(ctx, tx, d.cfg.ChainID, scanFrom, tail)
	if err != nil {
		return nil, fmt.Errorf("load stored hash window: %w", err)
	}
	if len(storedHashes) == 0 {
		return nil, nil
	}

	stored := make(map[uint64]common.Hash, len(storedHashes))
	for num, bh := range storedHashes {
		stored[num] = bh.BlockHash
	}

	earliestReorg, err := scanForReorg(ctx, tail, scanFrom, stored, d.rpc.GetBlock)
	if err != nil {
		return nil, err
	}
	if earliestReorg == nil {
		return nil, nil
	}

	if tail-*earliestReorg > maxScanDepth {
		return nil, &ErrDepthExceeded{Tail: tail, EarliestReorg: *earliestReorg}
	}

	detectedMetric(tail-*earliestReorg, *earliestReorg)
	return earliestReorg, nil
}

// scanForReorg walks block numbers from tail down to scanFrom, comparing
// each stored hash against a freshly fetched one, and implements spec
// §4.5 Detect steps 4-5 in isolation from any storage backend.
func scanForReorg(
	ctx context.Context,
	tail, scanFrom uint64,
	stored map[uint64]common.Hash,
	getBlock func(ctx context.Context, number uint64) (rpcclient.BlockSummary, bool, error),
) (*uint64, error) {
	var earliestReorg *uint64
	for n := tail; ; n-- {
		storedHash, ok := stored[n]
		if !ok {
			// Null slot: skip.
			if n == scanFrom {
				break
			}
			continue
		}

		current, found, err := getBlock(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("fetch block %d: %w", n, err)
		}
		if !found {
			if n == scanFrom {
				break
			}
			continue
		}

		if current.Hash != storedHash {
			block := n
			earliestReorg = &block
			if n == scanFrom {
				break
			}
			continue
		}

		// Hash matches: stop regardless of whether this is "no reorg,
		// early exit" or "realignment found after mismatches".
		break
	}
	return earliestReorg, nil
}

func (d *Detector) acquireReorgLock(ctx context.Context, tx *sql.Tx) error {
	acquired, err := lock.TryAcquireTx(ctx, tx, lock.FamilyReorg, d.cfg.Schema, d.cfg.ChainID)
	if err != nil {
		return err
	}
	if !acquired {
		return &ErrLockHeld{Schema: d.cfg.Schema, ChainID: d.cfg.ChainID}
	}
	return nil
}
