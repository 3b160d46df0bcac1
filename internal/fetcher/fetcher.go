// Package fetcher implements the transactional "fetch step" (spec §4.4):
// one database transaction that pulls logs for the next safe block window,
// refreshes the block-hash window, decodes and inserts events, and
// advances the cursor.
package fetcher

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	dcommon "github.com/drips-network/dripfeed/internal/common"
	"github.com/drips-network/dripfeed/internal/eventdecoder"
	"github.com/drips-network/dripfeed/internal/lock"
	"github.com/drips-network/dripfeed/internal/logger"
	"github.com/drips-network/dripfeed/internal/rpcclient"
	"github.com/drips-network/dripfeed/internal/store"
)

// Config carries the knobs spec §6 exposes for the fetch step.
type Config struct {
	Schema          string
	ChainID         uint64
	Confirmations   uint32
	StartBlock      uint64
	FetchBatchSize  uint32
	InsertChunkSize uint32
	RPCConcurrency  uint32
}

// Result reports what one Fetch call accomplished; nil means the caller
// should sleep (spec §4.4 steps 2-3: "COMMIT empty and return None").
type Result struct {
	FromBlock  uint64
	ToBlock    uint64
	EventCount int
}

// Fetcher runs the fetch step against a Postgres pool.
type Fetcher struct {
	db      *sql.DB
	rpc     rpcclient.Client
	decoder *eventdecoder.Decoder
	cursors *store.CursorStore
	hashes  *store.BlockHashStore
	events  *store.EventStore
	cfg     Config
	log     *logger.Logger
}

// New builds a Fetcher wired to the given pool, RPC client, and decoder.
func New(db *sql.DB, rpc rpcclient.Client, decoder *eventdecoder.Decoder, cfg Config, log *logger.Logger) *Fetcher {
	return &Fetcher{
		db:      db,
		rpc:     rpc,
		decoder: decoder,
		cursors: store.NewCursorStore(cfg.Schema),
		hashes:  store.NewBlockHashStore(cfg.Schema),
		events:  store.NewEventStore(cfg.Schema),
		cfg:     cfg,
		log:     log.WithComponent(dcommon.ComponentFetcher),
	}
}

// reorgWindowDepth is the minimum depth of the dense block-hash window the
// reorg detector relies on (spec §3 BlockHash, GLOSSARY "Reorg window").
func reorgWindowDepth(confirmations uint32) uint64 {
	return max(100, uint64(confirmations))
}

// Fetch runs one fetch step in a single transaction and returns nil when
// there was nothing new to fetch (spec §4.4).
func (f *Fetcher) Fetch(ctx context.Context) (*Result, error) {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin fetch transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			f.log.Errorw("rollback fetch transaction failed", "error", rbErr)
		}
	}()

	// Step 1: cursor read-for-update.
	cursor, err := f.cursors.GetForUpdate(ctx, tx, f.cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("read cursor for update: %w", err)
	}

	// Step 2: safe head.
	safeHead, err := f.rpc.SafeBlock(ctx, f.cfg.Confirmations)
	if err != nil {
		return nil, fmt.Errorf("compute safe head: %w", err)
	}
	if cursor.FetchedToBlock >= safeHead {
		return nil, tx.Commit()
	}

	// Step 3: window.
	from := cursor.FetchedToBlock + 1
	to := min(from+uint64(f.cfg.FetchBatchSize)-1, safeHead)
	if to < from {
		return nil, tx.Commit()
	}

	// Step 4: logs.
	addresses := f.decoder.ContractAddresses()
	logs, err := f.rpc.GetLogs(ctx, addresses, from, to)
	if err != nil {
		return nil, fmt.Errorf("get logs [%d,%d]: %w", from, to, err)
	}

	// Step 5: required block summaries — dense reorg window plus sparse
	// historic blocks that actually produced logs.
	depth := reorgWindowDepth(f.cfg.Confirmations)
	windowStart := from
	if safeHead > depth {
		windowStart = max(from, safeHead-depth)
	}

	summaries, err := f.rpc.GetBlocksInRange(ctx, windowStart, to, f.cfg.RPCConcurrency)
	if err != nil {
		return nil, fmt.Errorf("fetch reorg-window blocks [%d,%d]: %w", windowStart, to, err)
	}

	historicNumbers := sparseHistoricBlocks(logs, windowStart)
	for _, num := range historicNumbers {
		summary, found, err := f.rpc.GetBlock(ctx, num)
		if err != nil {
			return nil, fmt.Errorf("fetch historic block %d: %w", num, err)
		}
		if found {
			summaries = append(summaries, summary)
		}
	}

	// Step 6: advisory lock excluding concurrent reorg recovery.
	if err := lock.AcquireTx(ctx, tx, lock.FamilyReorg, f.cfg.Schema, f.cfg.ChainID); err != nil {
		return nil, err
	}

	// Step 7: upsert block summaries.
	rows := make([]store.BlockHash, len(summaries))
	timestampByBlock := make(map[uint64]time.Time, len(summaries))
	for i, s := range summaries {
		rows[i] = store.BlockHash{
			ChainID:     f.cfg.ChainID,
			BlockNumber: s.Number,
			BlockHash:   s.Hash,
			ParentHash:  s.ParentHash,
		}
		timestampByBlock[s.Number] = time.Unix(int64(s.Timestamp), 0).UTC()
	}
	if err := f.hashes.PutMany(ctx, tx, rows); err != nil {
		return nil, err
	}

	// Step 8: prune hashes outside the retained window.
	pruneWindow := max(100, 3*uint64(f.cfg.Confirmations))
	pruneBefore := uint64(0)
	if to > pruneWindow {
		pruneBefore = to - pruneWindow
	}
	if err := f.hashes.DeleteBefore(ctx, tx, f.cfg.ChainID, pruneBefore); err != nil {
		return nil, err
	}

	// Steps 9-10: decode logs, dropping skip outcomes.
	decoded := make([]store.RawEvent, 0, len(logs))
	for _, l := range logs {
		outcome := f.decoder.Decode(l)
		switch outcome.Kind {
		case eventdecoder.MissingHandler:
			f.log.Debugw("skipping log, no handler registered",
				"event_name", outcome.EventName, "address", l.Address.Hex(), "tx_hash", l.TxHash.Hex())
			continue
		case eventdecoder.DecodeError:
			f.log.Warnw("skipping malformed log", "reason", outcome.Reason, "error", outcome.Err,
				"address", l.Address.Hex(), "tx_hash", l.TxHash.Hex())
			continue
		case eventdecoder.MissingFields:
			f.log.Warnw("skipping log with missing fields", "reason", outcome.Reason,
				"address", l.Address.Hex(), "tx_hash", l.TxHash.Hex())
			continue
		}

		ts, ok := timestampByBlock[l.BlockNumber]
		if !ok {
			return nil, fmt.Errorf("decoded event at block %d has no timestamp: corrupt reorg window", l.BlockNumber)
		}

		args, err := json.Marshal(outcome.Event)
		if err != nil {
			return nil, fmt.Errorf("marshal decoded event args: %w", err)
		}

		decoded = append(decoded, store.RawEvent{
			ChainID:         f.cfg.ChainID,
			BlockNumber:     l.BlockNumber,
			TxIndex:         uint32(l.TxIndex),
			LogIndex:        uint32(l.Index),
			BlockHash:       l.BlockHash,
			BlockTimestamp:  ts,
			TransactionHash: l.TxHash,
			ContractAddress: l.Address,
			EventName:       outcome.Event.EventName(),
			EventSignature:  topicZero(l.Topics),
			Args:            args,
		})
	}

	// Step 11: strict ordering, chunked insert.
	sort.Slice(decoded, func(i, j int) bool {
		if decoded[i].BlockNumber != decoded[j].BlockNumber {
			return decoded[i].BlockNumber < decoded[j].BlockNumber
		}
		if decoded[i].TxIndex != decoded[j].TxIndex {
			return decoded[i].TxIndex < decoded[j].TxIndex
		}
		return decoded[i].LogIndex < decoded[j].LogIndex
	})
	if err := f.events.InsertBatch(ctx, tx, decoded, f.cfg.InsertChunkSize); err != nil {
		return nil, err
	}

	// Step 12: advance cursor, commit.
	if err := f.cursors.AdvanceTo(ctx, tx, f.cfg.ChainID, to); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit fetch transaction: %w", err)
	}

	f.log.Infow("fetch step complete", "from_block", from, "to_block", to, "events", len(decoded))
	return &Result{FromBlock: from, ToBlock: to, EventCount: len(decoded)}, nil
}

// sparseHistoricBlocks returns the distinct block numbers below
// windowStart that produced at least one log (spec §4.4 step 5: "plus
// one-off historic blocks < reorg_window_start that actually contain
// logs").
func sparseHistoricBlocks(logs []ethtypes.Log, windowStart uint64) []uint64 {
	seen := make(map[uint64]struct{})
	var out []uint64
	for _, l := range logs {
		if l.BlockNumber >= windowStart {
			continue
		}
		if _, ok := seen[l.BlockNumber]; ok {
			continue
		}
		seen[l.BlockNumber] = struct{}{}
		out = append(out, l.BlockNumber)
	}
	return out
}

func topicZero(topics []common.Hash) string {
	if len(topics) == 0 {
		return ""
	}
	return topics[0].Hex()
}
