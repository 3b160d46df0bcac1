package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

// EventStatus is the RawEvent status lifecycle (spec §3): pending is the
// only non-terminal state.
type EventStatus string

const (
	EventStatusPending   EventStatus = "pending"
	EventStatusProcessed EventStatus = "processed"
	EventStatusFailed    EventStatus = "failed"
)

// RawEvent is the append-only record of a decoded log (spec §3, table
// "_events"), unique by (chain_id, block_number, tx_index, log_index).
type RawEvent struct {
	ChainID         uint64          `meddler:"chain_id"`
	BlockNumber     uint64          `meddler:"block_number"`
	TxIndex         uint32          `meddler:"tx_index"`
	LogIndex        uint32          `meddler:"log_index"`
	BlockHash       common.Hash     `meddler:"block_hash,hash"`
	BlockTimestamp  time.Time       `meddler:"block_timestamp"`
	TransactionHash common.Hash     `meddler:"transaction_hash,hash"`
	ContractAddress common.Address  `meddler:"contract_address,address"`
	EventName       string          `meddler:"event_name"`
	EventSignature  string          `meddler:"event_signature"`
	Args            json.RawMessage `meddler:"args,json"`
	Status          EventStatus     `meddler:"status"`
	ErrorMessage    *string         `meddler:"error_message"`
	CreatedAt       time.Time       `meddler:"created_at"`
	UpdatedAt       time.Time       `meddler:"updated_at"`
	ProcessedAt     *time.Time      `meddler:"processed_at"`
}

// Pointer is the (block_number, tx_index, log_index) triple uniquely
// identifying a log within a chain (spec GLOSSARY "Event pointer").
type Pointer struct {
	BlockNumber uint64
	TxIndex     uint32
	LogIndex    uint32
}

// EventStore is the append-only, status-tracked log of raw decoded events
// (spec §4.2).
type EventStore struct {
	schema string
}

func NewEventStore(schema string) *EventStore {
	return &EventStore{schema: schema}
}

func (s *EventStore) table() string {
	return fmt.Sprintf("%s._events", s.schema)
}

// InsertBatch inserts events in order, in chunks bounded by
// insertChunkSize; conflicts on the unique key are no-ops (spec §4.4
// "Idempotence").
func (s *EventStore) InsertBatch(ctx context.Context, tx *sql.Tx, events []RawEvent, insertChunkSize uint32) error {
	if insertChunkSize == 0 {
		insertChunkSize = 1000
	}
	for start := 0; start < len(events); start += int(insertChunkSize) {
		end := min(start+int(insertChunkSize), len(events))
		if err := s.insertChunk(ctx, tx, events[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *EventStore) insertChunk(ctx context.Context, tx *sql.Tx, events []RawEvent) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 11
	var placeholders []string
	args := make([]any, 0, len(events)*cols)
	for i, e := range events {
		base := i * cols
		ph := make([]string, cols)
		for c := 0; c < cols; c++ {
			ph[c] = fmt.Sprintf("$%d", base+c+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ",")+")")
		args = append(args,
			e.ChainID, e.BlockNumber, e.TxIndex, e.LogIndex,
			e.BlockHash.Hex(), e.BlockTimestamp, e.TransactionHash.Hex(),
			e.ContractAddress.Hex(), e.EventName, e.EventSignature, []byte(e.Args),
		)
	}

	query := fmt.Sprintf(
		`INSERT INTO %s
		   (chain_id, block_number, tx_index, log_index, block_hash, block_timestamp,
		    transaction_hash, contract_address, event_name, event_signature, args)
		 VALUES %s
		 ON CONFLICT (chain_id, block_number, tx_index, log_index) DO NOTHING`,
		s.table(), strings.Join(placeholders, ","))

	_, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert raw events: %w", err)
	}
	return nil
}

// NextPendingBatch returns up to n pending events ordered by
// (block_number, tx_index, log_index), locked against concurrent drainers
// via SELECT ... FOR UPDATE SKIP LOCKED (spec §4.2, §5).
func (s *EventStore) NextPendingBatch(ctx context.Context, tx *sql.Tx, chainID uint64, n uint32) ([]RawEvent, error) {
	query := fmt.Sprintf(
		`SELECT * FROM %s
		 WHERE chain_id = $1 AND status = $2
		 ORDER BY block_number ASC, tx_index ASC, log_index ASC
		 LIMIT $3
		 FOR UPDATE SKIP LOCKED`, s.table())

	var rows []*RawEvent
	if err := meddler.QueryAll(tx, &rows, query, chainID, EventStatusPending, n); err != nil {
		return nil, fmt.Errorf("next pending batch: %w", err)
	}

	out := make([]RawEvent, len(rows))
	for i, r := range rows {
		out[i] = *r
	}
	return out, nil
}

// NextPending returns a single pending event, or nil if none remain.
func (s *EventStore) NextPending(ctx context.Context, tx *sql.Tx, chainID uint64) (*RawEvent, error) {
	batch, err := s.NextPendingBatch(ctx, tx, chainID, 1)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, nil
	}
	return &batch[0], nil
}

// MarkProcessed transitions an event to the terminal "processed" state
// (spec §4.6 step 3, "at-most-once").
func (s *EventStore) MarkProcessed(ctx context.Context, tx *sql.Tx, chainID uint64, p Pointer) error {
	query := fmt.Sprintf(
		`UPDATE %s SET status = $1, processed_at = now(), updated_at = now()
		 WHERE chain_id = $2 AND block_number = $3 AND tx_index = $4 AND log_index = $5`, s.table())
	_, err := tx.ExecContext(ctx, query, EventStatusProcessed, chainID, p.BlockNumber, p.TxIndex, p.LogIndex)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

// MarkFailed transitions an event to the terminal "failed" state with the
// extracted handler error message (spec §4.6 "Failure fallback").
func (s *EventStore) MarkFailed(ctx context.Context, tx *sql.Tx, chainID uint64, p Pointer, errMsg string) error {
	query := fmt.Sprintf(
		`UPDATE %s SET status = $1, error_message = $2, updated_at = now()
		 WHERE chain_id = $3 AND block_number = $4 AND tx_index = $5 AND log_index = $6`, s.table())
	_, err := tx.ExecContext(ctx, query, EventStatusFailed, errMsg, chainID, p.BlockNumber, p.TxIndex, p.LogIndex)
	if err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	return nil
}

// HasEventsFrom reports whether any event exists at or after block (spec
// §4.5 step 3).
func (s *EventStore) HasEventsFrom(ctx context.Context, tx *sql.Tx, chainID, block uint64) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE chain_id = $1 AND block_number >= $2)`, s.table())
	var exists bool
	if err := tx.QueryRowContext(ctx, query, chainID, block).Scan(&exists); err != nil {
		return false, fmt.Errorf("has events from %d: %w", block, err)
	}
	return exists, nil
}

// DeleteFrom removes events at or after block (spec §4.5 step 3, reorg
// rollback).
func (s *EventStore) DeleteFrom(ctx context.Context, tx *sql.Tx, chainID, block uint64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE chain_id = $1 AND block_number >= $2`, s.table())
	_, err := tx.ExecContext(ctx, query, chainID, block)
	if err != nil {
		return fmt.Errorf("delete events from %d: %w", block, err)
	}
	return nil
}
