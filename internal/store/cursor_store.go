package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/russross/meddler"
)

// Cursor is the durable "fetched-to" high-water mark per chain (spec §3).
type Cursor struct {
	ChainID       uint64    `meddler:"chain_id"`
	FetchedToBlock uint64   `meddler:"fetched_to_block"`
	UpdatedAt     time.Time `meddler:"updated_at"`
}

// CursorStore is keyed by chain_id; exactly one row per chain (spec §4.2).
type CursorStore struct {
	schema string
}

// NewCursorStore returns a CursorStore operating against the given schema's
// "_cursor" table.
func NewCursorStore(schema string) *CursorStore {
	return &CursorStore{schema: schema}
}

func (s *CursorStore) table() string {
	return fmt.Sprintf("%s._cursor", s.schema)
}

// Initialize sets the cursor to fetchedToBlock if no row exists yet for this
// chain; idempotent. The coordinator passes start_block-1.
func (s *CursorStore) Initialize(ctx context.Context, tx *sql.Tx, chainID, fetchedToBlock uint64) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (chain_id, fetched_to_block, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (chain_id) DO NOTHING`, s.table())
	_, err := tx.ExecContext(ctx, query, chainID, fetchedToBlock)
	if err != nil {
		return fmt.Errorf("initialize cursor: %w", err)
	}
	return nil
}

// Get reads the cursor without locking.
func (s *CursorStore) Get(ctx context.Context, tx *sql.Tx, chainID uint64) (*Cursor, error) {
	return s.get(ctx, tx, chainID, false)
}

// GetForUpdate reads the cursor and takes a row-level lock for the
// transaction's lifetime (spec §4.4 step 1).
func (s *CursorStore) GetForUpdate(ctx context.Context, tx *sql.Tx, chainID uint64) (*Cursor, error) {
	return s.get(ctx, tx, chainID, true)
}

func (s *CursorStore) get(ctx context.Context, tx *sql.Tx, chainID uint64, forUpdate bool) (*Cursor, error) {
	query := fmt.Sprintf(`SELECT * FROM %s WHERE chain_id = $1`, s.table())
	if forUpdate {
		query += " FOR UPDATE"
	}

	var cursor Cursor
	err := meddler.QueryRow(tx, &cursor, query, chainID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCursorNotInitialized{ChainID: chainID}
		}
		return nil, fmt.Errorf("get cursor: %w", err)
	}
	return &cursor, nil
}

// AdvanceTo moves fetched_to_block forward to block (spec §4.4 step 12).
func (s *CursorStore) AdvanceTo(ctx context.Context, tx *sql.Tx, chainID, block uint64) error {
	query := fmt.Sprintf(
		`UPDATE %s SET fetched_to_block = $1, updated_at = now() WHERE chain_id = $2`, s.table())
	_, err := tx.ExecContext(ctx, query, block, chainID)
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// ResetTo rewinds the cursor; used exclusively by reorg recovery (spec §4.5).
func (s *CursorStore) ResetTo(ctx context.Context, tx *sql.Tx, chainID, block uint64) error {
	query := fmt.Sprintf(
		`UPDATE %s SET fetched_to_block = $1, updated_at = now() WHERE chain_id = $2`, s.table())
	_, err := tx.ExecContext(ctx, query, block, chainID)
	if err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}
	return nil
}

// ErrCursorNotInitialized is raised when the coordinator fails to
// initialize the cursor before the fetcher runs (spec §4.4 step 1, §7
// "Integrity violation").
type ErrCursorNotInitialized struct {
	ChainID uint64
}

func (e ErrCursorNotInitialized) Error() string {
	return fmt.Sprintf("cursor not initialized for chain %d", e.ChainID)
}
