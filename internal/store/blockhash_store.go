package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

// BlockHash is one row of the sliding (block_number -> block_hash) window
// used as the reorg detector's ground truth (spec §3).
type BlockHash struct {
	ChainID     uint64      `meddler:"chain_id"`
	BlockNumber uint64      `meddler:"block_number"`
	BlockHash   common.Hash `meddler:"block_hash,hash"`
	ParentHash  common.Hash `meddler:"parent_hash,hash"`
}

// BlockHashStore maintains the dense (chain_id, block_number) -> block_hash
// window (spec §4.2).
type BlockHashStore struct {
	schema string
}

func NewBlockHashStore(schema string) *BlockHashStore {
	return &BlockHashStore{schema: schema}
}

func (s *BlockHashStore) table() string {
	return fmt.Sprintf("%s._block_hashes", s.schema)
}

// PutMany upserts rows in chunks that respect Postgres' parameter limit
// (spec §4.2: "Batch insert must respect DB parameter limits").
func (s *BlockHashStore) PutMany(ctx context.Context, tx *sql.Tx, rows []BlockHash) error {
	const cols = 4
	chunkSize := maxSQLParams / cols
	if chunkSize == 0 {
		chunkSize = 1
	}

	for start := 0; start < len(rows); start += chunkSize {
		end := min(start+chunkSize, len(rows))
		if err := s.putChunk(ctx, tx, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *BlockHashStore) putChunk(ctx context.Context, tx *sql.Tx, rows []BlockHash) error {
	if len(rows) == 0 {
		return nil
	}

	var placeholders []string
	args := make([]any, 0, len(rows)*4)
	for i, r := range rows {
		base := i * 4
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4))
		args = append(args, r.ChainID, r.BlockNumber, r.BlockHash.Hex(), r.ParentHash.Hex())
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (chain_id, block_number, block_hash, parent_hash) VALUES %s
		 ON CONFLICT (chain_id, block_number) DO UPDATE SET block_hash = EXCLUDED.block_hash, parent_hash = EXCLUDED.parent_hash`,
		s.table(), strings.Join(placeholders, ","))

	_, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("upsert block hashes: %w", err)
	}
	return nil
}

// GetRange returns the stored hashes for [from, to], inclusive, as a map
// keyed by block number (absent entries are null slots, spec §3).
func (s *BlockHashStore) GetRange(ctx context.Context, tx *sql.Tx, chainID, from, to uint64) (map[uint64]BlockHash, error) {
	query := fmt.Sprintf(
		`SELECT * FROM %s WHERE chain_id = $1 AND block_number >= $2 AND block_number <= $3 ORDER BY block_number ASC`,
		s.table())

	var rows []*BlockHash
	if err := meddler.QueryAll(tx, &rows, query, chainID, from, to); err != nil {
		return nil, fmt.Errorf("get block hash range: %w", err)
	}

	out := make(map[uint64]BlockHash, len(rows))
	for _, r := range rows {
		out[r.BlockNumber] = *r
	}
	return out, nil
}

// DeleteFrom removes rows with block_number >= from (inclusive) — used by
// reorg recovery (spec §4.5 step 5).
func (s *BlockHashStore) DeleteFrom(ctx context.Context, tx *sql.Tx, chainID, from uint64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE chain_id = $1 AND block_number >= $2`, s.table())
	_, err := tx.ExecContext(ctx, query, chainID, from)
	if err != nil {
		return fmt.Errorf("delete block hashes from %d: %w", from, err)
	}
	return nil
}

// DeleteBefore removes rows with block_number < before (exclusive) — used
// to prune the window during fetch (spec §4.4 step 8).
func (s *BlockHashStore) DeleteBefore(ctx context.Context, tx *sql.Tx, chainID, before uint64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE chain_id = $1 AND block_number < $2`, s.table())
	_, err := tx.ExecContext(ctx, query, chainID, before)
	if err != nil {
		return fmt.Errorf("delete block hashes before %d: %w", before, err)
	}
	return nil
}

// ContainedNumbers reports which block numbers in [from, to] already have a
// stored hash.
func (s *BlockHashStore) ContainedNumbers(ctx context.Context, tx *sql.Tx, chainID, from, to uint64) (map[uint64]struct{}, error) {
	query := fmt.Sprintf(
		`SELECT block_number FROM %s WHERE chain_id = $1 AND block_number >= $2 AND block_number <= $3`, s.table())

	rows, err := tx.QueryContext(ctx, query, chainID, from, to)
	if err != nil {
		return nil, fmt.Errorf("contained numbers: %w", err)
	}
	defer rows.Close()

	out := make(map[uint64]struct{})
	for rows.Next() {
		var n uint64
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan contained number: %w", err)
		}
		out[n] = struct{}{}
	}
	return out, rows.Err()
}
