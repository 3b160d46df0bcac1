// Package lock derives deterministic Postgres advisory lock ids and wraps
// the two locking idioms the core needs: transaction-scoped locks taken
// inside fetch/recover, and a process-wide lock held for the coordinator's
// lifetime (spec §4.7, §9 "Advisory locks → deterministic 64-bit ids").
package lock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
)

// Family distinguishes the two disjoint id spaces so a reorg-recovery lock
// can never collide with a process lock for the same (schema, chain).
type Family string

const (
	// FamilyReorg guards the per-transaction advisory lock fetch/recover
	// take to exclude concurrent reorg recovery (spec §4.4 step 6, §4.5).
	FamilyReorg Family = "reorg"
	// FamilyProcess guards the process-wide exclusive lock the coordinator
	// holds for its lifetime (spec §4.7).
	FamilyProcess Family = "process"
)

// ID derives a deterministic 64-bit advisory lock id from a family and a
// (schema, chain) pair. Two processes computing ID for the same inputs
// always agree, which is the entire point of an advisory lock keyed this
// way rather than by a randomly assigned token.
func ID(family Family, schema string, chainID uint64) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%s:%d", family, schema, chainID)
	// Advisory lock ids are signed bigint; masking the top bit keeps the
	// value non-negative at the cost of one bit of the hash.
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}

// AcquireTx takes a transaction-scoped advisory lock that releases
// automatically on commit or rollback (spec §4.4 step 6). Blocks until
// acquired.
func AcquireTx(ctx context.Context, tx *sql.Tx, family Family, schema string, chainID uint64) error {
	id := ID(family, schema, chainID)
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", id); err != nil {
		return fmt.Errorf("acquire tx advisory lock (family=%s schema=%s chain=%d): %w", family, schema, chainID, err)
	}
	return nil
}

// TryAcquireTx attempts a non-blocking transaction-scoped advisory lock,
// used by reorg recovery so it never waits behind a fetch in progress
// (spec §4.5 "Handle" uses a non-blocking try_lock).
func TryAcquireTx(ctx context.Context, tx *sql.Tx, family Family, schema string, chainID uint64) (bool, error) {
	id := ID(family, schema, chainID)
	var acquired bool
	row := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1)", id)
	if err := row.Scan(&acquired); err != nil {
		return false, fmt.Errorf("try acquire tx advisory lock (family=%s schema=%s chain=%d): %w", family, schema, chainID, err)
	}
	return acquired, nil
}

// Manager holds a process-wide advisory lock on a dedicated connection for
// its entire lifetime (spec §4.7). Session-scoped advisory locks are tied
// to the connection that took them, so the connection must never be
// returned to a pool while the lock is held.
type Manager struct {
	conn *sql.Conn
	id   int64
}

// Acquire blocks until the process lock for (schema, chainID) is held on a
// dedicated connection checked out from db. Release must be called on
// every exit path (spec §4.7: "Release is guaranteed on any exit path").
func Acquire(ctx context.Context, db *sql.DB, schema string, chainID uint64) (*Manager, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkout lock connection: %w", err)
	}

	id := ID(FamilyProcess, schema, chainID)
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", id); err != nil {
		conn.Close()
		return nil, fmt.Errorf("acquire process advisory lock (schema=%s chain=%d): %w", schema, chainID, err)
	}

	return &Manager{conn: conn, id: id}, nil
}

// Release unlocks the process lock and returns the dedicated connection.
// Safe to call once; the coordinator calls it from a deferred shutdown
// path.
func (m *Manager) Release(ctx context.Context) error {
	if m == nil || m.conn == nil {
		return nil
	}
	_, err := m.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", m.id)
	closeErr := m.conn.Close()
	m.conn = nil
	if err != nil {
		return fmt.Errorf("release process advisory lock: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close lock connection: %w", closeErr)
	}
	return nil
}
