package reorg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/drips-network/dripfeed/internal/store"
)

// Handle performs reorg recovery in a single new transaction (spec §4.5
// "Handle (recover)").
func (d *Detector) Handle(ctx context.Context, reorgBlock uint64) error {
	if reorgBlock == 0 {
		return fmt.Errorf("reorg block must be >= 1")
	}
	targetCursor := reorgBlock - 1
	if d.cfg.StartBlock > 0 && targetCursor < d.cfg.StartBlock-1 {
		return &ErrTargetCursorBeforeStart{TargetCursor: targetCursor, StartBlock: d.cfg.StartBlock}
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin recovery transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			d.log.Errorw("rollback recovery transaction failed", "error", rbErr)
		}
	}()

	// Step 1: non-blocking advisory lock, excludes a concurrent fetch.
	if err := d.acquireReorgLock(ctx, tx); err != nil {
		return err
	}

	// Step 3: raw events.
	hasEvents, err := d.events.HasEventsFrom(ctx, tx, d.cfg.ChainID, reorgBlock)
	if err != nil {
		return err
	}
	if hasEvents {
		if err := d.events.DeleteFrom(ctx, tx, d.cfg.ChainID, reorgBlock); err != nil {
			return err
		}
	}

	// Step 4: derived projection tables.
	projectionTables, err := discoverProjectionTables(ctx, tx, d.cfg.Schema)
	if err != nil {
		return err
	}
	for _, table := range projectionTables {
		if err := store.ValidateIdentifier(table); err != nil {
			return fmt.Errorf("discovered projection table failed validation: %w", err)
		}
		query := fmt.Sprintf(`DELETE FROM %s.%s WHERE block_number >= $1`, d.cfg.Schema, table)
		if _, err := tx.ExecContext(ctx, query, reorgBlock); err != nil {
			return fmt.Errorf("delete rows from projection table %s: %w", table, err)
		}
	}

	// Step 5: block hashes.
	if err := d.hashes.DeleteFrom(ctx, tx, d.cfg.ChainID, reorgBlock); err != nil {
		return err
	}

	// Step 6: cursor reset.
	if err := d.cursors.ResetTo(ctx, tx, d.cfg.ChainID, targetCursor); err != nil {
		return err
	}

	// Step 7: commit.
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit recovery transaction: %w", err)
	}

	recoveredMetric()
	d.log.Warnw("reorg recovery complete", "reorg_block", reorgBlock, "target_cursor", targetCursor, "projection_tables", projectionTables)
	return nil
}

// discoverProjectionTables finds every schema table whose name ends in
// "_events" (other than the raw "_events" table itself) and whose column
// set includes block_number (spec §4.5 step 4). Table names are validated
// against the strict identifier allow-list before any further use.
func discoverProjectionTables(ctx context.Context, tx *sql.Tx, schema string) ([]string, error) {
	if err := store.ValidateIdentifier(schema); err != nil {
		return nil, fmt.Errorf("schema name failed validation: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT t.table_name
		FROM information_schema.tables t
		WHERE t.table_schema = $1
		  AND t.table_name LIKE '%\_events' ESCAPE '\'
		  AND t.table_name <> '_events'
		  AND EXISTS (
		    SELECT 1 FROM information_schema.columns c
		    WHERE c.table_schema = t.table_schema
		      AND c.table_name = t.table_name
		      AND c.column_name = 'block_number'
		  )`, schema)
	if err != nil {
		return nil, fmt.Errorf("discover projection tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan projection table name: %w", err)
		}
		if err := store.ValidateIdentifier(name); err != nil {
			return nil, fmt.Errorf("discovered table name failed validation: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// OrphanReport is one row found by Inspect: a domain row whose event
// pointer no longer matches any RawEvent (spec §4.5 "Orphan inspection").
type OrphanReport struct {
	Table            string
	AccountID        string
	LastEventBlock   uint64
	LastEventTxIndex uint32
	LastEventLogIdx  uint32
}

// Inspect discovers domain tables (those with both created_at and
// last_event_block columns) and reports rows whose event pointer has no
// matching RawEvent. Advisory only; callers decide what, if anything, to
// do about the result (spec §4.5 "Orphans are advisory diagnostics, not
// automatic deletions").
func (d *Detector) Inspect(ctx context.Context) ([]OrphanReport, error) {
	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin inspect transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	domainTables, err := discoverDomainTables(ctx, tx, d.cfg.Schema)
	if err != nil {
		return nil, err
	}

	var orphans []OrphanReport
	for _, table := range domainTables {
		query := fmt.Sprintf(`
			SELECT d.account_id, d.last_event_block, d.last_event_tx_index, d.last_event_log_index
			FROM %s.%s d
			WHERE d.last_event_block IS NOT NULL
			  AND NOT EXISTS (
			    SELECT 1 FROM %s._events e
			    WHERE e.chain_id = $1
			      AND e.block_number = d.last_event_block
			      AND e.tx_index = d.last_event_tx_index
			      AND e.log_index = d.last_event_log_index
			  )`, d.cfg.Schema, table, d.cfg.Schema)

		rows, err := tx.QueryContext(ctx, query, d.cfg.ChainID)
		if err != nil {
			return nil, fmt.Errorf("inspect domain table %s: %w", table, err)
		}

		for rows.Next() {
			var o OrphanReport
			o.Table = table
			if err := rows.Scan(&o.AccountID, &o.LastEventBlock, &o.LastEventTxIndex, &o.LastEventLogIdx); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan orphan row in %s: %w", table, err)
			}
			orphans = append(orphans, o)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return orphans, nil
}

// discoverDomainTables finds schema tables carrying both created_at and
// last_event_block columns (spec §4.5 "Orphan inspection", GLOSSARY
// "Domain table").
func discoverDomainTables(ctx context.Context, tx *sql.Tx, schema string) ([]string, error) {
	if err := store.ValidateIdentifier(schema); err != nil {
		return nil, fmt.Errorf("schema name failed validation: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT t.table_name
		FROM information_schema.tables t
		WHERE t.table_schema = $1
		  AND EXISTS (
		    SELECT 1 FROM information_schema.columns c
		    WHERE c.table_schema = t.table_schema AND c.table_name = t.table_name AND c.column_name = 'created_at')
		  AND EXISTS (
		    SELECT 1 FROM information_schema.columns c
		    WHERE c.table_schema = t.table_schema AND c.table_name = t.table_name AND c.column_name = 'last_event_block')`,
		schema)
	if err != nil {
		return nil, fmt.Errorf("discover domain tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan domain table name: %w", err)
		}
		if err := store.ValidateIdentifier(name); err != nil {
			return nil, fmt.Errorf("discovered table name failed validation: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}
