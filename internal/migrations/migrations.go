// Package migrations bootstraps the per-schema tables this indexer owns
// and the domain tables handlers write to, via embedded `-- +migrate
// Up`/`Down` SQL files executed through rubenv/sql-migrate.
package migrations

import (
	_ "embed"
	"database/sql"
	"fmt"
	"strings"

	migrate "github.com/rubenv/sql-migrate"

	"github.com/drips-network/dripfeed/internal/logger"
	"github.com/drips-network/dripfeed/internal/store"
)

//go:embed 001_core_tables.sql
var migCoreTables string

//go:embed 002_domain_tables.sql
var migDomainTables string

const (
	upDownSeparator   = "-- +migrate Up"
	downMarker        = "-- +migrate Down"
	schemaPlaceholder = "/*dbschema*/"
)

// migration pairs a stable id with its embedded SQL text, written with a
// "-- +migrate Up" / "-- +migrate Down" separator (sql-migrate's
// convention) and a /*dbschema*/ placeholder standing in for the target
// Postgres schema.
type migration struct {
	ID  string
	SQL string
}

func allMigrations() []migration {
	return []migration{
		{ID: "001_core_tables", SQL: migCoreTables},
		{ID: "002_domain_tables", SQL: migDomainTables},
	}
}

// Run applies every pending migration against schema, using db as the
// connection pool. schema is validated before being spliced into the
// migration SQL, same identifier rule the reorg recoverer applies to
// discovered table names (spec §9 "Dynamic table discovery").
func Run(db *sql.DB, schema string, log *logger.Logger) error {
	if !store.IdentifierRE.MatchString(schema) {
		return fmt.Errorf("schema %q must match %s", schema, store.IdentifierRE.String())
	}

	if _, err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	source := &migrate.MemoryMigrationSource{Migrations: []*migrate.Migration{}}

	var names strings.Builder
	for _, m := range allMigrations() {
		scoped := strings.ReplaceAll(m.SQL, schemaPlaceholder, schema)

		parts := strings.SplitN(scoped, upDownSeparator, 2)
		if len(parts) != 2 {
			return fmt.Errorf("migration %s missing %q separator", m.ID, upDownSeparator)
		}

		upAndDown := strings.SplitN(parts[1], downMarker, 2)
		upSQL := strings.TrimSpace(upAndDown[0])
		downSQL := ""
		if len(upAndDown) == 2 {
			downSQL = strings.TrimSpace(upAndDown[1])
		}

		source.Migrations = append(source.Migrations, &migrate.Migration{
			Id:   schema + "_" + m.ID,
			Up:   []string{upSQL},
			Down: []string{downSQL},
		})
		names.WriteString(m.ID + ", ")
	}

	log.Debugw("running migrations", "schema", schema, "migrations", names.String())

	n, err := migrate.Exec(db, "postgres", source, migrate.Up)
	if err != nil {
		return fmt.Errorf("run migrations for schema %s (%s): %w", schema, names.String(), err)
	}

	log.Infow("migrations applied", "schema", schema, "count", n)
	return nil
}
