// Package store implements the core's three owned repositories —
// BlockHashStore, EventStore, CursorStore (spec §4.2) — over database/sql
// with russross/meddler struct<->row mapping, targeting Postgres via
// jackc/pgx/v5's stdlib driver.
package store

import (
	"regexp"

	"github.com/russross/meddler"
)

func init() {
	// All raw/Save/Insert/Update calls in this package use Postgres
	// placeholder ("$1") and RETURNING-based id recovery.
	meddler.Default = meddler.PostgreSQL
}

// maxSQLParams bounds how many bind parameters a single batched INSERT may
// carry (PutMany divides it by its column count to size chunks), keeping
// well under Postgres' 65535 parameter limit (spec §4.2:
// "Batch insert must respect DB parameter limits").
const maxSQLParams = 5000

// IdentifierRE is the strict allow-list every dynamically discovered table
// or column name must pass before being spliced into SQL (spec §4.5,
// §9 "Dynamic table discovery").
var IdentifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateIdentifier rejects any string that doesn't look like a bare SQL
// identifier, used at every information_schema-driven interpolation site.
func ValidateIdentifier(name string) error {
	if !IdentifierRE.MatchString(name) {
		return &InvalidIdentifierError{Name: name}
	}
	return nil
}

// InvalidIdentifierError is raised when a discovered table/column name
// fails the identifier allow-list.
type InvalidIdentifierError struct {
	Name string
}

func (e *InvalidIdentifierError) Error() string {
	return "identifier " + e.Name + " failed allow-list validation"
}
