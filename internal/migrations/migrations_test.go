package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllMigrations_HaveUpAndDownSections(t *testing.T) {
	for _, m := range allMigrations() {
		require.Contains(t, m.SQL, upDownSeparator, "migration %s missing up separator", m.ID)
		require.Contains(t, m.SQL, downMarker, "migration %s missing down marker", m.ID)
		require.Contains(t, m.SQL, schemaPlaceholder, "migration %s should reference the schema placeholder", m.ID)
	}
}

func TestAllMigrations_UpComesBeforeDown(t *testing.T) {
	for _, m := range allMigrations() {
		upIdx := strings.Index(m.SQL, upDownSeparator)
		downIdx := strings.Index(m.SQL, downMarker)
		require.Less(t, upIdx, downIdx, "migration %s: up separator must precede down marker", m.ID)
	}
}

func TestAllMigrations_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for _, m := range allMigrations() {
		require.False(t, seen[m.ID], "duplicate migration id %s", m.ID)
		seen[m.ID] = true
	}
}
