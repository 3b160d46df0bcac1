package lock

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestID_Deterministic(t *testing.T) {
	a := ID(FamilyReorg, "public", 1)
	b := ID(FamilyReorg, "public", 1)
	require.Equal(t, a, b)
}

func TestID_DisjointFamilies(t *testing.T) {
	reorg := ID(FamilyReorg, "public", 1)
	process := ID(FamilyProcess, "public", 1)
	require.NotEqual(t, reorg, process)
}

func TestID_DisjointSchemasAndChains(t *testing.T) {
	ids := map[int64]string{}
	cases := []struct {
		family Family
		schema string
		chain  uint64
	}{
		{FamilyReorg, "public", 1},
		{FamilyReorg, "public", 2},
		{FamilyReorg, "other", 1},
		{FamilyProcess, "public", 1},
		{FamilyProcess, "other", 2},
	}
	for _, c := range cases {
		id := ID(c.family, c.schema, c.chain)
		key := fmt.Sprintf("%s:%s:%d", c.family, c.schema, c.chain)
		if existing, ok := ids[id]; ok {
			t.Fatalf("id collision between %q and %q", existing, key)
		}
		ids[id] = key
	}
}

func TestID_NonNegative(t *testing.T) {
	for chain := uint64(0); chain < 50; chain++ {
		id := ID(FamilyReorg, "public", chain)
		require.GreaterOrEqual(t, id, int64(0))
	}
}
