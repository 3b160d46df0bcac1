package reorg

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/drips-network/dripfeed/internal/rpcclient"
)

func hash(s string) common.Hash { return common.HexToHash(s) }

func TestScanForReorg_NoMismatch(t *testing.T) {
	stored := map[uint64]common.Hash{
		98:  hash("0xa"),
		99:  hash("0xb"),
		100: hash("0xc"),
	}
	chain := stored

	getBlock := func(_ context.Context, n uint64) (rpcclient.BlockSummary, bool, error) {
		return rpcclient.BlockSummary{Number: n, Hash: chain[n]}, true, nil
	}

	reorg, err := scanForReorg(context.Background(), 100, 98, stored, getBlock)
	require.NoError(t, err)
	require.Nil(t, reorg)
}

func TestScanForReorg_MismatchAtTail(t *testing.T) {
	stored := map[uint64]common.Hash{
		98:  hash("0xa"),
		99:  hash("0xb"),
		100: hash("0xc"),
	}
	chain := map[uint64]common.Hash{
		98:  hash("0xa"),
		99:  hash("0xb"),
		100: hash("0xDIFFERENT"),
	}

	getBlock := func(_ context.Context, n uint64) (rpcclient.BlockSummary, bool, error) {
		return rpcclient.BlockSummary{Number: n, Hash: chain[n]}, true, nil
	}

	reorg, err := scanForReorg(context.Background(), 100, 98, stored, getBlock)
	require.NoError(t, err)
	require.NotNil(t, reorg)
	require.Equal(t, uint64(100), *reorg)
}

func TestScanForReorg_EarliestOverwrittenWalkingDown(t *testing.T) {
	stored := map[uint64]common.Hash{
		97:  hash("0xok"),
		98:  hash("0xa"),
		99:  hash("0xb"),
		100: hash("0xc"),
	}
	chain := map[uint64]common.Hash{
		97:  hash("0xok"), // realignment point
		98:  hash("0xA-DIFF"),
		99:  hash("0xB-DIFF"),
		100: hash("0xC-DIFF"),
	}

	getBlock := func(_ context.Context, n uint64) (rpcclient.BlockSummary, bool, error) {
		return rpcclient.BlockSummary{Number: n, Hash: chain[n]}, true, nil
	}

	reorg, err := scanForReorg(context.Background(), 100, 97, stored, getBlock)
	require.NoError(t, err)
	require.NotNil(t, reorg)
	require.Equal(t, uint64(98), *reorg)
}

func TestScanForReorg_NullSlotsSkipped(t *testing.T) {
	stored := map[uint64]common.Hash{
		98: hash("0xa"),
		// 99 is a null slot: absent from stored hashes.
		100: hash("0xc"),
	}
	chain := map[uint64]common.Hash{
		98:  hash("0xa"),
		100: hash("0xDIFFERENT"),
	}

	var fetched []uint64
	getBlock := func(_ context.Context, n uint64) (rpcclient.BlockSummary, bool, error) {
		fetched = append(fetched, n)
		h, ok := chain[n]
		if !ok {
			return rpcclient.BlockSummary{}, false, nil
		}
		return rpcclient.BlockSummary{Number: n, Hash: h}, true, nil
	}

	// The mismatch at 100 makes the walk continue past the null slot 99 to
	// the realignment point 98; 99 is never fetched and never reported.
	reorg, err := scanForReorg(context.Background(), 100, 98, stored, getBlock)
	require.NoError(t, err)
	require.NotNil(t, reorg)
	require.Equal(t, uint64(100), *reorg)
	require.Equal(t, []uint64{100, 98}, fetched)
}
