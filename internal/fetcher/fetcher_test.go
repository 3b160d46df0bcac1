package fetcher

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func TestReorgWindowDepth(t *testing.T) {
	require.Equal(t, uint64(100), reorgWindowDepth(1))
	require.Equal(t, uint64(100), reorgWindowDepth(50))
	require.Equal(t, uint64(200), reorgWindowDepth(200))
}

func TestSparseHistoricBlocks(t *testing.T) {
	logs := []ethtypes.Log{
		{BlockNumber: 90},
		{BlockNumber: 95},
		{BlockNumber: 95}, // duplicate block, same log set
		{BlockNumber: 100},
		{BlockNumber: 101},
	}

	got := sparseHistoricBlocks(logs, 100)
	require.ElementsMatch(t, []uint64{90, 95}, got)
}

func TestSparseHistoricBlocks_Empty(t *testing.T) {
	require.Empty(t, sparseHistoricBlocks(nil, 100))
	require.Empty(t, sparseHistoricBlocks([]ethtypes.Log{{BlockNumber: 100}}, 100))
}

func TestTopicZero(t *testing.T) {
	require.Equal(t, "", topicZero(nil))
	h := common.HexToHash("0xabc")
	require.Equal(t, h.Hex(), topicZero([]common.Hash{h}))
}
