package eventdecoder

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

const transferABIJSON = `[{
	"anonymous": false,
	"inputs": [
		{"indexed": true, "name": "from", "type": "address"},
		{"indexed": true, "name": "to", "type": "address"},
		{"indexed": false, "name": "value", "type": "uint256"}
	],
	"name": "Transfer",
	"type": "event"
}]`

type transferEvent struct {
	From, To common.Address
}

func (transferEvent) EventName() string { return "Transfer" }

func mustParseABI(t *testing.T, raw string) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(raw))
	require.NoError(t, err)
	return parsed
}

func transferLog(t *testing.T, contractABI abi.ABI, address common.Address, topicsCount int) ethtypes.Log {
	t.Helper()
	event := contractABI.Events["Transfer"]
	topics := []common.Hash{event.ID, common.HexToHash("0x1"), common.HexToHash("0x2")}
	log := ethtypes.Log{
		Address: address,
		Topics:  topics[:topicsCount],
		Data:    make([]byte, 32),
	}
	return log
}

func TestDecode_Success(t *testing.T) {
	contractABI := mustParseABI(t, transferABIJSON)
	address := common.HexToAddress("0xAAA")

	d := NewDecoder()
	d.RegisterContract(address, contractABI)
	d.RegisterHandler(address, "Transfer", HandlerFunc(func(log ethtypes.Log) (DecodedEvent, error) {
		return transferEvent{
			From: common.BytesToAddress(log.Topics[1].Bytes()),
			To:   common.BytesToAddress(log.Topics[2].Bytes()),
		}, nil
	}))

	outcome := d.Decode(transferLog(t, contractABI, address, 3))
	require.Equal(t, Decoded, outcome.Kind)
	require.Equal(t, "Transfer", outcome.Event.EventName())
}

func TestDecode_MissingHandler(t *testing.T) {
	contractABI := mustParseABI(t, transferABIJSON)
	address := common.HexToAddress("0xAAA")

	d := NewDecoder()
	d.RegisterContract(address, contractABI)

	outcome := d.Decode(transferLog(t, contractABI, address, 3))
	require.Equal(t, MissingHandler, outcome.Kind)
	require.Equal(t, "Transfer", outcome.EventName)
}

func TestDecode_UnregisteredContract(t *testing.T) {
	contractABI := mustParseABI(t, transferABIJSON)
	address := common.HexToAddress("0xAAA")

	d := NewDecoder()
	outcome := d.Decode(transferLog(t, contractABI, address, 3))
	require.Equal(t, DecodeError, outcome.Kind)
}

func TestDecode_MissingFields(t *testing.T) {
	contractABI := mustParseABI(t, transferABIJSON)
	address := common.HexToAddress("0xAAA")

	d := NewDecoder()
	d.RegisterContract(address, contractABI)
	d.RegisterHandler(address, "Transfer", HandlerFunc(func(log ethtypes.Log) (DecodedEvent, error) {
		return transferEvent{}, nil
	}))

	outcome := d.Decode(transferLog(t, contractABI, address, 2))
	require.Equal(t, MissingFields, outcome.Kind)
}

func TestDecode_HandlerError(t *testing.T) {
	contractABI := mustParseABI(t, transferABIJSON)
	address := common.HexToAddress("0xAAA")

	d := NewDecoder()
	d.RegisterContract(address, contractABI)
	d.RegisterHandler(address, "Transfer", HandlerFunc(func(log ethtypes.Log) (DecodedEvent, error) {
		return nil, assertErr
	}))

	outcome := d.Decode(transferLog(t, contractABI, address, 3))
	require.Equal(t, DecodeError, outcome.Kind)
	require.ErrorIs(t, outcome.Err, assertErr)
}

func TestContractAddresses(t *testing.T) {
	contractABI := mustParseABI(t, transferABIJSON)
	a1 := common.HexToAddress("0xAAA")
	a2 := common.HexToAddress("0xBBB")

	d := NewDecoder()
	d.RegisterContract(a1, contractABI)
	d.RegisterContract(a2, contractABI)

	addrs := d.ContractAddresses()
	require.Len(t, addrs, 2)
	require.ElementsMatch(t, []common.Address{a1, a2}, addrs)
}

var assertErr = errSentinel("boom")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }
