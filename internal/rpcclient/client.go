// Package rpcclient provides typed chain reads with retry/backoff, timeout,
// error classification, and null-block tolerance (RpcClient, spec §4.1).
package rpcclient

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/sync/errgroup"

	"github.com/drips-network/dripfeed/internal/config"
)

// BlockSummary is the minimal block metadata the indexer persists per block
// (spec §4.1 BlockSummary = {number, hash, timestamp}).
type BlockSummary struct {
	Number    uint64
	Hash      common.Hash
	ParentHash common.Hash
	Timestamp uint64
}

// Client is the typed chain-read surface the fetcher and reorg detector
// depend on. Every method applies retry/backoff and error classification.
type Client interface {
	LatestBlock(ctx context.Context) (uint64, error)
	// SafeBlock returns head-confirmations; fails if head <= confirmations.
	SafeBlock(ctx context.Context, confirmations uint32) (uint64, error)
	// GetBlock returns (summary, true, nil) on success, (zero, false, nil) on
	// a null slot (never an error), or (zero, false, err) on real failure.
	GetBlock(ctx context.Context, number uint64) (BlockSummary, bool, error)
	// GetBlocksInRange preserves order, omits null slots, and bounds
	// concurrent lookups at `concurrency`.
	GetBlocksInRange(ctx context.Context, from, to uint64, concurrency uint32) ([]BlockSummary, error)
	GetLogs(ctx context.Context, addresses []common.Address, from, to uint64) ([]types.Log, error)
	Close()
}

type client struct {
	eth   *ethclient.Client
	rpc   *gethrpc.Client
	retry *config.RetryConfig
}

// NewClient dials the given JSON-RPC endpoint.
func NewClient(ctx context.Context, endpoint string, retry *config.RetryConfig) (Client, error) {
	rpcClient, err := gethrpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial rpc endpoint: %w", err)
	}

	return &client{
		eth:   ethclient.NewClient(rpcClient),
		rpc:   rpcClient,
		retry: retry,
	}, nil
}

func (c *client) Close() {
	c.eth.Close()
}

func (c *client) LatestBlock(ctx context.Context) (uint64, error) {
	start := time.Now()
	methodInc("eth_blockNumber")
	defer func() { methodDuration("eth_blockNumber", time.Since(start)) }()

	var head uint64
	err := retryWithBackoff(ctx, c.retry, "eth_blockNumber", func(callCtx context.Context) error {
		header, fetchErr := c.eth.HeaderByNumber(callCtx, nil)
		if fetchErr != nil {
			return fetchErr
		}
		head = header.Number.Uint64()
		return nil
	})
	if err != nil {
		methodError("eth_blockNumber")
		return 0, err
	}
	return head, nil
}

func (c *client) SafeBlock(ctx context.Context, confirmations uint32) (uint64, error) {
	head, err := c.LatestBlock(ctx)
	if err != nil {
		return 0, err
	}
	if head <= uint64(confirmations) {
		return 0, fmt.Errorf("head block %d is not past confirmations lag %d", head, confirmations)
	}
	return head - uint64(confirmations), nil
}

func (c *client) GetBlock(ctx context.Context, number uint64) (BlockSummary, bool, error) {
	start := time.Now()
	methodInc("eth_getBlockByNumber")
	defer func() { methodDuration("eth_getBlockByNumber", time.Since(start)) }()

	var header *types.Header
	err := retryWithBackoff(ctx, c.retry, "eth_getBlockByNumber", func(callCtx context.Context) error {
		var fetchErr error
		header, fetchErr = c.eth.HeaderByNumber(callCtx, new(big.Int).SetUint64(number))
		return fetchErr
	})

	if err != nil {
		if errors.Is(err, geth.NotFound) || isNullSlot(err) {
			return BlockSummary{}, false, nil
		}
		methodError("eth_getBlockByNumber")
		return BlockSummary{}, false, err
	}
	if header == nil {
		return BlockSummary{}, false, nil
	}

	return BlockSummary{
		Number:     header.Number.Uint64(),
		Hash:       header.Hash(),
		ParentHash: header.ParentHash,
		Timestamp:  header.Time,
	}, true, nil
}

// GetBlocksInRange fans out GetBlock calls bounded by `concurrency`,
// preserving input order and silently omitting null slots.
func (c *client) GetBlocksInRange(ctx context.Context, from, to uint64, concurrency uint32) ([]BlockSummary, error) {
	if to < from {
		return nil, nil
	}
	count := int(to - from + 1)
	results := make([]*BlockSummary, count)

	if concurrency == 0 {
		concurrency = 1
	}
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(int(concurrency))

	for i := 0; i < count; i++ {
		i := i
		blockNum := from + uint64(i)
		group.Go(func() error {
			summary, found, err := c.GetBlock(gctx, blockNum)
			if err != nil {
				return err
			}
			if found {
				results[i] = &summary
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	out := make([]BlockSummary, 0, count)
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (c *client) GetLogs(ctx context.Context, addresses []common.Address, from, to uint64) ([]types.Log, error) {
	if len(addresses) == 0 {
		return nil, nil
	}

	start := time.Now()
	methodInc("eth_getLogs")
	defer func() { methodDuration("eth_getLogs", time.Since(start)) }()

	query := geth.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: addresses,
	}

	var logs []types.Log
	err := retryWithBackoff(ctx, c.retry, "eth_getLogs", func(callCtx context.Context) error {
		var fetchErr error
		logs, fetchErr = c.eth.FilterLogs(callCtx, query)
		return fetchErr
	})
	if err != nil {
		methodError("eth_getLogs")
		return nil, err
	}
	return logs, nil
}
