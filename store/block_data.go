package store

import (
	"context"
	"fmt"

	"github.com/canvasart/tracker/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/openweb3/web3go"
	"github.com/openweb3/web3go/types"
	"github.com/pkg/errors"
)

// LogDecoder turns one raw event log into a typed chain event. It returns
// (nil, nil) for logs of unknown kind, which the pipeline ignores.
type LogDecoder func(log *types.Log) (*ChainEvent, error)

// BlockData wraps the decoded chain data of one block.
type BlockData struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  uint64
	Events     []ChainEvent
}

// IsContinuousTo checks if this block is continuous to the previous block.
func (current *BlockData) IsContinuousTo(prev *BlockData) (continuous bool, desc string) {
	if current.ParentHash != prev.Hash {
		desc = fmt.Sprintf(
			"parent hash not matched, expect %v got %v", prev.Hash, current.ParentHash,
		)
		return
	}

	if prev.Number+1 != current.Number {
		desc = fmt.Sprintf(
			"block number not continuous, expect %v got %v", prev.Number+1, current.Number,
		)
		return
	}

	return true, ""
}

// QueryBlockData queries and decodes chain data for the specified block number.
// Only logs emitted by the given contract addresses are considered.
func QueryBlockData(
	ctx context.Context,
	w3c *web3go.Client,
	blockNumber uint64,
	contracts []common.Address,
	decode LogDecoder,
) (*BlockData, error) {
	updater := metrics.Registry.Sync.QueryBlockData()
	defer updater.Update()

	// Get block header by number
	block, err := w3c.WithContext(ctx).Eth.BlockByNumber(types.BlockNumber(blockNumber), false)

	if err == nil && block == nil {
		err = errors.New("invalid block data (must not be nil)")
	}

	if err != nil {
		return nil, errors.WithMessagef(err, "failed to get block by number %v", blockNumber)
	}

	bn := types.BlockNumber(blockNumber)
	logs, err := w3c.WithContext(ctx).Eth.Logs(types.FilterQuery{
		FromBlock: &bn, ToBlock: &bn, Addresses: contracts,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to get event logs for block %v", blockNumber)
	}

	data := &BlockData{
		Number:     blockNumber,
		Hash:       block.Hash,
		ParentHash: block.ParentHash,
		Timestamp:  block.Timestamp,
	}

	for i := range logs {
		if err := validateLog(block, &logs[i]); err != nil {
			return nil, err
		}

		event, err := decode(&logs[i])
		if err != nil {
			// A known event kind that fails to unpack signals version skew
			// between the tracker and the deployed contracts.
			return nil, errors.WithMessagef(err, "failed to decode log %v of block %v", i, blockNumber)
		}

		if event == nil { // unknown event kind, ignorable
			continue
		}

		data.Events = append(data.Events, *event)
	}

	return data, nil
}

// validateLog sanity checks a queried event log against the block it should
// belong to, in case the chain re-orged between the two queries.
func validateLog(block *types.Block, log *types.Log) error {
	switch {
	case log.Removed:
		return errors.WithMessagef(
			ErrChainReorged, "removed log for block %v at index %v", block.Hash, log.Index,
		)
	case log.BlockHash != block.Hash:
		return errors.WithMessagef(
			ErrChainReorged, "log block hash %v mismatch for block %v at index %v",
			log.BlockHash, block.Hash, log.Index,
		)
	case log.BlockNumber != block.Number.Uint64():
		return errors.WithMessagef(
			ErrChainReorged, "log block number #%v mismatch for block #%v at index %v",
			log.BlockNumber, block.Number.Uint64(), log.Index,
		)
	default:
		return nil
	}
}
