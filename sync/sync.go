package sync

import (
	"context"
	"sync"
	"time"

	logutil "github.com/Conflux-Chain/go-conflux-util/log"
	viperutil "github.com/Conflux-Chain/go-conflux-util/viper"
	"github.com/canvasart/tracker/decode"
	"github.com/canvasart/tracker/metrics"
	"github.com/canvasart/tracker/store"
	"github.com/canvasart/tracker/store/mysql"
	"github.com/canvasart/tracker/sync/catchup"
	"github.com/canvasart/tracker/types"
	"github.com/canvasart/tracker/util"
	"github.com/ethereum/go-ethereum/common"
	"github.com/openweb3/web3go"
	ethtypes "github.com/openweb3/web3go/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Config struct {
	// block number to start syncing from on an empty database
	FromBlock uint64 `default:"1"`
	// maximum number of blocks to sync once
	MaxBlocks uint64 `default:"10"`
	// number of blocks below the chain head considered safe to apply
	ConfirmDepth uint64 `default:"12"`
	// maximum re-org depth to search a common ancestor within
	LookbackWindow uint64 `default:"64"`
	// platform contract addresses whose event logs are tracked
	Contracts []string
}

// chainSource provides the chain head and decoded block data to sync from.
type chainSource interface {
	catchup.BlockSource

	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// syncStore is the store surface the block syncer drives.
type syncStore interface {
	Pushn(dataSlice []*store.BlockData) error
	Popn(blockNumber uint64) error
	LatestCheckpointCached() (store.Checkpoint, bool)
	BlockHashOf(blockNumber uint64) (common.Hash, bool, error)
}

// ethChainSource sources block data from an eth compatible fullnode.
type ethChainSource struct {
	w3c       *web3go.Client
	contracts []common.Address
}

func (es *ethChainSource) LatestBlockNumber(ctx context.Context) (uint64, error) {
	latestBlock, err := es.w3c.WithContext(ctx).Eth.BlockByNumber(ethtypes.LatestBlockNumber, false)
	if err != nil {
		return 0, errors.WithMessage(err, "failed to query the latest block")
	}

	return latestBlock.Number.Uint64(), nil
}

func (es *ethChainSource) BlockData(ctx context.Context, blockNumber uint64) (*store.BlockData, error) {
	return store.QueryBlockData(ctx, es.w3c, blockNumber, es.contracts, decode.DecodeLog)
}

// BlockSyncer synchronizes confirmed chain event data into the db store.
// It only ever applies blocks at least ConfirmDepth below the chain head,
// and rolls applied blocks back when the confirmed lineage re-orgs anyway.
type BlockSyncer struct {
	conf   *Config
	source chainSource
	db     syncStore
	// block number to sync chaindata from
	fromBlock uint64
	// highest block ever applied, anchors the re-org lookback bound
	maxSynced uint64
	// interval to sync data in normal status
	syncIntervalNormal time.Duration
	// interval to sync data in catching up mode
	syncIntervalCatchUp time.Duration
	// window to cache applied block hashes
	headerWin *headerWindow
	// concurrent block fetcher for deep catch-up
	prefetcher *catchup.Prefetcher
}

// MustNewBlockSyncerFromViper creates an instance of BlockSyncer to sync
// confirmed chain event data.
func MustNewBlockSyncerFromViper(w3c *web3go.Client, db *mysql.MysqlStore) *BlockSyncer {
	var conf Config
	viperutil.MustUnmarshalKey("sync", &conf)

	if len(conf.Contracts) == 0 {
		logrus.Fatal("No platform contract configured to sync event logs from")
	}

	contracts := make([]common.Address, 0, len(conf.Contracts))
	for _, contract := range conf.Contracts {
		contracts = append(contracts, common.HexToAddress(contract))
	}

	source := &ethChainSource{w3c: w3c, contracts: contracts}

	return NewBlockSyncer(&conf, source, db, catchup.MustNewPrefetcherFromViper(source))
}

func NewBlockSyncer(conf *Config, source chainSource, db syncStore, prefetcher *catchup.Prefetcher) *BlockSyncer {
	syncer := &BlockSyncer{
		conf:                conf,
		source:              source,
		db:                  db,
		syncIntervalNormal:  time.Second,
		syncIntervalCatchUp: time.Millisecond,
		headerWin:           newHeaderWindow(uint32(conf.ConfirmDepth + conf.LookbackWindow)),
		prefetcher:          prefetcher,
	}

	syncer.mustLoadLastSyncBlock()

	return syncer
}

// Sync starts to sync confirmed blockchain data until the context is done.
func (syncer *BlockSyncer) Sync(ctx context.Context, wg *sync.WaitGroup) {
	logrus.WithField("fromBlock", syncer.fromBlock).Info("Block syncer starting to sync data")

	wg.Add(1)
	defer wg.Done()

	ticker := time.NewTimer(syncer.syncIntervalCatchUp)
	defer ticker.Stop()

	etLogger := logutil.NewErrorTolerantLogger(logutil.DefaultETConfig)
	defer logrus.Info("Block syncer shutdown ok")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := syncer.doTicker(ctx, ticker)
			if errors.Is(err, store.ErrAncestorNotFound) {
				// the applied lineage diverged deeper than the lookback
				// window, resync from scratch is required
				logrus.WithError(err).Fatal(
					"Block syncer halted, re-org exceeds lookback window",
				)
			}

			if errors.Is(err, store.ErrSchemaMismatch) {
				// a known event kind failed to decode, which signals version
				// skew between the contract and the tracker
				logrus.WithError(err).Fatal(
					"Block syncer halted due to event schema mismatch",
				)
			}

			etLogger.Log(
				logrus.WithField("fromBlock", syncer.fromBlock),
				err, "Block syncer failed to sync block data",
			)
		}
	}
}

func (syncer *BlockSyncer) doTicker(ctx context.Context, ticker *time.Timer) error {
	logrus.Debug("Block syncer ticking")

	start := time.Now()
	complete, err := syncer.syncOnce(ctx)
	metrics.Registry.Sync.SyncOnceQps(err).UpdateSince(start)

	if err != nil || complete {
		ticker.Reset(syncer.syncIntervalNormal)
	} else {
		ticker.Reset(syncer.syncIntervalCatchUp)
	}

	return err
}

func (syncer *BlockSyncer) nextBlockTo(maxBlockTo uint64) (uint64, uint64) {
	toBlock := util.MinUint64(syncer.fromBlock+syncer.conf.MaxBlocks-1, maxBlockTo)
	syncSize := toBlock - syncer.fromBlock + 1
	return toBlock, syncSize
}

// Sync data once and return true if caught up to the confirmed chain head,
// otherwise false.
func (syncer *BlockSyncer) syncOnce(ctx context.Context) (bool, error) {
	latestBlockNo, err := syncer.source.LatestBlockNumber(ctx)
	if err != nil {
		return false, err
	}

	if latestBlockNo < syncer.conf.ConfirmDepth {
		return true, nil
	}

	// only blocks at least ConfirmDepth below the head are applied
	confirmedBlockNo := latestBlockNo - syncer.conf.ConfirmDepth

	if syncer.fromBlock > confirmedBlockNo {
		logrus.WithFields(logrus.Fields{
			"latestBlockNo":    latestBlockNo,
			"confirmedBlockNo": confirmedBlockNo,
			"syncFromBlock":    syncer.fromBlock,
		}).Debug("Block syncer skipped due to already caught up")

		return true, nil
	}

	toBlock, syncSize := syncer.nextBlockTo(confirmedBlockNo)

	logger := logrus.WithFields(logrus.Fields{
		"syncSize":  syncSize,
		"fromBlock": syncer.fromBlock,
		"toBlock":   toBlock,
	})

	logger.Debug("Block syncer started to sync with block range")

	dataSlice, err := syncer.fetchBlockRange(ctx, toBlock, syncSize, logger)
	if err != nil {
		return false, err
	}

	metrics.Registry.Sync.SyncOnceSize().Update(int64(len(dataSlice)))

	if len(dataSlice) == 0 {
		logger.Debug("Block syncer skipped due to empty sync range")
		return false, nil
	}

	// the first block must be continuous to the latest block in db store
	latestStoreHash, ok, err := syncer.getStoreLatestBlockHash()
	if err != nil {
		return false, errors.WithMessage(err, "failed to get latest store block hash")
	}

	if ok && dataSlice[0].ParentHash != latestStoreHash {
		if err := syncer.reorgRevert(syncer.latestStoreBlock()); err != nil {
			return false, errors.WithMessage(err, "failed to revert block data from db store")
		}

		logger.WithFields(logrus.Fields{
			"parentBlockHash": dataSlice[0].ParentHash,
			"latestStoreHash": latestStoreHash,
		}).Info("Block syncer reverted latest store block due to parent hash mismatch")

		return false, nil
	}

	if err := syncer.db.Pushn(dataSlice); err != nil {
		return false, errors.WithMessage(err, "failed to push block data to db store")
	}

	for _, data := range dataSlice { // cache applied block hashes for late use
		if err := syncer.headerWin.Push(data); err != nil {
			logger.WithField("blockNumber", data.Number).WithError(err).Info(
				"Block syncer failed to push block into header window",
			)

			syncer.headerWin.Reset()
			break
		}
	}

	syncer.fromBlock += uint64(len(dataSlice))
	syncer.maxSynced = util.MaxUint64(syncer.maxSynced, syncer.fromBlock-1)

	logger.WithFields(logrus.Fields{
		"newSyncFrom":   syncer.fromBlock,
		"finalSyncSize": len(dataSlice),
	}).Debug("Block syncer succeeded to batch sync block data")

	return false, nil
}

// fetchBlockRange queries block data of range [fromBlock, toBlock]. A full
// batch is prefetched concurrently, otherwise blocks are fetched one by one
// and the batch is truncated at the first discontinuity.
func (syncer *BlockSyncer) fetchBlockRange(
	ctx context.Context, toBlock, syncSize uint64, logger *logrus.Entry,
) ([]*store.BlockData, error) {
	if syncSize == syncer.conf.MaxBlocks && syncSize > 1 {
		blockRange := types.RangeUint64{From: syncer.fromBlock, To: toBlock}

		dataSlice, err := syncer.prefetcher.Fetch(ctx, blockRange)
		if errors.Is(err, store.ErrChainReorged) {
			logger.WithError(err).Info("Block syncer prefetch aborted due to re-org")
			return nil, nil
		}

		return dataSlice, err
	}

	dataSlice := make([]*store.BlockData, 0, syncSize)

	for i := uint64(0); i < syncSize; i++ {
		blockNo := syncer.fromBlock + i
		blogger := logger.WithField("block", blockNo)

		data, err := syncer.source.BlockData(ctx, blockNo)

		// If chain re-orged, stop the querying right now since it's pointless
		// to query data that will be reverted late.
		if errors.Is(err, store.ErrChainReorged) {
			blogger.WithError(err).Info("Block syncer failed to query block data due to re-org")
			break
		}

		if err != nil {
			return nil, errors.WithMessagef(err, "failed to query block data for block %v", blockNo)
		}

		if i > 0 { // non-first block must be continuous to the previous one
			continuous, desc := data.IsContinuousTo(dataSlice[i-1])
			if !continuous {
				blogger.WithField("i", i).Infof(
					"Block syncer truncated batch synced data due to %v", desc,
				)

				break
			}
		}

		dataSlice = append(dataSlice, data)

		blogger.Debug("Block syncer succeeded to query block data")
	}

	return dataSlice, nil
}

// reorgRevert pops the latest applied block. The sync loop converges to the
// common ancestor by reverting one block per iteration until the parent hash
// check holds again.
func (syncer *BlockSyncer) reorgRevert(revertTo uint64) error {
	logger := logrus.WithFields(logrus.Fields{
		"revertTo": revertTo, "revertFrom": syncer.latestStoreBlock(),
	})

	if revertTo == 0 {
		logger.Error("Block syncer cannot revert genesis block")
		return errors.WithMessage(store.ErrAncestorNotFound, "re-org diverged before genesis")
	}

	if revertTo >= syncer.fromBlock {
		logger.Debug("Block syncer skipped re-org revert due to not caught up yet")
		return nil
	}

	// bounded rollback, confirmed state more than ConfirmDepth+LookbackWindow
	// blocks below the highest applied block is immutable
	window := syncer.conf.ConfirmDepth + syncer.conf.LookbackWindow
	if syncer.maxSynced > window && revertTo < syncer.maxSynced-window {
		logger.WithField("revertWindow", window).Error(
			"Block syncer re-org revert exceeds the lookback window",
		)

		return errors.WithMessagef(store.ErrAncestorNotFound,
			"revert to %v exceeds revert window %v below max synced %v",
			revertTo, window, syncer.maxSynced,
		)
	}

	metrics.Registry.Sync.ReorgReverts().Mark(1)

	// remove block data from database due to chain re-org
	if err := syncer.db.Popn(revertTo); err != nil {
		logger.WithError(err).Error(
			"Block syncer failed to pop block data from db store due to chain re-org",
		)

		return errors.WithMessage(err, "failed to pop block data from db store")
	}

	// remove hashes of reverted blocks from the header window
	syncer.headerWin.Popn(revertTo)
	// update syncer start block
	syncer.fromBlock = revertTo

	logger.Info("Block syncer reverted block data due to chain re-org")

	return nil
}

// Load last sync block from database to continue synchronization.
func (syncer *BlockSyncer) mustLoadLastSyncBlock() {
	cp, ok := syncer.db.LatestCheckpointCached()

	if ok { // continue from the checkpoint
		syncer.fromBlock = cp.BlockNumber + 1
		syncer.maxSynced = cp.BlockNumber
	} else { // start from genesis or configured start block
		syncer.fromBlock = syncer.conf.FromBlock
	}
}

func (syncer *BlockSyncer) latestStoreBlock() uint64 {
	return syncer.fromBlock - 1
}

func (syncer *BlockSyncer) getStoreLatestBlockHash() (common.Hash, bool, error) {
	cp, ok := syncer.db.LatestCheckpointCached()
	if !ok {
		return common.Hash{}, false, nil
	}

	latestBlockNo := syncer.latestStoreBlock()
	if cp.BlockNumber != latestBlockNo {
		return common.Hash{}, false, errors.Errorf(
			"checkpoint block %v out of sync with syncer block %v",
			cp.BlockNumber, latestBlockNo,
		)
	}

	// load from in-memory cache first
	if blockHash, ok := syncer.headerWin.GetBlockHash(latestBlockNo); ok {
		return blockHash, true, nil
	}

	blockHash, ok, err := syncer.db.BlockHashOf(latestBlockNo)
	return blockHash, ok, err
}
