package mysql

import (
	"sync"

	"github.com/canvasart/tracker/metrics"
	"github.com/canvasart/tracker/randao"
	"github.com/canvasart/tracker/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var _ store.Store = (*MysqlStore)(nil) // ensure MysqlStore implements Store interface

// MysqlStore persists all derived state of the event tracker. It is the only
// writer of derived state; Pushn and Popn each commit one all-or-nothing
// database transaction that keeps the checkpoint consistent with the state
// changes it covers.
type MysqlStore struct {
	*confStore

	db *gorm.DB

	randMu sync.RWMutex
	// latest committed randao engine state, replaced wholesale on commit
	rand *randao.Engine

	cpMu sync.RWMutex
	// cached checkpoint, mirrors the max journaled block
	checkpoint    store.Checkpoint
	hasCheckpoint bool
}

func mustNewStore(db *gorm.DB) *MysqlStore {
	ms, err := newStore(db, randao.MustNewEngineFromViper())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize mysql store")
	}

	return ms
}

func newStore(db *gorm.DB, rand *randao.Engine) (*MysqlStore, error) {
	ms := &MysqlStore{
		confStore: newConfStore(db),
		db:        db,
		rand:      rand,
	}

	if err := ms.reloadCheckpoint(db); err != nil {
		return nil, errors.WithMessage(err, "failed to load checkpoint")
	}

	if err := ms.reloadRandaoEngine(db); err != nil {
		return nil, errors.WithMessage(err, "failed to rebuild randao engine")
	}

	return ms, nil
}

// RandaoEngine exposes the randomness engine sourced by this store, mainly
// for the `finalizedSeed` query surface. The returned engine reflects the
// latest committed snapshot only; in-flight transactions stage their round
// mutations on a clone.
func (ms *MysqlStore) RandaoEngine() *randao.Engine {
	ms.randMu.RLock()
	defer ms.randMu.RUnlock()

	return ms.rand
}

func (ms *MysqlStore) swapRandaoEngine(engine *randao.Engine) {
	ms.randMu.Lock()
	defer ms.randMu.Unlock()

	ms.rand = engine
}

// Push applies a single block of chain data.
func (ms *MysqlStore) Push(data *store.BlockData) error {
	return ms.Pushn([]*store.BlockData{data})
}

// Pushn applies the events of the given blocks in ascending block order and
// advances the checkpoint, all within one database transaction.
func (ms *MysqlStore) Pushn(dataSlice []*store.BlockData) error {
	if len(dataSlice) == 0 {
		return nil
	}

	if err := ms.requireContinuous(dataSlice); err != nil {
		return err
	}

	updater := metrics.Registry.Store.Push()
	defer updater.Update()

	// round mutations are staged on a clone so that concurrent readers never
	// observe state of a still-uncommitted transaction
	stagedRand := ms.RandaoEngine().Clone()

	err := ms.execWithTx(func(dbTx *gorm.DB) error {
		ap := newApplier(dbTx, stagedRand)

		for _, data := range dataSlice {
			if err := dbTx.Create(newBlock(data)).Error; err != nil {
				return errors.WithMessagef(err, "failed to write block #%v", data.Number)
			}

			if err := ap.applyBlock(data); err != nil {
				return err
			}
		}

		return ap.recomputeStats(dataSlice[len(dataSlice)-1].Timestamp)
	})

	if err != nil { // the staged engine clone is simply discarded
		return err
	}

	ms.swapRandaoEngine(stagedRand)

	tail := dataSlice[len(dataSlice)-1]
	ms.setCheckpoint(store.Checkpoint{BlockNumber: tail.Number, BlockHash: tail.Hash})
	metrics.Registry.Sync.CheckpointBlock().Update(int64(tail.Number))

	return nil
}

// Popn reverts all derived-state effects of blocks >= blockUntil in reverse
// application order and rewinds the checkpoint, within one transaction.
func (ms *MysqlStore) Popn(blockUntil uint64) error {
	// Genesis block will never be popped
	if blockUntil == 0 {
		blockUntil = 1
	}

	cp, ok := ms.LatestCheckpointCached()
	if !ok || blockUntil > cp.BlockNumber {
		return nil
	}

	updater := metrics.Registry.Store.Pop()
	defer updater.Update()

	err := ms.execWithTx(func(dbTx *gorm.DB) error {
		if err := ms.revertBlocks(dbTx, blockUntil); err != nil {
			return err
		}

		// track reorg depth for diagnostics
		if err := ms.createOrUpdateReorgVersion(dbTx); err != nil {
			return errors.WithMessage(err, "failed to update reorg version")
		}

		// statistics are a derived view, recompute them over the survivors
		var tip block
		res := dbTx.Order("block_number DESC").First(&tip)
		if res.Error != nil && !errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return res.Error
		}

		ap := newApplier(dbTx, ms.RandaoEngine())
		ap.touchAllProjects()
		return ap.recomputeStats(tip.Timestamp)
	})

	if err != nil {
		return err
	}

	if err := ms.reloadCheckpoint(ms.db); err != nil {
		return errors.WithMessage(err, "failed to reload checkpoint after pop")
	}

	if err := ms.reloadRandaoEngine(ms.db); err != nil {
		return errors.WithMessage(err, "failed to rebuild randao engine after pop")
	}

	logrus.WithFields(logrus.Fields{
		"blockUntil":    blockUntil,
		"checkpointWas": cp,
	}).Info("Block data popped out from db store due to chain re-org")

	return nil
}

func (ms *MysqlStore) Close() error {
	sqlDb, err := ms.db.DB()
	if err != nil {
		return err
	}

	return sqlDb.Close()
}

// requireContinuous ensures pushed blocks extend the checkpoint one by one.
func (ms *MysqlStore) requireContinuous(dataSlice []*store.BlockData) error {
	cp, ok := ms.LatestCheckpointCached()

	nextBlock := dataSlice[0].Number
	if ok {
		nextBlock = cp.BlockNumber + 1

		if dataSlice[0].ParentHash != cp.BlockHash {
			return errors.WithMessagef(store.ErrContinuousBlockRequired,
				"parent hash mismatched, checkpoint %v got parent %v",
				cp.BlockHash, dataSlice[0].ParentHash,
			)
		}
	}

	prev := (*store.BlockData)(nil)
	for _, data := range dataSlice {
		if data.Number != nextBlock {
			return errors.WithMessagef(store.ErrContinuousBlockRequired,
				"block not continuous, expected %v got %v", nextBlock, data.Number,
			)
		}

		if prev != nil {
			if continuous, desc := data.IsContinuousTo(prev); !continuous {
				return errors.WithMessagef(store.ErrContinuousBlockRequired, "%v", desc)
			}
		}

		prev, nextBlock = data, nextBlock+1
	}

	return nil
}

func (ms *MysqlStore) execWithTx(txConsumeFunc func(dbTx *gorm.DB) error) error {
	dbTx := ms.db.Begin()
	if dbTx.Error != nil {
		return errors.WithMessage(dbTx.Error, "failed to begin db tx")
	}

	if err := txConsumeFunc(dbTx); err != nil {
		if rollbackErr := dbTx.Rollback().Error; rollbackErr != nil {
			logrus.WithError(rollbackErr).Error("Failed to rollback db tx")
		}

		return errors.WithMessage(err, "failed to handle with db tx")
	}

	if err := dbTx.Commit().Error; err != nil {
		return errors.WithMessage(err, "failed to commit db tx")
	}

	return nil
}

// LatestCheckpoint implements store.Reader.
func (ms *MysqlStore) LatestCheckpoint() (store.Checkpoint, bool, error) {
	cp, ok := ms.LatestCheckpointCached()
	return cp, ok, nil
}

// LatestCheckpointCached returns the cached checkpoint which mirrors the max
// journaled block of the database.
func (ms *MysqlStore) LatestCheckpointCached() (store.Checkpoint, bool) {
	ms.cpMu.RLock()
	defer ms.cpMu.RUnlock()

	return ms.checkpoint, ms.hasCheckpoint
}

func (ms *MysqlStore) setCheckpoint(cp store.Checkpoint) {
	ms.cpMu.Lock()
	defer ms.cpMu.Unlock()

	ms.checkpoint, ms.hasCheckpoint = cp, true
}

func (ms *MysqlStore) reloadCheckpoint(db *gorm.DB) error {
	var tip block
	res := db.Order("block_number DESC").First(&tip)

	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		ms.cpMu.Lock()
		defer ms.cpMu.Unlock()

		ms.checkpoint, ms.hasCheckpoint = store.Checkpoint{}, false
		return nil
	}

	if res.Error != nil {
		return res.Error
	}

	ms.setCheckpoint(store.Checkpoint{
		BlockNumber: tip.BlockNumber,
		BlockHash:   common.HexToHash(tip.Hash),
	})

	return nil
}

func (ms *MysqlStore) reloadRandaoEngine(db *gorm.DB) error {
	var commits []randaoCommit
	if err := db.Order("id ASC").Find(&commits).Error; err != nil {
		return err
	}

	records := make([]*store.RandaoCommitRecord, 0, len(commits))
	for i := range commits {
		records = append(records, commits[i].toDomain())
	}

	rebuilt := ms.RandaoEngine().Clone()
	rebuilt.Reset(records)
	ms.swapRandaoEngine(rebuilt)

	return nil
}

// BlockHashOf returns the journaled hash of an applied block, used by the
// syncer as a fallback when its in-memory header window misses.
func (ms *MysqlStore) BlockHashOf(blockNumber uint64) (common.Hash, bool, error) {
	var blk block
	res := ms.db.Where("block_number = ?", blockNumber).First(&blk)

	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return common.Hash{}, false, nil
	}

	if res.Error != nil {
		return common.Hash{}, false, res.Error
	}

	return common.HexToHash(blk.Hash), true, nil
}
