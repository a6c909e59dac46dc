package sync

import (
	"sync"

	"github.com/canvasart/tracker/store"
	"github.com/canvasart/tracker/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// headerWindow caches recently applied block hashes with limited capacity,
// which the syncer uses to resolve the lineage during re-org rollback without
// hitting the database.
type headerWindow struct {
	mu sync.Mutex

	// hashmap to cache recent block hashes (block number => block hash)
	blockToHash map[uint64]common.Hash
	// maximum number of blocks to hold
	capacity uint32
	// cached block range
	blockFrom, blockTo uint64
}

func newHeaderWindow(capacity uint32) *headerWindow {
	win := &headerWindow{capacity: capacity}
	win.reset()

	return win
}

func (win *headerWindow) GetBlockHash(blockNumber uint64) (common.Hash, bool) {
	win.mu.Lock()
	defer win.mu.Unlock()

	blockHash, ok := win.blockToHash[blockNumber]
	return blockHash, ok
}

func (win *headerWindow) Reset() {
	win.mu.Lock()
	defer win.mu.Unlock()

	win.reset()
}

func (win *headerWindow) reset() {
	win.blockFrom = types.BlockNumberNil
	win.blockTo = types.BlockNumberNil

	win.blockToHash = make(map[uint64]common.Hash)
}

func (win *headerWindow) Push(data *store.BlockData) error {
	win.mu.Lock()
	defer win.mu.Unlock()

	if win.size() > 0 { // validate incoming block
		if (win.blockTo + 1) != data.Number {
			return errors.Errorf(
				"incontinuous block pushed, expect %v got %v", win.blockTo+1, data.Number,
			)
		}

		latestHash, ok := win.blockToHash[win.blockTo]
		if !ok || data.ParentHash != latestHash {
			return errors.Errorf(
				"mismatched parent hash, expect %v got %v", latestHash, data.ParentHash,
			)
		}
	}

	// reclaim in case of memory blast
	for win.size() != 0 && win.size() >= win.capacity {
		delete(win.blockToHash, win.blockFrom)
		win.blockFrom++
	}

	win.blockToHash[data.Number] = data.Hash
	win.expandTo(data.Number)

	return nil
}

func (win *headerWindow) expandTo(newBlock uint64) {
	if !win.isSet() {
		win.blockFrom, win.blockTo = newBlock, newBlock
	} else if win.blockTo < newBlock {
		win.blockTo = newBlock
	}
}

func (win *headerWindow) Popn(blockUntil uint64) {
	win.mu.Lock()
	defer win.mu.Unlock()

	if win.size() == 0 || win.blockTo < blockUntil {
		return
	}

	for win.blockTo >= blockUntil {
		delete(win.blockToHash, win.blockTo)
		win.blockTo--

		if win.size() == 0 {
			win.reset()
			return
		}
	}
}

func (win *headerWindow) isSet() bool {
	return win.blockFrom != types.BlockNumberNil && win.blockTo != types.BlockNumberNil
}

func (win *headerWindow) size() uint32 {
	if !win.isSet() || win.blockFrom > win.blockTo {
		return 0
	}

	return uint32(win.blockTo - win.blockFrom + 1)
}
