package mysql

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// revertBlocks undoes all derived-state effects of blocks >= blockUntil by
// replaying the journaled inverse-image deltas in reverse application order,
// then prunes the journals of the reverted range.
func (ms *MysqlStore) revertBlocks(dbTx *gorm.DB, blockUntil uint64) error {
	var deltas []stateDelta
	err := dbTx.Where("block_number >= ?", blockUntil).Order("id DESC").Find(&deltas).Error
	if err != nil {
		return errors.WithMessage(err, "failed to load state deltas")
	}

	for i := range deltas {
		if err := revertDelta(dbTx, &deltas[i]); err != nil {
			return errors.WithMessagef(err, "failed to revert delta %v", deltas[i].ID)
		}
	}

	for _, model := range []interface{}{&stateDelta{}, &event{}, &block{}} {
		if err := dbTx.Where("block_number >= ?", blockUntil).Delete(model).Error; err != nil {
			return errors.WithMessage(err, "failed to prune journals")
		}
	}

	return nil
}

func revertDelta(dbTx *gorm.DB, delta *stateDelta) error {
	switch delta.Op {
	case deltaOpCreate:
		db, model, err := entityScope(dbTx, delta.Entity, delta.Key)
		if err != nil {
			return err
		}

		return db.Delete(model).Error
	case deltaOpUpdate:
		_, model, err := entityScope(dbTx, delta.Entity, delta.Key)
		if err != nil {
			return err
		}

		if err := json.Unmarshal(delta.Before, model); err != nil {
			return errors.WithMessagef(err, "corrupted %v before image", delta.Entity)
		}

		return dbTx.Save(model).Error
	default:
		return errors.Errorf("unknown delta op %v", delta.Op)
	}
}

// entityScope resolves a delta entity tag to its model type and the db scope
// selecting the delta key.
func entityScope(dbTx *gorm.DB, entity, key string) (*gorm.DB, interface{}, error) {
	switch entity {
	case entityProject:
		return dbTx.Where("project_id = ?", key), &project{}, nil
	case entityNFT:
		return dbTx.Where("token_id = ?", key), &nft{}, nil
	case entityListing:
		return dbTx.Where("listing_id = ?", key), &saleListing{}, nil
	case entityOffer:
		return dbTx.Where("offer_id = ?", key), &offer{}, nil
	case entityRandaoCommit:
		round, participant, ok := strings.Cut(key, ":")
		if !ok {
			return nil, nil, errors.Errorf("malformed randao commit key %q", key)
		}

		return dbTx.Where("round = ? AND participant = ?", round, participant), &randaoCommit{}, nil
	default:
		return nil, nil, errors.Errorf("unknown delta entity %q", entity)
	}
}
