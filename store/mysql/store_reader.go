package mysql

import (
	"github.com/canvasart/tracker/store"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

func (ms *MysqlStore) GetProject(projectID uint64) (*store.Project, bool, error) {
	var record project
	ok, err := ms.first(&record, "project_id = ?", projectID)
	if err != nil || !ok {
		return nil, false, err
	}

	res, err := record.toDomain()
	if err != nil {
		return nil, false, err
	}

	return res, true, nil
}

func (ms *MysqlStore) GetNFT(tokenID uint64) (*store.NFT, bool, error) {
	var record nft
	ok, err := ms.first(&record, "token_id = ?", tokenID)
	if err != nil || !ok {
		return nil, false, err
	}

	return record.toDomain(), true, nil
}

func (ms *MysqlStore) ListProjectNFTs(projectID uint64, offset, limit int) ([]*store.NFT, error) {
	var records []nft
	err := ms.db.Where("project_id = ?", projectID).
		Order("token_id ASC").Offset(offset).Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	res := make([]*store.NFT, 0, len(records))
	for i := range records {
		res = append(res, records[i].toDomain())
	}

	return res, nil
}

func (ms *MysqlStore) GetListing(listingID uint64) (*store.SaleListing, bool, error) {
	var record saleListing
	ok, err := ms.first(&record, "listing_id = ?", listingID)
	if err != nil || !ok {
		return nil, false, err
	}

	return record.toDomain(), true, nil
}

func (ms *MysqlStore) GetOffer(offerID uint64) (*store.Offer, bool, error) {
	var record offer
	ok, err := ms.first(&record, "offer_id = ?", offerID)
	if err != nil || !ok {
		return nil, false, err
	}

	return record.toDomain(), true, nil
}

func (ms *MysqlStore) GetMarketStat(projectID uint64) (*store.MarketStat, bool, error) {
	var record marketStat
	ok, err := ms.first(&record, "scope = ? AND project_id = ?", statScopeProject, projectID)
	if err != nil || !ok {
		return nil, false, err
	}

	return record.toDomain(), true, nil
}

// GetPlatformStat returns the platform-wide market statistics aggregated
// across all projects.
func (ms *MysqlStore) GetPlatformStat() (*store.MarketStat, bool, error) {
	var record marketStat
	ok, err := ms.first(&record, "scope = ?", statScopePlatform)
	if err != nil || !ok {
		return nil, false, err
	}

	return record.toDomain(), true, nil
}

// GetBlockEvents returns the journaled chain events of a block in application
// order, decoded back into their typed payloads.
func (ms *MysqlStore) GetBlockEvents(blockNumber uint64) ([]*store.ChainEvent, error) {
	var records []event
	err := ms.db.Where("block_number = ?", blockNumber).
		Order("txn_index ASC, log_index ASC").Find(&records).Error
	if err != nil {
		return nil, err
	}

	res := make([]*store.ChainEvent, 0, len(records))
	for i := range records {
		ev, err := records[i].toChainEvent()
		if err != nil {
			return nil, err
		}

		res = append(res, ev)
	}

	return res, nil
}

func (ms *MysqlStore) GetRandaoRound(round uint64) ([]*store.RandaoCommitRecord, error) {
	var records []randaoCommit
	err := ms.db.Where("round = ?", round).Order("id ASC").Find(&records).Error
	if err != nil {
		return nil, err
	}

	res := make([]*store.RandaoCommitRecord, 0, len(records))
	for i := range records {
		res = append(res, records[i].toDomain())
	}

	return res, nil
}

func (ms *MysqlStore) first(modelPtr interface{}, whereQuery string, args ...interface{}) (bool, error) {
	err := ms.db.Where(whereQuery, args...).First(modelPtr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}
