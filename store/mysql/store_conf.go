package mysql

import (
	"strconv"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// reorg version config key, bumped on every pop so that downstream consumers
// can detect a rollback happened
const confNameReorgVersion = "reorg.version"

// confStore stores misc key-value configurations of the tracker.
type confStore struct {
	db *gorm.DB
}

func newConfStore(db *gorm.DB) *confStore {
	return &confStore{db: db}
}

// GetReorgVersion returns the current reorg version, zero if no reorg ever
// happened.
func (cs *confStore) GetReorgVersion() (int, error) {
	var result conf
	exists, err := cs.exists(&result, "name = ?", confNameReorgVersion)
	if err != nil {
		return 0, err
	}

	if !exists {
		return 0, nil
	}

	return strconv.Atoi(result.Value)
}

// thread unsafe, must be called within a db transaction
func (cs *confStore) createOrUpdateReorgVersion(dbTx *gorm.DB) error {
	var result conf
	exists, err := cs.exists(&result, "name = ?", confNameReorgVersion)
	if err != nil {
		return err
	}

	version := 1
	if exists {
		oldVersion, err := strconv.Atoi(result.Value)
		if err != nil {
			return errors.WithMessage(err, "corrupted reorg version")
		}

		version = oldVersion + 1
	}

	return dbTx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&conf{
		Name:  confNameReorgVersion,
		Value: strconv.Itoa(version),
	}).Error
}

func (cs *confStore) exists(modelPtr interface{}, whereQuery string, args ...interface{}) (bool, error) {
	err := cs.db.Where(whereQuery, args...).First(modelPtr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}

		return false, errors.WithMessage(err, "failed to query db")
	}

	return true, nil
}
