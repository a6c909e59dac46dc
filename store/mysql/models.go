package mysql

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/canvasart/tracker/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var allModels = []interface{}{
	&block{},
	&event{},
	&stateDelta{},
	&project{},
	&nft{},
	&saleListing{},
	&offer{},
	&randaoCommit{},
	&marketStat{},
	&conf{},
}

// block journals every applied block so that the checkpoint and the applied
// chain lineage survive restart.
type block struct {
	ID          uint64
	BlockNumber uint64 `gorm:"not null;uniqueIndex"`
	Hash        string `gorm:"size:66;not null"`
	ParentHash  string `gorm:"size:66;not null"`
	Timestamp   uint64 `gorm:"not null"`
}

func newBlock(data *store.BlockData) *block {
	return &block{
		BlockNumber: data.Number,
		Hash:        data.Hash.Hex(),
		ParentHash:  data.ParentHash.Hex(),
		Timestamp:   data.Timestamp,
	}
}

// event journals every applied chain event. The unique identity index is the
// idempotency barrier against double application.
type event struct {
	ID          uint64
	BlockNumber uint64 `gorm:"not null;index;uniqueIndex:uidx_event_identity"`
	BlockHash   string `gorm:"size:66;not null;uniqueIndex:uidx_event_identity"`
	TxnIndex    uint64 `gorm:"not null;uniqueIndex:uidx_event_identity"`
	LogIndex    uint64 `gorm:"not null;uniqueIndex:uidx_event_identity"`
	Kind        uint8  `gorm:"not null"`
	Payload     []byte `gorm:"type:MEDIUMBLOB"`
}

func newEvent(ev *store.ChainEvent) (*event, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to marshal %v payload", ev.Kind)
	}

	return &event{
		BlockNumber: ev.ID.BlockNumber,
		BlockHash:   ev.ID.BlockHash.Hex(),
		TxnIndex:    ev.ID.TxnIndex,
		LogIndex:    ev.ID.LogIndex,
		Kind:        uint8(ev.Kind),
		Payload:     payload,
	}, nil
}

func (e *event) toChainEvent() (*store.ChainEvent, error) {
	payload, err := store.UnmarshalPayload(store.EventKind(e.Kind), e.Payload)
	if err != nil {
		return nil, err
	}

	return &store.ChainEvent{
		ID: store.EventID{
			BlockNumber: e.BlockNumber,
			BlockHash:   common.HexToHash(e.BlockHash),
			TxnIndex:    e.TxnIndex,
			LogIndex:    e.LogIndex,
		},
		Kind:    store.EventKind(e.Kind),
		Payload: payload,
	}, nil
}

// Delta op of a journaled state change, used to invert it on rollback.
const (
	deltaOpCreate uint8 = iota + 1
	deltaOpUpdate
)

// stateDelta journals the inverse image of every derived-state change so that
// reorg rollback restores state without a full replay from genesis.
type stateDelta struct {
	ID          uint64
	BlockNumber uint64 `gorm:"not null;index"`
	Entity      string `gorm:"size:32;not null"`
	Op          uint8  `gorm:"not null"`
	Key         string `gorm:"size:128;not null"`
	Before      []byte `gorm:"type:MEDIUMBLOB"` // prior row image for updates, nil for creates
}

type project struct {
	ProjectID uint64 `gorm:"primaryKey;autoIncrement:false"`
	Name      string `gorm:"size:256;not null"`
	Editions  uint64 `gorm:"not null"`
	Price     string `gorm:"type:decimal(65);not null"`
	OpenTime  uint64 `gorm:"not null"`
	ScriptURI string `gorm:"size:512"`
	Royalty   uint64 `gorm:"not null"`
	Splits    []byte `gorm:"type:text"` // JSON encoded beneficiary splits
}

func newProject(p *store.Project) *project {
	splits, _ := json.Marshal(p.Splits)

	return &project{
		ProjectID: p.ID,
		Name:      p.Name,
		Editions:  p.Editions,
		Price:     bigToDecimal(p.Price),
		OpenTime:  p.OpenTime,
		ScriptURI: p.ScriptURI,
		Royalty:   p.Royalty,
		Splits:    splits,
	}
}

func (p *project) toDomain() (*store.Project, error) {
	var splits []store.BeneficiarySplit
	if len(p.Splits) > 0 {
		if err := json.Unmarshal(p.Splits, &splits); err != nil {
			return nil, errors.WithMessagef(err, "corrupted splits of project %v", p.ProjectID)
		}
	}

	return &store.Project{
		ID:        p.ProjectID,
		Name:      p.Name,
		Editions:  p.Editions,
		Price:     decimalToBig(p.Price),
		OpenTime:  p.OpenTime,
		ScriptURI: p.ScriptURI,
		Royalty:   p.Royalty,
		Splits:    splits,
	}, nil
}

type nft struct {
	TokenID   uint64 `gorm:"primaryKey;autoIncrement:false"`
	ProjectID uint64 `gorm:"not null;index"`
	Owner     string `gorm:"size:64;not null;index"`
	Seed      string `gorm:"size:66;not null"`
	SeedFinal bool   `gorm:"not null"`
	Revealed  bool   `gorm:"not null"`
	TokenURI  string `gorm:"size:512"`
	MintedAt  uint64 `gorm:"not null"`
}

func (n *nft) toDomain() *store.NFT {
	return &store.NFT{
		TokenID:   n.TokenID,
		ProjectID: n.ProjectID,
		Owner:     common.HexToAddress(n.Owner),
		Seed:      common.HexToHash(n.Seed),
		SeedFinal: n.SeedFinal,
		Revealed:  n.Revealed,
		TokenURI:  n.TokenURI,
		MintedAt:  n.MintedAt,
	}
}

type saleListing struct {
	ListingID uint64 `gorm:"primaryKey;autoIncrement:false"`
	TokenID   uint64 `gorm:"not null;index"`
	ProjectID uint64 `gorm:"not null;index"`
	Seller    string `gorm:"size:64;not null"`
	Buyer     string `gorm:"size:64"`
	Price     string `gorm:"type:decimal(65);not null"`
	Status    uint8  `gorm:"not null;index"`
	ListedAt  uint64 `gorm:"not null"`
	ClosedAt  uint64 `gorm:"not null;default:0"`
}

func (l *saleListing) toDomain() *store.SaleListing {
	return &store.SaleListing{
		ID:        l.ListingID,
		TokenID:   l.TokenID,
		ProjectID: l.ProjectID,
		Seller:    common.HexToAddress(l.Seller),
		Buyer:     common.HexToAddress(l.Buyer),
		Price:     decimalToBig(l.Price),
		Status:    store.ListingStatus(l.Status),
		ListedAt:  l.ListedAt,
		ClosedAt:  l.ClosedAt,
	}
}

type offer struct {
	OfferID   uint64 `gorm:"primaryKey;autoIncrement:false"`
	TokenID   uint64 `gorm:"not null;index"`
	ProjectID uint64 `gorm:"not null;index"`
	Bidder    string `gorm:"size:64;not null"`
	Price     string `gorm:"type:decimal(65);not null"`
	Status    uint8  `gorm:"not null;index"`
	MadeAt    uint64 `gorm:"not null"`
	ClosedAt  uint64 `gorm:"not null;default:0"`
}

func (o *offer) toDomain() *store.Offer {
	return &store.Offer{
		ID:        o.OfferID,
		TokenID:   o.TokenID,
		ProjectID: o.ProjectID,
		Bidder:    common.HexToAddress(o.Bidder),
		Price:     decimalToBig(o.Price),
		Status:    store.OfferStatus(o.Status),
		MadeAt:    o.MadeAt,
		ClosedAt:  o.ClosedAt,
	}
}

type randaoCommit struct {
	ID          uint64
	Round       uint64 `gorm:"not null;uniqueIndex:uidx_round_participant"`
	Participant string `gorm:"size:64;not null;uniqueIndex:uidx_round_participant"`
	Commitment  string `gorm:"size:66;not null"`
	Secret      string `gorm:"size:66"`
	Revealed    bool   `gorm:"not null"`
}

func (rc *randaoCommit) toDomain() *store.RandaoCommitRecord {
	return &store.RandaoCommitRecord{
		Round:       rc.Round,
		Participant: common.HexToAddress(rc.Participant),
		Commitment:  common.HexToHash(rc.Commitment),
		Secret:      common.HexToHash(rc.Secret),
		Revealed:    rc.Revealed,
	}
}

// Market statistics scopes. Platform-wide statistics live in their own scope
// so they can never clash with a project row, project IDs being chain-assigned
// and starting at zero.
const (
	statScopeProject uint8 = iota + 1
	statScopePlatform
)

type marketStat struct {
	ID          uint64
	Scope       uint8  `gorm:"not null;uniqueIndex:uidx_scope_project"`
	ProjectID   uint64 `gorm:"not null;uniqueIndex:uidx_scope_project"`
	FloorPrice  string `gorm:"type:decimal(65)"`
	MedianPrice string `gorm:"type:decimal(65)"`
	Volume24h   string `gorm:"type:decimal(65);not null;default:0"`
	VolumeTotal string `gorm:"type:decimal(65);not null;default:0"`
	Trades24h   uint64 `gorm:"not null;default:0"`
	TradesTotal uint64 `gorm:"not null;default:0"`
	UpdatedAt   time.Time
}

func (ms *marketStat) toDomain() *store.MarketStat {
	stat := &store.MarketStat{
		ProjectID:   ms.ProjectID,
		Volume24h:   decimalToBig(ms.Volume24h),
		VolumeTotal: decimalToBig(ms.VolumeTotal),
		Trades24h:   ms.Trades24h,
		TradesTotal: ms.TradesTotal,
		UpdatedAt:   ms.UpdatedAt,
	}

	if len(ms.FloorPrice) > 0 {
		stat.FloorPrice = decimalToBig(ms.FloorPrice)
	}

	if len(ms.MedianPrice) > 0 {
		stat.MedianPrice = decimalToBig(ms.MedianPrice)
	}

	return stat
}

// conf configuration table
type conf struct {
	ID        uint32
	Name      string `gorm:"unique;size:128;not null"` // config name
	Value     string `gorm:"size:256;not null"`        // config value
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (conf) TableName() string {
	return "configs"
}

func bigToDecimal(v *big.Int) string {
	if v == nil {
		return "0"
	}

	return v.String()
}

func decimalToBig(v string) *big.Int {
	if len(v) == 0 {
		return big.NewInt(0)
	}

	b, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return big.NewInt(0)
	}

	return b
}
