package store

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Checkpoint records the last applied block. It advances atomically with the
// derived state changes of the block it represents.
type Checkpoint struct {
	BlockNumber uint64
	BlockHash   common.Hash
}

// BeneficiarySplit is one (address, percentage) revenue share of a project.
type BeneficiarySplit struct {
	Address    common.Address `json:"address"`
	Percentage uint64         `json:"percentage"`
}

// Project is the derived record of a generative art project. Projects are
// never deleted, only updated.
type Project struct {
	ID        uint64
	Name      string
	Editions  uint64 // remaining mintable editions
	Price     *big.Int
	OpenTime  uint64 // unix seconds after which minting is allowed
	ScriptURI string
	Royalty   uint64
	Splits    []BeneficiarySplit
}

// NFT is the derived record of a minted token.
type NFT struct {
	TokenID   uint64
	ProjectID uint64
	Owner     common.Address
	Seed      common.Hash
	SeedFinal bool // false if derived from a not-yet-finalized randao round
	Revealed  bool
	TokenURI  string
	MintedAt  uint64 // block timestamp of the mint
}

// Sale listing / offer status enums. Transitions are one-way.
type ListingStatus uint8

const (
	ListingOpen ListingStatus = iota
	ListingCancelled
	ListingFilled
)

func (s ListingStatus) String() string {
	switch s {
	case ListingOpen:
		return "Open"
	case ListingCancelled:
		return "Cancelled"
	case ListingFilled:
		return "Filled"
	default:
		return "Invalid"
	}
}

type OfferStatus uint8

const (
	OfferOpen OfferStatus = iota
	OfferStatusCancelled
	OfferStatusAccepted
)

func (s OfferStatus) String() string {
	switch s {
	case OfferOpen:
		return "Open"
	case OfferStatusCancelled:
		return "Cancelled"
	case OfferStatusAccepted:
		return "Accepted"
	default:
		return "Invalid"
	}
}

type SaleListing struct {
	ID        uint64
	TokenID   uint64
	ProjectID uint64 // denormalized from the token for per-project stats
	Seller    common.Address
	Buyer     common.Address // zero until filled
	Price     *big.Int
	Status    ListingStatus
	ListedAt  uint64 // block timestamp
	ClosedAt  uint64 // block timestamp of fill/cancel, zero while open
}

type Offer struct {
	ID        uint64
	TokenID   uint64
	ProjectID uint64
	Bidder    common.Address
	Price     *big.Int
	Status    OfferStatus
	MadeAt    uint64
	ClosedAt  uint64
}

// MarketStat is a rolling aggregate view over applied sale events, recomputed
// as a pure function of the records in scope. The platform-wide aggregate is
// a scope of its own with ProjectID zeroed.
type MarketStat struct {
	ProjectID   uint64
	FloorPrice  *big.Int // min open or filled listing price, nil if neither yet
	MedianPrice *big.Int // median filled price, nil if no fill yet
	Volume24h   *big.Int
	VolumeTotal *big.Int
	Trades24h   uint64
	TradesTotal uint64
	UpdatedAt   time.Time
}

// RandaoCommitRecord is the persisted per-participant commit state of a round.
type RandaoCommitRecord struct {
	Round       uint64
	Participant common.Address
	Commitment  common.Hash
	Secret      common.Hash // zero until revealed
	Revealed    bool
}
