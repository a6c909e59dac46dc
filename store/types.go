package store

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var (
	// custom errors
	ErrNotFound                = errors.New("not found")
	ErrChainReorged            = errors.New("chain re-orged")
	ErrContinuousBlockRequired = errors.New("continuous block required")
	ErrAncestorNotFound        = errors.New("common ancestor not found within lookback window")
	ErrSchemaMismatch          = errors.New("event schema mismatch")
)

// EventKind tags the domain meaning of a decoded chain event.
type EventKind uint8

const (
	EventKindUnknown EventKind = iota
	EventProjectCreated
	EventProjectUpdated
	EventNFTMinted
	EventNFTRevealed
	EventNFTTransferred
	EventSaleListed
	EventSaleCancelled
	EventSaleFilled
	EventOfferMade
	EventOfferCancelled
	EventOfferAccepted
	EventRandaoCommitted
	EventRandaoRevealed
)

var eventKindNames = map[EventKind]string{
	EventKindUnknown:     "Unknown",
	EventProjectCreated:  "ProjectCreated",
	EventProjectUpdated:  "ProjectUpdated",
	EventNFTMinted:       "NFTMinted",
	EventNFTRevealed:     "NFTRevealed",
	EventNFTTransferred:  "NFTTransferred",
	EventSaleListed:      "SaleListed",
	EventSaleCancelled:   "SaleCancelled",
	EventSaleFilled:      "SaleFilled",
	EventOfferMade:       "OfferMade",
	EventOfferCancelled:  "OfferCancelled",
	EventOfferAccepted:   "OfferAccepted",
	EventRandaoCommitted: "RandaoCommitted",
	EventRandaoRevealed:  "RandaoRevealed",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// EventID is the unique identity of a chain event and serves as the
// idempotency key for event application.
type EventID struct {
	BlockNumber uint64
	BlockHash   common.Hash
	TxnIndex    uint64
	LogIndex    uint64
}

func (id EventID) String() string {
	return fmt.Sprintf("%v:%v:%v:%v", id.BlockNumber, id.BlockHash, id.TxnIndex, id.LogIndex)
}

// ChainEvent is an immutable decoded fact extracted from an event log.
type ChainEvent struct {
	ID      EventID
	Kind    EventKind
	Payload interface{}
}

// Event payloads, one concrete struct per event kind.

type ProjectCreated struct {
	ProjectID     uint64
	Name          string
	Editions      uint64
	Price         *big.Int
	OpenTime      uint64
	ScriptURI     string
	Royalty       uint64 // percentage, 0..100
	Beneficiaries []common.Address
	Shares        []uint64 // percentage per beneficiary, must sum to 100
}

type ProjectUpdated struct {
	ProjectID uint64
	Name      string
	Price     *big.Int
	OpenTime  uint64
	ScriptURI string
	Royalty   uint64
}

type NFTMinted struct {
	ProjectID   uint64
	TokenID     uint64
	Minter      common.Address
	Payment     *big.Int
	RandaoRound uint64
}

type NFTRevealed struct {
	TokenID  uint64
	TokenURI string
}

type NFTTransferred struct {
	TokenID uint64
	From    common.Address
	To      common.Address
}

type SaleListed struct {
	ListingID uint64
	TokenID   uint64
	Seller    common.Address
	Price     *big.Int
}

type SaleCancelled struct {
	ListingID uint64
}

type SaleFilled struct {
	ListingID uint64
	Buyer     common.Address
	Price     *big.Int
}

type OfferMade struct {
	OfferID uint64
	TokenID uint64
	Bidder  common.Address
	Price   *big.Int
}

type OfferCancelled struct {
	OfferID uint64
}

type OfferAccepted struct {
	OfferID uint64
}

type RandaoCommitted struct {
	Round       uint64
	Participant common.Address
	Commitment  common.Hash
}

type RandaoRevealed struct {
	Round       uint64
	Participant common.Address
	Secret      common.Hash
}

// NewPayload creates an empty payload value for the specified event kind, used
// to unmarshal journaled events back into typed form.
func NewPayload(kind EventKind) (interface{}, error) {
	switch kind {
	case EventProjectCreated:
		return &ProjectCreated{}, nil
	case EventProjectUpdated:
		return &ProjectUpdated{}, nil
	case EventNFTMinted:
		return &NFTMinted{}, nil
	case EventNFTRevealed:
		return &NFTRevealed{}, nil
	case EventNFTTransferred:
		return &NFTTransferred{}, nil
	case EventSaleListed:
		return &SaleListed{}, nil
	case EventSaleCancelled:
		return &SaleCancelled{}, nil
	case EventSaleFilled:
		return &SaleFilled{}, nil
	case EventOfferMade:
		return &OfferMade{}, nil
	case EventOfferCancelled:
		return &OfferCancelled{}, nil
	case EventOfferAccepted:
		return &OfferAccepted{}, nil
	case EventRandaoCommitted:
		return &RandaoCommitted{}, nil
	case EventRandaoRevealed:
		return &RandaoRevealed{}, nil
	default:
		return nil, errors.Errorf("no payload type for event kind %v", kind)
	}
}

// UnmarshalPayload decodes a journaled JSON payload into its typed form.
func UnmarshalPayload(kind EventKind, data []byte) (interface{}, error) {
	payload, err := NewPayload(kind)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, payload); err != nil {
		return nil, errors.WithMessagef(err, "failed to unmarshal %v payload", kind)
	}

	return payload, nil
}
