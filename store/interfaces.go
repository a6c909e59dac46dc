package store

// Reader is the read-only query surface over derived state, consumed by the
// outer API layer. Readers always observe the latest committed snapshot and
// never a partially applied block.
type Reader interface {
	LatestCheckpoint() (Checkpoint, bool, error)

	GetProject(projectID uint64) (*Project, bool, error)
	GetNFT(tokenID uint64) (*NFT, bool, error)
	ListProjectNFTs(projectID uint64, offset, limit int) ([]*NFT, error)
	GetListing(listingID uint64) (*SaleListing, bool, error)
	GetOffer(offerID uint64) (*Offer, bool, error)
	GetMarketStat(projectID uint64) (*MarketStat, bool, error)
	GetPlatformStat() (*MarketStat, bool, error)

	GetRandaoRound(round uint64) ([]*RandaoCommitRecord, error)
	GetBlockEvents(blockNumber uint64) ([]*ChainEvent, error)
}

// Store is implemented by the durable derived-state store. Pushn and Popn are
// the only mutators; each call is an all-or-nothing commit that keeps the
// checkpoint consistent with derived state.
type Store interface {
	Reader

	// Pushn applies the events of the given blocks, in ascending block order,
	// within one transaction, and advances the checkpoint to the last block.
	Pushn(dataSlice []*BlockData) error

	// Popn reverts all applied state of blocks >= blockUntil, in reverse
	// application order, and rewinds the checkpoint to blockUntil-1.
	Popn(blockUntil uint64) error

	Close() error
}
