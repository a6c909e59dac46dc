package mysql

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/canvasart/tracker/randao"
	"github.com/canvasart/tracker/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	minter = common.HexToAddress("0x1111111111111111111111111111111111111111")
	buyer  = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func newTestStore(t *testing.T) *MysqlStore {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	assert.NoError(t, err)

	// in-memory sqlite db vanishes with its connection
	sqlDb, err := db.DB()
	assert.NoError(t, err)
	sqlDb.SetMaxOpenConns(1)

	assert.NoError(t, db.AutoMigrate(allModels...))

	ms, err := newStore(db, randao.NewEngine(&randao.Config{}))
	assert.NoError(t, err)

	return ms
}

// reopenTestStore simulates a restart over an already populated database.
func reopenTestStore(t *testing.T, ms *MysqlStore) *MysqlStore {
	reopened, err := newStore(ms.db, randao.NewEngine(&randao.Config{}))
	assert.NoError(t, err)

	return reopened
}

func makeBlock(number uint64, parent common.Hash, timestamp uint64) *store.BlockData {
	return &store.BlockData{
		Number:     number,
		Hash:       crypto.Keccak256Hash(parent.Bytes(), []byte(fmt.Sprintf("block-%v", number))),
		ParentHash: parent,
		Timestamp:  timestamp,
	}
}

func addEvent(blk *store.BlockData, kind store.EventKind, payload interface{}) {
	blk.Events = append(blk.Events, store.ChainEvent{
		ID: store.EventID{
			BlockNumber: blk.Number,
			BlockHash:   blk.Hash,
			TxnIndex:    0,
			LogIndex:    uint64(len(blk.Events)),
		},
		Kind:    kind,
		Payload: payload,
	})
}

func projectCreated(projectID uint64) *store.ProjectCreated {
	return &store.ProjectCreated{
		ProjectID:     projectID,
		Name:          "chromie",
		Editions:      3,
		Price:         big.NewInt(1000),
		OpenTime:      100,
		ScriptURI:     "ipfs://script",
		Royalty:       5,
		Beneficiaries: []common.Address{minter},
		Shares:        []uint64{100},
	}
}

func mint(projectID, tokenID uint64) *store.NFTMinted {
	return &store.NFTMinted{
		ProjectID: projectID,
		TokenID:   tokenID,
		Minter:    minter,
		Payment:   big.NewInt(1000),
	}
}

func TestPushProjectLifecycle(t *testing.T) {
	ms := newTestStore(t)

	blk1 := makeBlock(1, common.Hash{}, 100)
	addEvent(blk1, store.EventProjectCreated, projectCreated(7))

	assert.NoError(t, ms.Pushn([]*store.BlockData{blk1}))

	proj, ok, err := ms.GetProject(7)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), proj.Editions)
	assert.Equal(t, big.NewInt(1000), proj.Price)
	assert.Equal(t, []store.BeneficiarySplit{{Address: minter, Percentage: 100}}, proj.Splits)

	cp, ok, err := ms.LatestCheckpoint()
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, store.Checkpoint{BlockNumber: 1, BlockHash: blk1.Hash}, cp)

	blk2 := makeBlock(2, blk1.Hash, 110)
	addEvent(blk2, store.EventNFTMinted, mint(7, 101))
	addEvent(blk2, store.EventProjectUpdated, &store.ProjectUpdated{
		ProjectID: 7, Name: "chromie v2", Price: big.NewInt(2000), OpenTime: 100,
	})

	assert.NoError(t, ms.Pushn([]*store.BlockData{blk2}))

	proj, _, err = ms.GetProject(7)
	assert.NoError(t, err)
	assert.Equal(t, "chromie v2", proj.Name)
	assert.Equal(t, big.NewInt(2000), proj.Price)
	assert.Equal(t, uint64(2), proj.Editions) // one edition consumed by the mint

	token, ok, err := ms.GetNFT(101)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, minter, token.Owner)
	assert.False(t, token.Revealed)
	assert.False(t, token.SeedFinal) // no randao round finalized yet
	assert.NotEqual(t, common.Hash{}, token.Seed)

	tokens, err := ms.ListProjectNFTs(7, 0, 10)
	assert.NoError(t, err)
	assert.Len(t, tokens, 1)
}

func TestPushContinuity(t *testing.T) {
	ms := newTestStore(t)

	blk1 := makeBlock(1, common.Hash{}, 100)
	assert.NoError(t, ms.Pushn([]*store.BlockData{blk1}))

	// parent hash mismatch
	forked := makeBlock(2, common.HexToHash("0xdead"), 110)
	assert.ErrorIs(t, ms.Pushn([]*store.BlockData{forked}), store.ErrContinuousBlockRequired)

	// block number gap
	gapped := makeBlock(3, blk1.Hash, 110)
	assert.ErrorIs(t, ms.Pushn([]*store.BlockData{gapped}), store.ErrContinuousBlockRequired)

	// incontinuous batch
	blk2 := makeBlock(2, blk1.Hash, 110)
	blk4 := makeBlock(4, blk2.Hash, 120)
	assert.ErrorIs(t, ms.Pushn([]*store.BlockData{blk2, blk4}), store.ErrContinuousBlockRequired)
}

func TestApplyIdempotence(t *testing.T) {
	ms := newTestStore(t)

	blk1 := makeBlock(1, common.Hash{}, 100)
	addEvent(blk1, store.EventProjectCreated, projectCreated(7))
	addEvent(blk1, store.EventNFTMinted, mint(7, 101))

	// duplicate delivery of the mint within the same batch
	blk1.Events = append(blk1.Events, blk1.Events[1])

	assert.NoError(t, ms.Pushn([]*store.BlockData{blk1}))

	proj, _, err := ms.GetProject(7)
	assert.NoError(t, err)
	assert.Equal(t, uint64(2), proj.Editions) // consumed exactly once

	var journaled int64
	assert.NoError(t, ms.db.Model(&event{}).Count(&journaled).Error)
	assert.Equal(t, int64(2), journaled)
}

func TestGetBlockEvents(t *testing.T) {
	ms := newTestStore(t)

	blk1 := makeBlock(1, common.Hash{}, 100)
	addEvent(blk1, store.EventProjectCreated, projectCreated(7))
	addEvent(blk1, store.EventNFTMinted, mint(7, 101))

	assert.NoError(t, ms.Pushn([]*store.BlockData{blk1}))

	events, err := ms.GetBlockEvents(1)
	assert.NoError(t, err)
	assert.Len(t, events, 2)

	assert.Equal(t, store.EventProjectCreated, events[0].Kind)
	assert.Equal(t, blk1.Events[0].ID, events[0].ID)

	created, ok := events[0].Payload.(*store.ProjectCreated)
	assert.True(t, ok)
	assert.Equal(t, uint64(7), created.ProjectID)
	assert.Equal(t, big.NewInt(1000), created.Price)
	assert.Equal(t, []common.Address{minter}, created.Beneficiaries)

	minted, ok := events[1].Payload.(*store.NFTMinted)
	assert.True(t, ok)
	assert.Equal(t, uint64(101), minted.TokenID)
	assert.Equal(t, minter, minted.Minter)

	events, err = ms.GetBlockEvents(2)
	assert.NoError(t, err)
	assert.Empty(t, events)
}

func TestApplyAnomalies(t *testing.T) {
	ms := newTestStore(t)

	blk1 := makeBlock(1, common.Hash{}, 100)
	addEvent(blk1, store.EventProjectCreated, projectCreated(7))

	// underpaid mint
	underpaid := mint(7, 103)
	underpaid.Payment = big.NewInt(1)
	addEvent(blk1, store.EventNFTMinted, underpaid)

	// mint against an unknown project
	addEvent(blk1, store.EventNFTMinted, mint(99, 104))

	// transfer of a never minted token
	addEvent(blk1, store.EventNFTTransferred, &store.NFTTransferred{
		TokenID: 105, From: minter, To: buyer,
	})

	// invalid splits, shares do not sum to 100
	badSplits := projectCreated(8)
	badSplits.Shares = []uint64{40}
	addEvent(blk1, store.EventProjectCreated, badSplits)

	// no beneficiaries at all, the split sum is zero
	emptySplits := projectCreated(9)
	emptySplits.Beneficiaries = nil
	emptySplits.Shares = nil
	addEvent(blk1, store.EventProjectCreated, emptySplits)

	assert.NoError(t, ms.Pushn([]*store.BlockData{blk1}))

	for _, tokenID := range []uint64{103, 104, 105} {
		_, ok, err := ms.GetNFT(tokenID)
		assert.NoError(t, err)
		assert.False(t, ok)
	}

	for _, projectID := range []uint64{8, 9} {
		_, ok, err := ms.GetProject(projectID)
		assert.NoError(t, err)
		assert.False(t, ok)
	}

	proj, _, err := ms.GetProject(7)
	assert.NoError(t, err)
	assert.Equal(t, uint64(3), proj.Editions) // nothing consumed
}

func TestMintBeforeOpenTime(t *testing.T) {
	ms := newTestStore(t)

	blk1 := makeBlock(1, common.Hash{}, 50) // before project open time 100
	addEvent(blk1, store.EventProjectCreated, projectCreated(7))
	addEvent(blk1, store.EventNFTMinted, mint(7, 101))

	assert.NoError(t, ms.Pushn([]*store.BlockData{blk1}))

	_, ok, err := ms.GetNFT(101)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestRevealOnceOnly(t *testing.T) {
	ms := newTestStore(t)

	blk1 := makeBlock(1, common.Hash{}, 100)
	addEvent(blk1, store.EventProjectCreated, projectCreated(7))
	addEvent(blk1, store.EventNFTMinted, mint(7, 101))
	addEvent(blk1, store.EventNFTRevealed, &store.NFTRevealed{TokenID: 101, TokenURI: "ipfs://a"})
	// conflicting second reveal is dropped
	addEvent(blk1, store.EventNFTRevealed, &store.NFTRevealed{TokenID: 101, TokenURI: "ipfs://b"})

	assert.NoError(t, ms.Pushn([]*store.BlockData{blk1}))

	token, _, err := ms.GetNFT(101)
	assert.NoError(t, err)
	assert.True(t, token.Revealed)
	assert.Equal(t, "ipfs://a", token.TokenURI)
}

func TestSaleAndOfferTransitions(t *testing.T) {
	ms := newTestStore(t)

	blk1 := makeBlock(1, common.Hash{}, 100)
	addEvent(blk1, store.EventProjectCreated, projectCreated(7))
	addEvent(blk1, store.EventNFTMinted, mint(7, 101))
	addEvent(blk1, store.EventSaleListed, &store.SaleListed{
		ListingID: 1, TokenID: 101, Seller: minter, Price: big.NewInt(5000),
	})

	assert.NoError(t, ms.Pushn([]*store.BlockData{blk1}))

	blk2 := makeBlock(2, blk1.Hash, 110)
	addEvent(blk2, store.EventSaleFilled, &store.SaleFilled{
		ListingID: 1, Buyer: buyer, Price: big.NewInt(5000),
	})
	// transitions are one-way, cancelling a filled listing is an anomaly
	addEvent(blk2, store.EventSaleCancelled, &store.SaleCancelled{ListingID: 1})

	assert.NoError(t, ms.Pushn([]*store.BlockData{blk2}))

	listing, ok, err := ms.GetListing(1)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, store.ListingFilled, listing.Status)
	assert.Equal(t, buyer, listing.Buyer)
	assert.Equal(t, uint64(110), listing.ClosedAt)
	assert.Equal(t, uint64(7), listing.ProjectID)

	blk3 := makeBlock(3, blk2.Hash, 120)
	addEvent(blk3, store.EventOfferMade, &store.OfferMade{
		OfferID: 11, TokenID: 101, Bidder: buyer, Price: big.NewInt(6000),
	})
	addEvent(blk3, store.EventOfferAccepted, &store.OfferAccepted{OfferID: 11})
	addEvent(blk3, store.EventOfferCancelled, &store.OfferCancelled{OfferID: 11})

	assert.NoError(t, ms.Pushn([]*store.BlockData{blk3}))

	offer, ok, err := ms.GetOffer(11)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, store.OfferStatusAccepted, offer.Status)

	stat, ok, err := ms.GetMarketStat(7)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(2), stat.TradesTotal)
	assert.Equal(t, big.NewInt(11000), stat.VolumeTotal)

	// platform wide scope covers the same trades
	platform, ok, err := ms.GetPlatformStat()
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(2), platform.TradesTotal)
}

func TestMarketStatProjectZeroScope(t *testing.T) {
	ms := newTestStore(t)

	blk1 := makeBlock(1, common.Hash{}, 100)
	addEvent(blk1, store.EventProjectCreated, projectCreated(0))
	addEvent(blk1, store.EventProjectCreated, projectCreated(7))
	addEvent(blk1, store.EventNFTMinted, mint(0, 101))
	addEvent(blk1, store.EventNFTMinted, mint(7, 102))
	addEvent(blk1, store.EventSaleListed, &store.SaleListed{
		ListingID: 1, TokenID: 101, Seller: minter, Price: big.NewInt(5000),
	})
	addEvent(blk1, store.EventSaleListed, &store.SaleListed{
		ListingID: 2, TokenID: 102, Seller: minter, Price: big.NewInt(9000),
	})

	assert.NoError(t, ms.Pushn([]*store.BlockData{blk1}))

	blk2 := makeBlock(2, blk1.Hash, 110)
	addEvent(blk2, store.EventSaleFilled, &store.SaleFilled{
		ListingID: 2, Buyer: buyer, Price: big.NewInt(9000),
	})

	assert.NoError(t, ms.Pushn([]*store.BlockData{blk2}))

	// project id zero keeps its own statistics row, never shadowed by the
	// platform wide aggregate
	stat, ok, err := ms.GetMarketStat(0)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(0), stat.TradesTotal)
	assert.Equal(t, big.NewInt(5000), stat.FloorPrice)

	platform, ok, err := ms.GetPlatformStat()
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), platform.TradesTotal)
	assert.Equal(t, big.NewInt(9000), platform.VolumeTotal)
	assert.Equal(t, big.NewInt(5000), platform.FloorPrice)
}

func TestPopnRevertsDerivedState(t *testing.T) {
	ms := newTestStore(t)

	blk1 := makeBlock(1, common.Hash{}, 100)
	addEvent(blk1, store.EventProjectCreated, projectCreated(7))
	addEvent(blk1, store.EventNFTMinted, mint(7, 101))

	assert.NoError(t, ms.Pushn([]*store.BlockData{blk1}))

	blk2 := makeBlock(2, blk1.Hash, 110)
	addEvent(blk2, store.EventNFTMinted, mint(7, 102))
	addEvent(blk2, store.EventSaleListed, &store.SaleListed{
		ListingID: 1, TokenID: 101, Seller: minter, Price: big.NewInt(5000),
	})
	addEvent(blk2, store.EventNFTRevealed, &store.NFTRevealed{TokenID: 101, TokenURI: "ipfs://a"})

	assert.NoError(t, ms.Pushn([]*store.BlockData{blk2}))
	assert.NoError(t, ms.Popn(2))

	// checkpoint rewound to block 1
	cp, ok, err := ms.LatestCheckpoint()
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, store.Checkpoint{BlockNumber: 1, BlockHash: blk1.Hash}, cp)

	// created records of block 2 are gone
	_, ok, err = ms.GetNFT(102)
	assert.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = ms.GetListing(1)
	assert.NoError(t, err)
	assert.False(t, ok)

	// updated records of block 2 are restored
	token, _, err := ms.GetNFT(101)
	assert.NoError(t, err)
	assert.False(t, token.Revealed)
	assert.Empty(t, token.TokenURI)

	proj, _, err := ms.GetProject(7)
	assert.NoError(t, err)
	assert.Equal(t, uint64(2), proj.Editions) // only the block 1 mint remains

	// reorg version bumped
	version, err := ms.GetReorgVersion()
	assert.NoError(t, err)
	assert.Equal(t, 1, version)

	// popping an empty range is a no-op
	assert.NoError(t, ms.Popn(5))
}

func TestPopnReplayEquivalence(t *testing.T) {
	buildBlocks := func() []*store.BlockData {
		blk1 := makeBlock(1, common.Hash{}, 100)
		addEvent(blk1, store.EventProjectCreated, projectCreated(7))

		blk2 := makeBlock(2, blk1.Hash, 110)
		addEvent(blk2, store.EventNFTMinted, mint(7, 101))
		addEvent(blk2, store.EventSaleListed, &store.SaleListed{
			ListingID: 1, TokenID: 101, Seller: minter, Price: big.NewInt(5000),
		})

		blk3 := makeBlock(3, blk2.Hash, 120)
		addEvent(blk3, store.EventSaleFilled, &store.SaleFilled{
			ListingID: 1, Buyer: buyer, Price: big.NewInt(5000),
		})

		return []*store.BlockData{blk1, blk2, blk3}
	}

	straight := newTestStore(t)
	assert.NoError(t, straight.Pushn(buildBlocks()))

	// pop the tip block and re-apply the identical block data
	replayed := newTestStore(t)
	blocks := buildBlocks()
	assert.NoError(t, replayed.Pushn(blocks))
	assert.NoError(t, replayed.Popn(3))
	assert.NoError(t, replayed.Pushn(blocks[2:]))

	for _, ms := range []*MysqlStore{straight, replayed} {
		listing, ok, err := ms.GetListing(1)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, store.ListingFilled, listing.Status)

		stat, ok, err := ms.GetMarketStat(7)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, uint64(1), stat.TradesTotal)
		assert.Equal(t, big.NewInt(5000), stat.VolumeTotal)

		cp, _, err := ms.LatestCheckpoint()
		assert.NoError(t, err)
		assert.Equal(t, uint64(3), cp.BlockNumber)
	}

	wantNFT, _, err := straight.GetNFT(101)
	assert.NoError(t, err)
	gotNFT, _, err := replayed.GetNFT(101)
	assert.NoError(t, err)
	assert.Equal(t, wantNFT, gotNFT)
}

func TestPopnDivergentReorgEquivalence(t *testing.T) {
	// same block number and parent but a different identity, for the branch
	// replacing the reverted one
	forkBlock := func(number uint64, parent common.Hash, timestamp uint64) *store.BlockData {
		return &store.BlockData{
			Number:     number,
			Hash:       crypto.Keccak256Hash(parent.Bytes(), []byte(fmt.Sprintf("fork-%v", number))),
			ParentHash: parent,
			Timestamp:  timestamp,
		}
	}

	secretA := common.HexToHash("0x0a")
	secretB := common.HexToHash("0x0b")

	blk1 := makeBlock(1, common.Hash{}, 100)
	addEvent(blk1, store.EventProjectCreated, projectCreated(7))

	// branch A, reverted later
	blk2A := makeBlock(2, blk1.Hash, 110)
	addEvent(blk2A, store.EventNFTMinted, mint(7, 101))
	addEvent(blk2A, store.EventSaleListed, &store.SaleListed{
		ListingID: 1, TokenID: 101, Seller: minter, Price: big.NewInt(5000),
	})
	addEvent(blk2A, store.EventRandaoCommitted, &store.RandaoCommitted{
		Round: 1, Participant: minter, Commitment: crypto.Keccak256Hash(secretA.Bytes()),
	})

	blk3A := makeBlock(3, blk2A.Hash, 120)
	addEvent(blk3A, store.EventSaleFilled, &store.SaleFilled{
		ListingID: 1, Buyer: buyer, Price: big.NewInt(5000),
	})
	addEvent(blk3A, store.EventNFTRevealed, &store.NFTRevealed{TokenID: 101, TokenURI: "ipfs://a"})
	addEvent(blk3A, store.EventRandaoRevealed, &store.RandaoRevealed{
		Round: 1, Participant: minter, Secret: secretA,
	})

	// branch B, replacing branch A with different events
	blk2B := forkBlock(2, blk1.Hash, 111)
	addEvent(blk2B, store.EventNFTMinted, mint(7, 102))
	addEvent(blk2B, store.EventSaleListed, &store.SaleListed{
		ListingID: 2, TokenID: 102, Seller: minter, Price: big.NewInt(7000),
	})
	addEvent(blk2B, store.EventRandaoCommitted, &store.RandaoCommitted{
		Round: 1, Participant: buyer, Commitment: crypto.Keccak256Hash(secretB.Bytes()),
	})

	blk3B := forkBlock(3, blk2B.Hash, 121)
	addEvent(blk3B, store.EventSaleFilled, &store.SaleFilled{
		ListingID: 2, Buyer: buyer, Price: big.NewInt(7000),
	})
	addEvent(blk3B, store.EventRandaoRevealed, &store.RandaoRevealed{
		Round: 1, Participant: buyer, Secret: secretB,
	})

	// apply branch A, revert it, then apply branch B in its place
	reorged := newTestStore(t)
	assert.NoError(t, reorged.Pushn([]*store.BlockData{blk1, blk2A, blk3A}))
	assert.NoError(t, reorged.Popn(2))
	assert.NoError(t, reorged.Pushn([]*store.BlockData{blk2B, blk3B}))

	// a fresh store that only ever saw branch B
	direct := newTestStore(t)
	assert.NoError(t, direct.Pushn([]*store.BlockData{blk1, blk2B, blk3B}))

	for _, ms := range []*MysqlStore{reorged, direct} {
		// branch A records left no trace
		_, ok, err := ms.GetNFT(101)
		assert.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = ms.GetListing(1)
		assert.NoError(t, err)
		assert.False(t, ok)

		cp, _, err := ms.LatestCheckpoint()
		assert.NoError(t, err)
		assert.Equal(t, store.Checkpoint{BlockNumber: 3, BlockHash: blk3B.Hash}, cp)
	}

	wantProj, _, err := direct.GetProject(7)
	assert.NoError(t, err)
	gotProj, _, err := reorged.GetProject(7)
	assert.NoError(t, err)
	assert.Equal(t, wantProj, gotProj)
	assert.Equal(t, uint64(2), gotProj.Editions)

	wantNFT, _, err := direct.GetNFT(102)
	assert.NoError(t, err)
	gotNFT, _, err := reorged.GetNFT(102)
	assert.NoError(t, err)
	assert.Equal(t, wantNFT, gotNFT)

	wantListing, _, err := direct.GetListing(2)
	assert.NoError(t, err)
	gotListing, _, err := reorged.GetListing(2)
	assert.NoError(t, err)
	assert.Equal(t, wantListing, gotListing)

	wantStat, _, err := direct.GetMarketStat(7)
	assert.NoError(t, err)
	gotStat, _, err := reorged.GetMarketStat(7)
	assert.NoError(t, err)
	assert.Equal(t, wantStat, gotStat)

	wantPlatform, _, err := direct.GetPlatformStat()
	assert.NoError(t, err)
	gotPlatform, _, err := reorged.GetPlatformStat()
	assert.NoError(t, err)
	assert.Equal(t, wantPlatform, gotPlatform)

	// the randao round reflects branch B only
	wantSeed, ok := direct.RandaoEngine().FinalizedSeed(1)
	assert.True(t, ok)
	gotSeed, ok := reorged.RandaoEngine().FinalizedSeed(1)
	assert.True(t, ok)
	assert.Equal(t, wantSeed, gotSeed)

	records, err := reorged.GetRandaoRound(1)
	assert.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, buyer, records[0].Participant)
	assert.True(t, records[0].Revealed)
}

func TestRandaoRoundTrip(t *testing.T) {
	ms := newTestStore(t)

	secret := common.HexToHash("0x01")
	commitment := crypto.Keccak256Hash(secret.Bytes())

	blk1 := makeBlock(1, common.Hash{}, 100)
	addEvent(blk1, store.EventRandaoCommitted, &store.RandaoCommitted{
		Round: 1, Participant: minter, Commitment: commitment,
	})

	assert.NoError(t, ms.Pushn([]*store.BlockData{blk1}))

	_, ok := ms.RandaoEngine().FinalizedSeed(1)
	assert.False(t, ok)

	blk2 := makeBlock(2, blk1.Hash, 110)
	addEvent(blk2, store.EventRandaoRevealed, &store.RandaoRevealed{
		Round: 1, Participant: minter, Secret: secret,
	})
	// a reveal not matching any commitment is dropped
	addEvent(blk2, store.EventRandaoRevealed, &store.RandaoRevealed{
		Round: 1, Participant: buyer, Secret: secret,
	})

	assert.NoError(t, ms.Pushn([]*store.BlockData{blk2}))

	want, ok := ms.RandaoEngine().FinalizedSeed(1)
	assert.True(t, ok)

	records, err := ms.GetRandaoRound(1)
	assert.NoError(t, err)
	assert.Len(t, records, 1)
	assert.True(t, records[0].Revealed)
	assert.Equal(t, secret, records[0].Secret)

	// restart rebuilds the engine from the durable commit records
	reopened := reopenTestStore(t, ms)
	got, ok := reopened.RandaoEngine().FinalizedSeed(1)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	// popping the reveal block reverts the round finalization
	assert.NoError(t, ms.Popn(2))

	_, ok = ms.RandaoEngine().FinalizedSeed(1)
	assert.False(t, ok)

	records, err = ms.GetRandaoRound(1)
	assert.NoError(t, err)
	assert.Len(t, records, 1)
	assert.False(t, records[0].Revealed)
}

func TestPushAbortKeepsRandaoEngine(t *testing.T) {
	ms := newTestStore(t)

	secret := common.HexToHash("0x02")

	blk1 := makeBlock(1, common.Hash{}, 100)
	addEvent(blk1, store.EventRandaoCommitted, &store.RandaoCommitted{
		Round: 1, Participant: minter, Commitment: crypto.Keccak256Hash(secret.Bytes()),
	})
	addEvent(blk1, store.EventRandaoRevealed, &store.RandaoRevealed{
		Round: 1, Participant: minter, Secret: secret,
	})
	// a payload the applier cannot dispatch aborts the whole transaction
	addEvent(blk1, store.EventKindUnknown, struct{}{})

	assert.Error(t, ms.Pushn([]*store.BlockData{blk1}))

	// nothing of the aborted block reached the query surface, the round of
	// the rolled back transaction never finalized for readers
	_, finalized := ms.RandaoEngine().FinalizedSeed(1)
	assert.False(t, finalized)

	records, err := ms.GetRandaoRound(1)
	assert.NoError(t, err)
	assert.Empty(t, records)

	_, ok, err := ms.LatestCheckpoint()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckpointSurvivesRestart(t *testing.T) {
	ms := newTestStore(t)

	blk1 := makeBlock(1, common.Hash{}, 100)
	blk2 := makeBlock(2, blk1.Hash, 110)
	assert.NoError(t, ms.Pushn([]*store.BlockData{blk1, blk2}))

	reopened := reopenTestStore(t, ms)

	cp, ok := reopened.LatestCheckpointCached()
	assert.True(t, ok)
	assert.Equal(t, store.Checkpoint{BlockNumber: 2, BlockHash: blk2.Hash}, cp)

	hash, ok, err := reopened.BlockHashOf(1)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, blk1.Hash, hash)
}
