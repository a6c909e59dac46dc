package mysql

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/canvasart/tracker/market"
	"github.com/canvasart/tracker/metrics"
	"github.com/canvasart/tracker/randao"
	"github.com/canvasart/tracker/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// State delta entity tags.
const (
	entityProject      = "project"
	entityNFT          = "nft"
	entityListing      = "listing"
	entityOffer        = "offer"
	entityRandaoCommit = "randaoCommit"
)

// applier applies the decoded events of pushed blocks onto derived state
// within one database transaction. Every state change it makes is paired
// with an inverse-image delta so that the whole block range can be reverted
// on chain re-org.
type applier struct {
	dbTx *gorm.DB
	// staged randao engine of the enclosing transaction, published by the
	// store only after the transaction commits
	rand *randao.Engine

	// projects whose market statistics need recomputation
	touched    map[uint64]struct{}
	touchedAll bool
}

func newApplier(dbTx *gorm.DB, rand *randao.Engine) *applier {
	return &applier{
		dbTx:    dbTx,
		rand:    rand,
		touched: make(map[uint64]struct{}),
	}
}

func (a *applier) applyBlock(data *store.BlockData) error {
	for i := range data.Events {
		if err := a.applyEvent(&data.Events[i], data); err != nil {
			return errors.WithMessagef(err, "failed to apply event %v", data.Events[i].ID)
		}
	}

	return nil
}

func (a *applier) applyEvent(ev *store.ChainEvent, blk *store.BlockData) error {
	// Events are identified by (block number, block hash, txn index, log
	// index). An already journaled identity means a duplicate delivery and
	// must not be applied again.
	applied, err := a.eventApplied(ev.ID)
	if err != nil {
		return err
	}

	if applied {
		a.skip(ev, "duplicate", logrus.Fields{})
		return nil
	}

	record, err := newEvent(ev)
	if err != nil {
		return err
	}

	if err := a.dbTx.Create(record).Error; err != nil {
		return errors.WithMessage(err, "failed to journal event")
	}

	switch payload := ev.Payload.(type) {
	case *store.ProjectCreated:
		return a.applyProjectCreated(ev, payload)
	case *store.ProjectUpdated:
		return a.applyProjectUpdated(ev, payload)
	case *store.NFTMinted:
		return a.applyNFTMinted(ev, payload, blk)
	case *store.NFTRevealed:
		return a.applyNFTRevealed(ev, payload)
	case *store.NFTTransferred:
		return a.applyNFTTransferred(ev, payload)
	case *store.SaleListed:
		return a.applySaleListed(ev, payload, blk)
	case *store.SaleCancelled:
		return a.applySaleCancelled(ev, payload, blk)
	case *store.SaleFilled:
		return a.applySaleFilled(ev, payload, blk)
	case *store.OfferMade:
		return a.applyOfferMade(ev, payload, blk)
	case *store.OfferCancelled:
		return a.applyOfferCancelled(ev, payload, blk)
	case *store.OfferAccepted:
		return a.applyOfferAccepted(ev, payload, blk)
	case *store.RandaoCommitted:
		return a.applyRandaoCommitted(ev, payload)
	case *store.RandaoRevealed:
		return a.applyRandaoRevealed(ev, payload)
	default:
		return errors.Errorf("unexpected event payload type %T", ev.Payload)
	}
}

func (a *applier) eventApplied(id store.EventID) (bool, error) {
	var count int64
	err := a.dbTx.Model(&event{}).
		Where(
			"block_number = ? AND block_hash = ? AND txn_index = ? AND log_index = ?",
			id.BlockNumber, id.BlockHash.Hex(), id.TxnIndex, id.LogIndex,
		).
		Count(&count).Error

	return count > 0, err
}

// skip drops an anomalous event without failing the block. Anomalies are
// surfaced loudly since they indicate contract misbehavior or a decode gap.
func (a *applier) skip(ev *store.ChainEvent, reason string, fields logrus.Fields) {
	metrics.Registry.Store.SkippedEvents(reason).Mark(1)

	logrus.WithFields(fields).WithFields(logrus.Fields{
		"event":  ev.ID.String(),
		"kind":   ev.Kind.String(),
		"reason": reason,
	}).Error("Chain event skipped due to data anomaly")
}

func (a *applier) applyProjectCreated(ev *store.ChainEvent, p *store.ProjectCreated) error {
	if p.Editions == 0 || p.Price == nil || p.Price.Sign() <= 0 || p.Royalty > 100 {
		a.skip(ev, "invalidProject", logrus.Fields{"projectID": p.ProjectID})
		return nil
	}

	if len(p.Beneficiaries) != len(p.Shares) {
		a.skip(ev, "invalidSplits", logrus.Fields{"projectID": p.ProjectID})
		return nil
	}

	var shareSum uint64
	for _, share := range p.Shares {
		shareSum += share
	}

	// an empty split list sums to zero and is just as invalid
	if shareSum != 100 {
		a.skip(ev, "invalidSplits", logrus.Fields{
			"projectID": p.ProjectID, "shareSum": shareSum,
		})
		return nil
	}

	if _, ok, err := a.loadProject(p.ProjectID); err != nil {
		return err
	} else if ok {
		a.skip(ev, "duplicateProject", logrus.Fields{"projectID": p.ProjectID})
		return nil
	}

	splits := make([]store.BeneficiarySplit, 0, len(p.Beneficiaries))
	for i := range p.Beneficiaries {
		splits = append(splits, store.BeneficiarySplit{
			Address: p.Beneficiaries[i], Percentage: p.Shares[i],
		})
	}

	record := newProject(&store.Project{
		ID:        p.ProjectID,
		Name:      p.Name,
		Editions:  p.Editions,
		Price:     p.Price,
		OpenTime:  p.OpenTime,
		ScriptURI: p.ScriptURI,
		Royalty:   p.Royalty,
		Splits:    splits,
	})

	if err := a.dbTx.Create(record).Error; err != nil {
		return errors.WithMessage(err, "failed to create project")
	}

	return a.deltaCreate(ev.ID.BlockNumber, entityProject, formatKey(p.ProjectID))
}

func (a *applier) applyProjectUpdated(ev *store.ChainEvent, p *store.ProjectUpdated) error {
	record, ok, err := a.loadProject(p.ProjectID)
	if err != nil {
		return err
	}

	if !ok {
		a.skip(ev, "unknownProject", logrus.Fields{"projectID": p.ProjectID})
		return nil
	}

	if p.Price == nil || p.Price.Sign() <= 0 || p.Royalty > 100 {
		a.skip(ev, "invalidProject", logrus.Fields{"projectID": p.ProjectID})
		return nil
	}

	if err := a.deltaUpdate(ev.ID.BlockNumber, entityProject, formatKey(p.ProjectID), record); err != nil {
		return err
	}

	record.Name = p.Name
	record.Price = bigToDecimal(p.Price)
	record.OpenTime = p.OpenTime
	record.ScriptURI = p.ScriptURI
	record.Royalty = p.Royalty

	return a.dbTx.Save(record).Error
}

func (a *applier) applyNFTMinted(ev *store.ChainEvent, p *store.NFTMinted, blk *store.BlockData) error {
	proj, ok, err := a.loadProject(p.ProjectID)
	if err != nil {
		return err
	}

	if !ok {
		a.skip(ev, "unknownProject", logrus.Fields{"projectID": p.ProjectID})
		return nil
	}

	if proj.Editions == 0 {
		a.skip(ev, "soldOut", logrus.Fields{"projectID": p.ProjectID, "tokenID": p.TokenID})
		return nil
	}

	if blk.Timestamp < proj.OpenTime {
		a.skip(ev, "mintBeforeOpen", logrus.Fields{
			"projectID": p.ProjectID, "tokenID": p.TokenID, "openTime": proj.OpenTime,
		})
		return nil
	}

	if p.Payment == nil || p.Payment.Cmp(decimalToBig(proj.Price)) < 0 {
		a.skip(ev, "underpaidMint", logrus.Fields{
			"projectID": p.ProjectID, "tokenID": p.TokenID, "payment": p.Payment,
		})
		return nil
	}

	if _, ok, err := a.loadNFT(p.TokenID); err != nil {
		return err
	} else if ok {
		a.skip(ev, "duplicateMint", logrus.Fields{"tokenID": p.TokenID})
		return nil
	}

	seed, final := a.rand.SeedForToken(p.RandaoRound, p.TokenID)

	record := &nft{
		TokenID:   p.TokenID,
		ProjectID: p.ProjectID,
		Owner:     p.Minter.Hex(),
		Seed:      seed.Hex(),
		SeedFinal: final,
		MintedAt:  blk.Timestamp,
	}

	if err := a.dbTx.Create(record).Error; err != nil {
		return errors.WithMessage(err, "failed to create nft")
	}

	if err := a.deltaCreate(ev.ID.BlockNumber, entityNFT, formatKey(p.TokenID)); err != nil {
		return err
	}

	// consume one edition of the project
	if err := a.deltaUpdate(ev.ID.BlockNumber, entityProject, formatKey(p.ProjectID), proj); err != nil {
		return err
	}

	proj.Editions--
	if err := a.dbTx.Save(proj).Error; err != nil {
		return err
	}

	a.touch(p.ProjectID)

	return nil
}

func (a *applier) applyNFTRevealed(ev *store.ChainEvent, p *store.NFTRevealed) error {
	record, ok, err := a.loadNFT(p.TokenID)
	if err != nil {
		return err
	}

	if !ok {
		a.skip(ev, "unknownToken", logrus.Fields{"tokenID": p.TokenID})
		return nil
	}

	if record.Revealed {
		// re-delivery of the same reveal is a no-op, a different one is bogus
		if record.TokenURI != p.TokenURI {
			a.skip(ev, "conflictingReveal", logrus.Fields{"tokenID": p.TokenID})
		}

		return nil
	}

	if err := a.deltaUpdate(ev.ID.BlockNumber, entityNFT, formatKey(p.TokenID), record); err != nil {
		return err
	}

	record.Revealed = true
	record.TokenURI = p.TokenURI

	return a.dbTx.Save(record).Error
}

func (a *applier) applyNFTTransferred(ev *store.ChainEvent, p *store.NFTTransferred) error {
	record, ok, err := a.loadNFT(p.TokenID)
	if err != nil {
		return err
	}

	if !ok {
		a.skip(ev, "unknownToken", logrus.Fields{"tokenID": p.TokenID})
		return nil
	}

	if record.Owner != p.From.Hex() {
		a.skip(ev, "ownerMismatch", logrus.Fields{
			"tokenID": p.TokenID, "owner": record.Owner, "from": p.From.Hex(),
		})
		return nil
	}

	if err := a.deltaUpdate(ev.ID.BlockNumber, entityNFT, formatKey(p.TokenID), record); err != nil {
		return err
	}

	record.Owner = p.To.Hex()

	return a.dbTx.Save(record).Error
}

func (a *applier) applySaleListed(ev *store.ChainEvent, p *store.SaleListed, blk *store.BlockData) error {
	token, ok, err := a.loadNFT(p.TokenID)
	if err != nil {
		return err
	}

	if !ok {
		a.skip(ev, "unknownToken", logrus.Fields{"tokenID": p.TokenID})
		return nil
	}

	if token.Owner != p.Seller.Hex() {
		a.skip(ev, "sellerMismatch", logrus.Fields{
			"listingID": p.ListingID, "owner": token.Owner, "seller": p.Seller.Hex(),
		})
		return nil
	}

	if p.Price == nil || p.Price.Sign() <= 0 {
		a.skip(ev, "invalidPrice", logrus.Fields{"listingID": p.ListingID})
		return nil
	}

	if _, ok, err := a.loadListing(p.ListingID); err != nil {
		return err
	} else if ok {
		a.skip(ev, "duplicateListing", logrus.Fields{"listingID": p.ListingID})
		return nil
	}

	record := &saleListing{
		ListingID: p.ListingID,
		TokenID:   p.TokenID,
		ProjectID: token.ProjectID,
		Seller:    p.Seller.Hex(),
		Price:     bigToDecimal(p.Price),
		Status:    uint8(store.ListingOpen),
		ListedAt:  blk.Timestamp,
	}

	if err := a.dbTx.Create(record).Error; err != nil {
		return errors.WithMessage(err, "failed to create listing")
	}

	if err := a.deltaCreate(ev.ID.BlockNumber, entityListing, formatKey(p.ListingID)); err != nil {
		return err
	}

	a.touch(token.ProjectID)

	return nil
}

func (a *applier) applySaleCancelled(ev *store.ChainEvent, p *store.SaleCancelled, blk *store.BlockData) error {
	record, ok, err := a.loadListing(p.ListingID)
	if err != nil {
		return err
	}

	if !ok {
		a.skip(ev, "unknownListing", logrus.Fields{"listingID": p.ListingID})
		return nil
	}

	if record.Status != uint8(store.ListingOpen) {
		a.skip(ev, "listingClosed", logrus.Fields{
			"listingID": p.ListingID, "status": store.ListingStatus(record.Status),
		})
		return nil
	}

	if err := a.deltaUpdate(ev.ID.BlockNumber, entityListing, formatKey(p.ListingID), record); err != nil {
		return err
	}

	record.Status = uint8(store.ListingCancelled)
	record.ClosedAt = blk.Timestamp

	if err := a.dbTx.Save(record).Error; err != nil {
		return err
	}

	a.touch(record.ProjectID)

	return nil
}

func (a *applier) applySaleFilled(ev *store.ChainEvent, p *store.SaleFilled, blk *store.BlockData) error {
	record, ok, err := a.loadListing(p.ListingID)
	if err != nil {
		return err
	}

	if !ok {
		a.skip(ev, "unknownListing", logrus.Fields{"listingID": p.ListingID})
		return nil
	}

	if record.Status != uint8(store.ListingOpen) {
		a.skip(ev, "listingClosed", logrus.Fields{
			"listingID": p.ListingID, "status": store.ListingStatus(record.Status),
		})
		return nil
	}

	if err := a.deltaUpdate(ev.ID.BlockNumber, entityListing, formatKey(p.ListingID), record); err != nil {
		return err
	}

	record.Status = uint8(store.ListingFilled)
	record.Buyer = p.Buyer.Hex()
	record.ClosedAt = blk.Timestamp

	// fill price overrides the listed price, eg. for auction style sales
	if p.Price != nil && p.Price.Sign() > 0 {
		record.Price = bigToDecimal(p.Price)
	}

	if err := a.dbTx.Save(record).Error; err != nil {
		return err
	}

	a.touch(record.ProjectID)

	return nil
}

func (a *applier) applyOfferMade(ev *store.ChainEvent, p *store.OfferMade, blk *store.BlockData) error {
	token, ok, err := a.loadNFT(p.TokenID)
	if err != nil {
		return err
	}

	if !ok {
		a.skip(ev, "unknownToken", logrus.Fields{"tokenID": p.TokenID})
		return nil
	}

	if p.Price == nil || p.Price.Sign() <= 0 {
		a.skip(ev, "invalidPrice", logrus.Fields{"offerID": p.OfferID})
		return nil
	}

	if _, ok, err := a.loadOffer(p.OfferID); err != nil {
		return err
	} else if ok {
		a.skip(ev, "duplicateOffer", logrus.Fields{"offerID": p.OfferID})
		return nil
	}

	record := &offer{
		OfferID:   p.OfferID,
		TokenID:   p.TokenID,
		ProjectID: token.ProjectID,
		Bidder:    p.Bidder.Hex(),
		Price:     bigToDecimal(p.Price),
		Status:    uint8(store.OfferOpen),
		MadeAt:    blk.Timestamp,
	}

	if err := a.dbTx.Create(record).Error; err != nil {
		return errors.WithMessage(err, "failed to create offer")
	}

	if err := a.deltaCreate(ev.ID.BlockNumber, entityOffer, formatKey(p.OfferID)); err != nil {
		return err
	}

	a.touch(token.ProjectID)

	return nil
}

func (a *applier) applyOfferCancelled(ev *store.ChainEvent, p *store.OfferCancelled, blk *store.BlockData) error {
	return a.closeOffer(ev, p.OfferID, store.OfferStatusCancelled, blk)
}

func (a *applier) applyOfferAccepted(ev *store.ChainEvent, p *store.OfferAccepted, blk *store.BlockData) error {
	return a.closeOffer(ev, p.OfferID, store.OfferStatusAccepted, blk)
}

func (a *applier) closeOffer(
	ev *store.ChainEvent, offerID uint64, status store.OfferStatus, blk *store.BlockData,
) error {
	record, ok, err := a.loadOffer(offerID)
	if err != nil {
		return err
	}

	if !ok {
		a.skip(ev, "unknownOffer", logrus.Fields{"offerID": offerID})
		return nil
	}

	if record.Status != uint8(store.OfferOpen) {
		a.skip(ev, "offerClosed", logrus.Fields{
			"offerID": offerID, "status": store.OfferStatus(record.Status),
		})
		return nil
	}

	if err := a.deltaUpdate(ev.ID.BlockNumber, entityOffer, formatKey(offerID), record); err != nil {
		return err
	}

	record.Status = uint8(status)
	record.ClosedAt = blk.Timestamp

	if err := a.dbTx.Save(record).Error; err != nil {
		return err
	}

	a.touch(record.ProjectID)

	return nil
}

func (a *applier) applyRandaoCommitted(ev *store.ChainEvent, p *store.RandaoCommitted) error {
	err := a.rand.Commit(p.Round, p.Participant, p.Commitment)
	if errors.Is(err, randao.ErrAlreadyCommitted) {
		a.skip(ev, "duplicateCommit", logrus.Fields{
			"round": p.Round, "participant": p.Participant.Hex(),
		})
		return nil
	}

	if err != nil {
		return err
	}

	record := &randaoCommit{
		Round:       p.Round,
		Participant: p.Participant.Hex(),
		Commitment:  p.Commitment.Hex(),
	}

	if err := a.dbTx.Create(record).Error; err != nil {
		return errors.WithMessage(err, "failed to create randao commit")
	}

	return a.deltaCreate(
		ev.ID.BlockNumber, entityRandaoCommit, randaoKey(p.Round, p.Participant.Hex()),
	)
}

func (a *applier) applyRandaoRevealed(ev *store.ChainEvent, p *store.RandaoRevealed) error {
	err := a.rand.Reveal(p.Round, p.Participant, p.Secret)

	switch {
	case errors.Is(err, randao.ErrNotCommitted):
		a.skip(ev, "revealWithoutCommit", logrus.Fields{
			"round": p.Round, "participant": p.Participant.Hex(),
		})
		return nil
	case errors.Is(err, randao.ErrInvalidSecret):
		a.skip(ev, "invalidSecret", logrus.Fields{
			"round": p.Round, "participant": p.Participant.Hex(),
		})
		return nil
	case err != nil:
		return err
	}

	var record randaoCommit
	res := a.dbTx.
		Where("round = ? AND participant = ?", p.Round, p.Participant.Hex()).
		First(&record)
	if res.Error != nil {
		return errors.WithMessage(res.Error, "failed to load randao commit")
	}

	if record.Revealed { // re-delivered reveal, engine treated it as a no-op
		return nil
	}

	key := randaoKey(p.Round, p.Participant.Hex())
	if err := a.deltaUpdate(ev.ID.BlockNumber, entityRandaoCommit, key, &record); err != nil {
		return err
	}

	record.Secret = p.Secret.Hex()
	record.Revealed = true

	return a.dbTx.Save(&record).Error
}

func (a *applier) touch(projectID uint64) {
	a.touched[projectID] = struct{}{}
}

func (a *applier) touchAllProjects() {
	a.touchedAll = true
}

// recomputeStats rebuilds the market statistics of all touched projects plus
// the platform-wide scope. Statistics are a pure derived view and carry no
// deltas of their own.
func (a *applier) recomputeStats(asOf uint64) error {
	if !a.touchedAll && len(a.touched) == 0 {
		return nil
	}

	projectIDs := make([]uint64, 0, len(a.touched))

	if a.touchedAll {
		if err := a.dbTx.Model(&project{}).Pluck("project_id", &projectIDs).Error; err != nil {
			return err
		}
	} else {
		for projectID := range a.touched {
			projectIDs = append(projectIDs, projectID)
		}
	}

	for _, projectID := range projectIDs {
		if err := a.recomputeStat(statScopeProject, projectID, asOf); err != nil {
			return err
		}
	}

	// platform wide scope aggregates across all projects
	return a.recomputeStat(statScopePlatform, 0, asOf)
}

func (a *applier) recomputeStat(statScope uint8, projectID uint64, asOf uint64) error {
	scope := func(db *gorm.DB) *gorm.DB {
		if statScope == statScopePlatform {
			return db
		}

		return db.Where("project_id = ?", projectID)
	}

	var listingRecords []saleListing
	if err := scope(a.dbTx).Find(&listingRecords).Error; err != nil {
		return err
	}

	var offerRecords []offer
	if err := scope(a.dbTx).Find(&offerRecords).Error; err != nil {
		return err
	}

	listings := make([]*store.SaleListing, 0, len(listingRecords))
	for i := range listingRecords {
		listings = append(listings, listingRecords[i].toDomain())
	}

	offers := make([]*store.Offer, 0, len(offerRecords))
	for i := range offerRecords {
		offers = append(offers, offerRecords[i].toDomain())
	}

	stat := market.Compute(projectID, listings, offers, asOf)

	record := &marketStat{
		Scope:       statScope,
		ProjectID:   stat.ProjectID,
		Volume24h:   bigToDecimal(stat.Volume24h),
		VolumeTotal: bigToDecimal(stat.VolumeTotal),
		Trades24h:   stat.Trades24h,
		TradesTotal: stat.TradesTotal,
		UpdatedAt:   time.Unix(int64(asOf), 0),
	}

	if stat.FloorPrice != nil {
		record.FloorPrice = bigToDecimal(stat.FloorPrice)
	}

	if stat.MedianPrice != nil {
		record.MedianPrice = bigToDecimal(stat.MedianPrice)
	}

	return a.dbTx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}, {Name: "project_id"}},
		UpdateAll: true,
	}).Create(record).Error
}

func (a *applier) loadProject(projectID uint64) (*project, bool, error) {
	var record project
	res := a.dbTx.Where("project_id = ?", projectID).First(&record)

	return &record, res.Error == nil, ignoreNotFound(res.Error)
}

func (a *applier) loadNFT(tokenID uint64) (*nft, bool, error) {
	var record nft
	res := a.dbTx.Where("token_id = ?", tokenID).First(&record)

	return &record, res.Error == nil, ignoreNotFound(res.Error)
}

func (a *applier) loadListing(listingID uint64) (*saleListing, bool, error) {
	var record saleListing
	res := a.dbTx.Where("listing_id = ?", listingID).First(&record)

	return &record, res.Error == nil, ignoreNotFound(res.Error)
}

func (a *applier) loadOffer(offerID uint64) (*offer, bool, error) {
	var record offer
	res := a.dbTx.Where("offer_id = ?", offerID).First(&record)

	return &record, res.Error == nil, ignoreNotFound(res.Error)
}

func (a *applier) deltaCreate(blockNumber uint64, entity, key string) error {
	return a.dbTx.Create(&stateDelta{
		BlockNumber: blockNumber,
		Entity:      entity,
		Op:          deltaOpCreate,
		Key:         key,
	}).Error
}

func (a *applier) deltaUpdate(blockNumber uint64, entity, key string, before interface{}) error {
	image, err := json.Marshal(before)
	if err != nil {
		return errors.WithMessagef(err, "failed to marshal %v before image", entity)
	}

	return a.dbTx.Create(&stateDelta{
		BlockNumber: blockNumber,
		Entity:      entity,
		Op:          deltaOpUpdate,
		Key:         key,
		Before:      image,
	}).Error
}

func formatKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func randaoKey(round uint64, participant string) string {
	return fmt.Sprintf("%d:%s", round, participant)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}

	return err
}
