package decode

import (
	"math/big"
	"strings"

	"github.com/canvasart/tracker/store"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/openweb3/web3go/types"
	"github.com/pkg/errors"
)

// ABI fragment covering every event emitted by the platform contracts
// (project registry, ERC-721 token, marketplace and randao).
const platformAbiJson = `[
	{"type":"event","name":"ProjectCreated","inputs":[
		{"name":"projectId","type":"uint256","indexed":true},
		{"name":"name","type":"string","indexed":false},
		{"name":"editions","type":"uint256","indexed":false},
		{"name":"price","type":"uint256","indexed":false},
		{"name":"openTime","type":"uint256","indexed":false},
		{"name":"scriptURI","type":"string","indexed":false},
		{"name":"royalty","type":"uint256","indexed":false},
		{"name":"beneficiaries","type":"address[]","indexed":false},
		{"name":"shares","type":"uint256[]","indexed":false}]},
	{"type":"event","name":"ProjectUpdated","inputs":[
		{"name":"projectId","type":"uint256","indexed":true},
		{"name":"name","type":"string","indexed":false},
		{"name":"price","type":"uint256","indexed":false},
		{"name":"openTime","type":"uint256","indexed":false},
		{"name":"scriptURI","type":"string","indexed":false},
		{"name":"royalty","type":"uint256","indexed":false}]},
	{"type":"event","name":"TokenMinted","inputs":[
		{"name":"projectId","type":"uint256","indexed":true},
		{"name":"tokenId","type":"uint256","indexed":true},
		{"name":"minter","type":"address","indexed":true},
		{"name":"payment","type":"uint256","indexed":false},
		{"name":"round","type":"uint256","indexed":false}]},
	{"type":"event","name":"TokenRevealed","inputs":[
		{"name":"tokenId","type":"uint256","indexed":true},
		{"name":"tokenURI","type":"string","indexed":false}]},
	{"type":"event","name":"Transfer","inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"tokenId","type":"uint256","indexed":true}]},
	{"type":"event","name":"SaleListed","inputs":[
		{"name":"listingId","type":"uint256","indexed":true},
		{"name":"tokenId","type":"uint256","indexed":true},
		{"name":"seller","type":"address","indexed":true},
		{"name":"price","type":"uint256","indexed":false}]},
	{"type":"event","name":"SaleCancelled","inputs":[
		{"name":"listingId","type":"uint256","indexed":true}]},
	{"type":"event","name":"SaleFilled","inputs":[
		{"name":"listingId","type":"uint256","indexed":true},
		{"name":"buyer","type":"address","indexed":true},
		{"name":"price","type":"uint256","indexed":false}]},
	{"type":"event","name":"OfferMade","inputs":[
		{"name":"offerId","type":"uint256","indexed":true},
		{"name":"tokenId","type":"uint256","indexed":true},
		{"name":"bidder","type":"address","indexed":true},
		{"name":"price","type":"uint256","indexed":false}]},
	{"type":"event","name":"OfferCancelled","inputs":[
		{"name":"offerId","type":"uint256","indexed":true}]},
	{"type":"event","name":"OfferAccepted","inputs":[
		{"name":"offerId","type":"uint256","indexed":true}]},
	{"type":"event","name":"SecretCommitted","inputs":[
		{"name":"round","type":"uint256","indexed":true},
		{"name":"participant","type":"address","indexed":true},
		{"name":"commitment","type":"bytes32","indexed":false}]},
	{"type":"event","name":"SecretRevealed","inputs":[
		{"name":"round","type":"uint256","indexed":true},
		{"name":"participant","type":"address","indexed":true},
		{"name":"secret","type":"bytes32","indexed":false}]}
]`

var (
	platformAbi abi.ABI

	// topic0 => decode function for the event of that signature
	eventDecoders map[common.Hash]func(log *types.Log) (store.EventKind, interface{}, error)
)

func init() {
	var err error
	if platformAbi, err = abi.JSON(strings.NewReader(platformAbiJson)); err != nil {
		panic(errors.WithMessage(err, "failed to parse platform ABI"))
	}

	eventDecoders = map[common.Hash]func(log *types.Log) (store.EventKind, interface{}, error){
		platformAbi.Events["ProjectCreated"].ID:  decodeProjectCreated,
		platformAbi.Events["ProjectUpdated"].ID:  decodeProjectUpdated,
		platformAbi.Events["TokenMinted"].ID:     decodeTokenMinted,
		platformAbi.Events["TokenRevealed"].ID:   decodeTokenRevealed,
		platformAbi.Events["Transfer"].ID:        decodeTransfer,
		platformAbi.Events["SaleListed"].ID:      decodeSaleListed,
		platformAbi.Events["SaleCancelled"].ID:   decodeSaleCancelled,
		platformAbi.Events["SaleFilled"].ID:      decodeSaleFilled,
		platformAbi.Events["OfferMade"].ID:       decodeOfferMade,
		platformAbi.Events["OfferCancelled"].ID:  decodeOfferCancelled,
		platformAbi.Events["OfferAccepted"].ID:   decodeOfferAccepted,
		platformAbi.Events["SecretCommitted"].ID: decodeSecretCommitted,
		platformAbi.Events["SecretRevealed"].ID:  decodeSecretRevealed,
	}
}

// EventID returns the topic0 hash of the named platform event, mainly for
// building log filters and tests.
func EventID(name string) common.Hash {
	return platformAbi.Events[name].ID
}

// DecodeLog maps a raw event log into one typed chain event. Logs of unknown
// event kind yield (nil, nil) and are ignorable, while a known event kind
// whose log data fails to unpack yields a schema mismatch error.
func DecodeLog(log *types.Log) (*store.ChainEvent, error) {
	if len(log.Topics) == 0 {
		return nil, nil
	}

	decoder, ok := eventDecoders[log.Topics[0]]
	if !ok {
		return nil, nil
	}

	kind, payload, err := decoder(log)
	if err != nil {
		return nil, errors.WithMessagef(store.ErrSchemaMismatch, "%v: %v", kind, err)
	}

	return &store.ChainEvent{
		ID: store.EventID{
			BlockNumber: log.BlockNumber,
			BlockHash:   log.BlockHash,
			TxnIndex:    uint64(log.TxIndex),
			LogIndex:    uint64(log.Index),
		},
		Kind:    kind,
		Payload: payload,
	}, nil
}

// unpackLog unpacks both the non-indexed data fields and the indexed topic
// fields of an event log into the out struct.
func unpackLog(out interface{}, event string, log *types.Log) error {
	if len(log.Data) > 0 {
		if err := platformAbi.UnpackIntoInterface(out, event, log.Data); err != nil {
			return err
		}
	}

	var indexed abi.Arguments
	for _, arg := range platformAbi.Events[event].Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}

	return abi.ParseTopics(out, indexed, log.Topics[1:])
}

func decodeProjectCreated(log *types.Log) (store.EventKind, interface{}, error) {
	var ev struct {
		ProjectId     *big.Int
		Name          string
		Editions      *big.Int
		Price         *big.Int
		OpenTime      *big.Int
		ScriptURI     string
		Royalty       *big.Int
		Beneficiaries []common.Address
		Shares        []*big.Int
	}

	if err := unpackLog(&ev, "ProjectCreated", log); err != nil {
		return store.EventProjectCreated, nil, err
	}

	shares := make([]uint64, len(ev.Shares))
	for i, s := range ev.Shares {
		shares[i] = s.Uint64()
	}

	return store.EventProjectCreated, &store.ProjectCreated{
		ProjectID:     ev.ProjectId.Uint64(),
		Name:          ev.Name,
		Editions:      ev.Editions.Uint64(),
		Price:         ev.Price,
		OpenTime:      ev.OpenTime.Uint64(),
		ScriptURI:     ev.ScriptURI,
		Royalty:       ev.Royalty.Uint64(),
		Beneficiaries: ev.Beneficiaries,
		Shares:        shares,
	}, nil
}

func decodeProjectUpdated(log *types.Log) (store.EventKind, interface{}, error) {
	var ev struct {
		ProjectId *big.Int
		Name      string
		Price     *big.Int
		OpenTime  *big.Int
		ScriptURI string
		Royalty   *big.Int
	}

	if err := unpackLog(&ev, "ProjectUpdated", log); err != nil {
		return store.EventProjectUpdated, nil, err
	}

	return store.EventProjectUpdated, &store.ProjectUpdated{
		ProjectID: ev.ProjectId.Uint64(),
		Name:      ev.Name,
		Price:     ev.Price,
		OpenTime:  ev.OpenTime.Uint64(),
		ScriptURI: ev.ScriptURI,
		Royalty:   ev.Royalty.Uint64(),
	}, nil
}

func decodeTokenMinted(log *types.Log) (store.EventKind, interface{}, error) {
	var ev struct {
		ProjectId *big.Int
		TokenId   *big.Int
		Minter    common.Address
		Payment   *big.Int
		Round     *big.Int
	}

	if err := unpackLog(&ev, "TokenMinted", log); err != nil {
		return store.EventNFTMinted, nil, err
	}

	return store.EventNFTMinted, &store.NFTMinted{
		ProjectID:   ev.ProjectId.Uint64(),
		TokenID:     ev.TokenId.Uint64(),
		Minter:      ev.Minter,
		Payment:     ev.Payment,
		RandaoRound: ev.Round.Uint64(),
	}, nil
}

func decodeTokenRevealed(log *types.Log) (store.EventKind, interface{}, error) {
	var ev struct {
		TokenId  *big.Int
		TokenURI string
	}

	if err := unpackLog(&ev, "TokenRevealed", log); err != nil {
		return store.EventNFTRevealed, nil, err
	}

	return store.EventNFTRevealed, &store.NFTRevealed{
		TokenID:  ev.TokenId.Uint64(),
		TokenURI: ev.TokenURI,
	}, nil
}

func decodeTransfer(log *types.Log) (store.EventKind, interface{}, error) {
	var ev struct {
		From    common.Address
		To      common.Address
		TokenId *big.Int
	}

	if err := unpackLog(&ev, "Transfer", log); err != nil {
		return store.EventNFTTransferred, nil, err
	}

	return store.EventNFTTransferred, &store.NFTTransferred{
		TokenID: ev.TokenId.Uint64(),
		From:    ev.From,
		To:      ev.To,
	}, nil
}

func decodeSaleListed(log *types.Log) (store.EventKind, interface{}, error) {
	var ev struct {
		ListingId *big.Int
		TokenId   *big.Int
		Seller    common.Address
		Price     *big.Int
	}

	if err := unpackLog(&ev, "SaleListed", log); err != nil {
		return store.EventSaleListed, nil, err
	}

	return store.EventSaleListed, &store.SaleListed{
		ListingID: ev.ListingId.Uint64(),
		TokenID:   ev.TokenId.Uint64(),
		Seller:    ev.Seller,
		Price:     ev.Price,
	}, nil
}

func decodeSaleCancelled(log *types.Log) (store.EventKind, interface{}, error) {
	var ev struct {
		ListingId *big.Int
	}

	if err := unpackLog(&ev, "SaleCancelled", log); err != nil {
		return store.EventSaleCancelled, nil, err
	}

	return store.EventSaleCancelled, &store.SaleCancelled{
		ListingID: ev.ListingId.Uint64(),
	}, nil
}

func decodeSaleFilled(log *types.Log) (store.EventKind, interface{}, error) {
	var ev struct {
		ListingId *big.Int
		Buyer     common.Address
		Price     *big.Int
	}

	if err := unpackLog(&ev, "SaleFilled", log); err != nil {
		return store.EventSaleFilled, nil, err
	}

	return store.EventSaleFilled, &store.SaleFilled{
		ListingID: ev.ListingId.Uint64(),
		Buyer:     ev.Buyer,
		Price:     ev.Price,
	}, nil
}

func decodeOfferMade(log *types.Log) (store.EventKind, interface{}, error) {
	var ev struct {
		OfferId *big.Int
		TokenId *big.Int
		Bidder  common.Address
		Price   *big.Int
	}

	if err := unpackLog(&ev, "OfferMade", log); err != nil {
		return store.EventOfferMade, nil, err
	}

	return store.EventOfferMade, &store.OfferMade{
		OfferID: ev.OfferId.Uint64(),
		TokenID: ev.TokenId.Uint64(),
		Bidder:  ev.Bidder,
		Price:   ev.Price,
	}, nil
}

func decodeOfferCancelled(log *types.Log) (store.EventKind, interface{}, error) {
	var ev struct {
		OfferId *big.Int
	}

	if err := unpackLog(&ev, "OfferCancelled", log); err != nil {
		return store.EventOfferCancelled, nil, err
	}

	return store.EventOfferCancelled, &store.OfferCancelled{OfferID: ev.OfferId.Uint64()}, nil
}

func decodeOfferAccepted(log *types.Log) (store.EventKind, interface{}, error) {
	var ev struct {
		OfferId *big.Int
	}

	if err := unpackLog(&ev, "OfferAccepted", log); err != nil {
		return store.EventOfferAccepted, nil, err
	}

	return store.EventOfferAccepted, &store.OfferAccepted{OfferID: ev.OfferId.Uint64()}, nil
}

func decodeSecretCommitted(log *types.Log) (store.EventKind, interface{}, error) {
	var ev struct {
		Round       *big.Int
		Participant common.Address
		Commitment  [32]byte
	}

	if err := unpackLog(&ev, "SecretCommitted", log); err != nil {
		return store.EventRandaoCommitted, nil, err
	}

	return store.EventRandaoCommitted, &store.RandaoCommitted{
		Round:       ev.Round.Uint64(),
		Participant: ev.Participant,
		Commitment:  common.Hash(ev.Commitment),
	}, nil
}

func decodeSecretRevealed(log *types.Log) (store.EventKind, interface{}, error) {
	var ev struct {
		Round       *big.Int
		Participant common.Address
		Secret      [32]byte
	}

	if err := unpackLog(&ev, "SecretRevealed", log); err != nil {
		return store.EventRandaoRevealed, nil, err
	}

	return store.EventRandaoRevealed, &store.RandaoRevealed{
		Round:       ev.Round.Uint64(),
		Participant: ev.Participant,
		Secret:      common.Hash(ev.Secret),
	}, nil
}
