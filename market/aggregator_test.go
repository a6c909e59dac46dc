package market

import (
	"math/big"
	"testing"

	"github.com/canvasart/tracker/store"
	"github.com/stretchr/testify/assert"
)

const day = 24 * 3600

func price(v int64) *big.Int {
	return big.NewInt(v)
}

func TestComputeEmptyScope(t *testing.T) {
	stat := Compute(1, nil, nil, day)

	assert.Equal(t, uint64(1), stat.ProjectID)
	assert.Nil(t, stat.FloorPrice)
	assert.Nil(t, stat.MedianPrice)
	assert.Zero(t, stat.Volume24h.Sign())
	assert.Zero(t, stat.VolumeTotal.Sign())
	assert.Equal(t, uint64(0), stat.TradesTotal)
}

func TestComputeFloorPrice(t *testing.T) {
	listings := []*store.SaleListing{
		{ID: 1, Price: price(300), Status: store.ListingOpen},
		{ID: 2, Price: price(100), Status: store.ListingOpen},
		// cancelled listings never contribute to the floor
		{ID: 3, Price: price(50), Status: store.ListingCancelled},
		// filled listings do, alongside the open ones
		{ID: 4, Price: price(10), Status: store.ListingFilled, ClosedAt: day},
	}

	stat := Compute(1, listings, nil, day)
	assert.Equal(t, price(10), stat.FloorPrice)
}

func TestComputeTrades(t *testing.T) {
	now := uint64(10 * day)

	listings := []*store.SaleListing{
		{ID: 1, Price: price(100), Status: store.ListingFilled, ClosedAt: now - 2*day},
		{ID: 2, Price: price(200), Status: store.ListingFilled, ClosedAt: now - 3600},
		{ID: 3, Price: price(700), Status: store.ListingOpen},
	}

	offers := []*store.Offer{
		{ID: 7, Price: price(300), Status: store.OfferStatusAccepted, ClosedAt: now},
		// open and cancelled offers are not trades
		{ID: 8, Price: price(900), Status: store.OfferOpen},
		{ID: 9, Price: price(900), Status: store.OfferStatusCancelled, ClosedAt: now},
	}

	stat := Compute(1, listings, offers, now)

	assert.Equal(t, uint64(3), stat.TradesTotal)
	assert.Equal(t, price(600), stat.VolumeTotal)

	// the 2 days old fill falls out of the rolling window
	assert.Equal(t, uint64(2), stat.Trades24h)
	assert.Equal(t, price(500), stat.Volume24h)

	assert.Equal(t, price(200), stat.MedianPrice)
	assert.Equal(t, price(100), stat.FloorPrice)
}

func TestComputeMedianEvenTrades(t *testing.T) {
	now := uint64(day)

	listings := []*store.SaleListing{
		{ID: 1, Price: price(100), Status: store.ListingFilled, ClosedAt: now},
		{ID: 2, Price: price(300), Status: store.ListingFilled, ClosedAt: now},
	}

	stat := Compute(1, listings, nil, now)
	assert.Equal(t, price(200), stat.MedianPrice)
}
