package market

import (
	"math/big"
	"time"

	"github.com/canvasart/tracker/store"
	"github.com/montanaflynn/stats"
)

// rolling window of the 24h statistics
const statsWindow = 24 * time.Hour

// trade is a completed sale, either a filled listing or an accepted offer.
type trade struct {
	price    *big.Int
	closedAt uint64
}

// Compute derives the market statistics of one scope as a pure function of
// the sale records in scope. Both push and pop recompute through here, which
// keeps the statistics consistent with derived state without journaling any
// deltas for them.
func Compute(
	projectID uint64, listings []*store.SaleListing, offers []*store.Offer, asOf uint64,
) *store.MarketStat {
	stat := &store.MarketStat{
		ProjectID:   projectID,
		Volume24h:   big.NewInt(0),
		VolumeTotal: big.NewInt(0),
		UpdatedAt:   time.Unix(int64(asOf), 0),
	}

	var trades []trade

	for _, listing := range listings {
		switch listing.Status {
		case store.ListingFilled:
			trades = append(trades, trade{price: listing.Price, closedAt: listing.ClosedAt})
		case store.ListingOpen:
		default: // cancelled listings carry no price signal
			continue
		}

		// floor folds over open and filled listing prices
		if stat.FloorPrice == nil || listing.Price.Cmp(stat.FloorPrice) < 0 {
			stat.FloorPrice = new(big.Int).Set(listing.Price)
		}
	}

	for _, offer := range offers {
		if offer.Status == store.OfferStatusAccepted {
			trades = append(trades, trade{price: offer.Price, closedAt: offer.ClosedAt})
		}
	}

	if len(trades) == 0 {
		return stat
	}

	windowStart := uint64(0)
	if window := uint64(statsWindow / time.Second); asOf > window {
		windowStart = asOf - window
	}

	prices := make([]float64, 0, len(trades))

	for _, t := range trades {
		stat.TradesTotal++
		stat.VolumeTotal.Add(stat.VolumeTotal, t.price)
		prices = append(prices, bigToFloat(t.price))

		if t.closedAt >= windowStart {
			stat.Trades24h++
			stat.Volume24h.Add(stat.Volume24h, t.price)
		}
	}

	// median over float64 loses precision beyond 2^53 wei, tolerable for a
	// statistics view
	if median, err := stats.Median(prices); err == nil {
		stat.MedianPrice, _ = new(big.Float).SetFloat64(median).Int(nil)
	}

	return stat
}

func bigToFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
