package catchup

import (
	"context"

	viperutil "github.com/Conflux-Chain/go-conflux-util/viper"
	"github.com/canvasart/tracker/store"
	"github.com/canvasart/tracker/types"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// BlockSource queries and decodes chain data of a single block.
type BlockSource interface {
	BlockData(ctx context.Context, blockNumber uint64) (*store.BlockData, error)
}

type Config struct {
	// number of concurrent block fetch workers
	Workers int `default:"4"`
}

// Prefetcher fetches block data of a confirmed block range concurrently. It
// is only used while catching up, where the whole range sits well below the
// confirmation depth and is not expected to re-org while being fetched.
type Prefetcher struct {
	conf   *Config
	source BlockSource
}

func MustNewPrefetcherFromViper(source BlockSource) *Prefetcher {
	var conf Config
	viperutil.MustUnmarshalKey("sync.catchup", &conf)

	return NewPrefetcher(&conf, source)
}

func NewPrefetcher(conf *Config, source BlockSource) *Prefetcher {
	if conf.Workers <= 0 {
		conf.Workers = 1
	}

	return &Prefetcher{conf: conf, source: source}
}

// Fetch queries and decodes chain data for the given block range with
// concurrent workers. The result slice is ordered by block number.
func (p *Prefetcher) Fetch(ctx context.Context, blockRange types.RangeUint64) ([]*store.BlockData, error) {
	if blockRange.From > blockRange.To {
		return nil, errors.Errorf("invalid block range %v", blockRange)
	}

	result := make([]*store.BlockData, blockRange.To-blockRange.From+1)

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.conf.Workers)

	for i := range result {
		blockNo := blockRange.From + uint64(i)
		slot := i

		eg.Go(func() error {
			data, err := p.source.BlockData(gctx, blockNo)
			if err != nil {
				return errors.WithMessagef(err, "failed to prefetch block %v", blockNo)
			}

			result[slot] = data
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return result, nil
}
