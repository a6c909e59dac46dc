package metrics

import (
	"github.com/ethereum/go-ethereum/metrics"
)

// Registry holds all metrics of the event tracker.
var Registry TrackerMetrics

type TrackerMetrics struct {
	Sync  SyncMetrics
	Store StoreMetrics
}

// Sync service metrics
type SyncMetrics struct{}

func (*SyncMetrics) SyncOnceQps(err error) metrics.Timer {
	if err != nil {
		return GetOrRegisterTimer("tracker/sync/once/error")
	}

	return GetOrRegisterTimer("tracker/sync/once/success")
}

func (*SyncMetrics) SyncOnceSize() metrics.Histogram {
	return GetOrRegisterHistogram(nil, "tracker/sync/once/size")
}

func (*SyncMetrics) QueryBlockData() TimerUpdater {
	return NewTimerUpdater(GetOrRegisterTimer("tracker/sync/query/blockdata"))
}

func (*SyncMetrics) CheckpointBlock() metrics.Gauge {
	return GetOrRegisterGauge("tracker/sync/checkpoint/block")
}

func (*SyncMetrics) ReorgReverts() metrics.Meter {
	return GetOrRegisterMeter("tracker/sync/reorg/reverts")
}

// Store metrics
type StoreMetrics struct{}

func (*StoreMetrics) Push() TimerUpdater {
	return NewTimerUpdater(GetOrRegisterTimer("tracker/store/mysql/push"))
}

func (*StoreMetrics) Pop() TimerUpdater {
	return NewTimerUpdater(GetOrRegisterTimer("tracker/store/mysql/pop"))
}

func (*StoreMetrics) SkippedEvents(reason string) metrics.Meter {
	return GetOrRegisterMeter("tracker/store/events/skipped/%v", reason)
}
