package metrics

import "imagepipeline/memory"

// Collector is a pool stats tracker that can be read back.
type Collector interface {
	memory.PoolStatsTracker

	// Counters returns the aggregate for one pool.
	Counters(pool string) (PoolCounters, bool)

	// RecentEvents returns up to limit events, oldest first.
	RecentEvents(limit int) []PoolEvent

	// Summary returns counters for every pool seen so far.
	Summary() Summary
}
