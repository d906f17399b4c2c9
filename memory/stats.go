package memory

// PoolStatsTracker receives pool events. Calls happen outside the pool lock
// and the pool never reads anything back.
type PoolStatsTracker interface {
	// OnAlloc is called after a fresh value of sizeInBytes was allocated.
	OnAlloc(pool string, sizeInBytes int)

	// OnValueReuse is called when Get is served from a free list.
	OnValueReuse(pool string, sizeInBytes int)

	// OnValueRelease is called when a released value joins a free list.
	OnValueRelease(pool string, sizeInBytes int)

	// OnFree is called when a value is disposed instead of kept.
	OnFree(pool string, sizeInBytes int)

	// OnSoftCapReached is called when an allocation crosses the soft cap.
	OnSoftCapReached(pool string)

	// OnHardCapReached is called when Get fails on the hard cap.
	OnHardCapReached(pool string)

	// OnTrim is called after a trim pass freed freedBytes.
	OnTrim(pool string, trimType TrimType, freedBytes int)
}

// NoOpPoolStatsTracker ignores every event.
type NoOpPoolStatsTracker struct{}

func (NoOpPoolStatsTracker) OnAlloc(string, int)          {}
func (NoOpPoolStatsTracker) OnValueReuse(string, int)     {}
func (NoOpPoolStatsTracker) OnValueRelease(string, int)   {}
func (NoOpPoolStatsTracker) OnFree(string, int)           {}
func (NoOpPoolStatsTracker) OnSoftCapReached(string)      {}
func (NoOpPoolStatsTracker) OnHardCapReached(string)      {}
func (NoOpPoolStatsTracker) OnTrim(string, TrimType, int) {}

// MultiStatsTracker forwards every event to each tracker in order.
type MultiStatsTracker []PoolStatsTracker

// NewMultiStatsTracker drops nil trackers and returns the rest as one.
func NewMultiStatsTracker(trackers ...PoolStatsTracker) MultiStatsTracker {
	out := make(MultiStatsTracker, 0, len(trackers))
	for _, t := range trackers {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

func (m MultiStatsTracker) OnAlloc(pool string, n int) {
	for _, t := range m {
		t.OnAlloc(pool, n)
	}
}

func (m MultiStatsTracker) OnValueReuse(pool string, n int) {
	for _, t := range m {
		t.OnValueReuse(pool, n)
	}
}

func (m MultiStatsTracker) OnValueRelease(pool string, n int) {
	for _, t := range m {
		t.OnValueRelease(pool, n)
	}
}

func (m MultiStatsTracker) OnFree(pool string, n int) {
	for _, t := range m {
		t.OnFree(pool, n)
	}
}

func (m MultiStatsTracker) OnSoftCapReached(pool string) {
	for _, t := range m {
		t.OnSoftCapReached(pool)
	}
}

func (m MultiStatsTracker) OnHardCapReached(pool string) {
	for _, t := range m {
		t.OnHardCapReached(pool)
	}
}

func (m MultiStatsTracker) OnTrim(pool string, trimType TrimType, freed int) {
	for _, t := range m {
		t.OnTrim(pool, trimType, freed)
	}
}

// PoolStats is a point-in-time view of a pool's accounting.
type PoolStats struct {
	Name      string              `json:"name"`
	UsedCount int                 `json:"used_count"`
	UsedBytes int                 `json:"used_bytes"`
	FreeCount int                 `json:"free_count"`
	FreeBytes int                 `json:"free_bytes"`
	SoftCap   int                 `json:"soft_cap"`
	HardCap   int                 `json:"hard_cap"`
	Buckets   map[int]BucketStats `json:"buckets"`
}

// BucketStats counts values of one bucketed size.
type BucketStats struct {
	InUse int `json:"in_use"`
	Free  int `json:"free"`
}
