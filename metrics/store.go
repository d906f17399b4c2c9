package metrics

import (
	"sync"
	"time"

	"imagepipeline/memory"
)

// DefaultEventCapacity is the number of events a Store keeps by default.
const DefaultEventCapacity = 256

// Store is an in-memory Collector. It keeps per-pool counters for the
// process lifetime and the most recent events in a ring buffer.
//
// Example:
//
//	store := metrics.NewStore(metrics.StoreConfig{}, time.Now())
//	pool, err := memory.NewBitmapPool(params, memory.WithStatsTracker(store))
//	...
//	c, _ := store.Counters(memory.BitmapPoolName)
//	fmt.Printf("reuse rate %.1f%%\n", c.ReuseRate())
type Store struct {
	mu sync.RWMutex

	events []PoolEvent
	head   int
	size   int
	total  int64

	counters map[string]*PoolCounters

	startTime time.Time
	now       func() time.Time
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// EventCapacity bounds the ring buffer. Zero means DefaultEventCapacity.
	EventCapacity int `yaml:"event_capacity"`
}

var _ Collector = (*Store)(nil)

// NewStore creates an empty store. startTime is used for Summary.Uptime.
func NewStore(cfg StoreConfig, startTime time.Time) *Store {
	capacity := cfg.EventCapacity
	if capacity < 1 {
		capacity = DefaultEventCapacity
	}
	return &Store{
		events:    make([]PoolEvent, capacity),
		counters:  make(map[string]*PoolCounters),
		startTime: startTime,
		now:       time.Now,
	}
}

func (s *Store) record(pool string, kind EventKind, bytes int, update func(*PoolCounters)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[s.head] = PoolEvent{Time: s.now(), Pool: pool, Kind: kind, Bytes: bytes}
	s.head = (s.head + 1) % len(s.events)
	if s.size < len(s.events) {
		s.size++
	}
	s.total++

	c, ok := s.counters[pool]
	if !ok {
		c = &PoolCounters{}
		s.counters[pool] = c
	}
	update(c)
}

// OnAlloc implements memory.PoolStatsTracker.
func (s *Store) OnAlloc(pool string, n int) {
	s.record(pool, EventAlloc, n, func(c *PoolCounters) {
		c.Allocs++
		c.AllocatedBytes += int64(n)
	})
}

// OnValueReuse implements memory.PoolStatsTracker.
func (s *Store) OnValueReuse(pool string, n int) {
	s.record(pool, EventReuse, n, func(c *PoolCounters) { c.Reuses++ })
}

// OnValueRelease implements memory.PoolStatsTracker.
func (s *Store) OnValueRelease(pool string, n int) {
	s.record(pool, EventRelease, n, func(c *PoolCounters) { c.Releases++ })
}

// OnFree implements memory.PoolStatsTracker.
func (s *Store) OnFree(pool string, n int) {
	s.record(pool, EventFree, n, func(c *PoolCounters) {
		c.Frees++
		c.FreedBytes += int64(n)
	})
}

// OnSoftCapReached implements memory.PoolStatsTracker.
func (s *Store) OnSoftCapReached(pool string) {
	s.record(pool, EventSoftCap, 0, func(c *PoolCounters) { c.SoftCapHits++ })
}

// OnHardCapReached implements memory.PoolStatsTracker.
func (s *Store) OnHardCapReached(pool string) {
	s.record(pool, EventHardCap, 0, func(c *PoolCounters) { c.HardCapHits++ })
}

// OnTrim implements memory.PoolStatsTracker.
func (s *Store) OnTrim(pool string, trimType memory.TrimType, freed int) {
	s.record(pool, trimKind(trimType), freed, func(c *PoolCounters) {
		c.Trims++
		c.TrimmedBytes += int64(freed)
	})
}

// Counters implements Collector.
func (s *Store) Counters(pool string) (PoolCounters, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.counters[pool]
	if !ok {
		return PoolCounters{}, false
	}
	return *c, true
}

// RecentEvents implements Collector.
func (s *Store) RecentEvents(limit int) []PoolEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || s.size == 0 {
		return []PoolEvent{}
	}
	limit = min(limit, s.size)

	capacity := len(s.events)
	out := make([]PoolEvent, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.events[(s.head-limit+i+capacity)%capacity]
	}
	return out
}

// Summary implements Collector.
func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counters := make(map[string]PoolCounters, len(s.counters))
	for name, c := range s.counters {
		counters[name] = *c
	}
	return Summary{
		Uptime:      s.now().Sub(s.startTime),
		TotalEvents: s.total,
		Counters:    counters,
	}
}
