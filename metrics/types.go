// Package metrics records pool activity for the stats endpoint and for
// Prometheus.
package metrics

import (
	"time"

	"imagepipeline/memory"
)

// EventKind names one kind of pool event.
type EventKind string

// Pool event kinds, one per memory.PoolStatsTracker callback.
const (
	EventAlloc   EventKind = "alloc"
	EventReuse   EventKind = "reuse"
	EventRelease EventKind = "release"
	EventFree    EventKind = "free"
	EventSoftCap EventKind = "soft_cap"
	EventHardCap EventKind = "hard_cap"
	EventTrim    EventKind = "trim"
	EventTrimAll EventKind = "trim_all"
)

// PoolEvent is one recorded pool callback.
type PoolEvent struct {
	Time  time.Time `json:"time"`
	Pool  string    `json:"pool"`
	Kind  EventKind `json:"kind"`
	Bytes int       `json:"bytes,omitempty"`
}

// PoolCounters aggregates the events of one pool since start.
type PoolCounters struct {
	Allocs         int64 `json:"allocs"`
	AllocatedBytes int64 `json:"allocated_bytes"`
	Reuses         int64 `json:"reuses"`
	Releases       int64 `json:"releases"`
	Frees          int64 `json:"frees"`
	FreedBytes     int64 `json:"freed_bytes"`
	SoftCapHits    int64 `json:"soft_cap_hits"`
	HardCapHits    int64 `json:"hard_cap_hits"`
	Trims          int64 `json:"trims"`
	TrimmedBytes   int64 `json:"trimmed_bytes"`
}

// ReuseRate is the share of Gets served from a free list, 0..100.
func (c PoolCounters) ReuseRate() float64 {
	gets := c.Allocs + c.Reuses
	if gets == 0 {
		return 0
	}
	return float64(c.Reuses) / float64(gets) * 100
}

// Summary is the JSON document served by the stats endpoint.
type Summary struct {
	Uptime      time.Duration           `json:"uptime"`
	TotalEvents int64                   `json:"total_events"`
	Counters    map[string]PoolCounters `json:"counters"`
	Pools       []memory.PoolStats      `json:"pools,omitempty"`
}

func trimKind(t memory.TrimType) EventKind {
	if t == memory.TrimAll {
		return EventTrimAll
	}
	return EventTrim
}
