package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"imagepipeline/memory"
)

func TestPrometheusTracker(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheusTracker(reg)

	p.OnAlloc("bitmap", 64)
	p.OnAlloc("bitmap", 32)
	p.OnValueReuse("bitmap", 64)
	p.OnValueRelease("bitmap", 64)
	p.OnFree("bitmap", 32)
	p.OnSoftCapReached("bitmap")
	p.OnHardCapReached("bitmap")
	p.OnTrim("bitmap", memory.TrimAll, 64)

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{name: "allocs", c: p.allocs.WithLabelValues("bitmap"), want: 2},
		{name: "alloc bytes", c: p.allocBytes.WithLabelValues("bitmap"), want: 96},
		{name: "reuses", c: p.reuses.WithLabelValues("bitmap"), want: 1},
		{name: "releases", c: p.releases.WithLabelValues("bitmap"), want: 1},
		{name: "frees", c: p.frees.WithLabelValues("bitmap"), want: 1},
		{name: "freed bytes", c: p.freedBytes.WithLabelValues("bitmap"), want: 32},
		{name: "soft cap", c: p.softCapHits.WithLabelValues("bitmap"), want: 1},
		{name: "hard cap", c: p.hardCapHits.WithLabelValues("bitmap"), want: 1},
		{name: "trims", c: p.trims.WithLabelValues("bitmap", memory.TrimAll.String()), want: 1},
		{name: "trimmed bytes", c: p.trimmedBytes.WithLabelValues("bitmap", memory.TrimAll.String()), want: 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.c); got != tt.want {
				t.Errorf("value = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewPrometheusTracker_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusTracker(reg)

	defer func() {
		if recover() == nil {
			t.Error("second NewPrometheusTracker on the same registry did not panic")
		}
	}()
	NewPrometheusTracker(reg)
}

type fixedStats memory.PoolStats

func (f fixedStats) Stats() memory.PoolStats { return memory.PoolStats(f) }

func TestPoolCollector(t *testing.T) {
	c := NewPoolCollector(fixedStats{Name: "bitmap", UsedBytes: 128, FreeBytes: 64, UsedCount: 2, FreeCount: 1, SoftCap: 1024, HardCap: 2048})

	want := `
# HELP imagepipeline_pool_used_bytes Bytes handed out and not yet released.
# TYPE imagepipeline_pool_used_bytes gauge
imagepipeline_pool_used_bytes{pool="bitmap"} 128
# HELP imagepipeline_pool_free_bytes Bytes held on free lists.
# TYPE imagepipeline_pool_free_bytes gauge
imagepipeline_pool_free_bytes{pool="bitmap"} 64
`
	err := testutil.CollectAndCompare(c, strings.NewReader(want),
		"imagepipeline_pool_used_bytes", "imagepipeline_pool_free_bytes")
	if err != nil {
		t.Errorf("CollectAndCompare() = %v", err)
	}
	if n := testutil.CollectAndCount(c); n != 6 {
		t.Errorf("CollectAndCount() = %d, want 6", n)
	}
}
