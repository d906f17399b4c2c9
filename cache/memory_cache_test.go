package cache

import (
	"sync/atomic"
	"testing"

	"imagepipeline/memory"
	"imagepipeline/references"
)

type trackedValue struct {
	name     string
	size     int
	released *atomic.Int32
}

func newTracked(t *testing.T, name string, size int) (*references.CloseableReference[trackedValue], *atomic.Int32) {
	t.Helper()
	released := &atomic.Int32{}
	ref, err := references.Of(trackedValue{name: name, size: size, released: released},
		references.ReleaserFunc[trackedValue](func(v trackedValue) error {
			v.released.Add(1)
			return nil
		}))
	if err != nil {
		t.Fatalf("references.Of() unexpected error: %v", err)
	}
	return ref, released
}

func sizeOf(v trackedValue) int { return v.size }

func TestCountingMemoryCache_CacheAndGet(t *testing.T) {
	c := NewCountingMemoryCache[trackedValue](MemoryCacheParams{}, sizeOf, nil)
	key := NewSimpleCacheKey("a")

	ref, released := newTracked(t, "a", 10)
	cached := c.Cache(key, ref)
	_ = ref.Close()

	if cached == nil {
		t.Fatal("Cache() = nil")
	}
	hit := c.Get(key)
	if hit == nil || hit.Get().name != "a" {
		t.Fatalf("Get() = %v, want entry a", hit)
	}
	_ = hit.Close()
	_ = cached.Close()

	if got := released.Load(); got != 0 {
		t.Errorf("released = %d while cached, want 0", got)
	}
	if got := c.SizeInBytes(); got != 10 {
		t.Errorf("SizeInBytes() = %d, want 10", got)
	}

	c.Remove(key)
	if got := released.Load(); got != 1 {
		t.Errorf("released = %d after Remove, want 1", got)
	}
	if c.Get(key) != nil {
		t.Error("Get() after Remove should miss")
	}
}

func TestCountingMemoryCache_EvictsLRU(t *testing.T) {
	c := NewCountingMemoryCache[trackedValue](MemoryCacheParams{MaxEntries: 2}, sizeOf, nil)

	var releases []*atomic.Int32
	for _, name := range []string{"a", "b"} {
		ref, rel := newTracked(t, name, 1)
		references.CloseSafely(c.Cache(NewSimpleCacheKey(name), ref), ref)
		releases = append(releases, rel)
	}

	// Touch a so b becomes least recently used.
	references.CloseSafely(c.Get(NewSimpleCacheKey("a")))

	ref, _ := newTracked(t, "c", 1)
	references.CloseSafely(c.Cache(NewSimpleCacheKey("c"), ref), ref)

	if c.Contains(NewSimpleCacheKey("b")) {
		t.Error("b should have been evicted")
	}
	if !c.Contains(NewSimpleCacheKey("a")) {
		t.Error("a should still be cached")
	}
	if releases[1].Load() != 1 {
		t.Errorf("b released = %d, want 1", releases[1].Load())
	}
}

func TestCountingMemoryCache_EvictedValueSurvivesWhileHeld(t *testing.T) {
	c := NewCountingMemoryCache[trackedValue](MemoryCacheParams{MaxBytes: 10}, sizeOf, nil)

	ref, released := newTracked(t, "a", 8)
	held := c.Cache(NewSimpleCacheKey("a"), ref)
	_ = ref.Close()

	other, _ := newTracked(t, "b", 8)
	references.CloseSafely(c.Cache(NewSimpleCacheKey("b"), other), other)

	if c.Contains(NewSimpleCacheKey("a")) {
		t.Fatal("a should have been evicted by the byte limit")
	}
	if released.Load() != 0 {
		t.Error("evicted value released while a caller still holds it")
	}
	_ = held.Close()
	if released.Load() != 1 {
		t.Errorf("released = %d after last close, want 1", released.Load())
	}
}

func TestCountingMemoryCache_Replace(t *testing.T) {
	c := NewCountingMemoryCache[trackedValue](MemoryCacheParams{}, sizeOf, nil)
	key := NewSimpleCacheKey("k")

	first, rel1 := newTracked(t, "first", 1)
	references.CloseSafely(c.Cache(key, first), first)
	second, _ := newTracked(t, "second", 1)
	references.CloseSafely(c.Cache(key, second), second)

	if rel1.Load() != 1 {
		t.Errorf("replaced value released = %d, want 1", rel1.Load())
	}
	hit := c.Get(key)
	defer hit.Close()
	if hit.Get().name != "second" {
		t.Errorf("Get() = %q, want second", hit.Get().name)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCountingMemoryCache_CacheClosedRef(t *testing.T) {
	c := NewCountingMemoryCache[trackedValue](MemoryCacheParams{}, sizeOf, nil)
	ref, _ := newTracked(t, "a", 1)
	_ = ref.Close()

	if got := c.Cache(NewSimpleCacheKey("a"), ref); got != nil {
		t.Error("Cache() of a closed reference should return nil")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestCountingMemoryCache_Trim(t *testing.T) {
	tests := []struct {
		trimType memory.TrimType
		wantLen  int
	}{
		{trimType: memory.TrimModerate, wantLen: 2},
		{trimType: memory.TrimAll, wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.trimType.String(), func(t *testing.T) {
			c := NewCountingMemoryCache[trackedValue](MemoryCacheParams{}, sizeOf, nil)
			for _, name := range []string{"a", "b", "c", "d"} {
				ref, _ := newTracked(t, name, 1)
				references.CloseSafely(c.Cache(NewSimpleCacheKey(name), ref), ref)
			}

			c.Trim(tt.trimType)

			if c.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", c.Len(), tt.wantLen)
			}
			if tt.wantLen > 0 && c.Contains(NewSimpleCacheKey("a")) {
				t.Error("oldest entry should be trimmed first")
			}
		})
	}
}

func TestCountingMemoryCache_RemoveByURI(t *testing.T) {
	c := NewCountingMemoryCache[trackedValue](MemoryCacheParams{}, sizeOf, nil)
	f := NewDefaultCacheKeyFactory()

	for _, opts := range [][]RequestOption{nil, {WithResize(10, 10)}} {
		req, _ := NewImageRequest("https://img.example.com/cat.png", opts...)
		ref, _ := newTracked(t, "cat", 1)
		references.CloseSafely(c.Cache(f.BitmapCacheKey(req, nil), ref), ref)
	}
	dog, _ := NewImageRequest("https://img.example.com/dog.png")
	ref, _ := newTracked(t, "dog", 1)
	references.CloseSafely(c.Cache(f.BitmapCacheKey(dog, nil), ref), ref)

	if got := c.RemoveByURI("cat.png"); got != 2 {
		t.Errorf("RemoveByURI() = %d, want 2", got)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}
