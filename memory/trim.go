package memory

import "sync"

// TrimType is the severity of a memory-pressure signal.
type TrimType int

const (
	// TrimModerate asks for about half of the free memory back.
	TrimModerate TrimType = iota + 1

	// TrimAll asks for every free value to be dropped.
	TrimAll
)

func (t TrimType) String() string {
	switch t {
	case TrimModerate:
		return "moderate"
	case TrimAll:
		return "all"
	default:
		return "unknown"
	}
}

// MemoryTrimmable is implemented by anything holding memory it can give
// back on request. Trim must never drop values that callers still hold.
type MemoryTrimmable interface {
	Trim(trimType TrimType)
}

// MemoryTrimmableRegistry delivers memory-pressure signals to registered
// trimmables. Pools register when they are created and unregister on Close.
type MemoryTrimmableRegistry interface {
	RegisterMemoryTrimmable(t MemoryTrimmable)
	UnregisterMemoryTrimmable(t MemoryTrimmable)
}

// NoOpMemoryTrimmableRegistry never signals anyone.
type NoOpMemoryTrimmableRegistry struct{}

// RegisterMemoryTrimmable implements MemoryTrimmableRegistry.
func (NoOpMemoryTrimmableRegistry) RegisterMemoryTrimmable(MemoryTrimmable) {}

// UnregisterMemoryTrimmable implements MemoryTrimmableRegistry.
func (NoOpMemoryTrimmableRegistry) UnregisterMemoryTrimmable(MemoryTrimmable) {}

// trimmableSet is the registration bookkeeping shared by registries.
type trimmableSet struct {
	mu    sync.Mutex
	items map[MemoryTrimmable]struct{}
}

func (s *trimmableSet) add(t MemoryTrimmable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items == nil {
		s.items = make(map[MemoryTrimmable]struct{})
	}
	s.items[t] = struct{}{}
}

func (s *trimmableSet) remove(t MemoryTrimmable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, t)
}

func (s *trimmableSet) snapshot() []MemoryTrimmable {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MemoryTrimmable, 0, len(s.items))
	for t := range s.items {
		out = append(out, t)
	}
	return out
}

func (s *trimmableSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
