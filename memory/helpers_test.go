package memory

import "sync"

// recordingTracker counts stats events by kind.
type recordingTracker struct {
	mu       sync.Mutex
	allocs   int
	reuses   int
	releases int
	frees    int
	softCaps int
	hardCaps int
	trims    []TrimType
	trimmed  int
}

func (r *recordingTracker) OnAlloc(string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allocs++
}

func (r *recordingTracker) OnValueReuse(string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reuses++
}

func (r *recordingTracker) OnValueRelease(string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releases++
}

func (r *recordingTracker) OnFree(string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frees++
}

func (r *recordingTracker) OnSoftCapReached(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.softCaps++
}

func (r *recordingTracker) OnHardCapReached(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hardCaps++
}

func (r *recordingTracker) OnTrim(_ string, t TrimType, freed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trims = append(r.trims, t)
	r.trimmed += freed
}

// recordingRegistry remembers registrations.
type recordingRegistry struct {
	set trimmableSet
}

func (r *recordingRegistry) RegisterMemoryTrimmable(t MemoryTrimmable)   { r.set.add(t) }
func (r *recordingRegistry) UnregisterMemoryTrimmable(t MemoryTrimmable) { r.set.remove(t) }
