package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"imagepipeline/core"
)

// Cleanup priorities used by the daemon. Lower runs first.
const (
	PriorityHTTP    = 10
	PriorityMonitor = 20
	PriorityCache   = 30
	PriorityPools   = 40
	PriorityJournal = 50
	PriorityLogger  = 90
)

type step struct {
	name     string
	priority int
	seq      int
	fn       core.ShutdownFunc
}

// StepResult reports how one cleanup step went.
type StepResult struct {
	Name     string
	Duration time.Duration
	Err      error
}

// Registry holds cleanup steps. Steps with equal priority run in
// registration order.
type Registry struct {
	mu    sync.Mutex
	steps []step
	ran   bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a step. Steps registered after Run are ignored.
func (r *Registry) Register(name string, priority int, fn core.ShutdownFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ran || fn == nil {
		return
	}
	r.steps = append(r.steps, step{name: name, priority: priority, seq: len(r.steps), fn: fn})
}

func (r *Registry) ordered() []step {
	out := make([]step, len(r.steps))
	copy(out, r.steps)
	sort.Slice(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Names lists step names in execution order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	steps := r.ordered()
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.name
	}
	return names
}

// Len returns the number of registered steps.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.steps)
}

// Run executes every step once, in order, even after one fails or ctx
// expires; each step decides for itself how to honor ctx. A second Run
// returns nil results.
func (r *Registry) Run(ctx context.Context) []StepResult {
	r.mu.Lock()
	if r.ran {
		r.mu.Unlock()
		return nil
	}
	r.ran = true
	steps := r.ordered()
	r.mu.Unlock()

	results := make([]StepResult, 0, len(steps))
	for _, s := range steps {
		start := time.Now()
		err := runStep(ctx, s)
		results = append(results, StepResult{Name: s.name, Duration: time.Since(start), Err: err})
	}
	return results
}

func runStep(ctx context.Context, s step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.fn(ctx)
}

// JoinErrors combines the failed steps into one error, each prefixed with
// its step name. It returns nil when every step succeeded.
func JoinErrors(results []StepResult) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, r.Err))
		}
	}
	return errors.Join(errs...)
}
