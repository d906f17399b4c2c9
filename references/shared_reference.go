package references

import (
	"fmt"
	"sync"

	"imagepipeline/core"
)

// Option configures a SharedReference or CloseableReference.
type Option func(*options)

type options struct {
	errorLogger core.ErrorLogger
}

// WithErrorLogger sets the logger that receives releaser failures.
// The default is core.NoOpErrorLogger.
func WithErrorLogger(l core.ErrorLogger) Option {
	return func(o *options) {
		o.errorLogger = core.OrNoOp(l)
	}
}

func buildOptions(opts []Option) options {
	o := options{errorLogger: core.NoOpErrorLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SharedReference owns a single payload and releases it exactly once, when
// the last reference is deleted.
//
// A new SharedReference starts with a count of 1. Every party that needs an
// independent handle calls AddReference, and every party giving its handle
// up calls DeleteReference. Once the count reaches zero the reference is
// dead: both calls return a *ContractViolation wrapping ErrReferenceReleased.
//
// The releaser runs outside the internal lock, after the payload has been
// detached, so it may safely touch other references or pools.
//
// Most callers should use CloseableReference instead of this type directly.
//
// Example:
//
//	ref, err := NewSharedReference(buf, pool)
//	if err != nil {
//	    return err
//	}
//	_ = ref.AddReference()    // count 2
//	_ = ref.DeleteReference() // count 1
//	_ = ref.DeleteReference() // count 0, pool.Release(buf) runs
type SharedReference[T any] struct {
	mu       sync.Mutex
	value    T
	count    int
	releaser ResourceReleaser[T]
	logger   core.ErrorLogger
}

// NewSharedReference wraps value with a count of 1.
// Returns ErrNilReleaser if releaser is nil.
func NewSharedReference[T any](value T, releaser ResourceReleaser[T], opts ...Option) (*SharedReference[T], error) {
	if releaser == nil {
		return nil, ErrNilReleaser
	}
	o := buildOptions(opts)
	return &SharedReference[T]{
		value:    value,
		count:    1,
		releaser: releaser,
		logger:   o.errorLogger,
	}, nil
}

// NewNullSharedReference returns a live reference holding the zero value of
// T and a no-op releaser. It stands in for an empty result.
func NewNullSharedReference[T any](opts ...Option) *SharedReference[T] {
	var zero T
	ref, _ := NewSharedReference(zero, NoOpReleaser[T](), opts...)
	return ref
}

// Get returns the payload. After the reference is released it returns the
// zero value of T.
func (r *SharedReference[T]) Get() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

// load returns the payload and whether the count was still above zero,
// read under one lock.
func (r *SharedReference[T]) load() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value, r.count > 0
}

// RefCount returns the current count.
func (r *SharedReference[T]) RefCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// IsValid reports whether the count is above zero.
func (r *SharedReference[T]) IsValid() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count > 0
}

// IsValidSharedReference is the nil-tolerant form of IsValid.
func IsValidSharedReference[T any](r *SharedReference[T]) bool {
	return r != nil && r.IsValid()
}

// AddReference increments the count.
func (r *SharedReference[T]) AddReference() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count <= 0 {
		return &ContractViolation{Op: "AddReference", Err: ErrReferenceReleased}
	}
	r.count++
	return nil
}

// DeleteReference decrements the count and releases the payload when the
// count reaches zero. A failing releaser never makes this call fail.
func (r *SharedReference[T]) DeleteReference() error {
	r.mu.Lock()
	if r.count <= 0 {
		r.mu.Unlock()
		return &ContractViolation{Op: "DeleteReference", Err: ErrReferenceReleased}
	}
	r.count--
	if r.count > 0 {
		r.mu.Unlock()
		return nil
	}
	value := r.value
	var zero T
	r.value = zero
	r.mu.Unlock()

	r.release(value)
	return nil
}

func (r *SharedReference[T]) release(value T) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.LogError(core.CategoryResourceRelease, "SharedReference",
				fmt.Sprintf("releaser panicked: %v", p))
		}
	}()
	if err := r.releaser.Release(value); err != nil {
		r.logger.LogError(core.CategoryResourceRelease, "SharedReference",
			fmt.Sprintf("releaser failed: %v", err))
	}
}
