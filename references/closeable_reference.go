package references

import (
	"io"
	"sync"
)

// CloseableReference is a handle onto a SharedReference that can be closed
// independently of its siblings.
//
// Each live CloseableReference accounts for exactly one count on the shared
// reference. Clone adds a sibling, Close gives this handle's count back.
// Closing twice is a no-op.
//
// Reading the value of a closed handle through Get panics with a
// *ContractViolation wrapping ErrReferenceClosed. TryGet returns that error
// instead of panicking.
//
// Example:
//
//	ref, _ := Of(bmp, pool)
//	defer ref.Close()
//
//	keep := ref.Clone() // retained past the callback
//	go func() {
//	    defer keep.Close()
//	    render(keep.Get())
//	}()
type CloseableReference[T any] struct {
	mu     sync.Mutex
	shared *SharedReference[T]
	closed bool
}

var _ io.Closer = (*CloseableReference[int])(nil)

// Of wraps value in a new SharedReference and returns the first handle.
func Of[T any](value T, releaser ResourceReleaser[T], opts ...Option) (*CloseableReference[T], error) {
	shared, err := NewSharedReference(value, releaser, opts...)
	if err != nil {
		return nil, err
	}
	return &CloseableReference[T]{shared: shared}, nil
}

// OfCloser wraps a value whose Close method disposes it.
func OfCloser[T io.Closer](value T, opts ...Option) (*CloseableReference[T], error) {
	return Of(value, CloserReleaser[T](), opts...)
}

// FromShared takes a new count on shared and returns a handle for it.
// Returns nil if shared is nil or already released.
func FromShared[T any](shared *SharedReference[T]) *CloseableReference[T] {
	if shared == nil || shared.AddReference() != nil {
		return nil
	}
	return &CloseableReference[T]{shared: shared}
}

// Clone returns a new handle sharing the same value, or nil when r is nil,
// closed or its shared reference is already released.
func (r *CloseableReference[T]) Clone() *CloseableReference[T] {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	return FromShared(r.shared)
}

// CloneOrNil is the package-level form of Clone.
func CloneOrNil[T any](r *CloseableReference[T]) *CloseableReference[T] {
	return r.Clone()
}

// Close gives this handle's count back to the shared reference. Only the
// first call has an effect.
func (r *CloseableReference[T]) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	return r.shared.DeleteReference()
}

// Get returns the value. It panics with the TryGet error if the handle is
// closed or its shared reference is released.
func (r *CloseableReference[T]) Get() T {
	v, err := r.TryGet()
	if err != nil {
		panic(err)
	}
	return v
}

// TryGet returns the value, or a *ContractViolation if the handle is
// closed (ErrReferenceClosed) or its shared reference was already released
// through another path (ErrReferenceReleased).
func (r *CloseableReference[T]) TryGet() (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	if r.closed {
		return zero, &ContractViolation{Op: "Get", Err: ErrReferenceClosed}
	}
	v, alive := r.shared.load()
	if !alive {
		return zero, &ContractViolation{Op: "Get", Err: ErrReferenceReleased}
	}
	return v, nil
}

// IsValid reports whether r is open and its shared reference is alive.
// It tolerates a nil handle.
func (r *CloseableReference[T]) IsValid() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && r.shared.IsValid()
}

// IsValid is the package-level predicate form of (*CloseableReference).IsValid.
func IsValid[T any](r *CloseableReference[T]) bool {
	return r.IsValid()
}

// SharedReference returns the underlying shared reference.
func (r *CloseableReference[T]) SharedReference() *SharedReference[T] {
	return r.shared
}

// CloseSafely closes every non-nil handle in refs.
func CloseSafely[T any](refs ...*CloseableReference[T]) {
	for _, r := range refs {
		if r != nil {
			_ = r.Close()
		}
	}
}
