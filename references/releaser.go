package references

import "io"

// ResourceReleaser disposes of a payload once its last reference is gone.
//
// A releaser decides where a value goes when it is no longer shared: back
// into a pool, or straight to disposal. Implementations may fail; the
// shared reference that calls them reports the failure to its ErrorLogger
// and carries on.
type ResourceReleaser[T any] interface {
	Release(value T) error
}

// ReleaserFunc adapts an ordinary function to ResourceReleaser.
type ReleaserFunc[T any] func(value T) error

// Release implements ResourceReleaser.
func (f ReleaserFunc[T]) Release(value T) error {
	return f(value)
}

// NoOpReleaser returns a releaser that does nothing. Useful for payloads
// owned by someone else, and in tests.
func NoOpReleaser[T any]() ResourceReleaser[T] {
	return ReleaserFunc[T](func(T) error { return nil })
}

// CloserReleaser returns a releaser that calls Close on the payload.
func CloserReleaser[T io.Closer]() ResourceReleaser[T] {
	return ReleaserFunc[T](func(v T) error { return v.Close() })
}
