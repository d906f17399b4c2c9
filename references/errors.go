// Package references provides reference-counted ownership of resources that
// must be released explicitly, such as pooled bitmaps and byte buffers.
package references

import (
	"errors"
	"fmt"
)

// Sentinel errors for reference operations.
var (
	// ErrReferenceReleased is returned when the count of a shared reference
	// is changed after it already dropped to zero.
	ErrReferenceReleased = errors.New("references: shared reference already released")

	// ErrReferenceClosed is raised when the value of a closed proxy is read.
	ErrReferenceClosed = errors.New("references: closeable reference is closed")

	// ErrNilReleaser is returned when a shared reference is created without a releaser.
	ErrNilReleaser = errors.New("references: releaser must not be nil")
)

// ContractViolation reports misuse of a reference by calling code.
// It always wraps one of the sentinel errors above, so errors.Is works on it.
type ContractViolation struct {
	Op  string // Operation that was attempted
	Err error  // Underlying sentinel error
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ContractViolation) Unwrap() error {
	return e.Err
}
