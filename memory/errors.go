// Package memory provides size-bucketed pools for bitmaps and byte buffers,
// along with the trim signalling that shrinks them under memory pressure.
package memory

import (
	"errors"
	"fmt"
)

// Sentinel errors for pool operations.
var (
	// ErrPoolClosed is returned by Get after Close.
	ErrPoolClosed = errors.New("memory: pool is closed")

	// ErrInvalidSize is returned for sizes a pool cannot serve.
	ErrInvalidSize = errors.New("memory: invalid size")

	// ErrInvalidParams is returned when PoolParams fail validation.
	ErrInvalidParams = errors.New("memory: invalid pool parameters")

	// ErrPoolSizeViolation is wrapped by PoolSizeViolation.
	ErrPoolSizeViolation = errors.New("memory: pool hard cap reached")
)

// PoolSizeViolation is returned when an allocation would push the pool past
// its hard cap even after free values were trimmed.
type PoolSizeViolation struct {
	HardCap   int // Configured hard cap in bytes
	UsedBytes int // Bytes checked out when the request failed
	FreeBytes int // Bytes on free lists when the request failed
	Requested int // Bytes requested
}

func (e *PoolSizeViolation) Error() string {
	return fmt.Sprintf("memory: pool hard cap reached: hardCap=%d, used=%d, free=%d, requested=%d",
		e.HardCap, e.UsedBytes, e.FreeBytes, e.Requested)
}

func (e *PoolSizeViolation) Unwrap() error {
	return ErrPoolSizeViolation
}
