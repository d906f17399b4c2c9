package memory

import (
	"fmt"
	"sort"
)

// PoolParams configures a BasePool.
//
// BucketSizes maps a bucketed size to the maximum number of values of that
// size the pool tracks, checked out and free together. Once a bucket holds
// that many, released values of its size are disposed. A length of 0 keeps
// nothing for that size.
type PoolParams struct {
	// MaxSizeSoftCap is the total byte size (used + free) above which the
	// pool stops keeping released values and trims free lists.
	MaxSizeSoftCap int `yaml:"max_size_soft_cap"`

	// MaxSizeHardCap is the byte size of checked-out values the pool will
	// never exceed. Get fails with a *PoolSizeViolation instead.
	MaxSizeHardCap int `yaml:"max_size_hard_cap"`

	// BucketSizes maps bucketed size to max tracked values.
	BucketSizes map[int]int `yaml:"bucket_sizes"`

	// AllowNewBuckets lets the pool create an unbounded bucket for a
	// bucketed size that BucketSizes does not list.
	AllowNewBuckets bool `yaml:"allow_new_buckets"`
}

// Validate checks the caps and bucket table.
func (p PoolParams) Validate() error {
	if p.MaxSizeSoftCap < 0 {
		return fmt.Errorf("%w: soft cap %d is negative", ErrInvalidParams, p.MaxSizeSoftCap)
	}
	if p.MaxSizeHardCap < p.MaxSizeSoftCap {
		return fmt.Errorf("%w: hard cap %d is below soft cap %d", ErrInvalidParams, p.MaxSizeHardCap, p.MaxSizeSoftCap)
	}
	for size, length := range p.BucketSizes {
		if size <= 0 {
			return fmt.Errorf("%w: bucket size %d must be positive", ErrInvalidParams, size)
		}
		if length < 0 {
			return fmt.Errorf("%w: bucket %d has negative max length %d", ErrInvalidParams, size, length)
		}
	}
	return nil
}

// SortedBucketSizes returns the configured bucket sizes in ascending order.
func (p PoolParams) SortedBucketSizes() []int {
	sizes := make([]int, 0, len(p.BucketSizes))
	for size := range p.BucketSizes {
		sizes = append(sizes, size)
	}
	sort.Ints(sizes)
	return sizes
}

// DefaultBitmapPoolParams returns params for a bitmap pool that keeps up to
// softCap bytes of free bitmaps and hands out at most hardCap bytes.
// Any bitmap size gets its own bucket.
func DefaultBitmapPoolParams(softCap, hardCap int) PoolParams {
	return PoolParams{
		MaxSizeSoftCap:  softCap,
		MaxSizeHardCap:  hardCap,
		BucketSizes:     map[int]int{},
		AllowNewBuckets: true,
	}
}

// DefaultByteArrayPoolParams returns params for a byte buffer pool with
// power-of-two buckets from 16KiB to 1MiB, each keeping maxPerBucket buffers.
func DefaultByteArrayPoolParams(maxPerBucket int) PoolParams {
	buckets := make(map[int]int)
	for size := 16 * 1024; size <= 1024*1024; size *= 2 {
		buckets[size] = maxPerBucket
	}
	return PoolParams{
		MaxSizeSoftCap: 4 * 1024 * 1024,
		MaxSizeHardCap: 32 * 1024 * 1024,
		BucketSizes:    buckets,
	}
}

// ceilBucket returns the smallest bucket in sorted that is >= size.
func ceilBucket(sorted []int, size int) (int, bool) {
	i := sort.SearchInts(sorted, size)
	if i == len(sorted) {
		return 0, false
	}
	return sorted[i], true
}
