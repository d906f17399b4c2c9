package memory

import (
	"fmt"
)

// ByteArrayPoolName is the name byte buffer pools report in logs and stats.
const ByteArrayPoolName = "byte_array"

// PooledByteBuffer is a byte slice owned by a ByteArrayPool.
// Len tracks how many bytes of Buf hold data.
type PooledByteBuffer struct {
	Buf  []byte
	Len  int
	dead bool
}

// Bytes returns the filled part of the buffer.
func (b *PooledByteBuffer) Bytes() []byte {
	return b.Buf[:b.Len]
}

// Write appends p, failing when it does not fit in the buffer.
func (b *PooledByteBuffer) Write(p []byte) (int, error) {
	if b.dead {
		return 0, ErrPoolClosed
	}
	if b.Len+len(p) > len(b.Buf) {
		return 0, fmt.Errorf("%w: buffer of %d bytes cannot take %d more", ErrInvalidSize, len(b.Buf), len(p))
	}
	n := copy(b.Buf[b.Len:], p)
	b.Len += n
	return n, nil
}

// Reset empties the buffer without releasing it.
func (b *PooledByteBuffer) Reset() {
	b.Len = 0
}

// ByteArrayPolicy is the PoolPolicy for byte buffers. Every request must fit
// a configured bucket unless the params allow new buckets.
type ByteArrayPolicy struct {
	buckets         []int
	allowNewBuckets bool
}

// NewByteArrayPolicy builds the policy for the bucket table in params.
func NewByteArrayPolicy(params PoolParams) *ByteArrayPolicy {
	return &ByteArrayPolicy{
		buckets:         params.SortedBucketSizes(),
		allowNewBuckets: params.AllowNewBuckets,
	}
}

// Alloc allocates a buffer of bucketedSize bytes.
func (p *ByteArrayPolicy) Alloc(bucketedSize int) (*PooledByteBuffer, error) {
	if bucketedSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, bucketedSize)
	}
	if !p.allowNewBuckets {
		if _, ok := ceilBucket(p.buckets, bucketedSize); !ok {
			return nil, fmt.Errorf("%w: %d exceeds largest bucket", ErrInvalidSize, bucketedSize)
		}
	}
	return &PooledByteBuffer{Buf: make([]byte, bucketedSize)}, nil
}

// Free drops the buffer's memory.
func (p *ByteArrayPolicy) Free(value *PooledByteBuffer) error {
	if value != nil {
		value.Buf = nil
		value.Len = 0
		value.dead = true
	}
	return nil
}

// GetBucketedSize returns the smallest bucket >= requestedSize, or
// requestedSize itself when it is larger than every bucket.
func (p *ByteArrayPolicy) GetBucketedSize(requestedSize int) int {
	if b, ok := ceilBucket(p.buckets, requestedSize); ok {
		return b
	}
	return requestedSize
}

// GetBucketedSizeForValue returns the buffer capacity.
func (p *ByteArrayPolicy) GetBucketedSizeForValue(value *PooledByteBuffer) int {
	if value == nil {
		return 0
	}
	return len(value.Buf)
}

// GetSizeInBytes returns bucketedSize.
func (p *ByteArrayPolicy) GetSizeInBytes(bucketedSize int) int {
	return bucketedSize
}

// IsReusable is false for freed buffers. A reused buffer comes back empty.
func (p *ByteArrayPolicy) IsReusable(value *PooledByteBuffer) bool {
	if value == nil || value.dead {
		return false
	}
	value.Reset()
	return true
}

// ByteArrayPool is a BasePool of byte buffers.
type ByteArrayPool = BasePool[*PooledByteBuffer]

// NewByteArrayPool creates a byte buffer pool named ByteArrayPoolName.
func NewByteArrayPool(params PoolParams, opts ...PoolOption) (*ByteArrayPool, error) {
	if len(params.BucketSizes) == 0 && !params.AllowNewBuckets {
		return nil, fmt.Errorf("%w: byte array pool needs buckets", ErrInvalidParams)
	}
	return NewBasePool[*PooledByteBuffer](ByteArrayPoolName, NewByteArrayPolicy(params), params, opts...)
}
