package memory

import (
	"imagepipeline/bitmap"
)

// BitmapPoolName is the name bitmap pools report in logs and stats.
const BitmapPoolName = "bitmap"

// BitmapPolicy is the PoolPolicy for bitmaps. Sizes are byte counts.
//
// A request is bucketed to the smallest configured bucket that fits it, or
// left as is when no bucket does. Fresh bitmaps are allocated with exactly
// the bucketed number of bytes; callers reshape them with Reconfigure.
type BitmapPolicy struct {
	buckets []int
}

// NewBitmapPolicy builds the policy for the bucket table in params.
func NewBitmapPolicy(params PoolParams) *BitmapPolicy {
	return &BitmapPolicy{buckets: params.SortedBucketSizes()}
}

// Alloc creates a one-row bitmap of bucketedSize bytes: RGBA8 when the size
// is a whole number of RGBA pixels, Gray8 otherwise.
func (p *BitmapPolicy) Alloc(bucketedSize int) (*bitmap.Bitmap, error) {
	if bucketedSize <= 0 {
		return nil, ErrInvalidSize
	}
	rgbaBpp := bitmap.FormatRGBA8.BytesPerPixel()
	if bucketedSize%rgbaBpp == 0 {
		return bitmap.New(1, bucketedSize/rgbaBpp, bitmap.FormatRGBA8)
	}
	return bitmap.New(1, bucketedSize, bitmap.FormatGray8)
}

// Free disposes the bitmap.
func (p *BitmapPolicy) Free(value *bitmap.Bitmap) error {
	if value != nil {
		value.Dispose()
	}
	return nil
}

// GetBucketedSize returns the smallest configured bucket >= requestedSize,
// or requestedSize when none is large enough.
func (p *BitmapPolicy) GetBucketedSize(requestedSize int) int {
	if b, ok := ceilBucket(p.buckets, requestedSize); ok {
		return b
	}
	return requestedSize
}

// GetBucketedSizeForValue returns the bitmap's allocation size.
func (p *BitmapPolicy) GetBucketedSizeForValue(value *bitmap.Bitmap) int {
	if value == nil {
		return 0
	}
	return value.AllocationByteCount()
}

// GetSizeInBytes returns bucketedSize; bitmap sizes are already bytes.
func (p *BitmapPolicy) GetSizeInBytes(bucketedSize int) int {
	return bucketedSize
}

// IsReusable is false for nil, disposed and read-only bitmaps.
func (p *BitmapPolicy) IsReusable(value *bitmap.Bitmap) bool {
	return value != nil && !value.IsDisposed() && !value.IsReadOnly()
}

// BitmapPool is a BasePool of bitmaps.
type BitmapPool = BasePool[*bitmap.Bitmap]

// NewBitmapPool creates a bitmap pool named BitmapPoolName.
func NewBitmapPool(params PoolParams, opts ...PoolOption) (*BitmapPool, error) {
	return NewBasePool[*bitmap.Bitmap](BitmapPoolName, NewBitmapPolicy(params), params, opts...)
}

// GetBitmap takes a bitmap from pool and shapes it as width x height in the
// given format.
func GetBitmap(pool *BitmapPool, width, height int, format bitmap.PixelFormat) (*bitmap.Bitmap, error) {
	size, err := bitmap.SizeInBytes(width, height, format)
	if err != nil {
		return nil, err
	}
	b, err := pool.Get(size)
	if err != nil {
		return nil, err
	}
	if err := b.Reconfigure(width, height, format); err != nil {
		_ = pool.Release(b)
		return nil, err
	}
	return b, nil
}
