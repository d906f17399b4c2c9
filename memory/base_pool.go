package memory

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"imagepipeline/core"
	"imagepipeline/references"
)

// PoolPolicy supplies the type-specific half of a BasePool.
//
// The pool calls Alloc and Free outside its lock. Sizes are expressed in
// the policy's own unit (bytes for every pool in this module); the pool
// only needs GetSizeInBytes to turn them into bytes.
type PoolPolicy[V comparable] interface {
	// Alloc creates a fresh value for a bucketed size.
	Alloc(bucketedSize int) (V, error)

	// Free disposes of a value the pool is not keeping.
	Free(value V) error

	// GetBucketedSize maps a requested size onto the size actually allocated.
	GetBucketedSize(requestedSize int) int

	// GetBucketedSizeForValue maps a value back onto its bucket, using its
	// real footprint.
	GetBucketedSizeForValue(value V) int

	// GetSizeInBytes is the byte cost of one value of a bucketed size.
	GetSizeInBytes(bucketedSize int) int

	// IsReusable reports whether value can go back on a free list.
	IsReusable(value V) bool
}

// PoolOption configures a BasePool.
type PoolOption func(*poolOptions)

type poolOptions struct {
	logger      *zap.Logger
	errorLogger core.ErrorLogger
	stats       PoolStatsTracker
	registry    MemoryTrimmableRegistry
}

// WithLogger sets the zap logger for pool diagnostics.
func WithLogger(l *zap.Logger) PoolOption {
	return func(o *poolOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithErrorLogger sets where swallowed pool errors are reported.
func WithErrorLogger(l core.ErrorLogger) PoolOption {
	return func(o *poolOptions) {
		o.errorLogger = core.OrNoOp(l)
	}
}

// WithStatsTracker sets the stats sink.
func WithStatsTracker(t PoolStatsTracker) PoolOption {
	return func(o *poolOptions) {
		if t != nil {
			o.stats = t
		}
	}
}

// WithTrimmableRegistry sets the registry the pool subscribes to for trim
// signals.
func WithTrimmableRegistry(r MemoryTrimmableRegistry) PoolOption {
	return func(o *poolOptions) {
		if r != nil {
			o.registry = r
		}
	}
}

// inUseEntry is what Get recorded about a checked-out value. Release uses
// it instead of the value's current footprint, which may have changed.
type inUseEntry struct {
	bucketedSize int
	numBytes     int
}

type counter struct {
	count    int
	numBytes int
}

func (c *counter) increment(n int) {
	c.count++
	c.numBytes += n
}

func (c *counter) decrement(n int) {
	if c.count > 0 {
		c.count--
	}
	c.numBytes -= n
	if c.numBytes < 0 {
		c.numBytes = 0
	}
}

func (c *counter) reset() {
	c.count = 0
	c.numBytes = 0
}

// BasePool recycles values by bucketed size.
//
// Get serves a request from the free list of its bucket when possible and
// allocates otherwise. Release puts a value back on its bucket's free list
// when the value is reusable, the bucket has room and the pool is under its
// soft cap; every other value is disposed. Values the pool did not hand out
// are always disposed.
//
// Free values are dropped when the pool would cross its soft cap, when a
// trim signal arrives, and on Close. Checked-out values are never touched.
//
// BasePool implements references.ResourceReleaser, so it can be the
// releaser of a shared reference directly.
//
// Example:
//
//	pool, err := NewBitmapPool(params, WithStatsTracker(store))
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	bmp, err := pool.Get(224)
//	ref, _ := references.Of(bmp, pool)
//	defer ref.Close() // bmp goes back to the pool
type BasePool[V comparable] struct {
	name   string
	policy PoolPolicy[V]
	params PoolParams

	logger      *zap.Logger
	errorLogger core.ErrorLogger
	stats       PoolStatsTracker
	registry    MemoryTrimmableRegistry

	mu      sync.Mutex
	buckets map[int]*bucket[V]
	inUse   map[V]inUseEntry
	pooled  map[V]struct{}
	used    counter
	free    counter
	closed  bool
}

var _ references.ResourceReleaser[int] = (*BasePool[int])(nil)
var _ MemoryTrimmable = (*BasePool[int])(nil)

// NewBasePool creates a pool and registers it with the trim registry.
func NewBasePool[V comparable](name string, policy PoolPolicy[V], params PoolParams, opts ...PoolOption) (*BasePool[V], error) {
	if policy == nil {
		return nil, fmt.Errorf("%w: nil policy", ErrInvalidParams)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	o := poolOptions{
		logger:      zap.NewNop(),
		errorLogger: core.NoOpErrorLogger{},
		stats:       NoOpPoolStatsTracker{},
		registry:    NoOpMemoryTrimmableRegistry{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	p := &BasePool[V]{
		name:        name,
		policy:      policy,
		params:      params,
		logger:      o.logger.Named(name),
		errorLogger: o.errorLogger,
		stats:       o.stats,
		registry:    o.registry,
		buckets:     make(map[int]*bucket[V], len(params.BucketSizes)),
		inUse:       make(map[V]inUseEntry),
		pooled:      make(map[V]struct{}),
	}
	for size, maxLength := range params.BucketSizes {
		p.buckets[size] = newBucket[V](size, maxLength)
	}

	p.registry.RegisterMemoryTrimmable(p)
	p.logger.Debug("pool created",
		zap.Int("soft_cap", params.MaxSizeSoftCap),
		zap.Int("hard_cap", params.MaxSizeHardCap),
		zap.Ints("buckets", params.SortedBucketSizes()))
	return p, nil
}

// Name returns the pool name used in logs and stats.
func (p *BasePool[V]) Name() string {
	return p.name
}

// Params returns the pool parameters.
func (p *BasePool[V]) Params() PoolParams {
	return p.params
}

// GetBucketedSize delegates to the policy.
func (p *BasePool[V]) GetBucketedSize(requestedSize int) int {
	return p.policy.GetBucketedSize(requestedSize)
}

// GetBucketedSizeForValue delegates to the policy.
func (p *BasePool[V]) GetBucketedSizeForValue(value V) int {
	return p.policy.GetBucketedSizeForValue(value)
}

// GetSizeInBytes delegates to the policy.
func (p *BasePool[V]) GetSizeInBytes(bucketedSize int) int {
	return p.policy.GetSizeInBytes(bucketedSize)
}

// IsReusable delegates to the policy.
func (p *BasePool[V]) IsReusable(value V) bool {
	return p.policy.IsReusable(value)
}

// Get returns a value able to hold size, reusing a free one when possible.
//
// Error cases:
//   - ErrPoolClosed: the pool was closed
//   - *PoolSizeViolation: the hard cap would be exceeded
//   - any error returned by the policy's Alloc
func (p *BasePool[V]) Get(size int) (V, error) {
	var zero V
	if size < 0 {
		return zero, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	bucketedSize := p.policy.GetBucketedSize(size)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, ErrPoolClosed
	}

	b := p.getBucketLocked(bucketedSize)
	if b != nil {
		if v, ok := b.get(); ok {
			delete(p.pooled, v)
			sizeInBytes := p.policy.GetSizeInBytes(b.itemSize)
			p.inUse[v] = inUseEntry{bucketedSize: b.itemSize, numBytes: sizeInBytes}
			p.used.increment(sizeInBytes)
			p.free.decrement(sizeInBytes)
			p.mu.Unlock()

			p.stats.OnValueReuse(p.name, sizeInBytes)
			p.logger.Debug("reused value", zap.Int("bucketed_size", bucketedSize))
			return v, nil
		}
	}

	sizeInBytes := p.policy.GetSizeInBytes(bucketedSize)
	victims, softCapHit, ok := p.canAllocUpToHardCapLocked(sizeInBytes)
	if softCapHit {
		defer p.stats.OnSoftCapReached(p.name)
	}
	if !ok {
		violation := &PoolSizeViolation{
			HardCap:   p.params.MaxSizeHardCap,
			UsedBytes: p.used.numBytes,
			FreeBytes: p.free.numBytes,
			Requested: sizeInBytes,
		}
		p.mu.Unlock()
		p.disposeAll(victims, TrimModerate)
		p.stats.OnHardCapReached(p.name)
		return zero, violation
	}
	p.used.increment(sizeInBytes)
	if b != nil {
		b.incrementInUse()
	}
	p.mu.Unlock()
	p.disposeAll(victims, TrimModerate)

	v, err := p.policy.Alloc(bucketedSize)
	if err != nil {
		p.mu.Lock()
		p.used.decrement(sizeInBytes)
		if b != nil {
			b.decrementInUse()
		}
		p.mu.Unlock()
		return zero, fmt.Errorf("alloc bucketed size %d: %w", bucketedSize, err)
	}

	p.mu.Lock()
	p.inUse[v] = inUseEntry{bucketedSize: bucketedSize, numBytes: sizeInBytes}
	victims = p.trimToSoftCapLocked()
	p.mu.Unlock()
	p.disposeAll(victims, TrimModerate)

	p.stats.OnAlloc(p.name, sizeInBytes)
	p.logger.Debug("allocated value",
		zap.Int("bucketed_size", bucketedSize),
		zap.String("size", core.FormatBytes(int64(sizeInBytes))))
	return v, nil
}

// Release returns a value obtained from Get.
//
// The value is kept for reuse only when its bucket is known and not full,
// the pool is under its soft cap, the policy reports it reusable and its
// footprint still matches the bucket it was handed out from. Otherwise it
// is disposed. Bucket accounting always uses the size recorded by Get, so a
// value disposed while checked out still frees its slot. A value the pool
// does not know about is reported to the error logger and disposed; a
// value already sitting on a free list is reported and left alone. The
// returned error comes from disposing the value.
func (p *BasePool[V]) Release(value V) error {
	p.mu.Lock()
	entry, ok := p.inUse[value]
	if !ok {
		_, isPooled := p.pooled[value]
		p.mu.Unlock()
		bucketedSize := p.policy.GetBucketedSizeForValue(value)
		if isPooled {
			p.errorLogger.LogError(core.CategoryPoolRelease, p.name,
				fmt.Sprintf("value of bucketed size %d released twice", bucketedSize))
			p.logger.Warn("ignoring double release", zap.Int("bucketed_size", bucketedSize))
			return nil
		}
		p.errorLogger.LogError(core.CategoryPoolRelease, p.name,
			fmt.Sprintf("released value of bucketed size %d was not handed out by this pool", bucketedSize))
		p.logger.Warn("releasing unknown value", zap.Int("bucketed_size", bucketedSize))
		return p.dispose(value, p.policy.GetSizeInBytes(bucketedSize))
	}
	delete(p.inUse, value)

	var b *bucket[V]
	if !p.closed {
		b = p.getBucketLocked(entry.bucketedSize)
	}

	reusable := p.policy.IsReusable(value) &&
		p.policy.GetBucketedSizeForValue(value) == entry.bucketedSize
	softCapExceeded := p.isMaxSizeSoftCapExceededLocked()
	if b == nil || b.isMaxLengthExceeded() || softCapExceeded || !reusable {
		if b != nil {
			b.decrementInUse()
		}
		p.used.decrement(entry.numBytes)
		p.mu.Unlock()
		if softCapExceeded {
			p.stats.OnSoftCapReached(p.name)
		}
		return p.dispose(value, entry.numBytes)
	}

	sizeInBytes := p.policy.GetSizeInBytes(b.itemSize)
	b.release(value)
	p.pooled[value] = struct{}{}
	p.free.increment(sizeInBytes)
	p.used.decrement(entry.numBytes)
	p.mu.Unlock()

	p.stats.OnValueRelease(p.name, sizeInBytes)
	return nil
}

// Trim drops free values. TrimModerate frees about half of the free bytes,
// smallest bucket first and oldest value first; TrimAll frees everything
// on the free lists.
func (p *BasePool[V]) Trim(trimType TrimType) {
	p.mu.Lock()
	var victims []V
	switch trimType {
	case TrimAll:
		victims = p.trimToNothingLocked()
	default:
		victims = p.trimToSizeLocked(p.used.numBytes + p.free.numBytes/2)
		victims = append(victims, p.trimToSoftCapLocked()...)
	}
	p.mu.Unlock()

	freed := p.disposeAll(victims, trimType)
	p.stats.OnTrim(p.name, trimType, freed)
	p.logger.Info("pool trimmed",
		zap.Stringer("trim_type", trimType),
		zap.Int("values", len(victims)),
		zap.String("freed", core.FormatBytes(int64(freed))))
}

// Stats returns a snapshot of the pool's accounting.
func (p *BasePool[V]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := PoolStats{
		Name:      p.name,
		UsedCount: p.used.count,
		UsedBytes: p.used.numBytes,
		FreeCount: p.free.count,
		FreeBytes: p.free.numBytes,
		SoftCap:   p.params.MaxSizeSoftCap,
		HardCap:   p.params.MaxSizeHardCap,
		Buckets:   make(map[int]BucketStats, len(p.buckets)),
	}
	for size, b := range p.buckets {
		s.Buckets[size] = BucketStats{InUse: b.inUse, Free: b.freeLength()}
	}
	return s
}

// Close unregisters the pool from its trim registry and disposes every
// free value. Values still checked out are disposed when released.
func (p *BasePool[V]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	victims := p.trimToNothingLocked()
	p.mu.Unlock()

	p.registry.UnregisterMemoryTrimmable(p)

	var errs []error
	for _, v := range victims {
		if err := p.policy.Free(v); err != nil {
			errs = append(errs, err)
		}
	}
	p.logger.Debug("pool closed", zap.Int("disposed", len(victims)))
	return errors.Join(errs...)
}

// getBucketLocked returns the bucket for bucketedSize, creating it when new
// buckets are allowed.
func (p *BasePool[V]) getBucketLocked(bucketedSize int) *bucket[V] {
	if bucketedSize <= 0 {
		return nil
	}
	if b, ok := p.buckets[bucketedSize]; ok {
		return b
	}
	if !p.params.AllowNewBuckets {
		return nil
	}
	b := newUnboundedBucket[V](bucketedSize)
	p.buckets[bucketedSize] = b
	return b
}

func (p *BasePool[V]) isMaxSizeSoftCapExceededLocked() bool {
	return p.used.numBytes+p.free.numBytes > p.params.MaxSizeSoftCap
}

// canAllocUpToHardCapLocked trims free values when the allocation would cross
// the soft cap, then reports whether it still fits under the hard cap. The
// returned victims must be disposed after unlocking.
func (p *BasePool[V]) canAllocUpToHardCapLocked(sizeInBytes int) (victims []V, softCapHit, ok bool) {
	hardCap := p.params.MaxSizeHardCap
	if sizeInBytes > hardCap-p.used.numBytes {
		return nil, false, false
	}

	softCap := p.params.MaxSizeSoftCap
	if sizeInBytes > softCap-(p.used.numBytes+p.free.numBytes) {
		softCapHit = true
		victims = p.trimToSizeLocked(softCap - sizeInBytes)
	}

	if sizeInBytes > hardCap-(p.used.numBytes+p.free.numBytes) {
		return victims, softCapHit, false
	}
	return victims, softCapHit, true
}

func (p *BasePool[V]) trimToSoftCapLocked() []V {
	if p.used.numBytes+p.free.numBytes <= p.params.MaxSizeSoftCap {
		return nil
	}
	return p.trimToSizeLocked(p.params.MaxSizeSoftCap)
}

// trimToSizeLocked removes free values until used+free is at most target or
// the free lists are empty. Smaller buckets go first.
func (p *BasePool[V]) trimToSizeLocked(target int) []V {
	bytesToFree := min(p.used.numBytes+p.free.numBytes-target, p.free.numBytes)
	if bytesToFree <= 0 {
		return nil
	}

	var victims []V
	for _, size := range p.sortedBucketSizesLocked() {
		if bytesToFree <= 0 {
			break
		}
		b := p.buckets[size]
		sizeInBytes := p.policy.GetSizeInBytes(size)
		for bytesToFree > 0 {
			v, ok := b.pop()
			if !ok {
				break
			}
			delete(p.pooled, v)
			victims = append(victims, v)
			bytesToFree -= sizeInBytes
			p.free.decrement(sizeInBytes)
		}
	}
	return victims
}

func (p *BasePool[V]) trimToNothingLocked() []V {
	var victims []V
	for _, size := range p.sortedBucketSizesLocked() {
		b := p.buckets[size]
		for {
			v, ok := b.pop()
			if !ok {
				break
			}
			victims = append(victims, v)
		}
	}
	p.free.reset()
	clear(p.pooled)
	return victims
}

func (p *BasePool[V]) sortedBucketSizesLocked() []int {
	sizes := make([]int, 0, len(p.buckets))
	for size := range p.buckets {
		sizes = append(sizes, size)
	}
	sort.Ints(sizes)
	return sizes
}

// dispose frees a single value and reports it.
func (p *BasePool[V]) dispose(value V, sizeInBytes int) error {
	err := p.policy.Free(value)
	p.stats.OnFree(p.name, sizeInBytes)
	if err != nil {
		return fmt.Errorf("free value: %w", err)
	}
	return nil
}

// disposeAll frees trimmed values and returns the bytes they accounted for.
func (p *BasePool[V]) disposeAll(victims []V, trimType TrimType) int {
	freed := 0
	for _, v := range victims {
		sizeInBytes := p.policy.GetSizeInBytes(p.policy.GetBucketedSizeForValue(v))
		if err := p.policy.Free(v); err != nil {
			p.errorLogger.LogError(core.CategoryPoolTrim, p.name,
				fmt.Sprintf("%s trim failed to free value: %v", trimType, err))
		}
		p.stats.OnFree(p.name, sizeInBytes)
		freed += sizeInBytes
	}
	return freed
}
