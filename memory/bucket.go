package memory

import (
	"math"

	"github.com/eapache/queue"
)

// bucket is the free list for one bucketed size. Values come out in the
// order they went in.
type bucket[V any] struct {
	itemSize  int
	maxLength int
	free      *queue.Queue
	inUse     int
}

func newBucket[V any](itemSize, maxLength int) *bucket[V] {
	return &bucket[V]{
		itemSize:  itemSize,
		maxLength: maxLength,
		free:      queue.New(),
	}
}

func newUnboundedBucket[V any](itemSize int) *bucket[V] {
	return newBucket[V](itemSize, math.MaxInt)
}

// get pops the oldest free value and counts it as in use.
func (b *bucket[V]) get() (V, bool) {
	v, ok := b.pop()
	if ok {
		b.inUse++
	}
	return v, ok
}

// pop removes the oldest free value without touching the in-use count.
func (b *bucket[V]) pop() (V, bool) {
	if b.free.Length() == 0 {
		var zero V
		return zero, false
	}
	return b.free.Remove().(V), true
}

// release moves an in-use value onto the free list.
func (b *bucket[V]) release(v V) {
	b.decrementInUse()
	b.free.Add(v)
}

func (b *bucket[V]) incrementInUse() {
	b.inUse++
}

func (b *bucket[V]) decrementInUse() {
	if b.inUse > 0 {
		b.inUse--
	}
}

func (b *bucket[V]) freeLength() int {
	return b.free.Length()
}

// isMaxLengthExceeded counts the value being released as still in use.
func (b *bucket[V]) isMaxLengthExceeded() bool {
	return b.inUse+b.free.Length() > b.maxLength
}
