package db

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultQueueCapacity is the default number of writes an AsyncWriter
// buffers before dropping.
const DefaultQueueCapacity = 1024

// ErrWriterClosed is returned by Flush after Close.
var ErrWriterClosed = errors.New("db: async writer closed")

type writeOp[T any] struct {
	item    T
	barrier chan struct{}
}

// AsyncWriter hands items to a handler on one background goroutine so
// callers never wait on the database. Writes that do not fit in the buffer
// are dropped and counted.
type AsyncWriter[T any] struct {
	ops     chan writeOp[T]
	handler func(T) error
	onError func(error)

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup

	written atomic.Int64
	dropped atomic.Int64
}

// NewAsyncWriter creates a stopped writer. onError may be nil.
func NewAsyncWriter[T any](capacity int, handler func(T) error, onError func(error)) *AsyncWriter[T] {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &AsyncWriter[T]{
		ops:     make(chan writeOp[T], capacity),
		handler: handler,
		onError: onError,
	}
}

// Start launches the background goroutine. Calling it twice is a no-op.
func (w *AsyncWriter[T]) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.closed {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.run()
}

func (w *AsyncWriter[T]) run() {
	defer w.wg.Done()
	for op := range w.ops {
		if op.barrier != nil {
			close(op.barrier)
			continue
		}
		if err := w.handler(op.item); err != nil {
			w.onError(err)
			continue
		}
		w.written.Add(1)
	}
}

// Write queues item without blocking. It returns false if the buffer is
// full or the writer is closed.
func (w *AsyncWriter[T]) Write(item T) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return false
	}
	select {
	case w.ops <- writeOp[T]{item: item}:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Flush waits until every item queued before the call has been handled.
func (w *AsyncWriter[T]) Flush(ctx context.Context) error {
	barrier := make(chan struct{})

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrWriterClosed
	}
	select {
	case w.ops <- writeOp[T]{barrier: barrier}:
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting writes, drains the buffer and waits for the
// background goroutine. It is safe to call more than once.
func (w *AsyncWriter[T]) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.ops)
	started := w.started
	w.mu.Unlock()

	if !started {
		// Nobody will drain the buffer; handle it here.
		w.wg.Add(1)
		w.run()
	}
	w.wg.Wait()
}

// Pending returns the number of buffered writes.
func (w *AsyncWriter[T]) Pending() int { return len(w.ops) }

// Written returns the number of items handled successfully.
func (w *AsyncWriter[T]) Written() int64 { return w.written.Load() }

// Dropped returns the number of items refused by Write.
func (w *AsyncWriter[T]) Dropped() int64 { return w.dropped.Load() }
