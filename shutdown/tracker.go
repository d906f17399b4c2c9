// Package shutdown coordinates the ordered teardown of the pipeline daemon:
// it stops accepting decode jobs, waits for the ones in flight, and then
// runs cleanup steps in priority order.
package shutdown

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned when a job is started after shutdown began.
var ErrClosed = errors.New("shutdown: not accepting new work")

// InFlight counts running jobs and lets shutdown wait for them.
//
//	if !jobs.Begin() {
//	    return ErrClosed
//	}
//	defer jobs.End()
type InFlight struct {
	mu     sync.RWMutex
	wg     sync.WaitGroup
	active atomic.Int64
	closed bool
}

// NewInFlight returns an open tracker.
func NewInFlight() *InFlight {
	return &InFlight{}
}

// Begin registers a job. It returns false once Close was called; the caller
// must then not start the job. A true result must be paired with End.
func (t *InFlight) Begin() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	t.active.Add(1)
	return true
}

// End marks a job started with Begin as finished.
func (t *InFlight) End() {
	t.active.Add(-1)
	t.wg.Done()
}

// Close stops Begin from accepting jobs. Running jobs are unaffected.
func (t *InFlight) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// Closed reports whether Close was called.
func (t *InFlight) Closed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// Active returns the number of running jobs.
func (t *InFlight) Active() int64 {
	return t.active.Load()
}

// Wait blocks until every job has ended or ctx is done.
func (t *InFlight) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
