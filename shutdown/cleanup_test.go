package shutdown

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"imagepipeline/bitmap"
	"imagepipeline/logging"
	"imagepipeline/memory"
)

func newBitmapPool(t *testing.T) *memory.BitmapPool {
	t.Helper()
	pool, err := memory.NewBitmapPool(memory.DefaultBitmapPoolParams(1<<20, 4<<20))
	if err != nil {
		t.Fatalf("NewBitmapPool() = %v", err)
	}
	return pool
}

func TestClosePools_LogsStatsAndLeaks(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	idle := newBitmapPool(t)
	b, err := memory.GetBitmap(idle, 8, 8, bitmap.FormatRGBA8)
	if err != nil {
		t.Fatal(err)
	}
	if err := idle.Release(b); err != nil {
		t.Fatal(err)
	}

	leaky := newBitmapPool(t)
	if _, err := memory.GetBitmap(leaky, 4, 4, bitmap.FormatRGBA8); err != nil {
		t.Fatal(err)
	}

	if err := ClosePools(logger, idle, leaky)(context.Background()); err != nil {
		t.Fatalf("ClosePools() = %v", err)
	}
	if got := idle.Stats().FreeCount; got != 0 {
		t.Errorf("free values after close = %d, want 0", got)
	}
	if n := logs.FilterMessage("closing pool").Len(); n != 1 {
		t.Errorf("%d 'closing pool' entries, want 1", n)
	}
	warn := logs.FilterMessage("closing pool with values still in use").All()
	if len(warn) != 1 || warn[0].Level != zapcore.WarnLevel {
		t.Errorf("leak warning entries = %v", warn)
	}
}

type fakeJournal struct {
	flushErr error
	flushed  bool
	closed   bool
}

func (j *fakeJournal) Flush(context.Context) error {
	j.flushed = true
	return j.flushErr
}

func (j *fakeJournal) Close() error {
	j.closed = true
	return nil
}

func TestCloseJournal_ClosesEvenIfFlushFails(t *testing.T) {
	j := &fakeJournal{flushErr: context.DeadlineExceeded}
	if err := CloseJournal(zaptest.NewLogger(t), j)(context.Background()); err != nil {
		t.Errorf("CloseJournal() = %v, want nil", err)
	}
	if !j.flushed || !j.closed {
		t.Errorf("flushed = %t, closed = %t, want both", j.flushed, j.closed)
	}
}

type fakeCache struct{ entries int }

func (c *fakeCache) Clear()   { c.entries = 0 }
func (c *fakeCache) Len() int { return c.entries }

type fakeMonitor struct{ stopped int }

func (m *fakeMonitor) Stop() { m.stopped++ }

func TestStopMonitorAndClearCache(t *testing.T) {
	mon := &fakeMonitor{}
	if err := StopMonitor(mon)(context.Background()); err != nil || mon.stopped != 1 {
		t.Errorf("StopMonitor() err = %v, stopped = %d", err, mon.stopped)
	}

	c := &fakeCache{entries: 3}
	if err := ClearCache(zaptest.NewLogger(t), c)(context.Background()); err != nil || c.entries != 0 {
		t.Errorf("ClearCache() err = %v, entries = %d", err, c.entries)
	}
}

func TestStopServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	srv := &http.Server{Handler: http.NotFoundHandler(), ReadHeaderTimeout: time.Second}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	if err := StopServer(zaptest.NewLogger(t), srv)(context.Background()); err != nil {
		t.Fatalf("StopServer() = %v", err)
	}
	if err := <-served; !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("Serve() = %v, want ErrServerClosed", err)
	}
}

func TestCloseLogger(t *testing.T) {
	l, err := logging.New(logging.Options{Level: zapcore.InfoLevel, FilePath: filepath.Join(t.TempDir(), "p.log")})
	if err != nil {
		t.Fatal(err)
	}
	if err := CloseLogger(l)(context.Background()); err != nil {
		t.Errorf("CloseLogger() = %v", err)
	}
}

func TestManager_FullTeardown(t *testing.T) {
	m := newTestManager(t)
	pool := newBitmapPool(t)
	j := &fakeJournal{}
	c := &fakeCache{entries: 1}

	m.Register("cache", PriorityCache, ClearCache(zap.NewNop(), c))
	m.Register("pools", PriorityPools, ClosePools(zap.NewNop(), pool))
	m.Register("journal", PriorityJournal, CloseJournal(zap.NewNop(), j))

	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	if c.entries != 0 || !j.closed {
		t.Error("teardown steps did not all run")
	}
}
