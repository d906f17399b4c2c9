package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"imagepipeline/cache"
	"imagepipeline/core"
	"imagepipeline/core/validation"
	"imagepipeline/db"
	"imagepipeline/shutdown"
)

func testConfig(t *testing.T) *core.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := core.DefaultConfig()
	cfg.Log.File = filepath.Join(dir, "logs", "pipeline.log")
	cfg.Journal.Path = filepath.Join(dir, "stats.db")
	cfg.Pressure.Enabled = false
	cfg.ListenAddr = ""
	cfg.StatsInterval = 0
	return cfg
}

func writeTestPNG(t *testing.T, dir, name string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 10, G: 200, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoggingOptions(t *testing.T) {
	opts := loggingOptions(core.LogConfig{Level: "debug", File: "x.log", MaxSizeMB: 7, Compress: true})
	if opts.Level != zapcore.DebugLevel || opts.FilePath != "x.log" || opts.Rotation.MaxSizeMB != 7 || !opts.Rotation.Compress {
		t.Errorf("loggingOptions() = %+v", opts)
	}
	if got := loggingOptions(core.LogConfig{Level: "loud"}).Level; got != zapcore.InfoLevel {
		t.Errorf("unknown level = %v, want info", got)
	}
}

func TestStartupChecks(t *testing.T) {
	cfg := testConfig(t)
	names := func(checks []validation.Check) []string {
		out := make([]string, len(checks))
		for i, c := range checks {
			out[i] = c.Name
		}
		return out
	}

	base := []string{"Bitmap pool parameters", "Byte array pool parameters", "Log directory"}
	if diff := cmp.Diff(base, names(startupChecks(cfg))); diff != "" {
		t.Errorf("startupChecks() mismatch (-want +got):\n%s", diff)
	}

	cfg.Journal.Enabled = true
	cfg.Pressure.Enabled = true
	want := append(base, "Journal directory", "Disk space", "System memory")
	if diff := cmp.Diff(want, names(startupChecks(cfg))); diff != "" {
		t.Errorf("startupChecks() with journal mismatch (-want +got):\n%s", diff)
	}
}

func TestRunStartupValidation(t *testing.T) {
	cfg := testConfig(t)
	if code := runStartupValidation(cfg, zaptest.NewLogger(t)); code != core.ExitCodeSuccess {
		t.Errorf("runStartupValidation() = %d, want success", code)
	}

	cfg.BitmapPool.SoftCapBytes = cfg.BitmapPool.HardCapBytes * 2
	obs, logs := observer.New(zapcore.InfoLevel)
	if code := runStartupValidation(cfg, zap.New(obs)); code != core.ExitCodeValidation {
		t.Errorf("runStartupValidation() = %d, want %d", code, core.ExitCodeValidation)
	}
	if logs.FilterMessage("startup check failed").Len() != 1 {
		t.Errorf("expected one failed check log, got %v", logs.All())
	}
}

func TestNewApp_WiresPoolsAndMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Enabled = true
	cfg.ListenAddr = "127.0.0.1:0"

	a, err := newApp(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("newApp() = %v", err)
	}
	defer a.closeAll()

	if a.server == nil || a.journal == nil {
		t.Fatal("server and journal should be built")
	}
	if a.monitor.Registered() != 3 {
		t.Errorf("trimmables registered = %d, want 2 pools and the cache", a.monitor.Registered())
	}
	if n, err := testutil.GatherAndCount(a.registry, "imagepipeline_pool_hard_cap_bytes"); err != nil || n != 2 {
		t.Errorf("hard cap series = %d (%v), want 2", n, err)
	}
}

func TestNewApp_FailsCleanly(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(t.TempDir(), "missing", "deeper", "stats.db")
	blocker := filepath.Dir(filepath.Dir(cfg.Journal.Path))
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if a, err := newApp(cfg, zaptest.NewLogger(t)); err == nil || a != nil {
		t.Errorf("newApp() = %v, %v, want an error", a, err)
	}
}

func TestWarmup(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer a.closeAll()

	dir := t.TempDir()
	writeTestPNG(t, dir, "a.png", 8, 8)
	writeTestPNG(t, dir, "b.PNG", 4, 2)
	if err := os.WriteFile(filepath.Join(dir, "broken.jpg"), []byte("not a jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644); err != nil {
		t.Fatal(err)
	}

	files, err := warmupFiles(dir)
	if err != nil || len(files) != 3 {
		t.Fatalf("warmupFiles() = %v, %v, want 3 images", files, err)
	}

	m := shutdown.NewManager(zaptest.NewLogger(t))
	res, err := warmup(context.Background(), dir, a.producer, m, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("warmup() = %v", err)
	}
	if diff := cmp.Diff(warmupResult{Decoded: 2, Failed: 1}, res); diff != "" {
		t.Errorf("warmup() mismatch (-want +got):\n%s", diff)
	}
	if got := a.cache.Len(); got != 2 {
		t.Errorf("cache entries = %d, want 2", got)
	}
	if used := a.bitmapPool.Stats().UsedCount; used != 2 {
		t.Errorf("bitmaps in use = %d, want the 2 cached ones", used)
	}

	req, _ := cache.NewImageRequest(filepath.Join(dir, "a.png"))
	if !a.cache.Contains(cache.NewDefaultCacheKeyFactory().BitmapCacheKey(req, nil)) {
		t.Error("a.png not cached under its bitmap key")
	}

	if _, err := warmup(context.Background(), filepath.Join(dir, "absent"), a.producer, m, zap.NewNop()); err == nil {
		t.Error("warmup() of a missing dir should fail")
	}
}

func TestWarmup_AfterShutdownRejectsJobs(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer a.closeAll()

	dir := t.TempDir()
	writeTestPNG(t, dir, "a.png", 2, 2)
	m := shutdown.NewManager(zaptest.NewLogger(t))
	_ = m.Shutdown()

	res, err := warmup(context.Background(), dir, a.producer, m, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if res.Cancelled != 1 || res.Decoded != 0 {
		t.Errorf("warmup() = %+v, want one cancelled", res)
	}
}

func TestSnapshotPoolsRecordsToJournal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Enabled = true
	a, err := newApp(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer a.closeAll()

	obs, logs := observer.New(zapcore.InfoLevel)
	snapshotPools(context.Background(), zap.New(obs), a.journal, a.bitmapPool, a.bytePool)

	if logs.FilterMessage("pool stats").Len() != 2 {
		t.Errorf("pool stats entries = %d, want 2", logs.FilterMessage("pool stats").Len())
	}
	got, ok, err := a.journal.LatestSnapshot(context.Background(), a.bitmapPool.Name())
	if err != nil || !ok {
		t.Fatalf("LatestSnapshot() = %v, %t, %v", got, ok, err)
	}
	if got.HardCap != int(cfg.BitmapPool.HardCapBytes) {
		t.Errorf("snapshot hard cap = %d, want %d", got.HardCap, cfg.BitmapPool.HardCapBytes)
	}
}

func TestRegisterShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Enabled = true
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Pressure.Enabled = true
	cfg.Pressure.Interval = time.Hour

	// Background goroutines may still log after the test returns.
	a, err := newApp(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	m := shutdown.NewManager(zaptest.NewLogger(t))
	a.registerShutdown(m, nil)

	want := []string{"http", "pressure-monitor", "memory-cache", "pools", "stats-journal"}
	if diff := cmp.Diff(want, m.Steps()); diff != "" {
		t.Errorf("Steps() mismatch (-want +got):\n%s", diff)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.start(ctx); err != nil {
		t.Fatalf("start() = %v", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
	if _, err := a.journal.Events(context.Background(), db.EventQuery{}); err == nil {
		t.Error("journal still usable after shutdown")
	}
}
