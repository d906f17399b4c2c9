package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"imagepipeline/bitmap"
	"imagepipeline/cache"
	"imagepipeline/core"
	"imagepipeline/db"
	"imagepipeline/logging"
	"imagepipeline/memory"
	"imagepipeline/metrics"
	"imagepipeline/producers"
	"imagepipeline/shutdown"
	"imagepipeline/statsapi"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// app owns every long-lived component of the daemon.
type app struct {
	cfg    *core.Config
	logger *zap.Logger

	registry   *prometheus.Registry
	store      *metrics.Store
	journal    *db.StatsJournal
	monitor    *memory.PressureMonitor
	bitmapPool *memory.BitmapPool
	bytePool   *memory.ByteArrayPool
	cache      *cache.CountingMemoryCache[*bitmap.Bitmap]
	producer   *producers.DecodeProducer
	server     *http.Server
}

func bitmapPoolParams(c core.PoolConfig) memory.PoolParams {
	return memory.PoolParams{
		MaxSizeSoftCap:  int(c.SoftCapBytes),
		MaxSizeHardCap:  int(c.HardCapBytes),
		BucketSizes:     c.Buckets,
		AllowNewBuckets: c.AllowNewBuckets,
	}
}

func pressureConfig(c core.PressureConfig) memory.PressureMonitorConfig {
	return memory.PressureMonitorConfig{
		Interval:        c.Interval,
		ModeratePercent: c.ModeratePercent,
		CriticalPercent: c.CriticalPercent,
	}
}

// newApp builds the pipeline. On error, anything already opened is closed.
func newApp(cfg *core.Config, logger *zap.Logger) (a *app, err error) {
	a = &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		store:    metrics.NewStore(metrics.StoreConfig{}, time.Now()),
	}
	defer func() {
		if err != nil {
			a.closeAll()
			a = nil
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	trackers := []memory.PoolStatsTracker{a.store, metrics.NewPrometheusTracker(a.registry)}
	if cfg.Journal.Enabled {
		a.journal, err = db.OpenStatsJournal(db.JournalConfig{
			Path:          cfg.Journal.Path,
			QueueCapacity: cfg.Journal.QueueCapacity,
			Retention:     cfg.Journal.Retention,
		}, db.WithJournalLogger(logger.Named("journal")))
		if err != nil {
			return nil, fmt.Errorf("open stats journal: %w", err)
		}
		trackers = append(trackers, a.journal)
	}

	pressure := cfg.Pressure
	if !pressure.Enabled {
		def := memory.DefaultPressureMonitorConfig()
		pressure.Interval, pressure.ModeratePercent, pressure.CriticalPercent =
			def.Interval, def.ModeratePercent, def.CriticalPercent
	}
	a.monitor, err = memory.NewPressureMonitor(pressureConfig(pressure), logger.Named("pressure"))
	if err != nil {
		return nil, fmt.Errorf("create pressure monitor: %w", err)
	}

	errLogger := logging.NewZapErrorLogger(logger)
	poolOpts := []memory.PoolOption{
		memory.WithLogger(logger),
		memory.WithErrorLogger(errLogger),
		memory.WithStatsTracker(memory.NewMultiStatsTracker(trackers...)),
		memory.WithTrimmableRegistry(a.monitor),
	}
	a.bitmapPool, err = memory.NewBitmapPool(bitmapPoolParams(cfg.BitmapPool), poolOpts...)
	if err != nil {
		return nil, fmt.Errorf("create bitmap pool: %w", err)
	}
	a.bytePool, err = memory.NewByteArrayPool(bitmapPoolParams(cfg.ByteArrayPool), poolOpts...)
	if err != nil {
		return nil, fmt.Errorf("create byte array pool: %w", err)
	}
	a.registry.MustRegister(metrics.NewPoolCollector(a.bitmapPool, a.bytePool))

	a.cache = cache.NewCountingMemoryCache[*bitmap.Bitmap](cache.MemoryCacheParams{
		MaxEntries: cfg.Cache.MaxEntries,
		MaxBytes:   int(cfg.Cache.MaxBytes),
	}, func(b *bitmap.Bitmap) int { return b.AllocationByteCount() }, logger)
	a.monitor.RegisterMemoryTrimmable(a.cache)

	a.producer, err = producers.NewDecodeProducer(a.bitmapPool,
		producers.WithByteArrayPool(a.bytePool),
		producers.WithMemoryCache(a.cache),
		producers.WithMaxSourcePixels(cfg.MaxSourcePixels),
		producers.WithDecodeLogger(logger),
		producers.WithDecodeErrorLogger(errLogger))
	if err != nil {
		return nil, fmt.Errorf("create decode producer: %w", err)
	}

	if cfg.ListenAddr != "" {
		opts := []statsapi.Option{
			statsapi.WithPools(a.bitmapPool, a.bytePool),
			statsapi.WithCache(a.cache),
			statsapi.WithTrimmer(a.monitor),
		}
		if a.journal != nil {
			opts = append(opts, statsapi.WithHistory(a.journal))
		}
		apiCfg := statsapi.DefaultConfig()
		apiCfg.Version = version
		api := statsapi.NewAPI(a.store, apiCfg, opts...)
		a.server = statsapi.NewServer(statsapi.ServerConfig{Addr: cfg.ListenAddr}, api, a.registry, logger.Named("http"))
	}
	return a, nil
}

// start launches the background goroutines. They stop when ctx is done.
func (a *app) start(ctx context.Context) error {
	if a.cfg.Pressure.Enabled {
		if err := a.monitor.Start(ctx); err != nil {
			return fmt.Errorf("start pressure monitor: %w", err)
		}
	}
	if a.journal != nil {
		go a.journal.RunRetention(ctx, a.cfg.Journal.PruneInterval)
	}
	if a.cfg.StatsInterval > 0 {
		go runStatsLoop(ctx, a.cfg.StatsInterval, a.logger.Named("stats"), a.journal, a.bitmapPool, a.bytePool)
	}
	if a.server != nil {
		go func() {
			a.logger.Info("serving stats", zap.String("addr", a.server.Addr))
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("stats server stopped", zap.Error(err))
			}
		}()
	}
	return nil
}

// registerShutdown hands every component to m in teardown order.
func (a *app) registerShutdown(m *shutdown.Manager, log *logging.Logger) {
	if a.server != nil {
		m.Register("http", shutdown.PriorityHTTP, shutdown.StopServer(a.logger, a.server))
	}
	m.Register("pressure-monitor", shutdown.PriorityMonitor, shutdown.StopMonitor(a.monitor))
	m.Register("memory-cache", shutdown.PriorityCache, shutdown.ClearCache(a.logger, a.cache))
	m.Register("pools", shutdown.PriorityPools, shutdown.ClosePools(a.logger, a.bitmapPool, a.bytePool))
	if a.journal != nil {
		m.Register("stats-journal", shutdown.PriorityJournal, shutdown.CloseJournal(a.logger, a.journal))
	}
	if log != nil {
		m.Register("logger", shutdown.PriorityLogger, shutdown.CloseLogger(log))
	}
}

// closeAll releases whatever newApp managed to open.
func (a *app) closeAll() {
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.cache != nil {
		a.cache.Clear()
	}
	if a.bitmapPool != nil {
		_ = a.bitmapPool.Close()
	}
	if a.bytePool != nil {
		_ = a.bytePool.Close()
	}
	if a.journal != nil {
		_ = a.journal.Close()
	}
}
