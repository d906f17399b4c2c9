package shutdown

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"imagepipeline/core"
	"imagepipeline/logging"
	"imagepipeline/memory"
)

// Pool is the part of a memory pool that teardown needs.
type Pool interface {
	Name() string
	Stats() memory.PoolStats
	Close() error
}

// Journal is the part of the stats journal that teardown needs.
type Journal interface {
	Flush(ctx context.Context) error
	Close() error
}

// StopServer gracefully stops srv, waiting for open requests until ctx
// expires.
func StopServer(logger *zap.Logger, srv *http.Server) core.ShutdownFunc {
	return func(ctx context.Context) error {
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("http server did not stop cleanly", zap.Error(err))
			return err
		}
		return nil
	}
}

// StopMonitor stops the pressure monitor so no trim signal races the pool
// teardown.
func StopMonitor(monitor interface{ Stop() }) core.ShutdownFunc {
	return func(context.Context) error {
		monitor.Stop()
		return nil
	}
}

// ClearCache drops every cache entry, releasing the cache's references to
// pooled bitmaps before the pools close.
func ClearCache(logger *zap.Logger, cache interface {
	Clear()
	Len() int
}) core.ShutdownFunc {
	return func(context.Context) error {
		n := cache.Len()
		cache.Clear()
		logger.Debug("memory cache cleared", zap.Int("entries", n))
		return nil
	}
}

// ClosePools logs each pool's final stats and closes it. Values still
// checked out are reported as leaks.
func ClosePools(logger *zap.Logger, pools ...Pool) core.ShutdownFunc {
	return func(ctx context.Context) error {
		var errs []error
		for _, p := range pools {
			stats := p.Stats()
			if stats.UsedCount > 0 {
				logger.Warn("closing pool with values still in use", logging.PoolStatsField(stats))
			} else {
				logger.Info("closing pool", logging.PoolStatsField(stats))
			}
			if err := p.Close(); err != nil {
				errs = append(errs, err)
			}
			if ctx.Err() != nil {
				errs = append(errs, ctx.Err())
				break
			}
		}
		return errors.Join(errs...)
	}
}

// CloseJournal flushes queued pool events and closes the journal.
func CloseJournal(logger *zap.Logger, j Journal) core.ShutdownFunc {
	return func(ctx context.Context) error {
		if err := j.Flush(ctx); err != nil {
			logger.Warn("stats journal flush incomplete", zap.Error(err))
		}
		return j.Close()
	}
}

// CloseLogger syncs and closes the process logger. It should be the last
// step.
func CloseLogger(l *logging.Logger) core.ShutdownFunc {
	return func(context.Context) error {
		return l.Close()
	}
}
