package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"imagepipeline/db"
	"imagepipeline/logging"
	"imagepipeline/memory"
)

// runStatsLoop logs a snapshot of each pool every interval and, when a
// journal is configured, records it there too.
func runStatsLoop(ctx context.Context, interval time.Duration, logger *zap.Logger, journal *db.StatsJournal, pools ...interface{ Stats() memory.PoolStats }) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshotPools(ctx, logger, journal, pools...)
		}
	}
}

func snapshotPools(ctx context.Context, logger *zap.Logger, journal *db.StatsJournal, pools ...interface{ Stats() memory.PoolStats }) {
	for _, p := range pools {
		s := p.Stats()
		logger.Info("pool stats", logging.PoolStatsField(s))
		if journal == nil {
			continue
		}
		if err := journal.RecordSnapshot(ctx, s); err != nil && ctx.Err() == nil {
			logger.Warn("record pool snapshot", zap.String("pool", s.Name), zap.Error(err))
		}
	}
}
