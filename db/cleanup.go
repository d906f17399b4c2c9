package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// PruneResult counts rows removed by Prune.
type PruneResult struct {
	Events    int64
	Snapshots int64
	Duration  time.Duration
}

// Total returns the number of rows removed.
func (r PruneResult) Total() int64 { return r.Events + r.Snapshots }

// Prune deletes rows older than olderThan in one transaction. A
// non-positive olderThan deletes nothing.
func (j *StatsJournal) Prune(ctx context.Context, olderThan time.Duration) (PruneResult, error) {
	start := time.Now()
	var result PruneResult
	if olderThan <= 0 {
		return result, nil
	}
	cutoff := j.now().Add(-olderThan).UnixNano()

	tx, err := j.conn.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin prune: %w", err)
	}
	defer tx.Rollback()

	targets := []struct {
		table string
		count *int64
	}{
		{"pool_events", &result.Events},
		{"pool_snapshots", &result.Snapshots},
	}
	for _, tgt := range targets {
		res, err := tx.ExecContext(ctx, "DELETE FROM "+tgt.table+" WHERE created_at < ?", cutoff)
		if err != nil {
			return result, fmt.Errorf("prune %s: %w", tgt.table, err)
		}
		if *tgt.count, err = res.RowsAffected(); err != nil {
			return result, fmt.Errorf("prune %s: %w", tgt.table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return PruneResult{}, fmt.Errorf("commit prune: %w", err)
	}
	result.Duration = time.Since(start)
	return result, nil
}

// RunRetention prunes with the configured retention every interval until
// ctx is done. It prunes once immediately. With no retention configured it
// returns at once.
func (j *StatsJournal) RunRetention(ctx context.Context, interval time.Duration) {
	if j.retention <= 0 || interval <= 0 {
		return
	}
	prune := func() {
		res, err := j.Prune(ctx, j.retention)
		if err != nil {
			if ctx.Err() == nil {
				j.logger.Warn("journal prune failed", zap.Error(err))
			}
			return
		}
		if res.Total() > 0 {
			j.logger.Info("journal pruned",
				zap.Int64("events", res.Events),
				zap.Int64("snapshots", res.Snapshots),
				zap.Duration("took", res.Duration))
		}
	}

	prune()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
