package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"imagepipeline/memory"
	"imagepipeline/metrics"
)

// JournalConfig configures a StatsJournal.
type JournalConfig struct {
	// Path is the SQLite file. Its directory must exist.
	Path string `yaml:"path"`

	// QueueCapacity bounds buffered events. Zero means DefaultQueueCapacity.
	QueueCapacity int `yaml:"queue_capacity"`

	// Retention is how long rows are kept by Prune. Zero keeps everything.
	Retention time.Duration `yaml:"retention"`
}

// JournalOption configures a StatsJournal.
type JournalOption func(*StatsJournal)

// WithJournalLogger sets the logger for write failures and drops.
func WithJournalLogger(l *zap.Logger) JournalOption {
	return func(j *StatsJournal) {
		if l != nil {
			j.logger = l
		}
	}
}

// WithJournalClock replaces time.Now.
func WithJournalClock(now func() time.Time) JournalOption {
	return func(j *StatsJournal) { j.now = now }
}

// StatsJournal persists pool events to SQLite. It implements
// memory.PoolStatsTracker; events are queued and written on a background
// goroutine, so pool operations never wait on disk. Events that arrive
// while the queue is full are dropped and counted.
//
// Example:
//
//	journal, err := db.OpenStatsJournal(db.JournalConfig{Path: "stats.db"})
//	if err != nil {
//	    return err
//	}
//	defer journal.Close()
//
//	pool, err := memory.NewBitmapPool(params, memory.WithStatsTracker(journal))
type StatsJournal struct {
	conn      *sql.DB
	writer    *AsyncWriter[metrics.PoolEvent]
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

var _ memory.PoolStatsTracker = (*StatsJournal)(nil)

// OpenStatsJournal migrates the database at cfg.Path and starts the
// background writer.
func OpenStatsJournal(cfg JournalConfig, opts ...JournalOption) (*StatsJournal, error) {
	if cfg.Path == "" {
		return nil, ErrNoPath
	}
	if err := MigrateUp(cfg.Path); err != nil {
		return nil, err
	}
	conn, err := OpenSQLite(DefaultConnectionConfig(cfg.Path))
	if err != nil {
		return nil, err
	}

	j := &StatsJournal{
		conn:      conn,
		retention: cfg.Retention,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.Named("journal")
	j.writer = NewAsyncWriter(cfg.QueueCapacity, j.insertEvent, func(err error) {
		j.logger.Warn("journal write failed", zap.Error(err))
	})
	j.writer.Start()
	return j, nil
}

func (j *StatsJournal) insertEvent(e metrics.PoolEvent) error {
	_, err := j.conn.Exec(
		"INSERT INTO pool_events (created_at, pool, kind, bytes) VALUES (?, ?, ?, ?)",
		e.Time.UnixNano(), e.Pool, string(e.Kind), e.Bytes)
	return err
}

func (j *StatsJournal) enqueue(pool string, kind metrics.EventKind, bytes int) {
	if !j.writer.Write(metrics.PoolEvent{Time: j.now(), Pool: pool, Kind: kind, Bytes: bytes}) {
		j.logger.Debug("journal queue full, event dropped",
			zap.String("pool", pool), zap.String("kind", string(kind)))
	}
}

func (j *StatsJournal) OnAlloc(pool string, n int)        { j.enqueue(pool, metrics.EventAlloc, n) }
func (j *StatsJournal) OnValueReuse(pool string, n int)   { j.enqueue(pool, metrics.EventReuse, n) }
func (j *StatsJournal) OnValueRelease(pool string, n int) { j.enqueue(pool, metrics.EventRelease, n) }
func (j *StatsJournal) OnFree(pool string, n int)         { j.enqueue(pool, metrics.EventFree, n) }
func (j *StatsJournal) OnSoftCapReached(pool string)      { j.enqueue(pool, metrics.EventSoftCap, 0) }
func (j *StatsJournal) OnHardCapReached(pool string)      { j.enqueue(pool, metrics.EventHardCap, 0) }

func (j *StatsJournal) OnTrim(pool string, trimType memory.TrimType, freed int) {
	kind := metrics.EventTrim
	if trimType == memory.TrimAll {
		kind = metrics.EventTrimAll
	}
	j.enqueue(pool, kind, freed)
}

// Flush waits for queued events to reach the database.
func (j *StatsJournal) Flush(ctx context.Context) error {
	return j.writer.Flush(ctx)
}

// Dropped returns the number of events lost to a full queue.
func (j *StatsJournal) Dropped() int64 { return j.writer.Dropped() }

// EventQuery filters Events. Zero fields do not filter; Limit zero means
// 100.
type EventQuery struct {
	Pool  string
	Kind  metrics.EventKind
	Since time.Time
	Limit int
}

// Events returns matching events, newest first.
func (j *StatsJournal) Events(ctx context.Context, q EventQuery) ([]metrics.PoolEvent, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	query := "SELECT created_at, pool, kind, bytes FROM pool_events WHERE created_at >= ?"
	args := []any{q.Since.UnixNano()}
	if q.Since.IsZero() {
		args[0] = int64(0)
	}
	if q.Pool != "" {
		query += " AND pool = ?"
		args = append(args, q.Pool)
	}
	if q.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(q.Kind))
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := j.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []metrics.PoolEvent
	for rows.Next() {
		var (
			ts   int64
			e    metrics.PoolEvent
			kind string
		)
		if err := rows.Scan(&ts, &e.Pool, &kind, &e.Bytes); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Time = time.Unix(0, ts)
		e.Kind = metrics.EventKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// KindTotal aggregates one event kind.
type KindTotal struct {
	Count int64 `json:"count"`
	Bytes int64 `json:"bytes"`
}

// Totals returns per-kind totals for pool over the whole journal.
func (j *StatsJournal) Totals(ctx context.Context, pool string) (map[metrics.EventKind]KindTotal, error) {
	rows, err := j.conn.QueryContext(ctx,
		"SELECT kind, COUNT(*), COALESCE(SUM(bytes), 0) FROM pool_events WHERE pool = ? GROUP BY kind",
		pool)
	if err != nil {
		return nil, fmt.Errorf("query totals: %w", err)
	}
	defer rows.Close()

	out := make(map[metrics.EventKind]KindTotal)
	for rows.Next() {
		var kind string
		var t KindTotal
		if err := rows.Scan(&kind, &t.Count, &t.Bytes); err != nil {
			return nil, fmt.Errorf("scan totals: %w", err)
		}
		out[metrics.EventKind(kind)] = t
	}
	return out, rows.Err()
}

// RecordSnapshot stores a pool snapshot synchronously.
func (j *StatsJournal) RecordSnapshot(ctx context.Context, s memory.PoolStats) error {
	_, err := j.conn.ExecContext(ctx,
		`INSERT INTO pool_snapshots
		 (created_at, pool, used_count, used_bytes, free_count, free_bytes, soft_cap, hard_cap)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.now().UnixNano(), s.Name, s.UsedCount, s.UsedBytes, s.FreeCount, s.FreeBytes, s.SoftCap, s.HardCap)
	if err != nil {
		return fmt.Errorf("insert snapshot %s: %w", s.Name, err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot of pool. Buckets are not
// stored and come back nil.
func (j *StatsJournal) LatestSnapshot(ctx context.Context, pool string) (memory.PoolStats, bool, error) {
	s := memory.PoolStats{Name: pool}
	err := j.conn.QueryRowContext(ctx,
		`SELECT used_count, used_bytes, free_count, free_bytes, soft_cap, hard_cap
		 FROM pool_snapshots WHERE pool = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		pool).Scan(&s.UsedCount, &s.UsedBytes, &s.FreeCount, &s.FreeBytes, &s.SoftCap, &s.HardCap)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.PoolStats{}, false, nil
	}
	if err != nil {
		return memory.PoolStats{}, false, fmt.Errorf("query snapshot %s: %w", pool, err)
	}
	return s, true, nil
}

// Close drains queued events and closes the database.
func (j *StatsJournal) Close() error {
	j.writer.Close()
	if n := j.writer.Dropped(); n > 0 {
		j.logger.Warn("journal dropped events", zap.Int64("dropped", n))
	}
	return j.conn.Close()
}
