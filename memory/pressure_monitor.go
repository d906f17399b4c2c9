package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// MemoryReader reports system memory use as a percentage in [0, 100].
type MemoryReader func(ctx context.Context) (float64, error)

// SystemMemoryReader reads virtual memory use from the operating system.
func SystemMemoryReader(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read virtual memory: %w", err)
	}
	return vm.UsedPercent, nil
}

// PressureMonitorConfig holds the polling interval and the thresholds that
// turn memory use into trim signals.
type PressureMonitorConfig struct {
	// Interval between memory polls.
	Interval time.Duration `yaml:"interval"`

	// ModeratePercent of used memory triggers TrimModerate.
	ModeratePercent float64 `yaml:"moderate_percent"`

	// CriticalPercent of used memory triggers TrimAll.
	CriticalPercent float64 `yaml:"critical_percent"`
}

// DefaultPressureMonitorConfig returns a 5s interval with 80%/92% thresholds.
func DefaultPressureMonitorConfig() PressureMonitorConfig {
	return PressureMonitorConfig{
		Interval:        5 * time.Second,
		ModeratePercent: 80,
		CriticalPercent: 92,
	}
}

// Validate checks the thresholds and interval.
func (c PressureMonitorConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: monitor interval must be positive", ErrInvalidParams)
	}
	if c.ModeratePercent <= 0 || c.CriticalPercent > 100 || c.ModeratePercent > c.CriticalPercent {
		return fmt.Errorf("%w: thresholds must satisfy 0 < moderate (%.1f) <= critical (%.1f) <= 100",
			ErrInvalidParams, c.ModeratePercent, c.CriticalPercent)
	}
	return nil
}

// PressureMonitor is a MemoryTrimmableRegistry driven by system memory use.
//
// Each poll compares used memory against the thresholds. A signal is sent
// when the pressure level rises; it is not repeated while the level holds,
// and the monitor re-arms once memory drops back below the moderate mark.
//
// Example:
//
//	monitor, _ := NewPressureMonitor(DefaultPressureMonitorConfig(), logger)
//	pool, _ := NewBitmapPool(params, WithTrimmableRegistry(monitor))
//	monitor.Start(ctx)
//	defer monitor.Stop()
type PressureMonitor struct {
	cfg    PressureMonitorConfig
	reader MemoryReader
	logger *zap.Logger
	set    trimmableSet

	mu      sync.Mutex
	level   TrimType
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// MonitorOption configures a PressureMonitor.
type MonitorOption func(*PressureMonitor)

// WithMemoryReader replaces the system memory reader.
func WithMemoryReader(r MemoryReader) MonitorOption {
	return func(m *PressureMonitor) {
		if r != nil {
			m.reader = r
		}
	}
}

// NewPressureMonitor creates a stopped monitor.
func NewPressureMonitor(cfg PressureMonitorConfig, logger *zap.Logger, opts ...MonitorOption) (*PressureMonitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &PressureMonitor{
		cfg:    cfg,
		reader: SystemMemoryReader,
		logger: logger.Named("pressure"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RegisterMemoryTrimmable implements MemoryTrimmableRegistry.
func (m *PressureMonitor) RegisterMemoryTrimmable(t MemoryTrimmable) {
	m.set.add(t)
}

// UnregisterMemoryTrimmable implements MemoryTrimmableRegistry.
func (m *PressureMonitor) UnregisterMemoryTrimmable(t MemoryTrimmable) {
	m.set.remove(t)
}

// Registered returns the number of registered trimmables.
func (m *PressureMonitor) Registered() int {
	return m.set.len()
}

// Dispatch sends trimType to every registered trimmable.
func (m *PressureMonitor) Dispatch(trimType TrimType) {
	targets := m.set.snapshot()
	for _, t := range targets {
		t.Trim(trimType)
	}
	m.logger.Info("trim dispatched",
		zap.Stringer("trim_type", trimType),
		zap.Int("targets", len(targets)))
}

// Check polls memory once and dispatches a signal if pressure rose. It
// returns the signal sent, or 0 when nothing was sent.
func (m *PressureMonitor) Check(ctx context.Context) (TrimType, error) {
	used, err := m.reader(ctx)
	if err != nil {
		return 0, err
	}

	var level TrimType
	switch {
	case used >= m.cfg.CriticalPercent:
		level = TrimAll
	case used >= m.cfg.ModeratePercent:
		level = TrimModerate
	}

	m.mu.Lock()
	prev := m.level
	m.level = level
	m.mu.Unlock()

	if level == 0 || level <= prev {
		return 0, nil
	}
	m.logger.Warn("memory pressure",
		zap.Float64("used_percent", used),
		zap.Stringer("trim_type", level))
	m.Dispatch(level)
	return level, nil
}

// Start begins polling in a background goroutine until ctx is done or Stop
// is called.
func (m *PressureMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("memory: pressure monitor already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	go m.loop(ctx, m.done)
	return nil
}

func (m *PressureMonitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Check(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn("memory poll failed", zap.Error(err))
			}
		}
	}
}

// Stop ends polling and waits for the goroutine to exit. Safe to call when
// not running.
func (m *PressureMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.running = false
	m.mu.Unlock()

	cancel()
	<-done
}
