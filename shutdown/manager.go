package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"imagepipeline/core"
)

// Manager ties signal handling, the in-flight job tracker and the cleanup
// registry together.
//
//	m := shutdown.NewManager(logger, shutdown.WithTimeout(cfg.ShutdownTimeout))
//	m.Register("journal", shutdown.PriorityJournal, shutdown.CloseJournal(logger, journal))
//	m.Start(ctx)
//	<-m.Context().Done()
//	err := m.Shutdown()
//	os.Exit(m.ExitCode())
type Manager struct {
	logger  *zap.Logger
	timeout time.Duration
	exit    func(int)
	signals []os.Signal

	ctx    context.Context
	cancel context.CancelFunc

	jobs     *InFlight
	registry *Registry
	counter  *SignalCounter

	mu       sync.Mutex
	started  bool
	done     bool
	exitCode int
	sigCh    chan os.Signal
	stop     chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout bounds the whole shutdown sequence. The default is 15s.
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithExitFunc replaces os.Exit for the forced exit on a second signal.
func WithExitFunc(exit func(int)) ManagerOption {
	return func(m *Manager) {
		if exit != nil {
			m.exit = exit
		}
	}
}

// WithSignals replaces the default SIGINT and SIGTERM.
func WithSignals(sigs ...os.Signal) ManagerOption {
	return func(m *Manager) {
		if len(sigs) > 0 {
			m.signals = sigs
		}
	}
}

// NewManager returns a Manager whose context is live until a signal
// arrives or Trigger is called.
func NewManager(logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		logger:   logger.Named("shutdown"),
		timeout:  15 * time.Second,
		exit:     os.Exit,
		signals:  []os.Signal{os.Interrupt, syscall.SIGTERM},
		jobs:     NewInFlight(),
		registry: NewRegistry(),
		exitCode: core.ExitCodeSuccess,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.counter = NewSignalCounter(2, func() {
		m.logger.Warn("second signal received, exiting immediately")
		m.exit(core.ExitCodeError)
	})
	return m
}

// Context is cancelled when shutdown begins.
func (m *Manager) Context() context.Context { return m.ctx }

// Register adds a cleanup step. Lower priorities run first.
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("registered cleanup step", zap.String("step", name), zap.Int("priority", priority))
}

// Steps lists the cleanup steps in execution order.
func (m *Manager) Steps() []string { return m.registry.Names() }

// Start listens for the configured signals. It also cancels the managed
// context when parent is done. Calling Start again does nothing.
func (m *Manager) Start(parent context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	m.sigCh = make(chan os.Signal, 2)
	signal.Notify(m.sigCh, m.signals...)
	go m.watch(parent, m.sigCh)
}

func (m *Manager) watch(parent context.Context, sigCh <-chan os.Signal) {
	for {
		select {
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			m.HandleSignal(sig)
		case <-parent.Done():
			m.Trigger()
			return
		case <-m.stop:
			return
		}
	}
}

// HandleSignal applies sig as if it had been delivered to the process.
func (m *Manager) HandleSignal(sig os.Signal) {
	if n := m.counter.Increment(); n == 1 {
		m.mu.Lock()
		m.exitCode = ExitCodeFor(sig)
		m.mu.Unlock()
		m.logger.Info("signal received, shutting down", zap.String("signal", sig.String()))
		m.cancel()
	}
}

// Trigger starts shutdown without a signal.
func (m *Manager) Trigger() { m.cancel() }

// Track runs fn as an in-flight job. It returns ErrClosed without calling
// fn once Shutdown has begun, and the context error if ctx or the managed
// context is already done.
func (m *Manager) Track(ctx context.Context, name string, fn func(context.Context) error) error {
	if !m.jobs.Begin() {
		m.logger.Debug("job rejected during shutdown", zap.String("job", name))
		return ErrClosed
	}
	defer m.jobs.End()

	if err := ctx.Err(); err != nil {
		return err
	}
	if m.ctx.Err() != nil {
		return context.Canceled
	}
	return fn(ctx)
}

// ActiveJobs returns the number of running tracked jobs.
func (m *Manager) ActiveJobs() int64 { return m.jobs.Active() }

// ShuttingDown reports whether Shutdown has begun.
func (m *Manager) ShuttingDown() bool { return m.jobs.Closed() }

// ExitCode is 0, or 130/143 when a SIGINT/SIGTERM started the shutdown.
func (m *Manager) ExitCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exitCode
}

// Shutdown stops new jobs, waits for running ones, then runs the cleanup
// steps with whatever time is left (at least one second). Only the first
// call does anything.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.done = true
	sigCh := m.sigCh
	m.mu.Unlock()

	m.cancel()
	start := time.Now()
	deadline := start.Add(m.timeout)
	m.jobs.Close()

	waitCtx, cancelWait := context.WithDeadline(context.Background(), deadline)
	if n := m.jobs.Active(); n > 0 {
		m.logger.Info("waiting for in-flight jobs", zap.Int64("active", n))
	}
	if err := m.jobs.Wait(waitCtx); err != nil {
		m.logger.Warn("gave up waiting for in-flight jobs",
			zap.Int64("remaining", m.jobs.Active()),
			zap.Duration("waited", time.Since(start)))
	}
	cancelWait()

	remaining := time.Until(deadline)
	if remaining < time.Second {
		remaining = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), remaining)
	defer cancel()

	results := m.registry.Run(ctx)
	for _, r := range results {
		if r.Err != nil {
			m.logger.Error("cleanup step failed", zap.String("step", r.Name), zap.Duration("took", r.Duration), zap.Error(r.Err))
			continue
		}
		m.logger.Debug("cleanup step done", zap.String("step", r.Name), zap.Duration("took", r.Duration))
	}

	if sigCh != nil {
		signal.Stop(sigCh)
	}
	close(m.stop)

	err := JoinErrors(results)
	if err != nil {
		m.logger.Error("shutdown finished with errors", zap.Duration("took", time.Since(start)), zap.Error(err))
		return err
	}
	m.logger.Info("shutdown complete", zap.Duration("took", time.Since(start)))
	return nil
}
