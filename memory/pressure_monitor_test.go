package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type trimRecorder struct {
	mu    sync.Mutex
	trims []TrimType
}

func (r *trimRecorder) Trim(t TrimType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trims = append(r.trims, t)
}

func (r *trimRecorder) got() []TrimType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TrimType(nil), r.trims...)
}

// scriptedReader returns the given readings in order, repeating the last.
func scriptedReader(readings ...float64) MemoryReader {
	var mu sync.Mutex
	i := 0
	return func(context.Context) (float64, error) {
		mu.Lock()
		defer mu.Unlock()
		v := readings[i]
		if i < len(readings)-1 {
			i++
		}
		return v, nil
	}
}

func TestPressureMonitor_Check(t *testing.T) {
	cfg := DefaultPressureMonitorConfig()
	reader := scriptedReader(50, 85, 85, 95, 60, 85)
	m, err := NewPressureMonitor(cfg, zaptest.NewLogger(t), WithMemoryReader(reader))
	if err != nil {
		t.Fatalf("NewPressureMonitor() unexpected error: %v", err)
	}
	rec := &trimRecorder{}
	m.RegisterMemoryTrimmable(rec)

	want := []TrimType{0, TrimModerate, 0, TrimAll, 0, TrimModerate}
	for i, w := range want {
		got, err := m.Check(context.Background())
		if err != nil {
			t.Fatalf("Check() #%d unexpected error: %v", i+1, err)
		}
		if got != w {
			t.Errorf("Check() #%d = %v, want %v", i+1, got, w)
		}
	}

	trims := rec.got()
	if len(trims) != 3 {
		t.Errorf("trims = %v, want 3 signals", trims)
	}
}

func TestPressureMonitor_Unregister(t *testing.T) {
	m, _ := NewPressureMonitor(DefaultPressureMonitorConfig(), nil, WithMemoryReader(scriptedReader(99)))
	rec := &trimRecorder{}
	m.RegisterMemoryTrimmable(rec)
	m.UnregisterMemoryTrimmable(rec)

	if _, err := m.Check(context.Background()); err != nil {
		t.Fatalf("Check() unexpected error: %v", err)
	}
	if got := rec.got(); len(got) != 0 {
		t.Errorf("unregistered trimmable received %v", got)
	}
}

func TestPressureMonitor_ReaderError(t *testing.T) {
	boom := errors.New("no /proc")
	m, _ := NewPressureMonitor(DefaultPressureMonitorConfig(), nil,
		WithMemoryReader(func(context.Context) (float64, error) { return 0, boom }))
	if _, err := m.Check(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Check() error = %v, want %v", err, boom)
	}
}

func TestPressureMonitor_StartStop(t *testing.T) {
	cfg := DefaultPressureMonitorConfig()
	cfg.Interval = 5 * time.Millisecond
	m, _ := NewPressureMonitor(cfg, zaptest.NewLogger(t), WithMemoryReader(scriptedReader(99)))

	pool, err := NewBitmapPool(DefaultBitmapPoolParams(4096, 4096), WithTrimmableRegistry(m))
	if err != nil {
		t.Fatalf("NewBitmapPool() unexpected error: %v", err)
	}
	defer pool.Close()
	b, _ := pool.Get(64)
	_ = pool.Release(b)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Error("second Start() expected error, got nil")
	}

	deadline := time.Now().Add(2 * time.Second)
	for pool.Stats().FreeCount != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()
	m.Stop()

	if got := pool.Stats().FreeCount; got != 0 {
		t.Errorf("FreeCount = %d, want 0 after critical pressure", got)
	}
	if !b.IsDisposed() {
		t.Error("free bitmap should be disposed by TrimAll")
	}
}

func TestPressureMonitorConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     PressureMonitorConfig
		wantErr bool
	}{
		{name: "default", cfg: DefaultPressureMonitorConfig()},
		{name: "zero interval", cfg: PressureMonitorConfig{ModeratePercent: 80, CriticalPercent: 90}, wantErr: true},
		{name: "inverted", cfg: PressureMonitorConfig{Interval: time.Second, ModeratePercent: 95, CriticalPercent: 90}, wantErr: true},
		{name: "over 100", cfg: PressureMonitorConfig{Interval: time.Second, ModeratePercent: 80, CriticalPercent: 101}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
