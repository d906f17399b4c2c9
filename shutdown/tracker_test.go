package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestInFlight_BeginEnd(t *testing.T) {
	jobs := NewInFlight()
	if !jobs.Begin() || !jobs.Begin() {
		t.Fatal("Begin() = false on an open tracker")
	}
	if got := jobs.Active(); got != 2 {
		t.Errorf("Active() = %d, want 2", got)
	}
	jobs.End()
	jobs.End()
	if got := jobs.Active(); got != 0 {
		t.Errorf("Active() = %d, want 0", got)
	}
}

func TestInFlight_CloseRejectsButKeepsRunning(t *testing.T) {
	jobs := NewInFlight()
	jobs.Begin()
	jobs.Close()

	if jobs.Begin() {
		t.Error("Begin() = true after Close")
	}
	if !jobs.Closed() {
		t.Error("Closed() = false after Close")
	}
	if got := jobs.Active(); got != 1 {
		t.Errorf("Active() = %d, want the running job kept", got)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		jobs.End()
	}()
	if err := jobs.Wait(context.Background()); err != nil {
		t.Errorf("Wait() = %v, want nil", err)
	}
}

func TestInFlight_WaitHonorsContext(t *testing.T) {
	jobs := NewInFlight()
	jobs.Begin()
	defer jobs.End()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := jobs.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want deadline exceeded", err)
	}
}

func TestInFlight_ConcurrentBeginWithClose(t *testing.T) {
	jobs := NewInFlight()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if jobs.Begin() {
				time.Sleep(time.Millisecond)
				jobs.End()
			}
		}()
	}
	jobs.Close()
	wg.Wait()

	if err := jobs.Wait(context.Background()); err != nil {
		t.Errorf("Wait() = %v", err)
	}
	if got := jobs.Active(); got != 0 {
		t.Errorf("Active() = %d, want 0", got)
	}
}
