package validation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"imagepipeline/memory"
)

func TestPoolParamsCheck(t *testing.T) {
	tests := []struct {
		name   string
		params memory.PoolParams
		want   StepStatus
	}{
		{
			name:   "valid",
			params: memory.PoolParams{MaxSizeSoftCap: 1 << 20, MaxSizeHardCap: 2 << 20, BucketSizes: map[int]int{4096: 2}},
			want:   StepPassed,
		},
		{
			name:   "hard below soft",
			params: memory.PoolParams{MaxSizeSoftCap: 2 << 20, MaxSizeHardCap: 1 << 20},
			want:   StepFailed,
		},
		{
			name:   "no buckets",
			params: memory.PoolParams{MaxSizeSoftCap: 1, MaxSizeHardCap: 2},
			want:   StepWarning,
		},
		{
			name:   "new buckets allowed",
			params: memory.PoolParams{MaxSizeSoftCap: 1, MaxSizeHardCap: 2, AllowNewBuckets: true},
			want:   StepPassed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := PoolParamsCheck("bitmap", tt.params).Run(context.Background())
			if got != tt.want {
				t.Errorf("status = %v, want %v (err %v)", got, tt.want, err)
			}
			if tt.want == StepFailed && !errors.Is(err, memory.ErrInvalidParams) {
				t.Errorf("err = %v, want ErrInvalidParams", err)
			}
		})
	}
}

func TestWritableFileCheck(t *testing.T) {
	dir := t.TempDir()

	status, _, err := WritableFileCheck("log", filepath.Join(dir, "logs", "pipeline.log")).Run(context.Background())
	if status != StepPassed || err != nil {
		t.Fatalf("status = %v, err = %v, want passed", status, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "logs")); err != nil {
		t.Errorf("log directory not created: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "logs"))
	if len(entries) != 0 {
		t.Errorf("scratch file left behind: %v", entries)
	}

	if status, _, _ := WritableFileCheck("log", "").Run(context.Background()); status != StepSkipped {
		t.Errorf("empty path status = %v, want skipped", status)
	}

	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if status, _, _ := WritableFileCheck("log", filepath.Join(blocker, "x.log")).Run(context.Background()); status != StepFailed {
		t.Errorf("path under a file status = %v, want failed", status)
	}
}

func TestDiskSpaceCheck(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "not", "yet", "there.db")

	status, msg, err := DiskSpaceCheck(missing, 1).Run(context.Background())
	if status != StepPassed {
		t.Errorf("status = %v (%s, %v), want passed for a 1 byte minimum", status, msg, err)
	}

	status, _, err = DiskSpaceCheck(dir, 1<<62).Run(context.Background())
	if status != StepFailed || !errors.Is(err, ErrInsufficientSpace) {
		t.Errorf("status = %v, err = %v, want failed with ErrInsufficientSpace", status, err)
	}
}

func TestMemoryCheck(t *testing.T) {
	reader := func(v float64, err error) memory.MemoryReader {
		return func(context.Context) (float64, error) { return v, err }
	}
	tests := []struct {
		name   string
		reader memory.MemoryReader
		want   StepStatus
	}{
		{"low", reader(40, nil), StepPassed},
		{"high", reader(85, nil), StepWarning},
		{"unreadable", reader(0, errors.New("no /proc")), StepWarning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, _, _ := MemoryCheck(tt.reader, 80).Run(context.Background()); got != tt.want {
				t.Errorf("status = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExistingDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	tests := map[string]string{
		dir:                               dir,
		file:                              dir,
		filepath.Join(dir, "a", "b", "c"): dir,
	}
	for in, want := range tests {
		if got := existingDir(in); got != want {
			t.Errorf("existingDir(%q) = %q, want %q", in, got, want)
		}
	}
}
