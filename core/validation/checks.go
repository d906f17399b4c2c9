package validation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"

	"imagepipeline/core"
	"imagepipeline/memory"
)

// ErrInsufficientSpace is returned when a filesystem has less free space
// than a check requires.
var ErrInsufficientSpace = errors.New("insufficient disk space")

// PoolParamsCheck validates the parameters a pool will be built with.
func PoolParamsCheck(pool string, params memory.PoolParams) Check {
	return Check{
		Name: fmt.Sprintf("%s pool parameters", pool),
		Run: func(context.Context) (StepStatus, string, error) {
			if err := params.Validate(); err != nil {
				return StepFailed, "invalid", err
			}
			msg := fmt.Sprintf("soft %s, hard %s, %d buckets",
				core.FormatBytes(int64(params.MaxSizeSoftCap)),
				core.FormatBytes(int64(params.MaxSizeHardCap)),
				len(params.BucketSizes))
			if len(params.BucketSizes) == 0 && !params.AllowNewBuckets {
				return StepWarning, msg + " (no buckets, nothing will be reused)", nil
			}
			return StepPassed, msg, nil
		},
	}
}

// WritableFileCheck verifies that the directory holding path exists or can
// be created, and accepts new files.
func WritableFileCheck(name, path string) Check {
	return Check{
		Name: name,
		Run: func(context.Context) (StepStatus, string, error) {
			if path == "" {
				return StepSkipped, "not configured", nil
			}
			dir := filepath.Dir(filepath.Clean(path))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return StepFailed, dir, fmt.Errorf("create %s: %w", dir, err)
			}
			f, err := os.CreateTemp(dir, ".pipeline-write-check-*")
			if err != nil {
				return StepFailed, dir, fmt.Errorf("write to %s: %w", dir, err)
			}
			tmp := f.Name()
			_ = f.Close()
			_ = os.Remove(tmp)
			return StepPassed, dir, nil
		},
	}
}

// DiskSpaceCheck fails when the filesystem holding path has less than
// minFree bytes available, and warns below twice that.
func DiskSpaceCheck(path string, minFree int64) Check {
	return Check{
		Name: "Disk space",
		Run: func(ctx context.Context) (StepStatus, string, error) {
			dir := existingDir(path)
			usage, err := disk.UsageWithContext(ctx, dir)
			if err != nil {
				return StepWarning, "unable to read disk usage", err
			}
			free := int64(usage.Free)
			msg := fmt.Sprintf("%s free on %s (%.1f%% used)", core.FormatBytes(free), dir, usage.UsedPercent)
			switch {
			case free < minFree:
				return StepFailed, msg, fmt.Errorf("%w: %s free, need %s",
					ErrInsufficientSpace, core.FormatBytes(free), core.FormatBytes(minFree))
			case free < 2*minFree:
				return StepWarning, msg, nil
			default:
				return StepPassed, msg, nil
			}
		},
	}
}

// MemoryCheck reads system memory use and warns when it is already above
// moderatePercent, since pools would be trimmed right after startup.
// A failing reader only warns; pressure monitoring is best effort.
func MemoryCheck(reader memory.MemoryReader, moderatePercent float64) Check {
	if reader == nil {
		reader = memory.SystemMemoryReader
	}
	return Check{
		Name: "System memory",
		Run: func(ctx context.Context) (StepStatus, string, error) {
			used, err := reader(ctx)
			if err != nil {
				return StepWarning, "unable to read memory usage", err
			}
			msg := fmt.Sprintf("%.1f%% used", used)
			if used >= moderatePercent {
				return StepWarning, msg + fmt.Sprintf(", above the %.0f%% trim threshold", moderatePercent), nil
			}
			return StepPassed, msg, nil
		},
	}
}

// existingDir walks up from path to the nearest directory that exists.
func existingDir(path string) string {
	p := filepath.Clean(path)
	if p == "" || p == "." {
		return "."
	}
	for {
		if info, err := os.Stat(p); err == nil {
			if info.IsDir() {
				return p
			}
			return filepath.Dir(p)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
