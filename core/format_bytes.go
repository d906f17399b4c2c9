package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Binary byte units.
const (
	BytesPerKB int64 = 1 << 10
	BytesPerMB int64 = 1 << 20
	BytesPerGB int64 = 1 << 30
)

// FormatBytes renders n with two decimals in the largest binary unit that
// fits: 0 B, 512 B, 1.50 KB, 64.00 MB. Negative values render as 0 B.
func FormatBytes(n int64) string {
	switch {
	case n < 0:
		return "0 B"
	case n >= BytesPerGB:
		return fmt.Sprintf("%.2f GB", float64(n)/float64(BytesPerGB))
	case n >= BytesPerMB:
		return fmt.Sprintf("%.2f MB", float64(n)/float64(BytesPerMB))
	case n >= BytesPerKB:
		return fmt.Sprintf("%.2f KB", float64(n)/float64(BytesPerKB))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

var byteSuffixes = []struct {
	suffix string
	mult   int64
}{
	{"GIB", BytesPerGB}, {"MIB", BytesPerMB}, {"KIB", BytesPerKB},
	{"GB", BytesPerGB}, {"MB", BytesPerMB}, {"KB", BytesPerKB},
	{"G", BytesPerGB}, {"M", BytesPerMB}, {"K", BytesPerKB},
	{"B", 1},
}

// ParseBytes reads sizes such as "4096", "512KB", "64MiB" or "1.5 GB".
// Units are binary and case-insensitive.
func ParseBytes(s string) (int64, error) {
	in := strings.ToUpper(strings.TrimSpace(s))
	if in == "" {
		return 0, fmt.Errorf("parse bytes: empty value")
	}
	mult := int64(1)
	for _, u := range byteSuffixes {
		if strings.HasSuffix(in, u.suffix) {
			in = strings.TrimSpace(strings.TrimSuffix(in, u.suffix))
			mult = u.mult
			break
		}
	}
	f, err := strconv.ParseFloat(in, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("parse bytes %q: not a non-negative size", s)
	}
	return int64(f * float64(mult)), nil
}
