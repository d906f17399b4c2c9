package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// readJSONLines decodes every line of the log file at path.
func readJSONLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s) unexpected error: %v", path, err)
	}
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("log line %q is not JSON: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func newTestLogger(t *testing.T, opts Options) (*Logger, *bytes.Buffer) {
	t.Helper()
	var console bytes.Buffer
	opts.Console = zapcore.AddSync(&console)
	logger, err := New(opts)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return logger, &console
}

func TestNew_WritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.log")
	logger, _ := newTestLogger(t, Options{FilePath: path})

	logger.Named("bitmap").Info("pool created", zap.Int("soft_cap", 1024))
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync() unexpected error: %v", err)
	}

	lines := readJSONLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("log lines = %d, want 1", len(lines))
	}
	entry := lines[0]
	checks := map[string]any{
		FieldMessage:   "pool created",
		FieldLevel:     "info",
		FieldComponent: "bitmap",
		"soft_cap":     float64(1024),
	}
	for k, want := range checks {
		if entry[k] != want {
			t.Errorf("entry[%q] = %v, want %v", k, entry[k], want)
		}
	}
	if _, ok := entry[FieldTimestamp]; !ok {
		t.Errorf("entry missing %q", FieldTimestamp)
	}
	if logger.FilePath() != path {
		t.Errorf("FilePath() = %q, want %q", logger.FilePath(), path)
	}
}

func TestNew_LevelFilters(t *testing.T) {
	logger, console := newTestLogger(t, Options{Level: zapcore.WarnLevel})

	logger.Zap().Info("hidden")
	logger.Zap().Warn("shown")

	out := console.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("console contains info entry below warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("console missing warn entry: %s", out)
	}
}

func TestNew_DevelopmentConsoleIsText(t *testing.T) {
	logger, console := newTestLogger(t, Options{Development: true, Level: zapcore.DebugLevel})
	logger.Zap().Debug("decoded")

	if strings.HasPrefix(strings.TrimSpace(console.String()), "{") {
		t.Errorf("development console output is JSON: %s", console.String())
	}
	if !logger.IsDevelopment() {
		t.Error("IsDevelopment() = false, want true")
	}
}

func TestNew_BadFilePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := New(Options{FilePath: filepath.Join(blocker, "pipeline.log")})
	if err == nil {
		t.Fatal("New() with a file as parent directory succeeded, want error")
	}
}

func TestLogger_RedactsFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.log")
	logger, _ := newTestLogger(t, Options{FilePath: path})

	child := logger.Zap().With(zap.String("token", "plain-secret"))
	child.Warn("fetch failed: Bearer eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9",
		zap.String("uri", "https://cdn.example.com/a.png?signature=0a1b2c3d4e5f"),
		zap.Error(errors.New("401 with password=hunter2hunter2")),
		zap.Int("status", 401))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, secret := range []string{"plain-secret", "0a1b2c3d4e5f", "hunter2hunter2", "eyJhbGci"} {
		if bytes.Contains(data, []byte(secret)) {
			t.Errorf("log file contains %q: %s", secret, data)
		}
	}
	if !bytes.Contains(data, []byte(`"status":401`)) {
		t.Errorf("log file lost a plain field: %s", data)
	}
}

func TestLogger_NilSafe(t *testing.T) {
	var l *Logger
	if l.Zap() == nil {
		t.Error("Zap() on nil Logger = nil, want a no-op logger")
	}
	if err := l.Sync(); err != nil {
		t.Errorf("Sync() on nil Logger = %v, want nil", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close() on nil Logger = %v, want nil", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{" INFO ", zapcore.InfoLevel},
		{"warning", zapcore.WarnLevel},
		{"Error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"verbose", zapcore.WarnLevel},
		{"", zapcore.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in, zapcore.WarnLevel); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRotationConfig_Defaults(t *testing.T) {
	got := RotationConfig{MaxBackups: 2}.withDefaults()
	want := RotationConfig{MaxSizeMB: DefaultMaxSizeMB, MaxBackups: 2, MaxAgeDays: DefaultMaxAgeDays}
	if got != want {
		t.Errorf("withDefaults() = %+v, want %+v", got, want)
	}

	lj := newRotatingFile("x.log", RotationConfig{Compress: true})
	if lj.MaxSize != DefaultMaxSizeMB || !lj.Compress {
		t.Errorf("newRotatingFile() = size %d compress %t", lj.MaxSize, lj.Compress)
	}
}
