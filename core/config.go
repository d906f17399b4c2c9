package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the optional YAML overlay.
const ConfigFileEnv = "PIPELINE_CONFIG_FILE"

// LogConfig controls the process logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	File        string `yaml:"file"`
	Development bool   `yaml:"development"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
	Compress    bool   `yaml:"compress"`
}

// PoolConfig holds the limits of one pool. Buckets maps a bucketed size in
// bytes to the most values of that size the pool keeps.
type PoolConfig struct {
	SoftCapBytes    int64       `yaml:"soft_cap_bytes"`
	HardCapBytes    int64       `yaml:"hard_cap_bytes"`
	Buckets         map[int]int `yaml:"buckets"`
	AllowNewBuckets bool        `yaml:"allow_new_buckets"`
}

// CacheConfig bounds the decoded bitmap cache. Zero disables a bound.
type CacheConfig struct {
	MaxEntries int   `yaml:"max_entries"`
	MaxBytes   int64 `yaml:"max_bytes"`
}

// PressureConfig drives trims from system memory use.
type PressureConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Interval        time.Duration `yaml:"interval"`
	ModeratePercent float64       `yaml:"moderate_percent"`
	CriticalPercent float64       `yaml:"critical_percent"`
}

// JournalConfig controls the SQLite stats journal.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	QueueCapacity int           `yaml:"queue_capacity"`
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// Config is the daemon configuration.
//
// LoadConfig builds it in three layers: defaults, then the YAML file named
// by PIPELINE_CONFIG_FILE, then individual PIPELINE_* environment
// variables. Bucket tables can only be set in YAML.
//
// Example YAML:
//
//	bitmap_pool:
//	  soft_cap_bytes: 33554432
//	  hard_cap_bytes: 67108864
//	  buckets:
//	    65536: 8
//	    262144: 4
//	pressure:
//	  enabled: true
//	  interval: 2s
type Config struct {
	Log           LogConfig      `yaml:"log"`
	BitmapPool    PoolConfig     `yaml:"bitmap_pool"`
	ByteArrayPool PoolConfig     `yaml:"byte_array_pool"`
	Cache         CacheConfig    `yaml:"cache"`
	Pressure      PressureConfig `yaml:"pressure"`
	Journal       JournalConfig  `yaml:"journal"`

	// ListenAddr serves /metrics and /stats. Empty disables HTTP.
	ListenAddr string `yaml:"listen_addr"`

	// WarmupDir names a directory of images decoded at startup.
	WarmupDir string `yaml:"warmup_dir"`

	// MaxSourcePixels rejects encoded images whose header declares more
	// pixels than this, before any pixel data is decoded.
	MaxSourcePixels int `yaml:"max_source_pixels"`

	// StatsInterval is how often pool snapshots are logged and journaled.
	StatsInterval time.Duration `yaml:"stats_interval"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	byteBuckets := make(map[int]int)
	for size := 16 << 10; size <= 1<<20; size <<= 1 {
		byteBuckets[size] = 4
	}
	return &Config{
		Log: LogConfig{
			Level:      "info",
			File:       "pipeline.log",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
		BitmapPool: PoolConfig{
			SoftCapBytes:    32 << 20,
			HardCapBytes:    64 << 20,
			AllowNewBuckets: true,
		},
		ByteArrayPool: PoolConfig{
			SoftCapBytes: 4 << 20,
			HardCapBytes: 32 << 20,
			Buckets:      byteBuckets,
		},
		Cache: CacheConfig{
			MaxEntries: 256,
			MaxBytes:   24 << 20,
		},
		Pressure: PressureConfig{
			Enabled:         true,
			Interval:        5 * time.Second,
			ModeratePercent: 80,
			CriticalPercent: 92,
		},
		Journal: JournalConfig{
			Enabled:       false,
			Path:          "pipeline-stats.db",
			QueueCapacity: 1024,
			Retention:     7 * 24 * time.Hour,
			PruneInterval: time.Hour,
		},
		ListenAddr:      "127.0.0.1:9464",
		MaxSourcePixels: 64 << 20,
		StatsInterval:   time.Minute,
		ShutdownTimeout: 15 * time.Second,
	}
}

// LoadConfig builds and validates the configuration.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	if path := GetEnvOrDefault(ConfigFileEnv, ""); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return ErrConfigFile(path, err)
	}

	// A bucket table in the file replaces the default one instead of
	// merging into it.
	var present struct {
		BitmapPool    struct{ Buckets map[int]int } `yaml:"bitmap_pool"`
		ByteArrayPool struct{ Buckets map[int]int } `yaml:"byte_array_pool"`
	}
	if err := yaml.Unmarshal(data, &present); err != nil {
		return ErrConfigFile(path, err)
	}
	if present.BitmapPool.Buckets != nil {
		c.BitmapPool.Buckets = nil
	}
	if present.ByteArrayPool.Buckets != nil {
		c.ByteArrayPool.Buckets = nil
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return ErrConfigFile(path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Log.Level = GetEnvOrDefault("PIPELINE_LOG_LEVEL", c.Log.Level)
	c.Log.File = GetEnvOrDefault("PIPELINE_LOG_FILE", c.Log.File)
	c.Log.Development = ParseBoolEnv("PIPELINE_DEV", c.Log.Development)

	c.BitmapPool.SoftCapBytes = ParseBytesEnv("PIPELINE_BITMAP_POOL_SOFT_CAP", c.BitmapPool.SoftCapBytes)
	c.BitmapPool.HardCapBytes = ParseBytesEnv("PIPELINE_BITMAP_POOL_HARD_CAP", c.BitmapPool.HardCapBytes)
	c.ByteArrayPool.SoftCapBytes = ParseBytesEnv("PIPELINE_BYTE_POOL_SOFT_CAP", c.ByteArrayPool.SoftCapBytes)
	c.ByteArrayPool.HardCapBytes = ParseBytesEnv("PIPELINE_BYTE_POOL_HARD_CAP", c.ByteArrayPool.HardCapBytes)

	c.Cache.MaxEntries = ParseIntEnv("PIPELINE_CACHE_MAX_ENTRIES", c.Cache.MaxEntries)
	c.Cache.MaxBytes = ParseBytesEnv("PIPELINE_CACHE_MAX_BYTES", c.Cache.MaxBytes)

	c.Pressure.Enabled = ParseBoolEnv("PIPELINE_PRESSURE_ENABLED", c.Pressure.Enabled)
	c.Pressure.Interval = ParseDurationEnv("PIPELINE_PRESSURE_INTERVAL", c.Pressure.Interval)
	c.Pressure.ModeratePercent = ParseFloat64Env("PIPELINE_PRESSURE_MODERATE_PERCENT", c.Pressure.ModeratePercent)
	c.Pressure.CriticalPercent = ParseFloat64Env("PIPELINE_PRESSURE_CRITICAL_PERCENT", c.Pressure.CriticalPercent)

	c.Journal.Enabled = ParseBoolEnv("PIPELINE_JOURNAL_ENABLED", c.Journal.Enabled)
	c.Journal.Path = GetEnvOrDefault("PIPELINE_JOURNAL_PATH", c.Journal.Path)
	c.Journal.Retention = ParseDurationEnv("PIPELINE_JOURNAL_RETENTION", c.Journal.Retention)

	if v, ok := os.LookupEnv("PIPELINE_LISTEN_ADDR"); ok {
		c.ListenAddr = v
	}
	c.WarmupDir = GetEnvOrDefault("PIPELINE_WARMUP_DIR", c.WarmupDir)
	c.MaxSourcePixels = ParseIntEnv("PIPELINE_MAX_SOURCE_PIXELS", c.MaxSourcePixels)
	c.StatsInterval = ParseDurationEnv("PIPELINE_STATS_INTERVAL", c.StatsInterval)
	c.ShutdownTimeout = ParseDurationEnv("PIPELINE_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
}

// Validate checks every section and returns the first problem as a
// *ConfigError.
func (c *Config) Validate() error {
	if err := c.BitmapPool.validate("bitmap"); err != nil {
		return err
	}
	if err := c.ByteArrayPool.validate("byte array"); err != nil {
		return err
	}
	if len(c.ByteArrayPool.Buckets) == 0 {
		return ErrInvalidPool("byte array", "at least one bucket is required")
	}
	if c.Cache.MaxEntries < 0 {
		return ErrInvalidValue("cache max_entries", c.Cache.MaxEntries, "zero or more")
	}
	if c.Cache.MaxBytes < 0 {
		return ErrInvalidValue("cache max_bytes", c.Cache.MaxBytes, "zero or more")
	}
	if c.Pressure.Enabled {
		p := c.Pressure
		if p.Interval <= 0 {
			return ErrInvalidValue("pressure interval", p.Interval, "a positive duration")
		}
		if p.ModeratePercent <= 0 || p.CriticalPercent > 100 || p.ModeratePercent > p.CriticalPercent {
			return ErrInvalidValue("pressure thresholds",
				fmt.Sprintf("%.1f/%.1f", p.ModeratePercent, p.CriticalPercent),
				"0 < moderate <= critical <= 100")
		}
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return ErrMissingConfig("PIPELINE_JOURNAL_PATH")
	}
	if c.MaxSourcePixels <= 0 {
		return ErrInvalidValue("max source pixels", c.MaxSourcePixels, "a positive pixel count")
	}
	if c.StatsInterval < 0 {
		return ErrInvalidValue("stats interval", c.StatsInterval, "zero (off) or a positive duration")
	}
	if c.ShutdownTimeout <= 0 {
		return ErrInvalidValue("shutdown timeout", c.ShutdownTimeout, "a positive duration")
	}
	return nil
}

func (p PoolConfig) validate(name string) error {
	if p.SoftCapBytes < 0 || p.HardCapBytes <= 0 {
		return ErrInvalidPool(name, "caps must be positive")
	}
	if p.SoftCapBytes > p.HardCapBytes {
		return ErrInvalidPool(name, fmt.Sprintf("soft cap %s exceeds hard cap %s",
			FormatBytes(p.SoftCapBytes), FormatBytes(p.HardCapBytes)))
	}
	for _, size := range p.BucketSizes() {
		if size <= 0 || p.Buckets[size] < 0 {
			return ErrInvalidPool(name, fmt.Sprintf("bucket %d: size must be positive and length non-negative", size))
		}
	}
	return nil
}

// BucketSizes returns the configured bucket sizes in ascending order.
func (p PoolConfig) BucketSizes() []int {
	sizes := make([]int, 0, len(p.Buckets))
	for s := range p.Buckets {
		sizes = append(sizes, s)
	}
	sort.Ints(sizes)
	return sizes
}
