// Command imagepipeline runs the pooled image decode pipeline as a daemon:
// it sizes the bitmap and byte pools from configuration, trims them under
// memory pressure, optionally warms the cache from a directory, and serves
// pool statistics until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"imagepipeline/core"
	"imagepipeline/core/validation"
	"imagepipeline/logging"
	"imagepipeline/shutdown"
)

func main() {
	handled, err := handleServiceCommand(os.Args, os.Stdout)
	if handled {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(core.ExitCodeError)
		}
		return
	}
	if asService, code := runService(); asService {
		os.Exit(code)
	}
	os.Exit(run(context.Background()))
}

// run starts the pipeline and blocks until a signal arrives or ctx is done.
func run(ctx context.Context) int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		// Logger isn't initialized yet.
		fmt.Fprintf(os.Stderr, "Warning: cannot read .env: %v\n", err)
	}

	cfg, err := core.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return core.ExitCodeConfig
	}

	log, err := logging.New(loggingOptions(cfg.Log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return core.ExitCodeError
	}
	logger := log.Zap()

	if code := runStartupValidation(cfg, logger); code != core.ExitCodeSuccess {
		_ = log.Close()
		return code
	}

	logger.Info("configuration loaded",
		zap.String("version", version),
		zap.String("bitmap_pool_soft_cap", core.FormatBytes(cfg.BitmapPool.SoftCapBytes)),
		zap.String("bitmap_pool_hard_cap", core.FormatBytes(cfg.BitmapPool.HardCapBytes)),
		zap.String("byte_pool_hard_cap", core.FormatBytes(cfg.ByteArrayPool.HardCapBytes)),
		zap.Int("cache_max_entries", cfg.Cache.MaxEntries),
		zap.Bool("pressure_monitor", cfg.Pressure.Enabled),
		zap.Bool("journal", cfg.Journal.Enabled),
		zap.String("listen_addr", cfg.ListenAddr),
	)

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("failed to build pipeline", zap.Error(err))
		_ = log.Close()
		return core.ExitCodeError
	}

	m := shutdown.NewManager(logger, shutdown.WithTimeout(cfg.ShutdownTimeout))
	a.registerShutdown(m, log)
	m.Start(ctx)

	if err := a.start(m.Context()); err != nil {
		logger.Error("failed to start pipeline", zap.Error(err))
		_ = m.Shutdown()
		return core.ExitCodeError
	}

	if cfg.WarmupDir != "" {
		go func() {
			if _, err := warmup(m.Context(), cfg.WarmupDir, a.producer, m, logger.Named("warmup")); err != nil {
				logger.Warn("warmup skipped", zap.Error(err))
			}
		}()
	}

	<-m.Context().Done()
	if err := m.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		if m.ExitCode() == core.ExitCodeSuccess {
			return core.ExitCodeError
		}
	}
	return m.ExitCode()
}

func loggingOptions(c core.LogConfig) logging.Options {
	return logging.Options{
		Level:       logging.ParseLevel(c.Level, zapcore.InfoLevel),
		Development: c.Development,
		FilePath:    c.File,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  c.MaxSizeMB,
			MaxBackups: c.MaxBackups,
			MaxAgeDays: c.MaxAgeDays,
			Compress:   c.Compress,
		},
	}
}

// startupChecks lists what must hold before the pools are built.
func startupChecks(cfg *core.Config) []validation.Check {
	checks := []validation.Check{
		validation.PoolParamsCheck("Bitmap", bitmapPoolParams(cfg.BitmapPool)),
		validation.PoolParamsCheck("Byte array", bitmapPoolParams(cfg.ByteArrayPool)),
		validation.WritableFileCheck("Log directory", cfg.Log.File),
	}
	if cfg.Journal.Enabled {
		checks = append(checks,
			validation.WritableFileCheck("Journal directory", cfg.Journal.Path),
			validation.DiskSpaceCheck(cfg.Journal.Path, 64*core.BytesPerMB))
	}
	if cfg.Pressure.Enabled {
		checks = append(checks, validation.MemoryCheck(nil, cfg.Pressure.ModeratePercent))
	}
	return checks
}

// runStartupValidation returns core.ExitCodeValidation if any check fails.
func runStartupValidation(cfg *core.Config, logger *zap.Logger) int {
	result := validation.NewSuite("Image Pipeline Startup Checks", startupChecks(cfg)...).
		WithShowProgress(cfg.Log.Development).
		Validate(context.Background())

	for _, step := range result.Steps {
		switch step.Status {
		case validation.StepFailed:
			logger.Error("startup check failed",
				zap.String("check", step.Name),
				zap.String("message", step.Message),
				zap.Error(step.Error))
		case validation.StepWarning:
			logger.Warn("startup check warning",
				zap.String("check", step.Name),
				zap.String("message", step.Message),
				zap.Error(step.Error))
		}
	}
	if !result.Success {
		logger.Error("startup validation failed", zap.String("summary", result.Summary()))
		return core.ExitCodeValidation
	}
	logger.Info("startup validation passed", zap.String("summary", result.Summary()))
	return core.ExitCodeSuccess
}
