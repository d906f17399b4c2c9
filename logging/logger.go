package logging

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	// Level is the minimum level written. Zero is info.
	Level zapcore.Level

	// Development switches the console to colored text and enables
	// stack traces from warn level.
	Development bool

	// FilePath, when set, adds a rotated JSON log file.
	FilePath string

	// Rotation controls the log file. Zero values take the defaults.
	Rotation RotationConfig

	// Console receives console output. Nil means stdout.
	Console zapcore.WriteSyncer
}

// Logger owns the pipeline's root zap.Logger and the log file behind it.
//
// Every field passes through a redacting core, so image URIs with signed
// query strings and credentials in error messages never reach disk. Pass
// Zap() (or a Named child) to components; they only depend on *zap.Logger.
//
// Example:
//
//	logger, err := logging.New(logging.Options{
//	    Level:    zapcore.DebugLevel,
//	    FilePath: "pipeline.log",
//	})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	pool, err := memory.NewBitmapPool(params, memory.WithLogger(logger.Zap()))
type Logger struct {
	zap  *zap.Logger
	file io.Closer
	opts Options
}

// New builds a Logger from opts.
func New(opts Options) (*Logger, error) {
	console := opts.Console
	if console == nil {
		console = zapcore.Lock(os.Stdout)
	}

	var file zapcore.WriteSyncer
	var closer io.Closer
	if opts.FilePath != "" {
		rotating := newRotatingFile(opts.FilePath, opts.Rotation)
		// Open eagerly so a bad path fails here rather than on first write.
		if _, err := rotating.Write(nil); err != nil {
			return nil, fmt.Errorf("open log file %s: %w", opts.FilePath, err)
		}
		file = zapcore.AddSync(rotating)
		closer = rotating
	}

	core := newRedactingCore(newTeeCore(opts.Level, console, file, opts.Development))
	zopts := []zap.Option{zap.AddCaller()}
	if opts.Development {
		zopts = append(zopts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	} else {
		zopts = append(zopts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return &Logger{
		zap:  zap.New(core, zopts...),
		file: closer,
		opts: opts,
	}, nil
}

// Zap returns the root logger.
func (l *Logger) Zap() *zap.Logger {
	if l == nil || l.zap == nil {
		return zap.NewNop()
	}
	return l.zap
}

// Named returns a child logger for one component.
func (l *Logger) Named(component string) *zap.Logger {
	return l.Zap().Named(component)
}

// FilePath returns the log file path, or "" when logging to console only.
func (l *Logger) FilePath() string { return l.opts.FilePath }

// IsDevelopment reports whether development output is enabled.
func (l *Logger) IsDevelopment() bool { return l.opts.Development }

// Sync flushes buffered entries. Errors from syncing a terminal are
// ignored.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	if err := l.zap.Sync(); err != nil && !isIgnorableSyncError(err) {
		return err
	}
	return nil
}

// Close syncs and closes the log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	err := l.Sync()
	if l.file != nil {
		err = errors.Join(err, l.file.Close())
	}
	return err
}

func isIgnorableSyncError(err error) bool {
	var pathErr *os.PathError
	return errors.As(err, &pathErr) && (pathErr.Path == "/dev/stdout" || pathErr.Path == "/dev/stderr")
}

// redactingCore scrubs fields before they reach the wrapped core.
type redactingCore struct {
	zapcore.Core
}

func newRedactingCore(c zapcore.Core) zapcore.Core {
	return &redactingCore{Core: c}
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(redactFields(fields))}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = RedactString(ent.Message)
	return c.Core.Write(ent, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	if len(fields) == 0 {
		return fields
	}
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = redactField(f)
	}
	return out
}

func redactField(f zapcore.Field) zapcore.Field {
	if IsSensitiveKey(f.Key) {
		return zap.String(f.Key, RedactedPlaceholder)
	}
	switch f.Type {
	case zapcore.StringType:
		if r := RedactString(f.String); r != f.String {
			return zap.String(f.Key, r)
		}
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok && err != nil {
			if r := RedactString(err.Error()); r != err.Error() {
				return zap.String(f.Key, r)
			}
		}
	}
	return f
}
