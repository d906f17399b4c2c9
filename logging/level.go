package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// ParseLevel parses debug, info, warn (or warning), error and fatal, in any
// case. Anything else yields def.
//
// Example:
//
//	level := ParseLevel(os.Getenv("PIPELINE_LOG_LEVEL"), zapcore.InfoLevel)
func ParseLevel(s string, def zapcore.Level) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return def
	}
}
