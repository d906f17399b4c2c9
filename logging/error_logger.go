package logging

import (
	"go.uber.org/zap"

	"imagepipeline/core"
)

// ZapErrorLogger forwards swallowed errors to a zap logger at warn level.
type ZapErrorLogger struct {
	logger *zap.Logger
}

var _ core.ErrorLogger = (*ZapErrorLogger)(nil)

// NewZapErrorLogger returns an ErrorLogger writing to logger, which may be
// nil.
func NewZapErrorLogger(logger *zap.Logger) *ZapErrorLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapErrorLogger{logger: logger.Named("errors")}
}

// LogError implements core.ErrorLogger.
func (z *ZapErrorLogger) LogError(category core.ErrorCategory, sourceType string, message string) {
	z.logger.Warn(message,
		zap.String("category", string(category)),
		zap.String("source", sourceType))
}
