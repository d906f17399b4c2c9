package core

// ErrorCategory classifies errors reported through an ErrorLogger.
type ErrorCategory string

// Error categories used across the pipeline.
const (
	// CategoryResourceRelease is reported when a releaser fails while
	// disposing the payload of a shared reference.
	CategoryResourceRelease ErrorCategory = "resource_release"

	// CategoryPoolRelease is reported when a value that the pool did not
	// hand out (or already took back) is released into it.
	CategoryPoolRelease ErrorCategory = "pool_release"

	// CategoryPoolTrim is reported when disposing a value during a trim fails.
	CategoryPoolTrim ErrorCategory = "pool_trim"

	// CategoryConsumer is reported when a consumer callback fails.
	CategoryConsumer ErrorCategory = "consumer"

	// CategoryCache is reported for memory cache bookkeeping failures.
	CategoryCache ErrorCategory = "cache"
)

// ErrorLogger receives errors that components swallow instead of returning.
//
// Implementations must be safe for concurrent use. Components never depend
// on the logger for correctness, so NoOpErrorLogger is always a valid choice.
type ErrorLogger interface {
	// LogError records an error of the given category. sourceType names the
	// component that observed the error (for example "SharedReference").
	LogError(category ErrorCategory, sourceType string, message string)
}

// NoOpErrorLogger discards everything.
type NoOpErrorLogger struct{}

// LogError implements ErrorLogger.
func (NoOpErrorLogger) LogError(ErrorCategory, string, string) {}

// ErrorLoggerFunc adapts a function to the ErrorLogger interface.
type ErrorLoggerFunc func(category ErrorCategory, sourceType string, message string)

// LogError implements ErrorLogger.
func (f ErrorLoggerFunc) LogError(category ErrorCategory, sourceType string, message string) {
	f(category, sourceType, message)
}

// OrNoOp returns l, or NoOpErrorLogger when l is nil.
func OrNoOp(l ErrorLogger) ErrorLogger {
	if l == nil {
		return NoOpErrorLogger{}
	}
	return l
}
