package core

import (
	"errors"
	"fmt"
)

// ConfigError is a configuration problem with a suggested fix.
type ConfigError struct {
	Code    string
	Message string
	Action  string
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Configuration error codes.
const (
	ErrCodeConfigFile    = "CONFIG_FILE"
	ErrCodeInvalidValue  = "INVALID_VALUE"
	ErrCodeInvalidPool   = "INVALID_POOL"
	ErrCodeMissingConfig = "MISSING_CONFIG"
)

// ErrConfigFile reports an unreadable or malformed YAML overlay.
func ErrConfigFile(path string, err error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeConfigFile,
		Message: fmt.Sprintf("Cannot load config file %s: %v", path, err),
		Action:  "Fix the file or unset PIPELINE_CONFIG_FILE",
	}
}

// ErrInvalidValue reports a setting outside its allowed range.
func ErrInvalidValue(name string, value any, want string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid %s %v: %s", name, value, want),
		Action:  fmt.Sprintf("Set %s to %s", name, want),
	}
}

// ErrInvalidPool reports inconsistent pool limits.
func ErrInvalidPool(pool, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidPool,
		Message: fmt.Sprintf("Invalid %s pool settings: %s", pool, reason),
		Action:  "Check the soft cap, hard cap and bucket table",
	}
}

// ErrMissingConfig reports a required setting that is empty.
func ErrMissingConfig(name string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("Missing required configuration: %s", name),
		Action:  fmt.Sprintf("Set %s in the environment or the config file", name),
	}
}

// IsConfigError returns the ConfigError in err's chain, if any.
func IsConfigError(err error) (*ConfigError, bool) {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// GetErrorCode returns the code of the ConfigError in err's chain, or "".
func GetErrorCode(err error) string {
	if ce, ok := IsConfigError(err); ok {
		return ce.Code
	}
	return ""
}
