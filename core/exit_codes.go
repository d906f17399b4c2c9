package core

// Process exit codes. Signal exits follow the 128+signal convention.
const (
	ExitCodeSuccess    = 0
	ExitCodeError      = 1
	ExitCodeConfig     = 2
	ExitCodeValidation = 3
	ExitCodeSIGINT     = 130
	ExitCodeSIGTERM    = 143
)

// ExitCodeName returns a short label for code.
func ExitCodeName(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "success"
	case ExitCodeError:
		return "error"
	case ExitCodeConfig:
		return "invalid configuration"
	case ExitCodeValidation:
		return "startup validation failed"
	case ExitCodeSIGINT:
		return "interrupted (SIGINT)"
	case ExitCodeSIGTERM:
		return "terminated (SIGTERM)"
	default:
		return "unknown"
	}
}

// IsSignalExit reports whether code came from a signal.
func IsSignalExit(code int) bool {
	return code == ExitCodeSIGINT || code == ExitCodeSIGTERM
}
