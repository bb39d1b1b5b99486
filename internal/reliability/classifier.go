package reliability

import "strings"

// IsAdvisoryErrorCode classifies peer-reported error codes that indicate
// transient backpressure. Advisory errors are surfaced to the caller but do
// not force the session into the error state.
func IsAdvisoryErrorCode(code string) bool {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "OVERLOAD", "RATE_LIMITED", "QUEUE_FULL":
		return true
	default:
		return false
	}
}

// IsRetryableCloseCode classifies websocket close codes after which a fresh
// connect attempt is reasonable. Used for diagnostics only; the session never
// auto-retries.
func IsRetryableCloseCode(code int) bool {
	switch code {
	case 1001, 1006, 1012, 1013:
		// going away, abnormal closure, service restart, try again later
		return true
	default:
		return false
	}
}
