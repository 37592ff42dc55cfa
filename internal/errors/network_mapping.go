package errors

import (
	"strings"
)

// MapNetworkError maps connection-level failures to standardized APIError
// objects after the retry budget is spent.
func MapNetworkError(err error) *APIError {
	errMsg := err.Error()

	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return Wrap(KindNetworkFailure, "timeout", "Request timeout: "+errMsg, err)
	case strings.Contains(errMsg, "connection refused"):
		return Wrap(KindNetworkFailure, "connection_error", "Connection refused: "+errMsg, err)
	case strings.Contains(errMsg, "EOF") || strings.Contains(errMsg, "connection reset"):
		return Wrap(KindNetworkFailure, "connection_error", "Connection error: "+errMsg, err)
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "name resolution"):
		return Wrap(KindNetworkFailure, "dns_error", "DNS resolution error: "+errMsg, err)
	case strings.Contains(errMsg, "certificate") || strings.Contains(errMsg, "tls"):
		return Wrap(KindNetworkFailure, "tls_error", "TLS/Certificate error: "+errMsg, err)
	default:
		return Wrap(KindNetworkFailure, "network_error", "Network error: "+errMsg, err)
	}
}
