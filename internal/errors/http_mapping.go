package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// MapHTTPError maps backend status codes and payloads to standardized errors.
// 401 and 5xx have dedicated paths in the transport layer; this covers the
// remaining non-2xx responses the pipeline passes through to callers.
func MapHTTPError(statusCode int, body []byte) *APIError {
	msg := extractBackendMessage(body)

	switch statusCode {
	case http.StatusBadRequest:
		return New(KindApplication, statusCode, "invalid_request", firstNonEmpty(msg, "Invalid request"))
	case http.StatusUnauthorized:
		return New(KindAuthDenied, statusCode, "unauthorized", firstNonEmpty(msg, "Invalid authentication"))
	case http.StatusForbidden:
		return New(KindApplication, statusCode, "permission_denied", firstNonEmpty(msg, "Permission denied"))
	case http.StatusNotFound:
		return New(KindApplication, statusCode, "not_found", firstNonEmpty(msg, "Resource not found"))
	case http.StatusRequestEntityTooLarge:
		return New(KindApplication, statusCode, "payload_too_large", firstNonEmpty(msg, "Payload too large"))
	case http.StatusUnprocessableEntity:
		return New(KindApplication, statusCode, "validation_error", firstNonEmpty(msg, "Validation failed"))
	case http.StatusTooManyRequests:
		return New(KindApplication, statusCode, "rate_limit_exceeded", firstNonEmpty(msg, "Rate limit exceeded"))
	case http.StatusBadGateway:
		return New(KindServerFailure, statusCode, "bad_gateway", firstNonEmpty(msg, "Bad gateway"))
	case http.StatusServiceUnavailable:
		return New(KindServerFailure, statusCode, "service_unavailable", firstNonEmpty(msg, "Service temporarily unavailable"))
	case http.StatusGatewayTimeout:
		return New(KindServerFailure, statusCode, "timeout", firstNonEmpty(msg, "Request timeout"))
	default:
		if statusCode >= 500 {
			return New(KindServerFailure, statusCode, "server_error", firstNonEmpty(msg, "Internal server error"))
		}
		return New(KindApplication, statusCode, "unknown_error", firstNonEmpty(msg, fmt.Sprintf("HTTP %d error", statusCode)))
	}
}

// extractBackendMessage pulls a human-readable message out of a FastAPI-style
// error body ({"detail": "..."}) or a generic {"error": {"message": ...}}.
func extractBackendMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var jsonErr map[string]interface{}
	if err := json.Unmarshal(body, &jsonErr); err == nil {
		if detail, ok := jsonErr["detail"].(string); ok && detail != "" {
			return detail
		}
		if errObj, ok := jsonErr["error"].(map[string]interface{}); ok {
			if msg, ok := errObj["message"].(string); ok && msg != "" {
				return msg
			}
		}
	}
	msg := string(body)
	if len(msg) > 200 {
		return msg[:200] + "..."
	}
	return msg
}

func firstNonEmpty(strs ...string) string {
	for _, s := range strs {
		if s != "" {
			return s
		}
	}
	return ""
}
