package errors

import "fmt"

// Kind classifies terminal failures surfaced by the client core.
type Kind string

const (
	// KindNoCredential means no refresh token is stored; the session is over.
	KindNoCredential Kind = "no_credential"
	// KindRefreshDenied means the backend rejected the refresh token.
	KindRefreshDenied Kind = "refresh_denied"
	// KindAuthDenied means re-authentication after a refresh still failed.
	KindAuthDenied Kind = "auth_denied"
	// KindNetworkFailure means the transient-retry budget was exhausted.
	KindNetworkFailure Kind = "network_failure"
	// KindServerFailure means the backend answered with a 5xx.
	KindServerFailure Kind = "server_failure"
	// KindApplication covers 4xx responses the pipeline passes through.
	KindApplication Kind = "application_error"
)

// APIError represents a standardized failure across the client pipeline.
type APIError struct {
	Kind       Kind
	HTTPStatus int
	Code       string
	Message    string
	Details    map[string]interface{}

	cause error
}

// New creates an APIError with the given kind, status and message.
func New(kind Kind, httpStatus int, code, message string) *APIError {
	return &APIError{
		Kind:       kind,
		HTTPStatus: httpStatus,
		Code:       code,
		Message:    message,
	}
}

// Wrap attaches a causal error so callers can use errors.Is/As through it.
func Wrap(kind Kind, code, message string, cause error) *APIError {
	return &APIError{
		Kind:    kind,
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

func (e *APIError) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error { return e.cause }

// Is matches any APIError of the same kind, so sentinel comparisons like
// errors.Is(err, &APIError{Kind: KindAuthDenied}) work regardless of message.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// IsKind reports whether err is (or wraps) an APIError of the given kind.
func IsKind(err error, kind Kind) bool {
	var apiErr *APIError
	for err != nil {
		if e, ok := err.(*APIError); ok {
			apiErr = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return apiErr != nil && apiErr.Kind == kind
}
