package transport

import (
	"encoding/json"
	"net/http"
	"net/url"
)

// Request describes one outbound call. The descriptor is immutable: the
// pipeline never writes attempt state back onto it, so a descriptor can be
// built once and replayed or reused safely.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Header      http.Header
	Body        []byte
	ContentType string

	// NoAuth skips the bearer header and the expired-token replay. Sign-in
	// style endpoints use it so a credential rejection reaches the caller
	// instead of triggering a refresh.
	NoAuth bool
}

// Response is the fully buffered backend reply. Bodies are read eagerly so a
// request can be resent after credential refresh without re-streaming.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}
