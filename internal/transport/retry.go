package transport

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// nextBackoff grows linearly with the attempt number: first retry waits one
// base interval, the second two.
func (c *Client) nextBackoff(attempt int) time.Duration {
	base := c.retryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	return time.Duration(attempt+1) * base
}

// shouldRetry decides the transient-failure axis only; expiry handling is a
// separate path in Do. A caller-canceled context is never retried, while a
// per-attempt timeout is a transient failure eligible for the retry budget.
func (c *Client) shouldRetry(ctx context.Context, err error, attempt int) (bool, time.Duration) {
	if ctx.Err() != nil {
		return false, 0
	}
	if classifyErr(err) == "canceled" {
		return false, 0
	}
	if attempt >= c.retryMax {
		return false, 0
	}
	return true, c.nextBackoff(attempt)
}

func classifyErr(err error) string {
	if err == nil {
		return ""
	}
	if ue, ok := err.(*url.Error); ok {
		if ue.Timeout() {
			return "timeout"
		}
		if ue.Err != nil {
			s := ue.Err.Error()
			if strings.Contains(s, "context canceled") {
				return "canceled"
			}
			if strings.Contains(s, "no such host") {
				return "dns"
			}
			if strings.Contains(s, "connection reset") {
				return "conn_reset"
			}
			if strings.Contains(s, "broken pipe") {
				return "conn_broken_pipe"
			}
			if strings.Contains(s, "i/o timeout") {
				return "timeout"
			}
		}
	}
	s := err.Error()
	if strings.Contains(s, "context canceled") {
		return "canceled"
	}
	if strings.Contains(s, "deadline exceeded") {
		return "timeout"
	}
	if strings.Contains(s, "no such host") {
		return "dns"
	}
	if strings.Contains(s, "connection reset") {
		return "conn_reset"
	}
	if strings.Contains(s, "broken pipe") {
		return "conn_broken_pipe"
	}
	if strings.Contains(s, "timeout") {
		return "timeout"
	}
	return "other"
}
