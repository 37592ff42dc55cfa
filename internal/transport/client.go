package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"fatura2parasut-go/internal/auth"
	"fatura2parasut-go/internal/config"
	apperrors "fatura2parasut-go/internal/errors"
	"fatura2parasut-go/internal/events"
	"fatura2parasut-go/internal/logging"
	"fatura2parasut-go/internal/tracing"
)

// Client is the authenticated request pipeline. Every call attaches the
// current access token, retries transient network failures within a fixed
// budget, and refreshes the credential once when the backend reports an
// expired token.
type Client struct {
	cli         *http.Client
	baseURL     string
	store       *auth.Store
	coordinator *auth.Coordinator
	publisher   events.Publisher
	limiter     *rate.Limiter

	retryMax  int
	retryBase time.Duration
}

func New(cfg *config.Config, store *auth.Store, coordinator *auth.Coordinator, publisher events.Publisher) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   time.Duration(cfg.DialTimeoutSec) * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   time.Duration(cfg.TLSHandshakeTimeoutSec) * time.Second,
		ResponseHeaderTimeout: time.Duration(cfg.ResponseHeaderTimeoutSec) * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}

	limit := rate.Inf
	burst := 1
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
		burst = cfg.RateLimitBurst
		if burst <= 0 {
			burst = cfg.RateLimitRPS
		}
	}

	return &Client{
		cli: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.RequestTimeoutSec) * time.Second,
		},
		baseURL:     strings.TrimRight(cfg.APIBaseURL, "/"),
		store:       store,
		coordinator: coordinator,
		publisher:   publisher,
		limiter:     rate.NewLimiter(limit, burst),
		retryMax:    cfg.RetryMax,
		retryBase:   time.Duration(cfg.RetryBaseMs) * time.Millisecond,
	}
}

// BaseURL returns the backend root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HTTPClient exposes the underlying http.Client for callers that manage
// their own requests, such as the credential refresher.
func (c *Client) HTTPClient() *http.Client {
	return c.cli
}

// Do runs r through the full pipeline and returns the backend response.
// Responses with status 4xx other than 401 are returned to the caller
// untouched; 401 triggers at most one credential refresh and replay, and
// 5xx is surfaced as a server failure without any replay.
func (c *Client) Do(ctx context.Context, r *Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperrors.Wrap(apperrors.KindApplication, "rate_limit_wait", "request canceled while rate limited", err)
	}

	requestID := uuid.NewString()
	ctx, span := tracing.StartSpan(ctx, "transport", "Client.Do")
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", r.Method),
		attribute.String("http.route", r.Path),
		attribute.String("request.id", requestID),
	)

	start := time.Now()
	expiryRetried := false
	for {
		access := ""
		if !r.NoAuth {
			if pair, ok := c.store.Get(); ok {
				access = pair.AccessToken
			}
		}

		resp, err := c.send(ctx, r, access, requestID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "request failed")
			return nil, err
		}

		if resp.StatusCode == http.StatusUnauthorized && !r.NoAuth && !expiryRetried {
			expiryRetried = true
			log.WithFields(log.Fields{
				"request_id": requestID,
				"method":     r.Method,
				"path":       r.Path,
			}).Debug("Access token rejected, refreshing credential")
			if _, err := c.coordinator.Refresh(ctx); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "credential refresh failed")
				return nil, err
			}
			continue
		}

		c.logResponse(r, resp, requestID, time.Since(start))

		if resp.StatusCode == http.StatusUnauthorized && !r.NoAuth {
			// A fresh token was also rejected. The session is dead.
			if err := c.store.Clear(ctx); err != nil {
				log.WithError(err).Warn("Failed to clear credentials after repeated rejection")
			}
			c.publish(ctx, events.TopicSignedOut, map[string]string{
				"reason":     "access_rejected_after_refresh",
				"request_id": requestID,
			})
			err := apperrors.New(apperrors.KindAuthDenied, http.StatusUnauthorized, "auth_denied", "Access denied after credential refresh")
			span.SetStatus(codes.Error, "auth denied")
			return nil, err
		}

		if resp.StatusCode >= 500 {
			c.publish(ctx, events.TopicServerError, map[string]any{
				"status":     resp.StatusCode,
				"method":     r.Method,
				"path":       r.Path,
				"request_id": requestID,
			})
			apiErr := apperrors.MapHTTPError(resp.StatusCode, resp.Body)
			span.SetStatus(codes.Error, "server failure")
			return nil, apiErr
		}

		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		return resp, nil
	}
}

// send performs a single logical attempt, absorbing transient network
// failures within the retry budget. Each wire attempt gets a fresh
// http.Request so the body can be replayed.
func (c *Client) send(ctx context.Context, r *Request, access, requestID string) (*Response, error) {
	for attempt := 0; ; attempt++ {
		req, err := c.buildRequest(ctx, r, access, requestID)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindApplication, "build_request", "failed to build request", err)
		}

		resp, err := c.cli.Do(req)
		if err == nil {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				err = readErr
			} else {
				return &Response{
					StatusCode: resp.StatusCode,
					Header:     resp.Header,
					Body:       body,
				}, nil
			}
		}

		retry, wait := c.shouldRetry(ctx, err, attempt)
		if !retry {
			apiErr := apperrors.MapNetworkError(err)
			c.publish(ctx, events.TopicNetworkError, map[string]any{
				"method":     r.Method,
				"path":       r.Path,
				"attempts":   attempt + 1,
				"error":      apiErr.Message,
				"class":      classifyErr(err),
				"request_id": requestID,
			})
			log.WithFields(log.Fields{
				"request_id": requestID,
				"method":     r.Method,
				"path":       r.Path,
				"attempts":   attempt + 1,
				"error_kind": logging.ErrorKind(0, true),
			}).WithError(err).Warn("Request failed after retries")
			return nil, apiErr
		}

		log.WithFields(log.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.Path,
			"attempt":    attempt + 1,
			"wait":       wait.String(),
			"class":      classifyErr(err),
		}).Debug("Transient failure, retrying")

		select {
		case <-ctx.Done():
			return nil, apperrors.Wrap(apperrors.KindNetworkFailure, "canceled", "request canceled during retry wait", ctx.Err())
		case <-time.After(wait):
		}
	}
}

func (c *Client) buildRequest(ctx context.Context, r *Request, access, requestID string) (*http.Request, error) {
	u := c.baseURL + r.Path
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}

	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, u, body)
	if err != nil {
		return nil, err
	}

	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.ContentType != "" {
		req.Header.Set("Content-Type", r.ContentType)
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	req.Header.Set("X-Request-ID", requestID)
	return req, nil
}

func (c *Client) logResponse(r *Request, resp *Response, requestID string, elapsed time.Duration) {
	fields := log.Fields{
		"request_id": requestID,
		"method":     r.Method,
		"path":       r.Path,
		"status":     resp.StatusCode,
		"duration":   elapsed.String(),
	}
	switch {
	case resp.StatusCode >= 500:
		fields["error_kind"] = logging.ErrorKind(resp.StatusCode, false)
		log.WithFields(fields).Error("Backend returned server error")
	case resp.StatusCode >= 400:
		fields["error_kind"] = logging.ErrorKind(resp.StatusCode, false)
		log.WithFields(fields).Warn("Backend rejected request")
	default:
		log.WithFields(fields).Debug("Request completed")
	}
}

func (c *Client) publish(ctx context.Context, topic string, payload any) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(ctx, topic, payload, nil)
}
