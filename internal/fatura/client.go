package fatura

import (
	"time"

	"fatura2parasut-go/internal/auth"
	"fatura2parasut-go/internal/config"
	apperrors "fatura2parasut-go/internal/errors"
	"fatura2parasut-go/internal/transport"
)

// Client is the typed API surface over the request pipeline: auth endpoints,
// the invoice lifecycle and status polling.
type Client struct {
	pipe      *transport.Client
	store     *auth.Store
	validator TaxValidator

	uploadMaxBytes  int64
	pollInterval    time.Duration
	pollMaxAttempts int
}

func New(cfg *config.Config, pipe *transport.Client, store *auth.Store) *Client {
	maxMB := cfg.UploadMaxMB
	if maxMB <= 0 {
		maxMB = 10
	}
	interval := time.Duration(cfg.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = 3 * time.Second
	}
	attempts := cfg.PollMaxAttempts
	if attempts <= 0 {
		attempts = 20
	}
	return &Client{
		pipe:            pipe,
		store:           store,
		validator:       NewToleranceValidator(),
		uploadMaxBytes:  int64(maxMB) * 1024 * 1024,
		pollInterval:    interval,
		pollMaxAttempts: attempts,
	}
}

// SetTaxValidator replaces the validator used for local consistency checks.
func (c *Client) SetTaxValidator(v TaxValidator) {
	if v != nil {
		c.validator = v
	}
}

// Validated runs the local tax consistency check over the invoice's
// extracted data.
func (c *Client) Validated(inv *Invoice) bool {
	if inv == nil {
		return false
	}
	return c.validator.Validate(inv.ExtractedData)
}

// decode unmarshals a 2xx response into v, mapping any backend rejection
// into the typed error taxonomy. Auth and server failures never reach here;
// the pipeline converts those before returning.
func decode(resp *transport.Response, v any) error {
	if !resp.OK() {
		return apperrors.MapHTTPError(resp.StatusCode, resp.Body)
	}
	if v == nil {
		return nil
	}
	if err := resp.JSON(v); err != nil {
		return apperrors.Wrap(apperrors.KindApplication, "malformed_response", "failed to decode backend response", err)
	}
	return nil
}
