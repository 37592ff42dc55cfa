package fatura

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	apperrors "fatura2parasut-go/internal/errors"
)

// WaitForProcessing polls the invoice until it reaches a terminal status or
// the attempt budget runs out. The last observed invoice is returned
// alongside the timeout error so callers can show partial state.
func (c *Client) WaitForProcessing(ctx context.Context, id string) (*Invoice, error) {
	var last *Invoice
	for attempt := 1; attempt <= c.pollMaxAttempts; attempt++ {
		inv, err := c.Get(ctx, id)
		if err != nil {
			return last, err
		}
		last = inv
		if inv.Status.Terminal() {
			log.WithFields(log.Fields{
				"invoice_id": id,
				"status":     inv.Status,
				"attempts":   attempt,
			}).Debug("Processing finished")
			return inv, nil
		}
		if attempt == c.pollMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return last, apperrors.Wrap(apperrors.KindApplication, "poll_canceled", "polling canceled", ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}
	return last, apperrors.New(apperrors.KindApplication, 0, "poll_timeout",
		fmt.Sprintf("invoice %s not finished after %d checks", id, c.pollMaxAttempts))
}
