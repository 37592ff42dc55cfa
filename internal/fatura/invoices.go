package fatura

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	apperrors "fatura2parasut-go/internal/errors"
	"fatura2parasut-go/internal/transport"
)

const invoicesPath = "/api/v1/invoices"

// Upload sends an invoice document for OCR processing. Only images and PDFs
// are accepted and oversized files are rejected before any network traffic.
func (c *Client) Upload(ctx context.Context, filename string, content []byte, mimeType string) (*Invoice, error) {
	if !strings.HasPrefix(mimeType, "image/") && mimeType != "application/pdf" {
		return nil, apperrors.New(apperrors.KindApplication, 0, "unsupported_media_type",
			fmt.Sprintf("unsupported file type %q, only images and PDF are accepted", mimeType))
	}
	if int64(len(content)) > c.uploadMaxBytes {
		return nil, apperrors.New(apperrors.KindApplication, 0, "file_too_large",
			fmt.Sprintf("file is %d bytes, limit is %d", len(content), c.uploadMaxBytes))
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindApplication, "encode_request", "failed to build upload form", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, apperrors.Wrap(apperrors.KindApplication, "encode_request", "failed to write upload form", err)
	}
	if err := w.Close(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindApplication, "encode_request", "failed to finalize upload form", err)
	}

	header := http.Header{}
	header.Set("X-Idempotency-Key", uuid.NewString())

	resp, err := c.pipe.Do(ctx, &transport.Request{
		Method:      http.MethodPost,
		Path:        invoicesPath + "/upload",
		Header:      header,
		Body:        buf.Bytes(),
		ContentType: w.FormDataContentType(),
	})
	if err != nil {
		return nil, err
	}
	var inv Invoice
	if err := decode(resp, &inv); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"invoice_id": inv.ID,
		"filename":   filename,
		"size":       len(content),
	}).Info("Invoice uploaded")
	return &inv, nil
}

// ListOptions filters and pages an invoice listing. Zero values mean no
// filter; Limit is clamped to the backend's 1..100 range.
type ListOptions struct {
	Status    Status
	StartDate *time.Time
	EndDate   *time.Time
	Cursor    string
	Limit     int
}

// List returns one page of the user's invoices, newest first.
func (c *Client) List(ctx context.Context, opts ListOptions) (*InvoiceList, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status_filter", string(opts.Status))
	}
	if opts.StartDate != nil {
		q.Set("start_date", opts.StartDate.UTC().Format(time.RFC3339))
	}
	if opts.EndDate != nil {
		q.Set("end_date", opts.EndDate.UTC().Format(time.RFC3339))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	q.Set("limit", strconv.Itoa(limit))

	resp, err := c.pipe.Do(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   invoicesPath,
		Query:  q,
	})
	if err != nil {
		return nil, err
	}
	var list InvoiceList
	if err := decode(resp, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Get fetches a single invoice by id.
func (c *Client) Get(ctx context.Context, id string) (*Invoice, error) {
	resp, err := c.pipe.Do(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   invoicesPath + "/" + id,
	})
	if err != nil {
		return nil, err
	}
	var inv Invoice
	if err := decode(resp, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// UpdateRequest carries manual corrections. ExtractedData fields are merged
// into the stored document server-side; Status, when set, must be a valid
// status value.
type UpdateRequest struct {
	ExtractedData json.RawMessage `json:"extracted_data,omitempty"`
	Status        Status          `json:"status,omitempty"`
}

// Update applies manual corrections to an invoice. Exported invoices are
// immutable; the backend answers 400 and the error carries its message.
func (c *Client) Update(ctx context.Context, id string, req UpdateRequest) (*Invoice, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindApplication, "encode_request", "failed to encode update", err)
	}
	resp, err := c.pipe.Do(ctx, &transport.Request{
		Method:      http.MethodPut,
		Path:        invoicesPath + "/" + id,
		Body:        body,
		ContentType: "application/json",
	})
	if err != nil {
		return nil, err
	}
	var inv Invoice
	if err := decode(resp, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// CorrectExtracted fetches the invoice, merges the corrections into its
// extracted data locally and sends the merged document back. The local merge
// keeps fields the caller did not touch.
func (c *Client) CorrectExtracted(ctx context.Context, id string, corrections json.RawMessage) (*Invoice, error) {
	inv, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	merged, err := MergeExtracted(inv.ExtractedData, corrections)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindApplication, "merge_extracted", "failed to merge corrections", err)
	}
	return c.Update(ctx, id, UpdateRequest{ExtractedData: merged})
}

// Delete removes an invoice and its stored file.
func (c *Client) Delete(ctx context.Context, id string) error {
	resp, err := c.pipe.Do(ctx, &transport.Request{
		Method: http.MethodDelete,
		Path:   invoicesPath + "/" + id,
	})
	if err != nil {
		return err
	}
	if err := decode(resp, nil); err != nil {
		return err
	}
	log.WithField("invoice_id", id).Info("Invoice deleted")
	return nil
}

// Export sends a completed invoice to Paraşüt. Only completed invoices can
// be exported; the backend enforces the precondition.
func (c *Client) Export(ctx context.Context, id string) (*ExportResult, error) {
	resp, err := c.pipe.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   invoicesPath + "/" + id + "/export",
	})
	if err != nil {
		return nil, err
	}
	var result ExportResult
	if err := decode(resp, &result); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"invoice_id": id,
		"parasut_id": result.ParasutID,
	}).Info("Invoice exported")
	return &result, nil
}
