package fatura

import (
	"encoding/json"
	"math"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Status is the processing state of an uploaded invoice.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExported   Status = "exported"
)

// Terminal reports whether the backend will not advance this status further
// on its own.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExported:
		return true
	}
	return false
}

// Invoice mirrors the backend's invoice resource. ExtractedData is kept as a
// raw JSON document; the shape varies per vendor and is read with gjson.
type Invoice struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"user_id"`
	OriginalFilename   string          `json:"original_filename"`
	FilePath           string          `json:"file_path"`
	FileSize           int64           `json:"file_size"`
	MimeType           string          `json:"mime_type"`
	Status             Status          `json:"status"`
	OCRText            string          `json:"ocr_text,omitempty"`
	ExtractedData      json.RawMessage `json:"extracted_data,omitempty"`
	ConfidenceScore    *float64        `json:"confidence_score,omitempty"`
	ProcessingTimeSecs *float64        `json:"processing_time_seconds,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	ExportedToParasut  bool            `json:"exported_to_parasut"`
	ParasutInvoiceID   string          `json:"parasut_invoice_id,omitempty"`
	ExportedAt         *time.Time      `json:"exported_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	KDVValidated       bool            `json:"kdv_validated"`
}

// User mirrors the backend's user resource.
type User struct {
	ID                    string     `json:"id"`
	Email                 string     `json:"email"`
	FullName              string     `json:"full_name,omitempty"`
	CompanyName           string     `json:"company_name,omitempty"`
	SubscriptionPlan      string     `json:"subscription_plan"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
	IsActive              bool       `json:"is_active"`
	CreatedAt             time.Time  `json:"created_at"`
}

// TokenGrant is the login response body.
type TokenGrant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	User         *User  `json:"user,omitempty"`
}

// InvoiceList is one page of invoices with cursor pagination.
type InvoiceList struct {
	Items      []Invoice `json:"items"`
	Total      int       `json:"total"`
	NextCursor string    `json:"next_cursor,omitempty"`
	HasNext    bool      `json:"has_next"`
}

// ExportResult is the response of a Paraşüt export.
type ExportResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ParasutID  string `json:"parasut_id"`
	ParasutURL string `json:"parasut_url,omitempty"`
	ExportedAt string `json:"exported_at"`
}

// TaxValidator checks an extracted-data document for arithmetic consistency.
// The full KDV calculation lives in the backend; clients only need the
// cheap consistency check for display.
type TaxValidator interface {
	Validate(extracted json.RawMessage) bool
}

// ToleranceValidator accepts a document when subtotal + tax_amount matches
// total_amount within a small tolerance. Two kuruş covers the rounding drift
// seen in scanned invoices.
type ToleranceValidator struct {
	Tolerance float64
}

func NewToleranceValidator() *ToleranceValidator {
	return &ToleranceValidator{Tolerance: 0.02}
}

func (v *ToleranceValidator) Validate(extracted json.RawMessage) bool {
	if len(extracted) == 0 {
		return false
	}
	doc := gjson.ParseBytes(extracted)
	total := doc.Get("total_amount").Float()
	subtotal := doc.Get("subtotal").Float()
	tax := doc.Get("tax_amount").Float()
	if total <= 0 || subtotal <= 0 {
		return false
	}
	return math.Abs(total-(subtotal+tax)) <= v.Tolerance
}

// MergeExtracted overlays the top-level fields of corrections onto base and
// returns the merged document. Base may be empty.
func MergeExtracted(base, corrections json.RawMessage) (json.RawMessage, error) {
	merged := base
	if len(merged) == 0 {
		merged = json.RawMessage(`{}`)
	}
	var err error
	gjson.ParseBytes(corrections).ForEach(func(key, value gjson.Result) bool {
		merged, err = sjson.SetRawBytes(merged, key.String(), []byte(value.Raw))
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}
