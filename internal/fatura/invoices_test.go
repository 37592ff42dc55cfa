package fatura

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fatura2parasut-go/internal/auth"
	"fatura2parasut-go/internal/config"
	apperrors "fatura2parasut-go/internal/errors"
	"fatura2parasut-go/internal/events"
	"fatura2parasut-go/internal/storage"
	"fatura2parasut-go/internal/transport"
)

func newTestAPI(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := storage.NewFileBackend(t.TempDir())
	if err := backend.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize backend: %v", err)
	}
	hub := events.NewHub()
	store := auth.NewStore(backend, hub)
	if err := store.Set(context.Background(), auth.Pair{AccessToken: "access", RefreshToken: "refresh"}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	cfg := &config.Config{
		APIBaseURL:               srv.URL,
		RequestTimeoutSec:        5,
		RetryMax:                 2,
		RetryBaseMs:              10,
		DialTimeoutSec:           2,
		TLSHandshakeTimeoutSec:   2,
		ResponseHeaderTimeoutSec: 5,
		UploadMaxMB:              1,
		PollIntervalSec:          1,
		PollMaxAttempts:          3,
	}
	refresher := auth.NewRefresher(srv.URL, &http.Client{Timeout: 5 * time.Second}, store, hub)
	pipe := transport.New(cfg, store, auth.NewCoordinator(refresher), hub)
	return New(cfg, pipe, store)
}

func TestUploadRejectsWrongMimeBeforeNetwork(t *testing.T) {
	var calls int32
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))

	_, err := api.Upload(context.Background(), "notes.txt", []byte("hello"), "text/plain")
	if !apperrors.IsKind(err, apperrors.KindApplication) {
		t.Fatalf("error = %v, want application error", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatal("rejection should happen before any request is sent")
	}
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	var calls int32
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))

	big := bytes.Repeat([]byte("x"), 1024*1024+1)
	_, err := api.Upload(context.Background(), "big.pdf", big, "application/pdf")
	if !apperrors.IsKind(err, apperrors.KindApplication) {
		t.Fatalf("error = %v, want application error", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatal("rejection should happen before any request is sent")
	}
}

func TestUploadSendsMultipart(t *testing.T) {
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/invoices/upload" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("X-Idempotency-Key") == "" {
			http.Error(w, "missing idempotency key", http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Invoice{
			ID:               "inv-1",
			OriginalFilename: header.Filename,
			Status:           StatusUploaded,
			MimeType:         "application/pdf",
		})
	}))

	inv, err := api.Upload(context.Background(), "fatura.pdf", []byte("%PDF-1.4"), "application/pdf")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if inv.ID != "inv-1" || inv.OriginalFilename != "fatura.pdf" || inv.Status != StatusUploaded {
		t.Fatalf("invoice = %+v", inv)
	}
}

func TestListBuildsFilterQuery(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status_filter") != "completed" {
			t.Errorf("status_filter = %q", q.Get("status_filter"))
		}
		if q.Get("start_date") != "2026-01-01T00:00:00Z" {
			t.Errorf("start_date = %q", q.Get("start_date"))
		}
		if q.Get("cursor") != "inv-9" {
			t.Errorf("cursor = %q", q.Get("cursor"))
		}
		if q.Get("limit") != "100" {
			t.Errorf("limit = %q, want clamped to 100", q.Get("limit"))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(InvoiceList{
			Items:      []Invoice{{ID: "inv-10", Status: StatusCompleted}},
			Total:      41,
			NextCursor: "inv-10",
			HasNext:    true,
		})
	}))

	list, err := api.List(context.Background(), ListOptions{
		Status:    StatusCompleted,
		StartDate: &start,
		Cursor:    "inv-9",
		Limit:     500,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list.Items) != 1 || list.NextCursor != "inv-10" || !list.HasNext {
		t.Fatalf("list = %+v", list)
	}
}

func TestCorrectExtractedMergesBeforeUpdate(t *testing.T) {
	stored := json.RawMessage(`{"vendor":"ACME","subtotal":100.0,"tax_amount":18.0,"total_amount":118.0}`)
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(Invoice{ID: "inv-1", Status: StatusCompleted, ExtractedData: stored})
		case http.MethodPut:
			var req UpdateRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(Invoice{ID: "inv-1", Status: StatusCompleted, ExtractedData: req.ExtractedData})
		default:
			http.NotFound(w, r)
		}
	}))

	inv, err := api.CorrectExtracted(context.Background(), "inv-1",
		json.RawMessage(`{"tax_amount":20.0,"total_amount":120.0}`))
	if err != nil {
		t.Fatalf("CorrectExtracted: %v", err)
	}
	if !api.Validated(inv) {
		t.Fatalf("merged document should pass the tolerance check: %s", inv.ExtractedData)
	}
}

func TestUpdateExportedInvoiceRejected(t *testing.T) {
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail":"exported invoices cannot be edited"}`))
	}))

	_, err := api.Update(context.Background(), "inv-1", UpdateRequest{Status: StatusCompleted})
	if !apperrors.IsKind(err, apperrors.KindApplication) {
		t.Fatalf("error = %v, want application error", err)
	}
}

func TestWaitForProcessingReachesTerminal(t *testing.T) {
	var calls int32
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		status := StatusProcessing
		if n >= 2 {
			status = StatusCompleted
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Invoice{ID: "inv-1", Status: status})
	}))
	api.pollInterval = 10 * time.Millisecond

	inv, err := api.WaitForProcessing(context.Background(), "inv-1")
	if err != nil {
		t.Fatalf("WaitForProcessing: %v", err)
	}
	if inv.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", inv.Status)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("polled %d times, want 2", got)
	}
}

func TestWaitForProcessingStopsAtAttemptCap(t *testing.T) {
	var calls int32
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Invoice{ID: "inv-1", Status: StatusProcessing})
	}))
	api.pollInterval = 10 * time.Millisecond

	inv, err := api.WaitForProcessing(context.Background(), "inv-1")
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if inv == nil || inv.Status != StatusProcessing {
		t.Fatalf("last observed invoice = %+v", inv)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("polled %d times, want the configured cap of 3", got)
	}
}

func TestWaitForProcessingHonorsCancellation(t *testing.T) {
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Invoice{ID: "inv-1", Status: StatusProcessing})
	}))
	api.pollInterval = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := api.WaitForProcessing(ctx, "inv-1")
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected a cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop on context cancellation")
	}
}

func TestExportCompletedInvoice(t *testing.T) {
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/invoices/inv-1/export" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ExportResult{
			Success:    true,
			Message:    "exported",
			ParasutID:  "prst-77",
			ParasutURL: "https://uygulama.parasut.com/faturalar/prst-77",
		})
	}))

	result, err := api.Export(context.Background(), "inv-1")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !result.Success || result.ParasutID != "prst-77" {
		t.Fatalf("result = %+v", result)
	}
}

func TestLoginStoresGrantedPair(t *testing.T) {
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/login" {
			http.NotFound(w, r)
			return
		}
		var creds map[string]string
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if creds["email"] != "ayse@example.com" || creds["password"] != "Parola123" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"Incorrect email or password"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TokenGrant{
			AccessToken:  "granted-access",
			RefreshToken: "granted-refresh",
			TokenType:    "bearer",
			ExpiresIn:    1800,
		})
	}))

	if _, err := api.Login(context.Background(), "ayse@example.com", "Parola123"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	pair, ok := api.store.Get()
	if !ok || pair.AccessToken != "granted-access" || pair.RefreshToken != "granted-refresh" {
		t.Fatalf("stored pair = %+v, ok=%v", pair, ok)
	}
}

func TestLoginBadCredentialsDoesNotRefresh(t *testing.T) {
	var refreshCalls int32
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/auth/refresh" {
			atomic.AddInt32(&refreshCalls, 1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"Incorrect email or password"}`))
	}))

	_, err := api.Login(context.Background(), "ayse@example.com", "wrong")
	if !apperrors.IsKind(err, apperrors.KindAuthDenied) {
		t.Fatalf("error = %v, want the backend rejection surfaced directly", err)
	}
	if atomic.LoadInt32(&refreshCalls) != 0 {
		t.Fatal("a login rejection must not trigger a token refresh")
	}
}
