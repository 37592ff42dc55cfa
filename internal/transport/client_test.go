package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fatura2parasut-go/internal/auth"
	"fatura2parasut-go/internal/config"
	apperrors "fatura2parasut-go/internal/errors"
	"fatura2parasut-go/internal/events"
	"fatura2parasut-go/internal/storage"
)

func newTestClient(t *testing.T, baseURL string, hub *events.Hub) (*Client, *auth.Store) {
	t.Helper()

	backend := storage.NewFileBackend(t.TempDir())
	if err := backend.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize backend: %v", err)
	}
	store := auth.NewStore(backend, hub)
	if err := store.Set(context.Background(), auth.Pair{AccessToken: "stale-access", RefreshToken: "refresh-1"}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	cfg := &config.Config{
		APIBaseURL:               baseURL,
		RequestTimeoutSec:        5,
		RetryMax:                 2,
		RetryBaseMs:              10,
		DialTimeoutSec:           2,
		TLSHandshakeTimeoutSec:   2,
		ResponseHeaderTimeoutSec: 5,
	}

	refresher := auth.NewRefresher(baseURL, &http.Client{Timeout: 5 * time.Second}, store, hub)
	return New(cfg, store, auth.NewCoordinator(refresher), hub), store
}

// hijackClose drops the connection without writing a response so the
// client observes a transient network failure. Runs on the server
// goroutine, so it must not call t.Fatal.
func hijackClose(t *testing.T, w http.ResponseWriter) {
	t.Helper()
	hj, ok := w.(http.Hijacker)
	if !ok {
		t.Error("response writer does not support hijacking")
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		t.Errorf("hijack: %v", err)
		return
	}
	conn.Close()
}

func TestDoRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			hijackClose(t, w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL, events.NewHub())

	resp, err := client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/api/v1/invoices"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("server saw %d attempts, want 3", got)
	}
}

func TestDoExhaustsRetryBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		hijackClose(t, w)
	}))
	defer srv.Close()

	hub := events.NewHub()
	var netEvents int32
	hub.Subscribe(events.TopicNetworkError, func(ctx context.Context, e events.Event) {
		atomic.AddInt32(&netEvents, 1)
	})

	client, _ := newTestClient(t, srv.URL, hub)

	_, err := client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/api/v1/invoices"})
	if !apperrors.IsKind(err, apperrors.KindNetworkFailure) {
		t.Fatalf("error = %v, want network failure", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("server saw %d attempts, want 3 (initial + 2 retries)", got)
	}
	if got := atomic.LoadInt32(&netEvents); got != 1 {
		t.Fatalf("network-error events = %d, want 1", got)
	}
}

func TestDoServerFailureNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail":"database unavailable"}`))
	}))
	defer srv.Close()

	hub := events.NewHub()
	var srvEvents int32
	hub.Subscribe(events.TopicServerError, func(ctx context.Context, e events.Event) {
		atomic.AddInt32(&srvEvents, 1)
	})

	client, _ := newTestClient(t, srv.URL, hub)

	_, err := client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/api/v1/invoices"})
	if !apperrors.IsKind(err, apperrors.KindServerFailure) {
		t.Fatalf("error = %v, want server failure", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("server saw %d attempts, want exactly 1", got)
	}
	if got := atomic.LoadInt32(&srvEvents); got != 1 {
		t.Fatalf("server-error events = %d, want 1", got)
	}
}

func TestDoClientErrorPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Invoice not found"}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL, events.NewHub())

	resp, err := client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/api/v1/invoices/missing"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var body struct {
		Detail string `json:"detail"`
	}
	if err := resp.JSON(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Detail != "Invoice not found" {
		t.Fatalf("detail = %q", body.Detail)
	}
}

func TestDoRefreshesOnceOnExpiry(t *testing.T) {
	var refreshCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-access",
			"refresh_token": "refresh-2",
			"token_type":    "bearer",
		})
	})
	mux.HandleFunc("/api/v1/invoices", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, store := newTestClient(t, srv.URL, events.NewHub())

	resp, err := client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/api/v1/invoices"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&refreshCalls); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	pair, ok := store.Get()
	if !ok || pair.AccessToken != "fresh-access" || pair.RefreshToken != "refresh-2" {
		t.Fatalf("stored pair = %+v, ok=%v", pair, ok)
	}
}

func TestDoSecondRejectionDeniesAccess(t *testing.T) {
	var refreshCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-access",
			"refresh_token": "refresh-2",
		})
	})
	mux.HandleFunc("/api/v1/invoices", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	hub := events.NewHub()
	var signedOut int32
	hub.Subscribe(events.TopicSignedOut, func(ctx context.Context, e events.Event) {
		atomic.AddInt32(&signedOut, 1)
	})

	client, store := newTestClient(t, srv.URL, hub)

	_, err := client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/api/v1/invoices"})
	if !apperrors.IsKind(err, apperrors.KindAuthDenied) {
		t.Fatalf("error = %v, want auth denied", err)
	}
	if got := atomic.LoadInt32(&refreshCalls); got != 1 {
		t.Fatalf("refresh calls = %d, want exactly 1", got)
	}
	if _, ok := store.Get(); ok {
		t.Fatal("credentials should be cleared after repeated rejection")
	}
	if got := atomic.LoadInt32(&signedOut); got != 1 {
		t.Fatalf("signed-out events = %d, want 1", got)
	}
}

func TestDoConcurrentExpirySharesOneRefresh(t *testing.T) {
	var refreshCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		// Hold the refresh open long enough for every caller to hit the
		// expired token and join the in-flight attempt.
		time.Sleep(250 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-access",
			"refresh_token": "refresh-2",
		})
	})
	mux.HandleFunc("/api/v1/invoices", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"items":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL, events.NewHub())

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/api/v1/invoices"})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&refreshCalls); got != 1 {
		t.Fatalf("refresh calls = %d, want a single shared refresh", got)
	}
}
