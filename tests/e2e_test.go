package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fatura2parasut-go/internal/auth"
	"fatura2parasut-go/internal/config"
	apperrors "fatura2parasut-go/internal/errors"
	"fatura2parasut-go/internal/events"
	"fatura2parasut-go/internal/fatura"
	"fatura2parasut-go/internal/storage"
	"fatura2parasut-go/internal/transport"
)

type e2e struct {
	backend *fakeBackend
	hub     *events.Hub
	store   *auth.Store
	api     *fatura.Client
}

func newE2E(t *testing.T) *e2e {
	t.Helper()

	backend := newFakeBackend()
	srv := startTestServer(t, backend.router())

	kv := storage.NewFileBackend(t.TempDir())
	require.NoError(t, kv.Initialize(context.Background()))

	hub := events.NewHub()
	store := auth.NewStore(kv, hub)

	cfg := &config.Config{
		APIBaseURL:               srv.URL,
		RequestTimeoutSec:        5,
		RetryMax:                 2,
		RetryBaseMs:              10,
		DialTimeoutSec:           2,
		TLSHandshakeTimeoutSec:   2,
		ResponseHeaderTimeoutSec: 5,
		UploadMaxMB:              10,
		PollIntervalSec:          1,
		PollMaxAttempts:          10,
	}
	refresher := auth.NewRefresher(srv.URL, &http.Client{Timeout: 5 * time.Second}, store, hub)
	pipe := transport.New(cfg, store, auth.NewCoordinator(refresher), hub)

	return &e2e{
		backend: backend,
		hub:     hub,
		store:   store,
		api:     fatura.New(cfg, pipe, store),
	}
}

func TestInvoiceLifecycle(t *testing.T) {
	env := newE2E(t)
	ctx := context.Background()

	_, err := env.api.Login(ctx, "test@example.com", "Sifre1234")
	require.NoError(t, err)

	inv, err := env.api.Upload(ctx, "fatura.pdf", []byte("%PDF-1.4 fake"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, fatura.StatusUploaded, inv.Status)

	done, err := env.api.WaitForProcessing(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, fatura.StatusCompleted, done.Status)
	assert.True(t, env.api.Validated(done), "extracted totals should be consistent")

	corrected, err := env.api.CorrectExtracted(ctx, inv.ID,
		json.RawMessage(`{"invoice_no":"FTR-2026-042"}`))
	require.NoError(t, err)
	assert.True(t, env.api.Validated(corrected), "correction must not break the totals")

	result, err := env.api.Export(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.ParasutID)

	// Exported invoices are immutable.
	_, err = env.api.Update(ctx, inv.ID, fatura.UpdateRequest{
		ExtractedData: json.RawMessage(`{"vendor":"other"}`),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindApplication))

	exported, err := env.api.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, fatura.StatusExported, exported.Status)

	require.NoError(t, env.api.Delete(ctx, inv.ID))
	_, err = env.api.Get(ctx, inv.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindApplication), "deleted invoice should be gone")
}

func TestExpiredTokenRefreshedOnceAcrossConcurrentCalls(t *testing.T) {
	env := newE2E(t)
	ctx := context.Background()

	_, err := env.api.Login(ctx, "test@example.com", "Sifre1234")
	require.NoError(t, err)
	loginRefreshes := env.backend.refreshCount()

	// Hold the refresh open so every caller's rejection lands while the
	// shared refresh is still in flight.
	env.backend.refreshDelay = 300 * time.Millisecond
	env.backend.expireAccess()

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.api.List(ctx, fatura.ListOptions{})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.NoError(t, errs[i], "caller %d", i)
	}
	assert.Equal(t, loginRefreshes+1, env.backend.refreshCount(),
		"all concurrent callers must share a single refresh")

	// The rotated pair is usable for subsequent calls.
	_, err = env.api.Me(ctx)
	assert.NoError(t, err)
}

func TestRevokedRefreshTokenSignsOut(t *testing.T) {
	env := newE2E(t)
	ctx := context.Background()

	_, err := env.api.Login(ctx, "test@example.com", "Sifre1234")
	require.NoError(t, err)

	var signedOut int
	var mu sync.Mutex
	env.hub.Subscribe(events.TopicSignedOut, func(ctx context.Context, e events.Event) {
		mu.Lock()
		signedOut++
		mu.Unlock()
	})

	env.backend.revokeRefresh()

	_, err = env.api.List(ctx, fatura.ListOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindRefreshDenied), "got %v", err)

	_, ok := env.store.Get()
	assert.False(t, ok, "credentials must be cleared after a refresh denial")

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, signedOut, 1, "the signed-out notice must fire")
}

func TestLogoutDiscardsSession(t *testing.T) {
	env := newE2E(t)
	ctx := context.Background()

	_, err := env.api.Login(ctx, "test@example.com", "Sifre1234")
	require.NoError(t, err)
	require.NoError(t, env.api.Logout(ctx))

	_, ok := env.store.Get()
	assert.False(t, ok)

	// Without a credential the next call cannot recover via refresh.
	_, err = env.api.Me(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNoCredential), "got %v", err)
}
