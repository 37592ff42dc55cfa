package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "fatura2parasut-go/internal/errors"
	"fatura2parasut-go/internal/events"

	log "github.com/sirupsen/logrus"
)

const refreshPath = "/api/v1/auth/refresh"

// Refresher exchanges the stored refresh token for a new credential pair.
// A denied refresh is terminal for the session: the store is cleared and the
// signed-out event is published, so callers must never retry it.
type Refresher struct {
	baseURL    string
	httpClient *http.Client
	store      *Store
	publisher  events.Publisher
}

// NewRefresher creates a refresher against the backend at baseURL. A nil
// client gets a default with a 30 second timeout.
func NewRefresher(baseURL string, client *http.Client, store *Store, publisher events.Publisher) *Refresher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Refresher{
		baseURL:    baseURL,
		httpClient: client,
		store:      store,
		publisher:  publisher,
	}
}

// Refresh performs one refresh call and returns the new access token.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	pair, ok := r.store.Get()
	if !ok {
		return "", apperrors.New(apperrors.KindNoCredential, 0, "no_credential", "no refresh token available")
	}

	body, err := json.Marshal(map[string]string{"refresh_token": pair.RefreshToken})
	if err != nil {
		return "", fmt.Errorf("encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+refreshPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", r.deny(ctx, fmt.Errorf("refresh call failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", r.deny(ctx, fmt.Errorf("refresh rejected with status %d: %s", resp.StatusCode, string(respBody)))
	}

	var grant grantResponse
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return "", r.deny(ctx, fmt.Errorf("decode refresh response: %w", err))
	}
	if grant.AccessToken == "" {
		return "", r.deny(ctx, fmt.Errorf("refresh response missing access token"))
	}

	next := Pair{AccessToken: grant.AccessToken, RefreshToken: grant.RefreshToken}
	if next.RefreshToken == "" {
		// Backend did not rotate; the old refresh token stays valid.
		next.RefreshToken = pair.RefreshToken
	}

	if err := r.store.Set(ctx, next); err != nil {
		return "", fmt.Errorf("store refreshed credentials: %w", err)
	}

	log.Debug("access token refreshed")
	return next.AccessToken, nil
}

// deny finalizes a failed refresh: credentials are wiped so the session
// cannot loop on a dead refresh token, and the app is told to sign in again.
func (r *Refresher) deny(ctx context.Context, cause error) error {
	if err := r.store.Clear(ctx); err != nil {
		log.WithError(err).Warn("failed to clear credentials after denied refresh")
	}
	if r.publisher != nil {
		r.publisher.Publish(ctx, events.TopicSignedOut, cause.Error(), nil)
	}
	log.WithError(cause).Info("refresh denied, session terminated")
	return apperrors.Wrap(apperrors.KindRefreshDenied, "refresh_denied", "credential refresh was denied", cause)
}
