package fatura

import (
	"context"
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"

	"fatura2parasut-go/internal/auth"
	apperrors "fatura2parasut-go/internal/errors"
	"fatura2parasut-go/internal/transport"
)

// RegisterRequest is the sign-up payload. KVKK consent is mandatory; the
// backend rejects registrations without it.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FullName    string `json:"full_name,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	KVKKConsent bool   `json:"kvkk_consent"`
}

// Register creates a new account. No tokens are granted; call Login after.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindApplication, "encode_request", "failed to encode registration", err)
	}
	resp, err := c.pipe.Do(ctx, &transport.Request{
		Method:      http.MethodPost,
		Path:        "/api/v1/auth/register",
		Body:        body,
		ContentType: "application/json",
		NoAuth:      true,
	})
	if err != nil {
		return nil, err
	}
	var user User
	if err := decode(resp, &user); err != nil {
		return nil, err
	}
	log.WithField("email", user.Email).Info("Account registered")
	return &user, nil
}

// Login exchanges credentials for a token pair and persists the pair in the
// credential store, so subsequent calls are authenticated.
func (c *Client) Login(ctx context.Context, email, password string) (*TokenGrant, error) {
	body, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindApplication, "encode_request", "failed to encode login", err)
	}
	resp, err := c.pipe.Do(ctx, &transport.Request{
		Method:      http.MethodPost,
		Path:        "/api/v1/auth/login",
		Body:        body,
		ContentType: "application/json",
		NoAuth:      true,
	})
	if err != nil {
		return nil, err
	}
	var grant TokenGrant
	if err := decode(resp, &grant); err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, auth.Pair{AccessToken: grant.AccessToken, RefreshToken: grant.RefreshToken}); err != nil {
		return nil, err
	}
	log.WithField("email", email).Info("Signed in")
	return &grant, nil
}

// Me fetches the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*User, error) {
	resp, err := c.pipe.Do(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   "/api/v1/auth/me",
	})
	if err != nil {
		return nil, err
	}
	var user User
	if err := decode(resp, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Logout discards the local credential pair. The backend keeps refresh
// tokens server-side and rotates them on use, so there is nothing to revoke
// remotely.
func (c *Client) Logout(ctx context.Context) error {
	return c.store.Clear(ctx)
}
