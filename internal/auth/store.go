package auth

import (
	"context"
	"fmt"
	"sync"

	"fatura2parasut-go/internal/events"
	"fatura2parasut-go/internal/storage"

	log "github.com/sirupsen/logrus"
)

// Persistence keys in the storage backend. Absent keys mean "unauthenticated".
const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
)

// Store owns the credential pair for one application session. The pair is
// replaced atomically: readers go through the in-memory copy, which is only
// swapped after both backend keys are written.
type Store struct {
	backend   storage.Backend
	publisher events.Publisher

	mu     sync.RWMutex
	cached Pair
}

// NewStore creates a credential store over the given backend. The publisher
// may be nil.
func NewStore(backend storage.Backend, publisher events.Publisher) *Store {
	return &Store{backend: backend, publisher: publisher}
}

// Load hydrates the in-memory pair from the backend. Missing keys are not an
// error; they leave the store unauthenticated. A half-present pair (one key
// written, the other lost) is treated as absent and cleaned up.
func (s *Store) Load(ctx context.Context) error {
	access, err := s.backend.Get(ctx, keyAccessToken)
	if err != nil && !storage.IsNotFound(err) {
		return fmt.Errorf("load access token: %w", err)
	}
	refresh, err := s.backend.Get(ctx, keyRefreshToken)
	if err != nil && !storage.IsNotFound(err) {
		return fmt.Errorf("load refresh token: %w", err)
	}

	pair := Pair{AccessToken: string(access), RefreshToken: string(refresh)}
	if !pair.Valid() {
		if pair.AccessToken != "" || pair.RefreshToken != "" {
			log.Warn("found half-written credential pair, clearing")
			return s.Clear(ctx)
		}
		return nil
	}

	s.mu.Lock()
	s.cached = pair
	s.mu.Unlock()
	return nil
}

// Set persists both tokens together and swaps the in-memory pair.
func (s *Store) Set(ctx context.Context, pair Pair) error {
	if !pair.Valid() {
		return fmt.Errorf("credential pair must have both access and refresh tokens")
	}

	if err := s.backend.Set(ctx, keyRefreshToken, []byte(pair.RefreshToken)); err != nil {
		return fmt.Errorf("persist refresh token: %w", err)
	}
	if err := s.backend.Set(ctx, keyAccessToken, []byte(pair.AccessToken)); err != nil {
		return fmt.Errorf("persist access token: %w", err)
	}

	s.mu.Lock()
	s.cached = pair
	s.mu.Unlock()

	if s.publisher != nil {
		s.publisher.Publish(ctx, events.TopicCredentialsChanged, nil, nil)
	}
	return nil
}

// Get returns the current pair. The second return is false when no pair is
// stored.
func (s *Store) Get() (Pair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cached, s.cached.Valid()
}

// Clear removes both tokens. Clearing an empty store is a no-op.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Delete(ctx, keyAccessToken); err != nil {
		return fmt.Errorf("delete access token: %w", err)
	}
	if err := s.backend.Delete(ctx, keyRefreshToken); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}

	s.mu.Lock()
	changed := s.cached.Valid()
	s.cached = Pair{}
	s.mu.Unlock()

	if changed && s.publisher != nil {
		s.publisher.Publish(ctx, events.TopicCredentialsChanged, nil, nil)
	}
	return nil
}
