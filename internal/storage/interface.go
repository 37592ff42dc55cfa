package storage

import (
	"context"
)

// Backend defines the interface for credential persistence implementations.
// It is a flat key/value store; the auth layer decides the keys.
type Backend interface {
	// Initialize sets up the storage backend
	Initialize(ctx context.Context) error

	// Close closes the storage backend
	Close() error

	// Health checks if the storage backend is healthy
	Health(ctx context.Context) error

	// Get returns the value stored under key, or *ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists all stored keys.
	Keys(ctx context.Context) ([]string, error)
}

// ErrNotFound is returned when a key is not found
type ErrNotFound struct {
	Key string
}

func (e *ErrNotFound) Error() string {
	return "key not found: " + e.Key
}

// IsNotFound reports whether err is a missing-key error.
func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}
