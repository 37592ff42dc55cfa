package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileBackend implements storage using local files, one file per key.
// Writes go through a temp file plus rename so readers never observe a
// partial value, and values survive process restarts.
type FileBackend struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileBackend creates a new file-based storage backend
func NewFileBackend(baseDir string) *FileBackend {
	return &FileBackend{baseDir: baseDir}
}

func (f *FileBackend) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(f.keysDir(), 0o700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	return nil
}

func (f *FileBackend) Close() error { return nil }

func (f *FileBackend) Health(ctx context.Context) error {
	_, err := os.Stat(f.baseDir)
	return err
}

func (f *FileBackend) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrNotFound{Key: key}
		}
		return nil, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return data, nil
}

func (f *FileBackend) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.pathFor(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0o600); err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to commit key %s: %w", key, err)
	}
	return nil
}

func (f *FileBackend) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.pathFor(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (f *FileBackend) Keys(ctx context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(f.keysDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		keys = append(keys, entry.Name())
	}
	return keys, nil
}

func (f *FileBackend) keysDir() string {
	return filepath.Join(f.baseDir, "keys")
}

func (f *FileBackend) pathFor(key string) string {
	return filepath.Join(f.keysDir(), sanitizeKey(key))
}

// sanitizeKey keeps key-derived filenames inside the keys directory.
func sanitizeKey(key string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return replacer.Replace(key)
}
