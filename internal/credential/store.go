// Package credential stores the single API key the panel generates with.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrNotConfigured is returned by Get when no key has been stored.
	ErrNotConfigured = errors.New("credential: api key is not configured")
	// ErrEmptyKey is returned by Set for a blank key.
	ErrEmptyKey = errors.New("credential: api key is required")
)

// Store is a key-value holder for the API credential.
type Store interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, key string) error
}

// MemoryStore keeps the key in process memory only.
type MemoryStore struct {
	mu  sync.RWMutex
	key string
}

// NewMemoryStore creates a MemoryStore seeded with key, which may be empty.
func NewMemoryStore(key string) *MemoryStore {
	return &MemoryStore{key: strings.TrimSpace(key)}
}

// Get returns the stored key.
func (s *MemoryStore) Get(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == "" {
		return "", ErrNotConfigured
	}
	return s.key, nil
}

// Set replaces the stored key.
func (s *MemoryStore) Set(_ context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
	return nil
}

// fileFormat is the on-disk JSON document.
type fileFormat struct {
	APIKey string `json:"api_key"`
}

// FileStore persists the key as a JSON document readable only by the owner.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore backed by path. The file is created on
// the first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Get reads the key from disk.
func (s *FileStore) Get(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotConfigured
		}
		return "", fmt.Errorf("credential: read %s: %w", s.path, err)
	}

	var doc fileFormat
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("credential: parse %s: %w", s.path, err)
	}
	key := strings.TrimSpace(doc.APIKey)
	if key == "" {
		return "", ErrNotConfigured
	}
	return key, nil
}

// Set writes the key atomically with 0600 permissions.
func (s *FileStore) Set(_ context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyKey
	}

	data, err := json.MarshalIndent(fileFormat{APIKey: key}, "", "  ")
	if err != nil {
		return fmt.Errorf("credential: encode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("credential: create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credential-*")
	if err != nil {
		return fmt.Errorf("credential: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("credential: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("credential: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credential: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("credential: replace %s: %w", s.path, err)
	}
	return nil
}

// Compile-time checks.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
)
