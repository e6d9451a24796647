package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStore keeps objects on the local filesystem and serves them from a
// base URL. Signing is a no-op.
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore creates the base directory if needed.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if dir == "" {
		dir = "assets"
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create asset directory: %w", err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the directory objects are written to.
func (s *LocalStore) Dir() string {
	return s.dir
}

// Put writes body to dir/key. Metadata is not persisted.
func (s *LocalStore) Put(_ context.Context, key string, body io.Reader, _ string, _ map[string]string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	fullPath := filepath.Join(s.dir, clean)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(fullPath)
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(fullPath)
		return "", fmt.Errorf("close file: %w", err)
	}
	return s.baseURL + "/" + filepath.ToSlash(clean), nil
}

// SignURL returns url unchanged.
func (s *LocalStore) SignURL(_ context.Context, url string, _ time.Duration) (string, error) {
	return url, nil
}

// Owns reports whether url is under the store's base URL.
func (s *LocalStore) Owns(url string) bool {
	return s.baseURL != "" && strings.HasPrefix(url, s.baseURL+"/")
}
