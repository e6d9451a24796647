// Package storage moves completed assets into durable object storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/reelforge/reelforge/pkg/config"
)

// ObjectStore is durable storage for migrated assets.
type ObjectStore interface {
	// Put writes body under key and returns the object's durable URL.
	Put(ctx context.Context, key string, body io.Reader, contentType string, metadata map[string]string) (string, error)
	// SignURL returns a time-limited URL for an object this store owns.
	// URLs the store does not own are returned unchanged.
	SignURL(ctx context.Context, url string, ttl time.Duration) (string, error)
	// Owns reports whether url points into this store.
	Owns(url string) bool
}

// New builds the ObjectStore selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStore, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	case "local", "":
		return NewLocalStore(cfg.Local.Dir, cfg.Local.BaseURL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
