package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/reelforge/reelforge/pkg/logging"
	"github.com/reelforge/reelforge/pkg/metrics"
	"github.com/reelforge/reelforge/pkg/provider"
)

// ErrMigrationFailed is wrapped into MigrationResult.Err when the video
// could not be copied into durable storage.
var ErrMigrationFailed = errors.New("asset migration failed")

// MigrationRequest names the provider-hosted assets of a completed job.
type MigrationRequest struct {
	JobID        string
	VideoURL     string
	ThumbnailURL string
	Metadata     map[string]string
}

// MigrationResult carries the URLs to store on the job. When Success is
// false they are the provider URLs from the request.
type MigrationResult struct {
	Success      bool
	VideoURL     string
	ThumbnailURL string
	Err          error
}

// Migrator copies provider assets into an ObjectStore. It is not
// idempotent: callers must run it at most once per job.
type Migrator struct {
	store   ObjectStore
	fetcher provider.Fetcher
	prefix  string
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewMigrator creates a Migrator writing keys under prefix.
func NewMigrator(store ObjectStore, fetcher provider.Fetcher, prefix string, logger *zap.Logger, m *metrics.Metrics) *Migrator {
	if prefix == "" {
		prefix = "videos"
	}
	return &Migrator{
		store:   store,
		fetcher: fetcher,
		prefix:  strings.Trim(prefix, "/"),
		logger:  logging.OrNop(logger),
		metrics: m,
	}
}

// Store returns the destination store.
func (m *Migrator) Store() ObjectStore {
	return m.store
}

// Migrate copies the video and thumbnail to <prefix>/<jobID>/. A video
// failure fails the whole migration. A thumbnail failure alone keeps the
// provider thumbnail URL.
func (m *Migrator) Migrate(ctx context.Context, req MigrationRequest) MigrationResult {
	log := m.logger.With(zap.String("job_id", req.JobID))

	videoURL, err := m.copy(ctx, req.JobID, "video", req.VideoURL, "mp4", req.Metadata)
	if err != nil {
		m.metrics.ObserveMigration("fallback")
		log.Warn("video migration failed, keeping provider url", zap.Error(err))
		return MigrationResult{
			VideoURL:     req.VideoURL,
			ThumbnailURL: req.ThumbnailURL,
			Err:          fmt.Errorf("migrate job %s: %w: %w", req.JobID, ErrMigrationFailed, err),
		}
	}

	thumbURL := req.ThumbnailURL
	if req.ThumbnailURL != "" {
		u, err := m.copy(ctx, req.JobID, "thumbnail", req.ThumbnailURL, "jpg", req.Metadata)
		if err != nil {
			log.Warn("thumbnail migration failed, keeping provider url", zap.Error(err))
		} else {
			thumbURL = u
		}
	}

	m.metrics.ObserveMigration("success")
	log.Info("assets migrated", zap.String("video_url", videoURL))
	return MigrationResult{Success: true, VideoURL: videoURL, ThumbnailURL: thumbURL}
}

func (m *Migrator) copy(ctx context.Context, jobID, name, src, defaultExt string, metadata map[string]string) (string, error) {
	if src == "" {
		return "", fmt.Errorf("%s url is empty", name)
	}
	body, contentType, err := m.fetcher.Fetch(ctx, src)
	if err != nil {
		return "", err
	}
	defer body.Close()

	key := fmt.Sprintf("%s/%s/%s.%s", m.prefix, jobID, name, extension(contentType, src, defaultExt))
	return m.store.Put(ctx, key, body, contentType, metadata)
}

var extByContentType = map[string]string{
	"video/mp4":        "mp4",
	"video/webm":       "webm",
	"video/quicktime":  "mov",
	"image/jpeg":       "jpg",
	"image/png":        "png",
	"image/webp":       "webp",
	"image/gif":        "gif",
	"application/mp4":  "mp4",
	"video/x-matroska": "mkv",
}

// extension picks a file extension from the content type, then the source
// URL path, then the default.
func extension(contentType, src, fallback string) string {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if ext, ok := extByContentType[ct]; ok {
		return ext
	}
	if u, err := url.Parse(src); err == nil {
		if ext := strings.TrimPrefix(path.Ext(u.Path), "."); ext != "" && len(ext) <= 5 {
			return strings.ToLower(ext)
		}
	}
	return fallback
}
