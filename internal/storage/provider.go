// Package storage maps archive configuration onto a concrete blob store.
// The implementations live in the subpackages (memory, local, gcs); this
// package keeps the application independent of which one is in use.
package storage

import (
	"context"
	"fmt"

	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/uda-platform/doc-extractor/internal/config"
	"github.com/uda-platform/doc-extractor/internal/extraction"
	"github.com/uda-platform/doc-extractor/internal/storage/gcs"
	"github.com/uda-platform/doc-extractor/internal/storage/local"
	"github.com/uda-platform/doc-extractor/internal/storage/memory"
)

// NewArchiveStore builds the blob store named by cfg.Archive.Backend. When
// archival is disabled it returns a nil store; callers skip archiving in that
// case. The returned cleanup releases any client the store owns and is never
// nil.
func NewArchiveStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (extraction.BlobStore, func(), error) {
	noop := func() {}
	switch cfg.Archive.Backend {
	case config.BackendNone, "":
		return nil, noop, nil
	case config.BackendMemory:
		return memory.NewBlobStore(), noop, nil
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: cfg.Archive.LocalDir})
		if err != nil {
			return nil, noop, fmt.Errorf("local archive store: %w", err)
		}
		return store, noop, nil
	case config.BackendGCS:
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("create GCS client: %w", err)
		}
		// Fail fast on startup if the bucket is missing or unreadable.
		if _, err := client.Bucket(cfg.Archive.GCSBucket).Attrs(ctx); err != nil {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("failed to close GCS client after bucket check", zap.Error(closeErr))
			}
			return nil, noop, fmt.Errorf("check GCS bucket %q: %w", cfg.Archive.GCSBucket, err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("failed to close GCS client", zap.Error(closeErr))
			}
			return nil, noop, fmt.Errorf("gcs archive store: %w", err)
		}
		cleanup := func() {
			if err := client.Close(); err != nil {
				logger.Warn("failed to close GCS client", zap.Error(err))
			}
		}
		return store, cleanup, nil
	default:
		return nil, noop, fmt.Errorf("unknown archive backend %q", cfg.Archive.Backend)
	}
}
