package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uda-platform/doc-extractor/internal/config"
	"github.com/uda-platform/doc-extractor/internal/storage"
)

func TestNewArchiveStore(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	t.Run("NoneReturnsNilStore", func(t *testing.T) {
		cfg := config.Config{Archive: config.ArchiveConfig{Backend: config.BackendNone}}
		store, cleanup, err := storage.NewArchiveStore(ctx, cfg, logger)
		require.NoError(t, err)
		assert.Nil(t, store)
		cleanup()
	})

	t.Run("Memory", func(t *testing.T) {
		cfg := config.Config{Archive: config.ArchiveConfig{Backend: config.BackendMemory}}
		store, cleanup, err := storage.NewArchiveStore(ctx, cfg, logger)
		require.NoError(t, err)
		require.NotNil(t, store)
		defer cleanup()

		uri, err := store.PutObject(ctx, "pages/x.html", "text/html", []byte("x"))
		require.NoError(t, err)
		assert.Equal(t, "memory://pages/x.html", uri)
	})

	t.Run("Local", func(t *testing.T) {
		cfg := config.Config{Archive: config.ArchiveConfig{
			Backend:  config.BackendLocal,
			LocalDir: t.TempDir(),
		}}
		store, cleanup, err := storage.NewArchiveStore(ctx, cfg, logger)
		require.NoError(t, err)
		assert.NotNil(t, store)
		cleanup()
	})

	t.Run("LocalMissingDir", func(t *testing.T) {
		cfg := config.Config{Archive: config.ArchiveConfig{Backend: config.BackendLocal}}
		_, _, err := storage.NewArchiveStore(ctx, cfg, logger)
		assert.Error(t, err)
	})

	t.Run("UnknownBackend", func(t *testing.T) {
		cfg := config.Config{Archive: config.ArchiveConfig{Backend: "tape"}}
		_, _, err := storage.NewArchiveStore(ctx, cfg, logger)
		assert.Error(t, err)
	})
}
