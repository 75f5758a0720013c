// Package events maps event configuration onto a concrete publisher backend
// and names the lifecycle events the engine emits.
package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/uda-platform/doc-extractor/internal/config"
	"github.com/uda-platform/doc-extractor/internal/events/memory"
	"github.com/uda-platform/doc-extractor/internal/events/pubsub"
	"github.com/uda-platform/doc-extractor/internal/extraction"
)

// Lifecycle event names carried on every published message.
const (
	JobStarted    = "job.started"
	PageExtracted = "page.extracted"
	JobFinished   = "job.finished"
)

// NewPublisher returns the configured EventPublisher and a cleanup function.
// Backend "none" yields a nil publisher; callers treat nil as events off.
func NewPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (extraction.EventPublisher, func(), error) {
	noop := func() {}
	switch cfg.Events.Backend {
	case config.BackendNone, "":
		return nil, noop, nil
	case config.BackendMemory:
		return memory.New(), noop, nil
	case config.BackendPubSub:
		pub, err := pubsub.New(ctx, cfg.Events.ProjectID, cfg.Events.Topic)
		if err != nil {
			return nil, noop, fmt.Errorf("pubsub publisher: %w", err)
		}
		cleanup := func() {
			if err := pub.Close(); err != nil {
				logger.Warn("close pubsub publisher", zap.Error(err))
			}
		}
		return pub, cleanup, nil
	default:
		return nil, noop, fmt.Errorf("unknown events backend %q", cfg.Events.Backend)
	}
}
