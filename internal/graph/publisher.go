package graph

import (
	"context"

	"go.uber.org/zap"

	"github.com/uda-platform/doc-extractor/internal/extraction"
)

// Publisher pushes extracted records to the knowledge-graph service. It is
// deliberately lossy: failures are logged and never surfaced, so a graph
// outage cannot fail an extraction job.
type Publisher struct {
	client *Client
	logger *zap.Logger
}

// NewPublisher wires a client to a logger.
func NewPublisher(client *Client, logger *zap.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

// Publish sends entities before relations so edges reference nodes the
// service has already seen. A failed entity batch does not stop the
// relation batch; the service tolerates dangling references.
func (p *Publisher) Publish(ctx context.Context, records []extraction.Record) {
	entities, relations := extraction.PartitionRecords(records)
	if len(entities) == 0 && len(relations) == 0 {
		return
	}
	if err := p.client.CreateEntities(ctx, entities); err != nil {
		p.logger.Warn("failed to publish entities",
			zap.Int("count", len(entities)),
			zap.Error(err),
		)
	}
	if err := p.client.CreateRelations(ctx, relations); err != nil {
		p.logger.Warn("failed to publish relations",
			zap.Int("count", len(relations)),
			zap.Error(err),
		)
	}
}
