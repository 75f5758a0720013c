// Package pubsub implements a Google Cloud Pub/Sub event publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// Publisher sends job lifecycle events to a single Pub/Sub topic. The logical
// event name travels as the "event" message attribute so consumers can filter
// without decoding payloads.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New connects using Application Default Credentials and verifies the topic
// exists before returning.
func New(ctx context.Context, projectID, topicID string) (*Publisher, error) {
	if projectID == "" || topicID == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	pub, err := NewWithClient(ctx, client, topicID)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			return nil, fmt.Errorf("%w (close client: %v)", err, closeErr)
		}
		return nil, err
	}
	return pub, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership of the
// client if construction fails; tests hand in one backed by pstest.
func NewWithClient(ctx context.Context, client *pubsub.Client, topicID string) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !ok {
		return nil, fmt.Errorf("pubsub topic %q does not exist", topicID)
	}
	return &Publisher{client: client, topic: topic}, nil
}

// Publish marshals the payload to JSON and blocks until the broker assigns a
// message ID.
func (p *Publisher) Publish(ctx context.Context, event string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal event payload: %w", err)
	}

	msg := &pubsub.Message{Data: data}
	if event != "" {
		msg.Attributes = map[string]string{"event": event}
	}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish event: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client connection.
func (p *Publisher) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
