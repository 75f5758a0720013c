// Package graph holds the HTTP client and best-effort publisher for the
// external knowledge-graph service.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/uda-platform/doc-extractor/internal/extraction"
)

const defaultTimeout = 10 * time.Second

// ErrUnavailable indicates the knowledge-graph service is unreachable.
var ErrUnavailable = errors.New("knowledge-graph service unavailable")

// Client is an HTTP client for the knowledge-graph service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a knowledge-graph client. A timeout <= 0 falls back to
// the default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type entitiesEnvelope struct {
	Entities []extraction.Entity `json:"entities"`
}

// wireRelation is the relation shape the graph service accepts. It names the
// endpoints from_entity/to_entity, unlike the internal record form.
type wireRelation struct {
	FromEntity string `json:"from_entity"`
	Type       string `json:"relationType"`
	ToEntity   string `json:"to_entity"`
}

type relationsEnvelope struct {
	Relations []wireRelation `json:"relations"`
}

// CreateEntities posts a batch of entities. An empty batch is a no-op.
func (c *Client) CreateEntities(ctx context.Context, entities []extraction.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	return c.post(ctx, "/entities", entitiesEnvelope{Entities: entities})
}

// CreateRelations posts a batch of relations. An empty batch is a no-op.
func (c *Client) CreateRelations(ctx context.Context, relations []extraction.Relation) error {
	if len(relations) == 0 {
		return nil
	}
	wire := make([]wireRelation, len(relations))
	for i, r := range relations {
		wire[i] = wireRelation{FromEntity: r.From, Type: r.Type, ToEntity: r.To}
	}
	return c.post(ctx, "/relations", relationsEnvelope{Relations: wire})
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("knowledge-graph service returned %d for %s", resp.StatusCode, path)
	}
	return nil
}
