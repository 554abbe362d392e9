package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/k5tuck/binelek-core-sub001/errors"
	"github.com/k5tuck/binelek-core-sub001/graph"
)

// Provider produces a property diff for one entity from an external data
// source. An empty diff means the source had nothing to add.
type Provider interface {
	Enrich(
		ctx context.Context,
		entity *graph.Entity,
		enrichmentType string,
		params map[string]graph.Value,
	) (map[string]graph.Value, error)
}

// HTTPProvider calls an enrichment service over HTTP. The request carries
// the entity snapshot and parameters; the response body is the property diff.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider creates a provider for the given enrichment service URL.
func NewHTTPProvider(baseURL string, timeout time.Duration) (*HTTPProvider, error) {
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("invalid provider URL %q", baseURL),
			"HTTPProvider", "NewHTTPProvider", "parse base URL")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type enrichRequest struct {
	EntityID       string                 `json:"entity_id"`
	EntityType     string                 `json:"entity_type"`
	TenantID       string                 `json:"tenant_id,omitempty"`
	Properties     *graph.Properties      `json:"properties"`
	EnrichmentType string                 `json:"enrichment_type"`
	Parameters     map[string]graph.Value `json:"parameters,omitempty"`
}

// Enrich posts the entity to the enrichment service and decodes the diff.
// 4xx responses are invalid (the request can never succeed), 5xx and
// transport failures are transient.
func (p *HTTPProvider) Enrich(
	ctx context.Context,
	entity *graph.Entity,
	enrichmentType string,
	params map[string]graph.Value,
) (map[string]graph.Value, error) {
	body, err := json.Marshal(enrichRequest{
		EntityID:       entity.ID,
		EntityType:     entity.Type,
		TenantID:       entity.TenantID,
		Properties:     entity.Properties,
		EnrichmentType: enrichmentType,
		Parameters:     params,
	})
	if err != nil {
		return nil, errors.WrapInvalid(err, "HTTPProvider", "Enrich", "encode request")
	}

	endpoint := fmt.Sprintf("%s/enrich/%s", p.baseURL, url.PathEscape(enrichmentType))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.WrapInvalid(err, "HTTPProvider", "Enrich", "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "HTTPProvider", "Enrich", "call enrichment service")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 500:
		return nil, errors.WrapTransient(
			fmt.Errorf("enrichment service returned %d", resp.StatusCode),
			"HTTPProvider", "Enrich", "call enrichment service")
	case resp.StatusCode >= 400:
		return nil, errors.WrapInvalid(
			fmt.Errorf("enrichment service rejected request with %d", resp.StatusCode),
			"HTTPProvider", "Enrich", "call enrichment service")
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.WrapTransient(err, "HTTPProvider", "Enrich", "read response")
	}

	diff := make(map[string]graph.Value)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &diff); err != nil {
			return nil, errors.WrapInvalid(err, "HTTPProvider", "Enrich", "decode diff")
		}
	}
	return diff, nil
}
