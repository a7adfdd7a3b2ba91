package proxy

import (
	"context"
	"net/http"

	"github.com/kalambet/chatrelay/internal/upstream"
)

// Provider opens OpenAI-compatible streams, building a fresh Client with
// the caller's key for every request.
type Provider struct {
	baseURL    string
	httpClient *http.Client
}

// NewProvider returns a Provider for baseURL. A nil httpClient uses the
// package default, which has no overall timeout.
func NewProvider(baseURL string, httpClient *http.Client) *Provider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = defaultHTTPClient
	}
	return &Provider{baseURL: baseURL, httpClient: httpClient}
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) Open(ctx context.Context, req upstream.Request) (upstream.Stream, error) {
	c := NewClientWithBaseURL(req.APIKey, p.baseURL)
	c.httpClient = p.httpClient
	s, err := c.Stream(ctx, newChatRequest(req))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListModels asks the upstream which models apiKey may use.
func (p *Provider) ListModels(ctx context.Context, apiKey string) ([]Model, error) {
	c := NewClientWithBaseURL(apiKey, p.baseURL)
	c.httpClient = p.httpClient
	return c.ListModels(ctx)
}
