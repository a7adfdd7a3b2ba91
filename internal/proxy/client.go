// Package proxy streams chat completions from OpenAI-compatible upstream
// APIs (OpenAI, Groq, OpenRouter and friends).
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/chatrelay/internal/upstream"
)

const (
	// DefaultBaseURL points at Groq's OpenAI-compatible endpoint.
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	// DefaultModel is used when neither the caller nor the config picks one.
	DefaultModel = "llama-3.3-70b-versatile"
	providerName = "openai"
	maxErrorBody = 64 << 10
	maxModelList = 4 << 20
)

// Client communicates with one OpenAI-compatible API on behalf of one
// caller-supplied key. Clients are cheap and built per request.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClientWithBaseURL creates a client pointing at a custom base URL.
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: defaultHTTPClient,
	}
}

// defaultHTTPClient has no overall timeout: a completion stream may run for
// as long as the model keeps generating. Only connection setup is bounded.
var defaultHTTPClient = &http.Client{Transport: newTransport()}

func newTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSHandshakeTimeout = 10 * time.Second
	t.ResponseHeaderTimeout = 60 * time.Second
	return t
}

// Stream sends a streaming chat completion request and returns the fragment
// stream. The request is not retried; a 429 surfaces as
// *upstream.RateLimitError for the caller to act on.
func (c *Client) Stream(ctx context.Context, req ChatRequest) (*Stream, error) {
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	rc, err := c.doChat(ctx, body)
	if err != nil {
		return nil, err
	}
	return newStream(rc), nil
}

func (c *Client) doChat(ctx context.Context, body []byte) (io.ReadCloser, error) {
	reqCtx, cancel := context.WithCancel(ctx)

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("executing request: %w", ctx.Err())
		}
		return nil, &upstream.ConnectionError{Provider: providerName, Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	// Wrap the body so the request context is released when the caller closes it.
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

func statusError(resp *http.Response) error {
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &upstream.RateLimitError{Provider: providerName, RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	case http.StatusBadRequest:
		return &upstream.BadRequestError{Provider: providerName, StatusCode: resp.StatusCode, Body: string(respBody)}
	default:
		return &upstream.StatusError{Provider: providerName, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// ListModels returns the model ids the upstream serves to this key, in
// the order the upstream lists them.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("listing models: %w", ctx.Err())
		}
		return nil, &upstream.ConnectionError{Provider: providerName, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var page modelPage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxModelList)).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding model list: %w", err)
	}
	out := make([]Model, 0, len(page.Data))
	for _, m := range page.Data {
		if m.ID != "" {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}
