// Package gemini streams completions from the Google Generative Language API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/kalambet/chatrelay/internal/upstream"
)

const (
	// DefaultModel is used when neither the caller nor the config picks one.
	DefaultModel = "gemini-2.0-flash-exp"
	providerName = "gemini"
)

// Provider opens Gemini chat streams. A genai.Client is created per request
// with the caller's key and closed together with the stream.
type Provider struct {
	opts []option.ClientOption
}

// NewProvider returns a Provider. endpoint overrides the API base URL when
// non-empty; extra options are appended after the per-request API key.
func NewProvider(endpoint string, opts ...option.ClientOption) *Provider {
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return &Provider{opts: opts}
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) Open(ctx context.Context, req upstream.Request) (upstream.Stream, error) {
	system, history, last, err := toContents(req.Messages)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	opts := append([]option.ClientOption{option.WithAPIKey(req.APIKey)}, p.opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		cancel()
		return nil, mapError(fmt.Errorf("creating Gemini client: %w", err))
	}

	model := client.GenerativeModel(req.Model)
	configure(model, req.Generation)
	model.SystemInstruction = system

	cs := model.StartChat()
	cs.History = history

	return &stream{
		iter:   cs.SendMessageStream(ctx, last...),
		client: client,
		cancel: cancel,
	}, nil
}

func configure(model *genai.GenerativeModel, g upstream.Generation) {
	if g.Temperature > 0 {
		model.SetTemperature(float32(g.Temperature))
	}
	if g.TopP > 0 {
		model.SetTopP(float32(g.TopP))
	}
	if g.TopK > 0 {
		model.SetTopK(int32(g.TopK))
	}
	if g.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(int32(g.MaxOutputTokens))
	}
	model.ResponseMIMEType = "text/plain"
}

// toContents splits an upstream conversation into Gemini's shape: the system
// instruction, the prior turns, and the parts of the final user message.
// Gemini names the assistant role "model".
func toContents(msgs []upstream.Message) (*genai.Content, []*genai.Content, []genai.Part, error) {
	var (
		system  *genai.Content
		history []*genai.Content
	)
	for _, m := range msgs {
		switch m.Role {
		case upstream.RoleSystem:
			if system == nil {
				system = &genai.Content{Parts: []genai.Part{genai.Text(m.Content)}}
			} else {
				system.Parts = append(system.Parts, genai.Text(m.Content))
			}
		case upstream.RoleUser:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		case upstream.RoleAssistant:
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			return nil, nil, nil, fmt.Errorf("unsupported role %q", m.Role)
		}
	}
	if len(history) == 0 || history[len(history)-1].Role != "user" {
		return nil, nil, nil, errors.New("conversation must end with a user message")
	}
	last := history[len(history)-1]
	return system, history[:len(history)-1], last.Parts, nil
}

type stream struct {
	iter   *genai.GenerateContentResponseIterator
	client *genai.Client
	cancel context.CancelFunc
	closed bool
	done   bool
}

func (s *stream) Next() (string, error) {
	for !s.closed && !s.done {
		resp, err := s.iter.Next()
		if errors.Is(err, iterator.Done) {
			s.done = true
			break
		}
		if err != nil {
			return "", mapError(err)
		}
		if text := responseText(resp); text != "" {
			return text, nil
		}
	}
	return "", io.EOF
}

func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return s.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}
	return text.String()
}

// httpCoder is implemented by gax's apierror.APIError.
type httpCoder interface {
	HTTPCode() int
}

func mapError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		body := gerr.Body
		if body == "" {
			body = gerr.Message
		}
		return statusToError(gerr.Code, body)
	}

	var coder httpCoder
	if errors.As(err, &coder) && coder.HTTPCode() > 0 {
		return statusToError(coder.HTTPCode(), err.Error())
	}

	// The REST transport passes the API key as a query parameter, so the
	// URL must not reach error text.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &upstream.ConnectionError{Provider: providerName, Cause: &url.Error{
			Op:  urlErr.Op,
			URL: redactURL(urlErr.URL),
			Err: urlErr.Err,
		}}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &upstream.ConnectionError{Provider: providerName, Cause: netErr}
	}
	return &upstream.StreamError{Provider: providerName, Message: "generation failed", Cause: err}
}

// redactURL drops the query and any userinfo from raw.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(unparseable url)"
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.User = nil
	u.Fragment = ""
	return u.String()
}

func statusToError(code int, body string) error {
	switch code {
	case http.StatusTooManyRequests:
		return &upstream.RateLimitError{Provider: providerName}
	case http.StatusBadRequest:
		return &upstream.BadRequestError{Provider: providerName, StatusCode: code, Body: body}
	default:
		return &upstream.StatusError{Provider: providerName, StatusCode: code, Body: body}
	}
}
