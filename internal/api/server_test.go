package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/chatrelay/internal/classify"
	"github.com/kalambet/chatrelay/internal/metrics"
	"github.com/kalambet/chatrelay/internal/models"
	"github.com/kalambet/chatrelay/internal/upstream"
)

const testInstruction = "You are a test assistant."

// stubProvider replays a fixed fragment list and records every Open call.
type stubProvider struct {
	mu        sync.Mutex
	calls     int
	last      upstream.Request
	fragments []string
	openErr   error
	streamErr error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Open(_ context.Context, req upstream.Request) (upstream.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = req
	if p.openErr != nil {
		return nil, p.openErr
	}
	return &stubStream{frags: append([]string(nil), p.fragments...), err: p.streamErr}, nil
}

func (p *stubProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type stubStream struct {
	frags []string
	pos   int
	err   error
}

func (s *stubStream) Next() (string, error) {
	if s.pos < len(s.frags) {
		s.pos++
		return s.frags[s.pos-1], nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *stubStream) Close() error { return nil }

// chunkRecorder keeps every body write separately.
type chunkRecorder struct {
	*httptest.ResponseRecorder
	chunks []string
}

func newChunkRecorder() *chunkRecorder {
	return &chunkRecorder{ResponseRecorder: httptest.NewRecorder()}
}

func (c *chunkRecorder) Write(b []byte) (int, error) {
	c.chunks = append(c.chunks, string(b))
	return c.ResponseRecorder.Write(b)
}

func (c *chunkRecorder) WriteString(s string) (int, error) {
	return c.Write([]byte(s))
}

func newTestHandler(t *testing.T, p *stubProvider, reg *models.Registry) http.Handler {
	t.Helper()
	return NewHandler(Deps{
		Models:       reg,
		Provider:     p,
		Instruction:  testInstruction,
		DefaultModel: "default-model",
	})
}

func postChat(h http.Handler, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	h.ServeHTTP(rr, req)
	return rr
}

func errorBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body
}

func TestChat_MissingFieldsRejectedBeforeUpstream(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no api_key", `{"message":"hi","history":[]}`},
		{"no message", `{"api_key":"k","history":[]}`},
		{"no history", `{"api_key":"k","message":"hi"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubProvider{fragments: []string{"x"}}
			rr := postChat(newTestHandler(t, p, nil), tt.body)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
			}
			if got := errorBody(t, rr)["code"]; got != "missing_field" {
				t.Errorf("code = %q, want missing_field", got)
			}
			if p.Calls() != 0 {
				t.Errorf("provider called %d times, want 0", p.Calls())
			}
		})
	}
}

func TestChat_InvalidRole(t *testing.T) {
	p := &stubProvider{}
	rr := postChat(newTestHandler(t, p, nil),
		`{"api_key":"k","message":"hi","history":[{"role":"system","message":"x"}]}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if got := errorBody(t, rr)["code"]; got != "invalid_role" {
		t.Errorf("code = %q, want invalid_role", got)
	}
	if p.Calls() != 0 {
		t.Errorf("provider called %d times, want 0", p.Calls())
	}
}

func TestChat_MalformedBody(t *testing.T) {
	p := &stubProvider{}
	rr := postChat(newTestHandler(t, p, nil), `{not json`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if got := errorBody(t, rr)["code"]; got != "malformed_body" {
		t.Errorf("code = %q, want malformed_body", got)
	}
}

func TestChat_TranslatesConversation(t *testing.T) {
	p := &stubProvider{fragments: []string{"ok"}}
	rr := postChat(newTestHandler(t, p, nil),
		`{"api_key":"secret","message":"how are you","history":[{"role":"user","message":"hi"}]}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	want := []upstream.Message{
		{Role: upstream.RoleSystem, Content: testInstruction},
		{Role: upstream.RoleUser, Content: "hi"},
		{Role: upstream.RoleUser, Content: "how are you"},
	}
	got := p.last.Messages
	if len(got) != len(want) {
		t.Fatalf("messages = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("messages[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if p.last.APIKey != "secret" {
		t.Errorf("APIKey = %q, want secret", p.last.APIKey)
	}
	if p.last.Model != "default-model" {
		t.Errorf("Model = %q, want default-model", p.last.Model)
	}
}

func TestChat_ModelRegistry(t *testing.T) {
	reg, err := models.New([]models.Descriptor{{ID: "model-a"}})
	if err != nil {
		t.Fatal(err)
	}

	p := &stubProvider{fragments: []string{"ok"}}
	h := newTestHandler(t, p, reg)

	rr := postChat(h, `{"api_key":"k","message":"hi","history":[],"model_id":"model-b"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("model-b: status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if got := errorBody(t, rr)["code"]; got != "unknown_model" {
		t.Errorf("code = %q, want unknown_model", got)
	}
	if p.Calls() != 0 {
		t.Fatalf("provider called for unknown model")
	}

	rr = postChat(h, `{"api_key":"k","message":"hi","history":[],"model_id":"model-a"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("model-a: status = %d, want %d", rr.Code, http.StatusOK)
	}
	if p.last.Model != "model-a" {
		t.Errorf("Model = %q, want model-a", p.last.Model)
	}
}

func TestChat_StreamsFragmentsInOrder(t *testing.T) {
	p := &stubProvider{fragments: []string{"Hel", "lo"}}
	h := newTestHandler(t, p, nil)

	rr := newChunkRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat",
		strings.NewReader(`{"api_key":"k","message":"hi","history":[]}`))
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if rr.Body.String() != "Hello" {
		t.Errorf("body = %q, want %q", rr.Body.String(), "Hello")
	}
	if len(rr.chunks) != 2 || rr.chunks[0] != "Hel" || rr.chunks[1] != "lo" {
		t.Errorf("chunks = %q, want [Hel lo]", rr.chunks)
	}
	if !rr.Flushed {
		t.Error("response was not flushed")
	}
}

func TestChat_RateLimitBeforeFirstFragment(t *testing.T) {
	p := &stubProvider{openErr: &upstream.RateLimitError{Provider: "stub"}}
	rr := postChat(newTestHandler(t, p, nil), `{"api_key":"k","message":"hi","history":[]}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if rr.Body.String() != classify.MsgRateLimited {
		t.Errorf("body = %q, want %q", rr.Body.String(), classify.MsgRateLimited)
	}
}

func TestChat_UnparseableBadRequestDetail(t *testing.T) {
	p := &stubProvider{openErr: &upstream.BadRequestError{Provider: "stub", StatusCode: 400, Body: "<html>nope</html>"}}
	rr := postChat(newTestHandler(t, p, nil), `{"api_key":"k","message":"hi","history":[]}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if rr.Body.String() != classify.MsgBadRequestFallback {
		t.Errorf("body = %q, want %q", rr.Body.String(), classify.MsgBadRequestFallback)
	}
}

func TestChat_MidStreamFailureAppendsFragment(t *testing.T) {
	p := &stubProvider{
		fragments: []string{"partial "},
		streamErr: &upstream.ConnectionError{Provider: "stub", Cause: errors.New("reset")},
	}
	rr := postChat(newTestHandler(t, p, nil), `{"api_key":"k","message":"hi","history":[]}`)

	want := "partial " + classify.MsgUnreachable
	if rr.Body.String() != want {
		t.Errorf("body = %q, want %q", rr.Body.String(), want)
	}
}

func TestChat_Deterministic(t *testing.T) {
	p := &stubProvider{fragments: []string{"a", "b", "c"}}
	h := newTestHandler(t, p, nil)
	body := `{"api_key":"k","message":"hi","history":[{"role":"assistant","message":"hello"}]}`

	first := postChat(h, body).Body.String()
	second := postChat(h, body).Body.String()
	if first != second {
		t.Errorf("outputs differ: %q vs %q", first, second)
	}
	if p.Calls() != 2 {
		t.Errorf("provider called %d times, want 2", p.Calls())
	}
}

func TestChat_BodyTooLarge(t *testing.T) {
	p := &stubProvider{}
	big := `{"api_key":"k","message":"` + strings.Repeat("a", maxRequestBodySize) + `","history":[]}`
	rr := postChat(newTestHandler(t, p, nil), big)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusRequestEntityTooLarge)
	}
	if p.Calls() != 0 {
		t.Errorf("provider called %d times, want 0", p.Calls())
	}
}

func TestChat_WrongMethod(t *testing.T) {
	h := newTestHandler(t, &stubProvider{}, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chat", nil))

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
	if got := errorBody(t, rr)["error"]; got != "Incorrect request method" {
		t.Errorf("error = %q", got)
	}
}

func TestLiveness(t *testing.T) {
	h := newTestHandler(t, &stubProvider{}, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if rr.Body.String() != LivenessText {
		t.Errorf("body = %q, want %q", rr.Body.String(), LivenessText)
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id header")
	}
}

func TestRequestIDPropagated(t *testing.T) {
	h := newTestHandler(t, &stubProvider{}, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-Id"); got != "abc-123" {
		t.Errorf("X-Request-Id = %q, want abc-123", got)
	}
}

func TestModelsEndpoint(t *testing.T) {
	t.Run("empty registry", func(t *testing.T) {
		h := newTestHandler(t, &stubProvider{}, nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/models", nil))
		if rr.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
		}
	})

	t.Run("registry", func(t *testing.T) {
		reg, err := models.New([]models.Descriptor{
			{ID: "model-a", DisplayName: "Model A", Default: true},
			{ID: "model-b"},
		})
		if err != nil {
			t.Fatal(err)
		}
		h := newTestHandler(t, &stubProvider{}, reg)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/models", nil))

		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
		}
		var body modelList
		if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if len(body.Models) != 2 || body.Models[0].ID != "model-a" || !body.Models[0].Default {
			t.Errorf("models = %+v", body.Models)
		}
	})
}

func TestCORSPreflight(t *testing.T) {
	h := NewHandler(Deps{Provider: &stubProvider{}, Instruction: testInstruction, CORSPermissive: true})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	p := &stubProvider{fragments: []string{"a", "b"}}
	h := NewHandler(Deps{
		Provider:    p,
		Instruction: testInstruction,
		Metrics:     metrics.NewCollector("test"),
	})

	postChat(h, `{"api_key":"k","message":"hi"}`)
	postChat(h, `{"api_key":"k","message":"hi","history":[]}`)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	out := rr.Body.String()
	for _, want := range []string{
		`test_validation_failures_total{reason="missing_field"} 1`,
		`test_streams_total{outcome="success",provider="stub"} 1`,
		`test_fragments_relayed_total{provider="stub"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMetrics_OpenAbortedByDisconnect(t *testing.T) {
	p := &stubProvider{openErr: fmt.Errorf("dialing upstream: %w", context.Canceled)}
	h := NewHandler(Deps{
		Provider:    p,
		Instruction: testInstruction,
		Metrics:     metrics.NewCollector("test"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"api_key":"k","message":"hi","history":[]}`))
	h.ServeHTTP(rr, req.WithContext(ctx))

	if body := rr.Body.String(); body != "" {
		t.Errorf("body = %q, want nothing written for a departed caller", body)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	out := rr.Body.String()
	if !strings.Contains(out, `test_streams_total{outcome="disconnected",provider="stub"} 1`) {
		t.Errorf("metrics output missing disconnected stream:\n%s", out)
	}
	if strings.Contains(out, `outcome="upstream_error"`) {
		t.Errorf("disconnect counted as an upstream error:\n%s", out)
	}
}
