package classify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"testing"

	"github.com/kalambet/chatrelay/internal/upstream"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		cat  Category
		msg  string
	}{
		{
			name: "connection",
			err:  &upstream.ConnectionError{Provider: "openai", Cause: errors.New("dial tcp: connection refused")},
			cat:  CategoryConnection,
			msg:  MsgUnreachable,
		},
		{
			name: "wrapped connection",
			err:  fmt.Errorf("opening stream: %w", &upstream.ConnectionError{Provider: "openai", Cause: errors.New("x")}),
			cat:  CategoryConnection,
			msg:  MsgUnreachable,
		},
		{
			name: "rate limit",
			err:  &upstream.RateLimitError{Provider: "gemini"},
			cat:  CategoryRateLimit,
			msg:  MsgRateLimited,
		},
		{
			name: "bad request with message",
			err:  &upstream.BadRequestError{StatusCode: 400, Body: `{"error":{"message":"model not found"}}`},
			cat:  CategoryBadRequest,
			msg:  "model not found",
		},
		{
			name: "bad request unparseable",
			err:  &upstream.BadRequestError{StatusCode: 400, Body: `<html>bad gateway</html>`},
			cat:  CategoryBadRequest,
			msg:  MsgBadRequestFallback,
		},
		{
			name: "status error",
			err:  &upstream.StatusError{StatusCode: 500, Body: "boom"},
			cat:  CategoryUnknown,
			msg:  MsgUnknown,
		},
		{
			name: "stream error",
			err:  &upstream.StreamError{Message: "failed to read stream", Cause: context.Canceled},
			cat:  CategoryUnknown,
			msg:  MsgUnknown,
		},
		{
			name: "plain error",
			err:  errors.New("something else"),
			cat:  CategoryUnknown,
			msg:  MsgUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Category != tt.cat {
				t.Errorf("Category = %q, want %q", got.Category, tt.cat)
			}
			if got.Message != tt.msg {
				t.Errorf("Message = %q, want %q", got.Message, tt.msg)
			}
		})
	}
}

func TestClassify_FallbackWithoutDetail(t *testing.T) {
	err := &upstream.BadRequestError{StatusCode: 400, Body: `{"error":{"code":400}}`}
	got := Classify(err)
	if got.Message != MsgBadRequestFallback {
		t.Errorf("Message = %q, want fallback", got.Message)
	}
	if got.Extracted {
		t.Error("Extracted should be false for fallback")
	}
}

func TestClassify_LogRedactsKey(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	defer slog.SetDefault(prev)

	err := &upstream.ConnectionError{Provider: "gemini", Cause: &url.Error{
		Op:  "Post",
		URL: "https://generativelanguage.googleapis.com/v1beta/models/x:streamGenerateContent?alt=json&key=SECRET-CALLER-KEY",
		Err: errors.New("dial tcp: connection refused"),
	}}
	if got := Classify(err); got.Message != MsgUnreachable {
		t.Errorf("Message = %q, want %q", got.Message, MsgUnreachable)
	}

	if strings.Contains(logs.String(), "SECRET-CALLER-KEY") {
		t.Errorf("log output leaks the key: %s", logs.String())
	}
	if !strings.Contains(logs.String(), "key=REDACTED") {
		t.Errorf("log output = %s, want redacted key parameter", logs.String())
	}
}

func TestRedactSecrets(t *testing.T) {
	tests := []struct{ in, want string }{
		{"GET /x?key=abc&alt=json", "GET /x?key=REDACTED&alt=json"},
		{"GET /x?alt=json&API_KEY=abc", "GET /x?alt=json&API_KEY=REDACTED"},
		{"no secrets here", "no secrets here"},
		{"monkey=business", "monkey=business"},
	}
	for _, tt := range tests {
		if got := redactSecrets(tt.in); got != tt.want {
			t.Errorf("redactSecrets(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
