// Package upstream defines the contract between the relay and the LLM
// completion providers it forwards conversations to.
package upstream

import "context"

// Roles accepted by upstream chat APIs.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged entry of the upstream conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generation holds sampling parameters applied to every completion.
// Zero values are left out of the upstream request.
type Generation struct {
	Temperature     float64
	TopP            float64
	TopK            int
	MaxOutputTokens int
}

// Request is a single streaming completion call. APIKey is supplied by the
// caller on every request and must never be retained past the call.
type Request struct {
	APIKey     string
	Model      string
	Messages   []Message
	Generation Generation
}

// Stream is a finite, non-restartable sequence of text fragments.
// Next returns io.EOF once the provider has finished; it never returns an
// empty fragment. Close releases the underlying connection and is safe to
// call more than once.
type Stream interface {
	Next() (string, error)
	Close() error
}

// Provider opens streaming completions against one upstream API.
type Provider interface {
	Name() string
	Open(ctx context.Context, req Request) (Stream, error)
}
