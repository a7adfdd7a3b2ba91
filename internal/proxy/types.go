package proxy

import "github.com/kalambet/chatrelay/internal/upstream"

// ChatRequest is the OpenAI-compatible chat completion request body.
type ChatRequest struct {
	Model       string             `json:"model"`
	Messages    []upstream.Message `json:"messages"`
	Stream      bool               `json:"stream,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
}

// streamChunk is one `data:` event of a streaming completion.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Model is one entry of the upstream's GET /models listing.
type Model struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}

type modelPage struct {
	Data []Model `json:"data"`
}

func newChatRequest(req upstream.Request) ChatRequest {
	cr := ChatRequest{
		Model:     req.Model,
		Messages:  req.Messages,
		Stream:    true,
		MaxTokens: req.Generation.MaxOutputTokens,
	}
	if t := req.Generation.Temperature; t > 0 {
		cr.Temperature = &t
	}
	if p := req.Generation.TopP; p > 0 {
		cr.TopP = &p
	}
	return cr
}
