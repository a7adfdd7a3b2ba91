package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/chatrelay/internal/relay"
)

// NewMCPServer exposes the gateway as MCP tools.
func NewMCPServer(g *Gateway, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"chatrelay",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("chatrelay relays a conversation to the configured language model and returns its answer."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("chat",
			mcp.WithDescription("Send a message with prior conversation history and return the model's full answer."),
			mcp.WithString("api_key", mcp.Description("Upstream provider API key"), mcp.Required()),
			mcp.WithString("message", mcp.Description("The new user message"), mcp.Required()),
			mcp.WithString("history", mcp.Description(`JSON array of {"role":"user"|"assistant","message":"..."} objects (default [])`)),
			mcp.WithString("model_id", mcp.Description("Model id from list_models; the default model is used when omitted")),
		),
		mcpChat(g),
	)

	s.AddTool(
		mcp.NewTool("list_models",
			mcp.WithDescription("List the models callers may select."),
		),
		mcpListModels(g),
	)

	return s
}

func mcpChat(g *Gateway) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		apiKey, err := req.RequireString("api_key")
		if err != nil {
			return mcpError("api_key is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		payload := map[string]any{
			"api_key": apiKey,
			"message": message,
			"history": json.RawMessage(req.GetString("history", "[]")),
		}
		if id := req.GetString("model_id", ""); id != "" {
			payload["model_id"] = id
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return mcpError(fmt.Sprintf("history is not valid JSON: %v", err)), nil
		}

		chatReq, err := g.Validate(raw)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		var sink relay.BufferSink
		g.Relay(ctx, chatReq, &sink)
		return mcpText(sink.String()), nil
	}
}

func mcpListModels(g *Gateway) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(g.deps.Models.All())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal models: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
