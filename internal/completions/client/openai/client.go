// Package openai implements the OpenAI-compatible API Client Contract
// variant (C6), adapted from the teacher's internal/llm/openai/client.go.
// Azure and self-hosted OpenAI-compatible endpoints are configuration
// variants of this same client (different BaseURL/headers), not separate
// implementations, matching the teacher's factory comment.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"chatforge/internal/completions/chunk"
	"chatforge/internal/completions/client"
	"chatforge/internal/config"
	"chatforge/internal/observability"
)

// Client wraps the openai-go SDK behind the vendor contract.
type Client struct {
	client.BaseClient

	cfg  config.OpenAIConfig
	once sync.Once
	sdk  openai.Client
}

// New constructs an OpenAI-compatible Client. The SDK handle is built once,
// here in New, and GetSDKInstance returns that same handle, mirroring the
// teacher's memoised-SDK-handle pattern.
func New(cfg config.OpenAIConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{cfg: cfg}
	c.once.Do(func() {
		opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithHTTPClient(httpClient)}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		c.sdk = openai.NewClient(opts...)
	})
	return c
}

func (c *Client) GetSDKInstance() any { return &c.sdk }

// sdkPayload is what RequestTransformer produces and CreateCompletions
// consumes: the fully-built chat-completion params (the model id travels
// inside them), kept separate from openai.ChatCompletionNewParams so tests can construct one
// without the SDK's option machinery.
type sdkPayload struct {
	params openai.ChatCompletionNewParams
}

func (c *Client) CreateCompletions(ctx context.Context, payload client.SDKPayload) (client.RawOutput, error) {
	p, ok := payload.(sdkPayload)
	if !ok {
		return nil, fmt.Errorf("openai: unexpected payload type %T", payload)
	}
	ctx, span := observability.StartSpan(ctx, "openai.CreateCompletions")
	defer span.End()

	stream := c.sdk.Chat.Completions.NewStreaming(ctx, p.params)
	return stream, nil
}

func (c *Client) RequestTransformer() client.RequestTransformer { return requestTransformer{cfg: c.cfg} }

func (c *Client) ResponseChunkTransformer() client.ResponseChunkTransformer {
	return &responseChunkTransformer{}
}

func (c *Client) BuildSDKMessages(current []client.Message, assistantText string, toolCalls []chunk.ToolCall, results []client.ToolResult) []client.Message {
	out := append([]client.Message(nil), current...)
	out = append(out, client.Message{Role: client.RoleAssistant, Content: assistantText, ToolCalls: toolCalls})
	for _, r := range results {
		out = append(out, client.Message{Role: client.RoleTool, Content: r.Content, ToolCallID: r.ToolCallID})
	}
	return out
}

func (c *Client) ConvertMCPToolsToSDKTools(tools []client.ToolSchema) []client.ToolSchema {
	return tools // OpenAI's function-calling schema is already this shape
}

func (c *Client) ConvertSDKToolCallToMCP(call chunk.ToolCall, tools []client.ToolSchema) (chunk.ToolCall, bool) {
	for _, t := range tools {
		if t.Name == call.Name {
			return call, true
		}
	}
	return call, false
}

func (c *Client) ConvertMCPToolResponseToSDKMessage(result client.ToolResult, _ client.Model) client.Message {
	return client.Message{Role: client.RoleTool, Content: result.Content, ToolCallID: result.ToolCallID}
}
