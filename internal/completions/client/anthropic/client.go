// Package anthropic implements the Claude variant of the API Client
// Contract (C6), adapted from the teacher's internal/llm/anthropic/client.go.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"chatforge/internal/completions/chunk"
	"chatforge/internal/completions/client"
	"chatforge/internal/config"
	"chatforge/internal/observability"
)

// Client wraps the anthropic-sdk-go SDK behind the vendor contract.
type Client struct {
	client.BaseClient

	cfg  config.AnthropicConfig
	once sync.Once
	sdk  anthropicsdk.Client
}

func New(cfg config.AnthropicConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{cfg: cfg}
	c.once.Do(func() {
		opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithHTTPClient(httpClient)}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		c.sdk = anthropicsdk.NewClient(opts...)
	})
	return c
}

func (c *Client) GetSDKInstance() any { return &c.sdk }

type sdkPayload struct {
	params anthropicsdk.MessageNewParams
}

func (c *Client) CreateCompletions(ctx context.Context, payload client.SDKPayload) (client.RawOutput, error) {
	p, ok := payload.(sdkPayload)
	if !ok {
		return nil, fmt.Errorf("anthropic: unexpected payload type %T", payload)
	}
	ctx, span := observability.StartSpan(ctx, "anthropic.CreateCompletions")
	defer span.End()

	stream := c.sdk.Messages.NewStreaming(ctx, p.params)
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

func (c *Client) ConvertMCPToolsToSDKTools(tools []client.ToolSchema) []client.ToolSchema { return tools }

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

func toSDKTools(tools []client.ToolSchema) []anthropicsdk.ToolUnionParam {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		raw, _ := json.Marshal(t.Parameters)
		var schema anthropicsdk.ToolInputSchemaParam
		_ = json.Unmarshal(raw, &schema)
		out = append(out, anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.String(t.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}
