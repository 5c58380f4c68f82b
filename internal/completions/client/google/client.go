// Package google implements the Gemini variant of the API Client Contract
// (C6), adapted from the teacher's internal/llm/google/client.go.
package google

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"google.golang.org/genai"

	"chatforge/internal/completions/chunk"
	"chatforge/internal/completions/client"
	"chatforge/internal/config"
	"chatforge/internal/observability"
)

// Client wraps the google.golang.org/genai SDK behind the vendor contract.
type Client struct {
	client.BaseClient

	cfg     config.GoogleConfig
	once    sync.Once
	sdk     *genai.Client
	initErr error
}

func New(cfg config.GoogleConfig, httpClient *http.Client) *Client {
	return &Client{cfg: cfg}
}

func (c *Client) ensureSDK(ctx context.Context) (*genai.Client, error) {
	c.once.Do(func() {
		c.sdk, c.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  c.cfg.APIKey,
			Project: c.cfg.Project,
			Location: c.cfg.Region,
		})
	})
	return c.sdk, c.initErr
}

func (c *Client) GetSDKInstance() any {
	sdk, _ := c.ensureSDK(context.Background())
	return sdk
}

type sdkPayload struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (c *Client) CreateCompletions(ctx context.Context, payload client.SDKPayload) (client.RawOutput, error) {
	p, ok := payload.(sdkPayload)
	if !ok {
		return nil, fmt.Errorf("google: unexpected payload type %T", payload)
	}
	sdk, err := c.ensureSDK(ctx)
	if err != nil {
		return nil, fmt.Errorf("google: initializing client: %w", err)
	}

	ctx, span := observability.StartSpan(ctx, "google.CreateCompletions")
	defer span.End()

	iter := sdk.Models.GenerateContentStream(ctx, p.model, p.contents, p.config)
	return iter, nil
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
