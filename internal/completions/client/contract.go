// Package client defines the API Client Contract (C6): the vendor
// abstraction every completion call goes through, modeled directly on the
// teacher's internal/llm.Provider interface and generalized to the uniform
// generic-chunk stream the middleware stack expects.
package client

import (
	"context"

	"chatforge/internal/completions/chunk"
)

// ProviderType selects which concrete Client the factory constructs.
type ProviderType string

const (
	ProviderOpenAICompatible ProviderType = "openai-compatible"
	ProviderAzureOpenAI      ProviderType = "azure-openai" // config variant of openai-compatible
	ProviderClaude           ProviderType = "claude"
	ProviderGemini           ProviderType = "gemini"
)

// Role is a chat message role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolResult is the result of having executed one ToolCall.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// Message is one turn in a conversation, vendor-agnostic.
type Message struct {
	Role       Role
	Content    string
	ToolCallID string
	ToolCalls  []chunk.ToolCall
	Images     [][]byte
}

// ToolSchema is a single MCP-style tool definition offered to the model.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Model carries the per-model flag rules the request transformer consults:
// reasoning effort, thinking budgets, temperature gating, and whether
// web-search tool injection applies to this model.
type Model struct {
	ID                string
	ContextWindow     int
	SupportsThinking  bool
	SupportsWebSearch bool
	ReasoningEffort   string // "low" | "medium" | "high", empty = not applicable
	ThinkingBudget    int
	Temperature       *float64
}

// Assistant carries the per-conversation configuration relevant to request
// building: the context budget, system prompt, and the tools it exposes.
type Assistant struct {
	ID           string
	SystemPrompt string
	ContextLimit int // max messages retained by the request transformer
	Tools        []ToolSchema
	WebSearch    bool
}

// CoreRequest is the caller-facing request shape, independent of any vendor.
type CoreRequest struct {
	Assistant Assistant
	Model     Model
	Messages  []Message
}

// SDKPayload is an opaque, vendor-specific request body. Each concrete
// client defines its own underlying type; callers never inspect it.
type SDKPayload any

// TransformResult is what the request transformer produces.
type TransformResult struct {
	Payload           SDKPayload
	Messages          []Message // messages actually sent, post-truncation
	ProcessedMessages []Message // same as Messages, kept for recursive reuse
	Metadata          map[string]any
}

// RequestTransformer turns a CoreRequest into a vendor payload. On a
// recursive tool-call round, prebuiltMessages (built by the tool loop) is
// used verbatim instead of re-deriving messages from Assistant/Model.
type RequestTransformer interface {
	Transform(ctx context.Context, req CoreRequest, isRecursiveCall bool, prebuiltMessages []Message) (TransformResult, error)
}

// RawOutput is whatever the vendor SDK call returns: a native stream, or a
// single response object wrapped to look like one.
type RawOutput any

// ResponseChunkTransformer maps a vendor's raw output into the generic-chunk
// stream. Implementations are stateful per call (e.g. running token
// accumulation) so a new instance is obtained per completion call.
type ResponseChunkTransformer interface {
	Transform(ctx context.Context, raw RawOutput) chunk.Stream
}

// Client is the full per-vendor behavior bundle (C6).
type Client interface {
	// GetSDKInstance returns the memoised vendor SDK handle.
	GetSDKInstance() any

	// CreateCompletions issues the vendor call and returns its raw output.
	CreateCompletions(ctx context.Context, payload SDKPayload) (RawOutput, error)

	RequestTransformer() RequestTransformer
	ResponseChunkTransformer() ResponseChunkTransformer

	// BuildSDKMessages produces the next round's message list for a
	// recursive tool-call completion.
	BuildSDKMessages(current []Message, assistantText string, toolCalls []chunk.ToolCall, results []ToolResult) []Message

	ConvertMCPToolsToSDKTools(tools []ToolSchema) []ToolSchema
	ConvertSDKToolCallToMCP(call chunk.ToolCall, tools []ToolSchema) (chunk.ToolCall, bool)
	ConvertMCPToolResponseToSDKMessage(result ToolResult, model Model) Message

	// AttachRawStreamListener is only implemented by vendors that expose
	// event-emitter semantics (none of the three wired vendors require it
	// today); the default embed returns false.
	AttachRawStreamListener(raw RawOutput, listener func(finalText string)) bool
}

// BaseClient supplies the no-op AttachRawStreamListener every concrete
// client embeds, mirroring the teacher's pattern of a small shared base
// behind each vendor-specific struct.
type BaseClient struct{}

func (BaseClient) AttachRawStreamListener(RawOutput, func(string)) bool { return false }
