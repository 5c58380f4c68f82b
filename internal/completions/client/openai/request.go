package openai

import (
	"context"
	"encoding/json"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/shared"

	"chatforge/internal/completions/client"
	"chatforge/internal/config"
)

type requestTransformer struct {
	cfg config.OpenAIConfig
}

// Transform builds the chat-completion payload. On a recursive tool-call
// round prebuiltMessages (assembled by BuildSDKMessages across the tool
// loop) replaces the assistant/context-window derivation entirely, per the
// contract's "substituting prebuiltMessages during recursive tool calls".
func (t requestTransformer) Transform(ctx context.Context, req client.CoreRequest, isRecursiveCall bool, prebuiltMessages []client.Message) (client.TransformResult, error) {
	var msgs []client.Message
	if isRecursiveCall && prebuiltMessages != nil {
		msgs = prebuiltMessages
	} else {
		msgs = truncateToContext(req.Assistant, req.Messages)
	}

	sdkMessages := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if req.Assistant.SystemPrompt != "" && !isRecursiveCall {
		sdkMessages = append(sdkMessages, openai.SystemMessage(req.Assistant.SystemPrompt))
	}
	for _, m := range msgs {
		sdkMessages = append(sdkMessages, toSDKMessage(m))
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model.ID),
		Messages: sdkMessages,
	}

	if req.Model.Temperature != nil && !reasoningModelGatesTemperature(req.Model) {
		params.Temperature = openai.Float(*req.Model.Temperature)
	}
	if req.Model.ReasoningEffort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(req.Model.ReasoningEffort)
	}

	tools := req.Assistant.Tools
	if req.Model.SupportsWebSearch && req.Assistant.WebSearch {
		tools = append(tools, webSearchToolSchema())
	}
	if len(tools) > 0 {
		params.Tools = toSDKTools(tools)
	}

	return client.TransformResult{
		Payload:           sdkPayload{params: params},
		Messages:          msgs,
		ProcessedMessages: msgs,
	}, nil
}

// reasoningModelGatesTemperature mirrors the teacher's handling of the "o"
// reasoning-model family, which rejects a temperature parameter entirely.
func reasoningModelGatesTemperature(m client.Model) bool {
	return m.ReasoningEffort != ""
}

func toSDKMessage(m client.Message) openai.ChatCompletionMessageParamUnion {
	switch m.Role {
	case client.RoleUser:
		return openai.UserMessage(m.Content)
	case client.RoleSystem:
		return openai.SystemMessage(m.Content)
	case client.RoleTool:
		return openai.ToolMessage(m.Content, m.ToolCallID)
	default: // assistant
		if len(m.ToolCalls) == 0 {
			return openai.AssistantMessage(m.Content)
		}
		assistant := openai.ChatCompletionAssistantMessageParam{
			Content: openai.ChatCompletionAssistantMessageParamContentUnion{
				OfString: openai.String(m.Content),
			},
		}
		for _, tc := range m.ToolCalls {
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
				ID:   tc.ID,
				Type: "function",
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
	}
}

func toSDKTools(tools []client.ToolSchema) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		params, _ := json.Marshal(tool.Parameters)
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: openai.String(tool.Description),
			Parameters:  mustUnmarshalParams(params),
		}))
	}
	return out
}

func mustUnmarshalParams(raw []byte) openai.FunctionParameters {
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return openai.FunctionParameters(m)
}

// truncateToContext filters the conversation to the assistant's context
// budget, keeping the most recent messages — the request transformer's job
// of "filtering/truncating the conversation to the assistant's context
// budget" (contract, §4.6).
func truncateToContext(a client.Assistant, msgs []client.Message) []client.Message {
	if a.ContextLimit <= 0 || len(msgs) <= a.ContextLimit {
		return msgs
	}
	return msgs[len(msgs)-a.ContextLimit:]
}

func webSearchToolSchema() client.ToolSchema {
	return client.ToolSchema{
		Name:        "builtin_web_search",
		Description: "Search the web for up to date information.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
			},
			"required": []string{"query"},
		},
	}
}
