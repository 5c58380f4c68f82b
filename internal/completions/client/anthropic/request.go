package anthropic

import (
	"context"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"chatforge/internal/completions/client"
	"chatforge/internal/config"
)

type requestTransformer struct {
	cfg config.AnthropicConfig
}

// Transform builds the Messages-API payload. Claude carries the system
// prompt as a dedicated top-level field rather than a message, and extended
// thinking is enabled per-model via a thinking budget rather than a
// reasoning-effort string — both handled here instead of in this package's
// truncateToContext helper.
func (t requestTransformer) Transform(ctx context.Context, req client.CoreRequest, isRecursiveCall bool, prebuiltMessages []client.Message) (client.TransformResult, error) {
	var msgs []client.Message
	if isRecursiveCall && prebuiltMessages != nil {
		msgs = prebuiltMessages
	} else {
		msgs = truncateToContext(req.Assistant, req.Messages)
	}

	sdkMessages := make([]anthropicsdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		sdkMessages = append(sdkMessages, toSDKMessage(m))
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model.ID),
		Messages:  sdkMessages,
		MaxTokens: 4096,
	}
	if req.Assistant.SystemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.Assistant.SystemPrompt}}
	}
	if req.Model.SupportsThinking && req.Model.ThinkingBudget > 0 {
		params.Thinking = anthropicsdk.ThinkingConfigParamOfEnabled(int64(req.Model.ThinkingBudget))
	}

	tools := req.Assistant.Tools
	if req.Model.SupportsWebSearch && req.Assistant.WebSearch {
		tools = append(tools, client.ToolSchema{Name: "builtin_web_search", Description: "Search the web."})
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

func toSDKMessage(m client.Message) anthropicsdk.MessageParam {
	switch m.Role {
	case client.RoleUser, client.RoleTool:
		return anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content))
	default:
		return anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(m.Content))
	}
}

func truncateToContext(a client.Assistant, msgs []client.Message) []client.Message {
	if a.ContextLimit <= 0 || len(msgs) <= a.ContextLimit {
		return msgs
	}
	return msgs[len(msgs)-a.ContextLimit:]
}
