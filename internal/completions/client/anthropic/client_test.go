package anthropic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"chatforge/internal/completions/chunk"
	"chatforge/internal/completions/client"
	"chatforge/internal/config"
)

func TestRequestTransformerSetsSystemPromptAsTopLevelField(t *testing.T) {
	rt := requestTransformer{cfg: config.AnthropicConfig{}}

	result, err := rt.Transform(context.Background(), client.CoreRequest{
		Assistant: client.Assistant{SystemPrompt: "be terse"},
		Model:     client.Model{ID: "claude-x"},
		Messages:  []client.Message{{Role: client.RoleUser, Content: "hi"}},
	}, false, nil)
	require.NoError(t, err)

	payload, ok := result.Payload.(sdkPayload)
	require.True(t, ok)
	require.Len(t, payload.params.System, 1)
	require.Equal(t, "be terse", payload.params.System[0].Text)
}

func TestRequestTransformerEnablesThinkingBudgetWhenModelSupportsIt(t *testing.T) {
	rt := requestTransformer{cfg: config.AnthropicConfig{}}

	result, err := rt.Transform(context.Background(), client.CoreRequest{
		Model: client.Model{ID: "claude-x", SupportsThinking: true, ThinkingBudget: 2048},
	}, false, nil)
	require.NoError(t, err)

	payload, ok := result.Payload.(sdkPayload)
	require.True(t, ok)
	require.NotZero(t, payload.params.Thinking)
}

func TestRequestTransformerUsesPrebuiltMessagesOnRecursiveCall(t *testing.T) {
	rt := requestTransformer{cfg: config.AnthropicConfig{}}
	prebuilt := []client.Message{{Role: client.RoleAssistant, Content: "partial"}}

	result, err := rt.Transform(context.Background(), client.CoreRequest{
		Messages: []client.Message{{Role: client.RoleUser, Content: "original"}},
	}, true, prebuilt)
	require.NoError(t, err)
	require.Equal(t, prebuilt, result.Messages)
}

func TestTruncateToContextKeepsMostRecentMessages(t *testing.T) {
	msgs := []client.Message{
		{Role: client.RoleUser, Content: "1"},
		{Role: client.RoleUser, Content: "2"},
		{Role: client.RoleUser, Content: "3"},
	}
	out := truncateToContext(client.Assistant{ContextLimit: 1}, msgs)
	require.Len(t, out, 1)
	require.Equal(t, "3", out[0].Content)
}

func TestConvertSDKToolCallToMCPReportsKnownTool(t *testing.T) {
	c := &Client{}
	tools := []client.ToolSchema{{Name: "lookup"}}

	_, known := c.ConvertSDKToolCallToMCP(chunk.ToolCall{Name: "lookup"}, tools)
	require.True(t, known)

	_, unknown := c.ConvertSDKToolCallToMCP(chunk.ToolCall{Name: "missing"}, tools)
	require.False(t, unknown)
}
