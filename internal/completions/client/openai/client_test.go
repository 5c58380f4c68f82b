package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatforge/internal/completions/chunk"
	"chatforge/internal/completions/client"
	"chatforge/internal/config"
)

func TestCreateCompletionsStreamsTextDeltaAndToolCall(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		write := func(s string) {
			_, _ = w.Write([]byte(s))
			if flusher != nil {
				flusher.Flush()
			}
		}
		write("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"},\"finish_reason\":null}]}\n\n")
		write("data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"function\":{\"name\":\"lookup\",\"arguments\":\"{}\"}}]},\"finish_reason\":\"tool_calls\"}]}\n\n")
		write("data: [DONE]\n\n")
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	c := New(config.OpenAIConfig{APIKey: "test", BaseURL: srv.URL, Model: "m"}, srv.Client())

	req := client.CoreRequest{
		Assistant: client.Assistant{SystemPrompt: "be terse"},
		Model:     client.Model{ID: "m"},
		Messages:  []client.Message{{Role: client.RoleUser, Content: "hi"}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := c.RequestTransformer().Transform(ctx, req, false, nil)
	require.NoError(t, err)

	raw, err := c.CreateCompletions(ctx, result.Payload)
	require.NoError(t, err)

	stream := c.ResponseChunkTransformer().Transform(ctx, raw)
	collected, err := chunk.Collect(ctx, stream)
	require.NoError(t, err)
	require.NotEmpty(t, collected)

	var text string
	var sawToolCall bool
	for _, ck := range collected {
		switch ck.Kind {
		case chunk.KindTextDelta:
			text += ck.Text
		case chunk.KindMcpToolCreated:
			sawToolCall = true
			require.Len(t, ck.ToolCalls, 1)
			require.Equal(t, "lookup", ck.ToolCalls[0].Name)
			require.Equal(t, "call_1", ck.ToolCalls[0].ID)
		}
	}
	require.Equal(t, "hi", text)
	require.True(t, sawToolCall)
}

func TestTruncateToContextKeepsMostRecentMessages(t *testing.T) {
	msgs := []client.Message{
		{Role: client.RoleUser, Content: "1"},
		{Role: client.RoleUser, Content: "2"},
		{Role: client.RoleUser, Content: "3"},
	}
	out := truncateToContext(client.Assistant{ContextLimit: 2}, msgs)
	require.Len(t, out, 2)
	require.Equal(t, "2", out[0].Content)
	require.Equal(t, "3", out[1].Content)
}

func TestTruncateToContextNoLimitReturnsAllMessages(t *testing.T) {
	msgs := []client.Message{{Role: client.RoleUser, Content: "1"}}
	out := truncateToContext(client.Assistant{}, msgs)
	require.Equal(t, msgs, out)
}

func TestReasoningModelGatesTemperature(t *testing.T) {
	require.True(t, reasoningModelGatesTemperature(client.Model{ReasoningEffort: "medium"}))
	require.False(t, reasoningModelGatesTemperature(client.Model{}))
}

func TestRequestTransformerUsesPrebuiltMessagesOnRecursiveCall(t *testing.T) {
	rt := requestTransformer{cfg: config.OpenAIConfig{}}
	prebuilt := []client.Message{{Role: client.RoleTool, Content: "result", ToolCallID: "call_1"}}

	result, err := rt.Transform(context.Background(), client.CoreRequest{
		Assistant: client.Assistant{SystemPrompt: "ignored on recursive rounds"},
		Model:     client.Model{ID: "m"},
		Messages:  []client.Message{{Role: client.RoleUser, Content: "original"}},
	}, true, prebuilt)
	require.NoError(t, err)
	require.Equal(t, prebuilt, result.Messages)
	require.Equal(t, prebuilt, result.ProcessedMessages)
}
