package middleware

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatforge/internal/completions/chunk"
	"chatforge/internal/completions/client"
	"chatforge/internal/toolregistry"
)

// fakeClient is a minimal client.Client double: CreateCompletions returns
// whatever round is next in rounds (advancing each call), and
// ResponseChunkTransformer replays the chunks the raw output carries
// verbatim, so a test controls the entire vendor behavior by constructing
// rounds up front.
type fakeClient struct {
	client.BaseClient
	rounds  [][]chunk.Chunk
	callIdx int
}

func (f *fakeClient) GetSDKInstance() any { return nil }

func (f *fakeClient) CreateCompletions(ctx context.Context, payload client.SDKPayload) (client.RawOutput, error) {
	if f.callIdx >= len(f.rounds) {
		return []chunk.Chunk(nil), nil
	}
	out := f.rounds[f.callIdx]
	f.callIdx++
	return out, nil
}

func (f *fakeClient) RequestTransformer() client.RequestTransformer { return fakeRequestTransformer{} }

func (f *fakeClient) ResponseChunkTransformer() client.ResponseChunkTransformer {
	return fakeResponseChunkTransformer{}
}

func (f *fakeClient) BuildSDKMessages(current []client.Message, assistantText string, toolCalls []chunk.ToolCall, results []client.ToolResult) []client.Message {
	msgs := append([]client.Message{}, current...)
	msgs = append(msgs, client.Message{Role: client.RoleAssistant, Content: assistantText})
	for _, r := range results {
		msgs = append(msgs, client.Message{Role: client.RoleTool, ToolCallID: r.ToolCallID, Content: r.Content})
	}
	return msgs
}

func (f *fakeClient) ConvertMCPToolsToSDKTools(tools []client.ToolSchema) []client.ToolSchema { return tools }

func (f *fakeClient) ConvertSDKToolCallToMCP(call chunk.ToolCall, tools []client.ToolSchema) (chunk.ToolCall, bool) {
	return call, true
}

func (f *fakeClient) ConvertMCPToolResponseToSDKMessage(result client.ToolResult, model client.Model) client.Message {
	return client.Message{Role: client.RoleTool, ToolCallID: result.ToolCallID, Content: result.Content}
}

type fakeRequestTransformer struct{}

func (fakeRequestTransformer) Transform(ctx context.Context, req client.CoreRequest, isRecursiveCall bool, prebuiltMessages []client.Message) (client.TransformResult, error) {
	msgs := req.Messages
	if isRecursiveCall {
		msgs = prebuiltMessages
	}
	return client.TransformResult{Payload: msgs, Messages: msgs, ProcessedMessages: msgs}, nil
}

type fakeResponseChunkTransformer struct{}

func (fakeResponseChunkTransformer) Transform(ctx context.Context, raw client.RawOutput) chunk.Stream {
	chunks, _ := raw.([]chunk.Chunk)
	return chunk.NewSliceStream(chunks)
}

// fakeTool echoes its raw arguments back as the tool's result content.
type fakeTool struct {
	name string
}

func (t fakeTool) Name() string                  { return t.name }
func (t fakeTool) JSONSchema() map[string]any    { return map[string]any{} }
func (t fakeTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	return map[string]any{"echo": string(raw)}, nil
}

func TestCompletePlainTextRunsWithNoToolCalls(t *testing.T) {
	fc := &fakeClient{rounds: [][]chunk.Chunk{
		{chunk.Text("hello "), chunk.Text("world"), chunk.ResponseComplete(&chunk.Usage{TotalTokens: 10}, nil)},
	}}
	registry := toolregistry.New()

	var seen []chunk.Chunk
	s, err := Complete(context.Background(), fc, registry, ChainOptions{}, client.CoreRequest{}, func(c chunk.Chunk) {
		seen = append(seen, c)
	})
	require.NoError(t, err)

	collected, err := chunk.Collect(context.Background(), s)
	require.NoError(t, err)

	var text string
	for _, c := range collected {
		if c.Kind == chunk.KindTextDelta {
			text += c.Text
		}
	}
	require.Equal(t, "hello world", text)
	require.Equal(t, collected, seen)

	last := collected[len(collected)-1]
	require.Equal(t, chunk.KindBlockComplete, last.Kind)
	require.Equal(t, 10, last.Usage.TotalTokens)
}

func TestCompleteToolCallRecursesOneRound(t *testing.T) {
	fc := &fakeClient{rounds: [][]chunk.Chunk{
		{
			chunk.McpToolCreated([]chunk.ToolCall{{ID: "call-1", Name: "lookup", Arguments: `{"q":"go"}`}}),
			chunk.ResponseComplete(&chunk.Usage{TotalTokens: 5}, nil),
		},
		{
			chunk.Text("found it"),
			chunk.ResponseComplete(&chunk.Usage{TotalTokens: 7}, nil),
		},
	}}
	registry := toolregistry.New()
	registry.Register(fakeTool{name: "lookup"})

	s, err := Complete(context.Background(), fc, registry, ChainOptions{HasTools: true}, client.CoreRequest{}, nil)
	require.NoError(t, err)

	collected, err := chunk.Collect(context.Background(), s)
	require.NoError(t, err)

	var text string
	for _, c := range collected {
		if c.Kind == chunk.KindTextDelta {
			text += c.Text
		}
	}
	require.Equal(t, "found it", text)
	require.Equal(t, 2, fc.callIdx)

	last := collected[len(collected)-1]
	require.Equal(t, chunk.KindBlockComplete, last.Kind)
	require.Equal(t, 12, last.Usage.TotalTokens)
}

func TestCompleteToolCallAppliesPermissionResolvedArgumentOverride(t *testing.T) {
	fc := &fakeClient{rounds: [][]chunk.Chunk{
		{
			chunk.McpToolCreated([]chunk.ToolCall{{ID: "call-1", Name: "lookup", Arguments: `{"q":"go","limit":5}`}}),
			chunk.ResponseComplete(nil, nil),
		},
		{
			chunk.Text("done"),
			chunk.ResponseComplete(nil, nil),
		},
	}}
	registry := toolregistry.New()
	var gotArgs string
	registry.Register(recordingTool{name: "lookup", got: &gotArgs})

	opts := ChainOptions{
		HasTools: true,
		ToolArgumentOverrides: map[string]json.RawMessage{
			"call-1": json.RawMessage(`{"q":"rust"}`),
		},
	}
	s, err := Complete(context.Background(), fc, registry, opts, client.CoreRequest{}, nil)
	require.NoError(t, err)

	_, err = chunk.Collect(context.Background(), s)
	require.NoError(t, err)

	require.JSONEq(t, `{"q":"rust","limit":5}`, gotArgs)
}

// recordingTool captures the raw arguments it was dispatched with, so a test
// can assert on the merged result of an argument override.
type recordingTool struct {
	name string
	got  *string
}

func (t recordingTool) Name() string               { return t.name }
func (t recordingTool) JSONSchema() map[string]any { return map[string]any{} }
func (t recordingTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	*t.got = string(raw)
	return map[string]any{"ok": true}, nil
}

func TestCompleteToolRecursionExceedsMaxDepthIsFatal(t *testing.T) {
	rounds := make([][]chunk.Chunk, maxToolRecursionDepth+2)
	for i := range rounds {
		rounds[i] = []chunk.Chunk{
			chunk.McpToolCreated([]chunk.ToolCall{{ID: "call", Name: "lookup", Arguments: `{}`}}),
			chunk.ResponseComplete(nil, nil),
		}
	}
	fc := &fakeClient{rounds: rounds}
	registry := toolregistry.New()
	registry.Register(fakeTool{name: "lookup"})

	s, err := Complete(context.Background(), fc, registry, ChainOptions{HasTools: true}, client.CoreRequest{}, nil)
	require.NoError(t, err)

	collected, err := chunk.Collect(context.Background(), s)
	require.NoError(t, err)

	var found *ToolRecursionExceeded
	for _, c := range collected {
		if c.Kind != chunk.KindError {
			continue
		}
		var recursionErr *ToolRecursionExceeded
		require.ErrorAs(t, c.Err, &recursionErr)
		found = recursionErr
	}
	require.NotNil(t, found, "expected an error chunk carrying ToolRecursionExceeded")
	require.Equal(t, maxToolRecursionDepth, found.Depth)
}

func TestThinkChunkSplitsInlineTagAcrossDeltas(t *testing.T) {
	fc := &fakeClient{rounds: [][]chunk.Chunk{
		{
			chunk.Text("before <thi"),
			chunk.Text("nking>reasoning here</think"),
			chunk.Text("ing> after"),
			chunk.ResponseComplete(nil, nil),
		},
	}}
	registry := toolregistry.New()

	s, err := Complete(context.Background(), fc, registry, ChainOptions{ReasoningEnabled: true}, client.CoreRequest{}, nil)
	require.NoError(t, err)

	collected, err := chunk.Collect(context.Background(), s)
	require.NoError(t, err)

	var text, thinking string
	for _, c := range collected {
		switch c.Kind {
		case chunk.KindTextDelta:
			text += c.Text
		case chunk.KindThinkingDelta:
			thinking += c.Text
		}
	}
	require.Equal(t, "before  after", text)
	require.Equal(t, "reasoning here", thinking)
}

func TestThinkChunkSynthesizesCompleteBeforeTextResumes(t *testing.T) {
	fc := &fakeClient{rounds: [][]chunk.Chunk{
		{
			chunk.ThinkingDelta("pondering", 0),
			chunk.Text("answer"),
			chunk.ResponseComplete(nil, nil),
		},
	}}
	registry := toolregistry.New()

	s, err := Complete(context.Background(), fc, registry, ChainOptions{ReasoningEnabled: true}, client.CoreRequest{}, nil)
	require.NoError(t, err)

	collected, err := chunk.Collect(context.Background(), s)
	require.NoError(t, err)

	var sawComplete bool
	for i, c := range collected {
		if c.Kind == chunk.KindThinkingComplete {
			sawComplete = true
			require.Equal(t, "pondering", c.Text)
			require.Less(t, i, len(collected)-1)
		}
	}
	require.True(t, sawComplete)
}

// TestThinkChunkComputesWallClockElapsedTime proves the middleware stamps
// startedAt on the first thinking_delta of a run and derives every
// subsequent thinking_millsec from an injected clock, rather than trusting
// the vendor-supplied value (every wired vendor transformer reports 0).
func TestThinkChunkComputesWallClockElapsedTime(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clockCalls := 0
	offsets := []time.Duration{0, 50 * time.Millisecond, 130 * time.Millisecond, 130 * time.Millisecond}
	fakeNow := func() time.Time {
		offset := offsets[clockCalls]
		if clockCalls < len(offsets)-1 {
			clockCalls++
		}
		return base.Add(offset)
	}

	inner := func(ctx context.Context, p *Params) (chunk.Stream, error) {
		return chunk.NewSliceStream([]chunk.Chunk{
			chunk.ThinkingDelta("step1", 0),
			chunk.ThinkingDelta("step2", 0),
			chunk.ThinkingComplete("", 0),
		}), nil
	}

	mw := newThinkChunkMiddleware(fakeNow)
	s, err := mw(inner)(context.Background(), NewParams(client.CoreRequest{}, nil))
	require.NoError(t, err)

	collected, err := chunk.Collect(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, collected, 3)

	require.Equal(t, chunk.KindThinkingDelta, collected[0].Kind)
	require.Equal(t, int64(0), collected[0].ThinkingMillsec)

	require.Equal(t, chunk.KindThinkingDelta, collected[1].Kind)
	require.Equal(t, int64(50), collected[1].ThinkingMillsec)

	require.Equal(t, chunk.KindThinkingComplete, collected[2].Kind)
	require.Equal(t, int64(130), collected[2].ThinkingMillsec)
	require.Equal(t, "step1step2", collected[2].Text)
}

func TestErrorHandlerConvertsSdkErrorIntoErrorChunk(t *testing.T) {
	fc := &fakeClient{rounds: nil} // CreateCompletions returns an empty RawOutput, never errors in this fake
	registry := toolregistry.New()

	// force a request-transform failure via a client whose transformer errors
	erroringClient := &erroringRequestClient{fakeClient: fc}

	s, err := Complete(context.Background(), erroringClient, registry, ChainOptions{}, client.CoreRequest{}, nil)
	require.NoError(t, err)

	collected, err := chunk.Collect(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, collected, 1)
	require.Equal(t, chunk.KindError, collected[0].Kind)

	var sdkErr *SDKError
	require.ErrorAs(t, collected[0].Err, &sdkErr)
}

type erroringRequestClient struct {
	*fakeClient
}

func (e *erroringRequestClient) RequestTransformer() client.RequestTransformer {
	return erroringRequestTransformer{}
}

type erroringRequestTransformer struct{}

func (erroringRequestTransformer) Transform(ctx context.Context, req client.CoreRequest, isRecursiveCall bool, prebuiltMessages []client.Message) (client.TransformResult, error) {
	return client.TransformResult{}, errTransform
}

var errTransform = transformFailure{}

type transformFailure struct{}

func (transformFailure) Error() string { return "transform failed" }
