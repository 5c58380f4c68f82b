package blockmanager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"chatforge/internal/completions/chunk"
	"chatforge/internal/completions/streamcache"
	"chatforge/internal/migration/mapping"
)

type fakePersistence struct {
	topic []streamcache.FinalizedMessage
}

func (f *fakePersistence) CreateMessage(_ context.Context, _, role, _ string, _ int) (string, int64, error) {
	return "msg-" + role, 0, nil
}

func (f *fakePersistence) SaveAgentSessionMessage(_ context.Context, payload streamcache.FinalizedMessage) error {
	return nil
}

func (f *fakePersistence) SaveTopicMessage(_ context.Context, payload streamcache.FinalizedMessage) error {
	f.topic = append(f.topic, payload)
	return nil
}

// synchronousThrottle runs the update immediately, so tests don't need to
// wait on a real debounce timer.
func synchronousThrottle(cache *streamcache.Service) (ThrottledUpdateFunc, CancelThrottleFunc) {
	return func(blockID string, changes streamcache.BlockChanges) {
			_ = cache.UpdateBlock(blockID, changes)
		}, func(blockID string) {
			// nothing pending in the synchronous implementation
		}
}

func newTestManager(t *testing.T, cache *streamcache.Service, topicID, messageID string) *BlockManager {
	t.Helper()
	cache.StartTask(topicID, messageID, streamcache.StartTaskOptions{})
	update, cancel := synchronousThrottle(cache)
	return New(cache, topicID, messageID, update, cancel)
}

func TestTextDeltaThenCompleteProducesOneMainTextBlock(t *testing.T) {
	p := &fakePersistence{}
	cache := streamcache.New(p)
	defer cache.Close()

	bm := newTestManager(t, cache, "topic-1", "msg-1")
	ctx := context.Background()

	stream := chunkStream(
		chunk.ResponseCreated("resp-1"),
		chunk.Text("hello "),
		chunk.Text("world"),
		chunk.ResponseComplete(&chunk.Usage{TotalTokens: 9}, nil),
	)

	require.NoError(t, bm.Consume(ctx, stream))
	require.NoError(t, cache.Finalize(ctx, "msg-1", "success"))

	require.Len(t, p.topic, 1)
	saved := p.topic[0]
	require.Len(t, saved.Blocks, 1)
	require.Equal(t, mapping.BlockMainText, saved.Blocks[0].Type)
	require.Equal(t, "hello world", saved.Blocks[0].Content)
	require.NotNil(t, saved.Stats)
	require.Equal(t, 9, saved.Stats.TotalTokens)
}

func TestThinkingThenTextOpensTwoBlocks(t *testing.T) {
	p := &fakePersistence{}
	cache := streamcache.New(p)
	defer cache.Close()

	bm := newTestManager(t, cache, "topic-2", "msg-2")
	ctx := context.Background()

	stream := chunkStream(
		chunk.ResponseCreated("resp-2"),
		chunk.ThinkingDelta("reasoning", 5),
		chunk.ThinkingComplete("reasoning done", 50),
		chunk.Text("the answer"),
		chunk.ResponseComplete(nil, nil),
	)

	require.NoError(t, bm.Consume(ctx, stream))
	require.NoError(t, cache.Finalize(ctx, "msg-2", "success"))

	require.Len(t, p.topic, 1)
	blocks := p.topic[0].Blocks
	require.Len(t, blocks, 2)
	require.Equal(t, mapping.BlockThinking, blocks[0].Type)
	require.Equal(t, "reasoning done", blocks[0].Content)
	require.EqualValues(t, 50, blocks[0].ThinkingMs)
	require.Equal(t, mapping.BlockMainText, blocks[1].Type)
	require.Equal(t, "the answer", blocks[1].Content)
}

func TestToolCallLifecycleReachesTerminalStatus(t *testing.T) {
	p := &fakePersistence{}
	cache := streamcache.New(p)
	defer cache.Close()

	bm := newTestManager(t, cache, "topic-3", "msg-3")
	ctx := context.Background()

	stream := chunkStream(
		chunk.McpToolCreated([]chunk.ToolCall{{ID: "call-1", Name: "builtin_web_search", Arguments: `{"q":"go"}`}}),
		chunk.Chunk{Kind: chunk.KindMcpToolInProgress, ToolCallID: "call-1", ToolStatus: "streaming"},
		chunk.Chunk{Kind: chunk.KindMcpToolInProgress, ToolCallID: "call-1", ToolStatus: "success"},
		chunk.ResponseComplete(nil, nil),
	)

	require.NoError(t, bm.Consume(ctx, stream))

	block, ok := cache.GetBlock("call-1")
	require.True(t, ok)
	require.Equal(t, "success", block.Status)
	require.Equal(t, mapping.BlockTool, block.Type)
}

func TestWebSearchCitationsFoldIntoMainTextBlock(t *testing.T) {
	p := &fakePersistence{}
	cache := streamcache.New(p)
	defer cache.Close()

	bm := newTestManager(t, cache, "topic-4", "msg-4")
	ctx := context.Background()

	stream := chunkStream(
		chunk.Text("answer with sources"),
		chunk.Chunk{Kind: chunk.KindWebSearchComplete, Citations: []chunk.Citation{{Kind: "web", URL: "https://example.com", Title: "Example"}}},
		chunk.ResponseComplete(nil, nil),
	)

	require.NoError(t, bm.Consume(ctx, stream))
	require.NoError(t, cache.Finalize(ctx, "msg-4", "success"))

	require.Len(t, p.topic, 1)
	blocks := p.topic[0].Blocks
	require.Len(t, blocks, 1)
	require.NotNil(t, blocks[0].Extra)
	cites, ok := blocks[0].Extra["citations"].([]mapping.ContentReference)
	require.True(t, ok)
	require.Len(t, cites, 1)
	require.Equal(t, "https://example.com", cites[0].URL)
}

func TestErrorChunkMarksActiveBlockError(t *testing.T) {
	p := &fakePersistence{}
	cache := streamcache.New(p)
	defer cache.Close()

	bm := newTestManager(t, cache, "topic-5", "msg-5")
	ctx := context.Background()

	stream := chunkStream(
		chunk.Text("partial"),
		chunk.Error(errors.New("vendor disconnected")),
	)

	require.NoError(t, bm.Consume(ctx, stream))

	task, ok := cache.GetTask("msg-5")
	require.True(t, ok)
	require.Len(t, task.Blocks, 1)
	for _, b := range task.Blocks {
		require.Equal(t, "error", b.Status)
	}

	require.NoError(t, cache.Finalize(ctx, "msg-5", "error"))
	require.Len(t, p.topic, 1)
	require.Equal(t, "error", p.topic[0].Status)
}

func chunkStream(chunks ...chunk.Chunk) chunk.Stream {
	return chunk.NewSliceStream(chunks)
}
