package streamcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatforge/internal/completions/chunk"
	"chatforge/internal/migration/mapping"
)

type fakePersistence struct {
	nextID   int
	agent    []FinalizedMessage
	topic    []FinalizedMessage
}

func (f *fakePersistence) CreateMessage(_ context.Context, topicID, role, parentID string, _ int) (string, int64, error) {
	f.nextID++
	return "msg-" + role + "-" + time.Now().Format("150405.000"), time.Now().UnixMilli(), nil
}

func (f *fakePersistence) SaveAgentSessionMessage(_ context.Context, payload FinalizedMessage) error {
	f.agent = append(f.agent, payload)
	return nil
}

func (f *fakePersistence) SaveTopicMessage(_ context.Context, payload FinalizedMessage) error {
	f.topic = append(f.topic, payload)
	return nil
}

func TestStartTaskAddBlockAndFinalize(t *testing.T) {
	p := &fakePersistence{}
	svc := New(p)
	defer svc.Close()

	svc.StartTask("topic-1", "msg-1", StartTaskOptions{ParentID: "parent-1", SiblingsGroupID: 1})
	require.True(t, svc.IsStreaming("topic-1"))
	require.True(t, svc.IsMessageStreaming("msg-1"))
	require.ElementsMatch(t, []string{"msg-1"}, svc.GetActiveMessageIDs("topic-1"))

	err := svc.AddBlock("msg-1", Block{ID: "block-1", Type: mapping.BlockMainText, Status: "streaming", Content: "hello"})
	require.NoError(t, err)

	updated := "hello world"
	err = svc.UpdateBlock("block-1", BlockChanges{Content: &updated})
	require.NoError(t, err)

	block, ok := svc.GetBlock("block-1")
	require.True(t, ok)
	require.Equal(t, "hello world", block.Content)

	usage := &chunk.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	err = svc.UpdateMessage("msg-1", MessageUpdates{Usage: usage, ModelID: strPtr("gpt-4")})
	require.NoError(t, err)

	err = svc.Finalize(context.Background(), "msg-1", "success")
	require.NoError(t, err)

	require.Len(t, p.topic, 1)
	require.Empty(t, p.agent)
	saved := p.topic[0]
	require.Equal(t, "msg-1", saved.MessageID)
	require.Equal(t, "hello world", saved.Blocks[0].Content)
	require.Equal(t, "hello world", saved.SearchableText)
	require.NotNil(t, saved.Stats)
	require.Equal(t, 15, saved.Stats.TotalTokens)

	require.False(t, svc.IsMessageStreaming("msg-1"))
	require.False(t, svc.IsStreaming("topic-1"))
	_, ok = svc.GetBlock("block-1")
	require.False(t, ok)
}

func TestFinalizeAgentSessionPath(t *testing.T) {
	p := &fakePersistence{}
	svc := New(p)
	defer svc.Close()

	svc.StartTask("topic-2", "msg-2", StartTaskOptions{IsAgentSession: true})
	require.NoError(t, svc.AddBlock("msg-2", Block{ID: "b1", Type: mapping.BlockMainText, Content: "agent text"}))
	require.NoError(t, svc.Finalize(context.Background(), "msg-2", "success"))

	require.Len(t, p.agent, 1)
	require.Empty(t, p.topic)
}

func TestFinalizeWithStreamingBlockPersistsGivenStatus(t *testing.T) {
	p := &fakePersistence{}
	svc := New(p)
	defer svc.Close()

	svc.StartTask("topic-3", "msg-3", StartTaskOptions{})
	require.NoError(t, svc.AddBlock("msg-3", Block{ID: "b1", Type: mapping.BlockMainText, Status: "streaming", Content: "partial"}))
	require.NoError(t, svc.Finalize(context.Background(), "msg-3", "error"))

	require.Len(t, p.topic, 1)
	require.Equal(t, "error", p.topic[0].Status)
}

func TestGenerateNextGroupIDIncrementsPerTopic(t *testing.T) {
	svc := New(&fakePersistence{})
	defer svc.Close()

	require.Equal(t, 1, svc.GenerateNextGroupID("topic-a"))
	require.Equal(t, 2, svc.GenerateNextGroupID("topic-a"))
	require.Equal(t, 1, svc.GenerateNextGroupID("topic-b"))
}

func TestSubscribeNotifiesOnAddBlock(t *testing.T) {
	svc := New(&fakePersistence{})
	defer svc.Close()

	svc.StartTask("topic-4", "msg-4", StartTaskOptions{})
	ch, stop := svc.Subscribe(TaskKey("msg-4"))
	defer stop()

	require.NoError(t, svc.AddBlock("msg-4", Block{ID: "b1", Type: mapping.BlockMainText}))

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected notification on AddBlock")
	}
}

func TestCreateUserMessageCachesShell(t *testing.T) {
	p := &fakePersistence{}
	svc := New(p)
	defer svc.Close()

	msg, err := svc.CreateUserMessage(context.Background(), "topic-5", "parent-5")
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)

	cached, ok := svc.GetMessage(msg.ID)
	require.True(t, ok)
	require.Equal(t, "user", cached.Role)
	require.False(t, svc.IsMessageStreaming(msg.ID))
}

func TestSweepExpiresStaleTask(t *testing.T) {
	svc := New(&fakePersistence{})
	defer svc.Close()
	svc.ttl = 10 * time.Millisecond

	svc.StartTask("topic-6", "msg-6", StartTaskOptions{})
	require.True(t, svc.IsMessageStreaming("msg-6"))

	time.Sleep(20 * time.Millisecond)
	svc.sweep()

	require.False(t, svc.IsMessageStreaming("msg-6"))
}

func strPtr(s string) *string { return &s }
