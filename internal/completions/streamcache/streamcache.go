// Package streamcache implements the Streaming Cache (C5): a process-scoped,
// TTL-bounded store of live assistant messages and blocks, keyed by message
// id, with notification semantics for subscribers watching a task, message,
// or block. A Streaming Task exclusively owns its blocks until Finalize,
// at which point ownership transfers to persistent storage.
package streamcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatforge/internal/completions/chunk"
	"chatforge/internal/migration/mapping"
	"chatforge/internal/observability"
)

// DefaultTTL bounds how long a task, its blocks, and its message snapshot
// survive without activity, so a crashed task cannot leak memory.
const DefaultTTL = 5 * time.Minute

// cleanupInterval is how often the background sweep runs; a fraction of
// DefaultTTL so an expired entry is reclaimed promptly without the sweep
// itself becoming a hot loop (mirrors the teacher's token cache, whose
// 5-minute sweep runs against a 1-hour TTL).
const cleanupInterval = 30 * time.Second

// Persistence is the boundary this cache hands finalized messages to. It is
// named only by interface: the embedded relational database driver and the
// host app's REST-like data API are both out of scope.
type Persistence interface {
	// CreateMessage obtains a server-issued id and creation time for a new
	// message shell, before any blocks have streamed in.
	CreateMessage(ctx context.Context, topicID, role, parentID string, siblingsGroupID int) (id string, createdAt int64, err error)

	// SaveAgentSessionMessage persists a finalized message produced by an
	// agent-session task, via the direct DB driver path.
	SaveAgentSessionMessage(ctx context.Context, payload FinalizedMessage) error

	// SaveTopicMessage persists a finalized message produced by an ordinary
	// topic task, via the REST-like data API path.
	SaveTopicMessage(ctx context.Context, payload FinalizedMessage) error
}

// Block is one block owned by a streaming task. Status and the id/messageId
// pair exist only while streaming; Finalize strips them before handing the
// block to persistence.
type Block struct {
	ID         string
	MessageID  string
	Type       mapping.NewBlockType
	Status     string // "streaming" | "processing" | "success" | "error" | "paused"
	Content    string
	ThinkingMs int64
	FileID     string
	URL        string
	ToolCallID string
	ToolName   string
	Extra      map[string]any
}

// BlockChanges is a partial update applied immutably to a cached block; nil
// fields are left unchanged.
type BlockChanges struct {
	Status     *string
	Content    *string
	ThinkingMs *int64
	Extra      map[string]any
}

// Message is the in-flight snapshot of the message a task is building.
type Message struct {
	ID              string
	TopicID         string
	ParentID        string
	Role            string
	BlockIDs        []string
	Status          string
	SiblingsGroupID int
	AssistantID     string
	ModelID         string
	TraceID         string
	Usage           *chunk.Usage
	Metrics         *chunk.Metrics
	CreatedAt       int64
	UpdatedAt       int64
}

// MessageUpdates is a partial update applied immutably to a cached message.
type MessageUpdates struct {
	Status      *string
	AssistantID *string
	ModelID     *string
	TraceID     *string
	Usage       *chunk.Usage
	Metrics     *chunk.Metrics
}

// StartTaskOptions configures a new streaming task.
type StartTaskOptions struct {
	ParentID        string
	SiblingsGroupID int
	ContextMessages []any
	IsAgentSession  bool // selects the finalize persistence path
}

// Task is the exclusive owner of one in-flight assistant message's blocks.
type Task struct {
	TopicID         string
	MessageID       string
	Message         Message
	Blocks          map[string]Block
	ParentID        string
	SiblingsGroupID int
	ContextMessages []any
	IsAgentSession  bool
	StartedAt       time.Time
}

// FinalizedMessage is the payload handed to Persistence on Finalize.
type FinalizedMessage struct {
	MessageID       string
	TopicID         string
	ParentID        string
	Role            string
	Blocks          []mapping.NewBlock
	SearchableText  string
	Status          string
	SiblingsGroupID int
	AssistantID     string
	ModelID         string
	TraceID         string
	Stats           *mapping.Stats
	CreatedAt       int64
	UpdatedAt       int64
}

type taskEntry struct {
	task      Task
	expiresAt time.Time
}

type blockEntry struct {
	block     Block
	expiresAt time.Time
}

type messageEntry struct {
	message   Message
	expiresAt time.Time
}

// Service is the process-wide streaming cache. One Service is created at
// process start and lives for the process's lifetime; expiry is handled by
// a background sweep, not explicit teardown.
type Service struct {
	mu sync.Mutex

	tasks      map[string]taskEntry    // messageID -> task
	blocks     map[string]blockEntry   // blockID -> block
	messages   map[string]messageEntry // messageID -> message
	blockOwner map[string]string       // blockID -> messageID
	topicTasks map[string]map[string]struct{}
	groupSeq   map[string]int // topicID -> last-issued siblingsGroupId, no TTL

	subscribers map[string][]chan struct{}

	persistence Persistence
	ttl         time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// New builds a streaming cache backed by persistence, with the background
// expiry sweep already running.
func New(persistence Persistence) *Service {
	s := &Service{
		tasks:       map[string]taskEntry{},
		blocks:      map[string]blockEntry{},
		messages:    map[string]messageEntry{},
		blockOwner:  map[string]string{},
		topicTasks:  map[string]map[string]struct{}{},
		groupSeq:    map[string]int{},
		subscribers: map[string][]chan struct{}{},
		persistence: persistence,
		ttl:         DefaultTTL,
		stop:        make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Close stops the background expiry sweep.
func (s *Service) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Service) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Service) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.tasks {
		if now.After(e.expiresAt) {
			s.deleteTaskLocked(id)
		}
	}
	for id, e := range s.blocks {
		if now.After(e.expiresAt) {
			delete(s.blocks, id)
			delete(s.blockOwner, id)
		}
	}
	for id, e := range s.messages {
		if now.After(e.expiresAt) {
			delete(s.messages, id)
		}
	}
}

func taskKey(messageID string) string    { return "task:" + messageID }
func blockKey(blockID string) string     { return "block:" + blockID }
func messageKey(messageID string) string { return "message:" + messageID }

// Subscribe registers for notifications on a task/block/message key
// (obtained via TaskKey/BlockKey/MessageKey); any Set with a new reference
// under that key sends on the returned channel. stop unsubscribes.
func (s *Service) Subscribe(key string) (ch <-chan struct{}, stop func()) {
	s.mu.Lock()
	sub := make(chan struct{}, 1)
	s.subscribers[key] = append(s.subscribers[key], sub)
	s.mu.Unlock()

	stopFn := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subscribers[key]
		for i, c := range subs {
			if c == sub {
				s.subscribers[key] = append(subs[:i], subs[i+1:]...)
				close(sub)
				return
			}
		}
	}
	return sub, stopFn
}

// TaskKey, BlockKey and MessageKey build the subscription keys for the
// corresponding Subscribe call.
func TaskKey(messageID string) string    { return taskKey(messageID) }
func BlockKey(blockID string) string     { return blockKey(blockID) }
func MessageKey(messageID string) string { return messageKey(messageID) }

// notifyLocked must be called with s.mu held.
func (s *Service) notifyLocked(key string) {
	for _, ch := range s.subscribers[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// StartTask initializes a task record, its message snapshot, and the
// topic-task index, TTL-bounded from now.
func (s *Service) StartTask(topicID, messageID string, opts StartTaskOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	task := Task{
		TopicID:         topicID,
		MessageID:       messageID,
		ParentID:        opts.ParentID,
		SiblingsGroupID: opts.SiblingsGroupID,
		ContextMessages: opts.ContextMessages,
		IsAgentSession:  opts.IsAgentSession,
		StartedAt:       now,
		Blocks:          map[string]Block{},
		Message: Message{
			ID:              messageID,
			TopicID:         topicID,
			ParentID:        opts.ParentID,
			Role:            "assistant",
			Status:          "streaming",
			SiblingsGroupID: opts.SiblingsGroupID,
			CreatedAt:       now.UnixMilli(),
			UpdatedAt:       now.UnixMilli(),
		},
	}
	s.tasks[messageID] = taskEntry{task: task, expiresAt: now.Add(s.ttl)}
	s.messages[messageID] = messageEntry{message: task.Message, expiresAt: now.Add(s.ttl)}

	if s.topicTasks[topicID] == nil {
		s.topicTasks[topicID] = map[string]struct{}{}
	}
	s.topicTasks[topicID][messageID] = struct{}{}

	s.notifyLocked(taskKey(messageID))
	s.notifyLocked(messageKey(messageID))
}

// AddBlock registers blockId→messageId, immutably updates the task's block
// map and the message's block-id list, and re-publishes all three
// snapshots.
func (s *Service) AddBlock(messageID string, block Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	te, ok := s.tasks[messageID]
	if !ok {
		return fmt.Errorf("streamcache: no task for message %s", messageID)
	}
	block.MessageID = messageID
	now := time.Now()
	expiresAt := now.Add(s.ttl)

	task := te.task
	task.Blocks = cloneBlocks(task.Blocks)
	task.Blocks[block.ID] = block
	task.Message.BlockIDs = append(append([]string(nil), task.Message.BlockIDs...), block.ID)
	task.Message.UpdatedAt = now.UnixMilli()

	s.tasks[messageID] = taskEntry{task: task, expiresAt: expiresAt}
	s.blocks[block.ID] = blockEntry{block: block, expiresAt: expiresAt}
	s.blockOwner[block.ID] = messageID
	s.messages[messageID] = messageEntry{message: task.Message, expiresAt: expiresAt}

	s.notifyLocked(taskKey(messageID))
	s.notifyLocked(blockKey(block.ID))
	s.notifyLocked(messageKey(messageID))
	return nil
}

func cloneBlocks(in map[string]Block) map[string]Block {
	out := make(map[string]Block, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

// UpdateBlock immutably merges changes into a cached block and re-publishes
// the task and block snapshots. The caller is responsible for throttling;
// this call never throttles internally.
func (s *Service) UpdateBlock(blockID string, changes BlockChanges) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	be, ok := s.blocks[blockID]
	if !ok {
		return fmt.Errorf("streamcache: no block %s", blockID)
	}
	messageID, ok := s.blockOwner[blockID]
	if !ok {
		return fmt.Errorf("streamcache: block %s has no owning message", blockID)
	}
	te, ok := s.tasks[messageID]
	if !ok {
		return fmt.Errorf("streamcache: no task for message %s", messageID)
	}

	block := applyBlockChanges(be.block, changes)
	now := time.Now()
	expiresAt := now.Add(s.ttl)

	s.blocks[blockID] = blockEntry{block: block, expiresAt: expiresAt}

	task := te.task
	task.Blocks = cloneBlocks(task.Blocks)
	task.Blocks[blockID] = block
	s.tasks[messageID] = taskEntry{task: task, expiresAt: expiresAt}

	s.notifyLocked(taskKey(messageID))
	s.notifyLocked(blockKey(blockID))
	return nil
}

func applyBlockChanges(b Block, c BlockChanges) Block {
	if c.Status != nil {
		b.Status = *c.Status
	}
	if c.Content != nil {
		b.Content = *c.Content
	}
	if c.ThinkingMs != nil {
		b.ThinkingMs = *c.ThinkingMs
	}
	if c.Extra != nil {
		extra := make(map[string]any, len(b.Extra)+len(c.Extra))
		for k, v := range b.Extra {
			extra[k] = v
		}
		for k, v := range c.Extra {
			extra[k] = v
		}
		b.Extra = extra
	}
	return b
}

// GetBlock returns a snapshot read of one block.
func (s *Service) GetBlock(blockID string) (Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.blocks[blockID]
	return e.block, ok
}

// GetMessage returns a snapshot read of one message.
func (s *Service) GetMessage(messageID string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.messages[messageID]
	return e.message, ok
}

// GetTask returns a snapshot read of one task.
func (s *Service) GetTask(messageID string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[messageID]
	return e.task, ok
}

// UpdateMessage immutably merges updates into a cached message and
// re-publishes it.
func (s *Service) UpdateMessage(messageID string, updates MessageUpdates) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	me, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("streamcache: no message %s", messageID)
	}
	msg := me.message
	if updates.Status != nil {
		msg.Status = *updates.Status
	}
	if updates.AssistantID != nil {
		msg.AssistantID = *updates.AssistantID
	}
	if updates.ModelID != nil {
		msg.ModelID = *updates.ModelID
	}
	if updates.TraceID != nil {
		msg.TraceID = *updates.TraceID
	}
	if updates.Usage != nil {
		msg.Usage = updates.Usage
	}
	if updates.Metrics != nil {
		msg.Metrics = updates.Metrics
	}
	msg.UpdatedAt = time.Now().UnixMilli()

	expiresAt := time.Now().Add(s.ttl)
	s.messages[messageID] = messageEntry{message: msg, expiresAt: expiresAt}

	if te, ok := s.tasks[messageID]; ok {
		task := te.task
		task.Message = msg
		s.tasks[messageID] = taskEntry{task: task, expiresAt: expiresAt}
	}

	s.notifyLocked(messageKey(messageID))
	return nil
}

// IsStreaming reports whether a topic has any active task.
func (s *Service) IsStreaming(topicID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.topicTasks[topicID]) > 0
}

// IsMessageStreaming reports whether a message currently has an active task.
func (s *Service) IsMessageStreaming(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[messageID]
	return ok
}

// GetActiveMessageIDs returns the message ids with an active task under
// topicID.
func (s *Service) GetActiveMessageIDs(topicID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.topicTasks[topicID]))
	for id := range s.topicTasks[topicID] {
		ids = append(ids, id)
	}
	return ids
}

// GenerateNextGroupID increments and returns a topic-scoped sibling-group
// counter. The counter itself never expires, so ids issued stay unique for
// the process lifetime even if every task referencing them has since ended.
func (s *Service) GenerateNextGroupID(topicID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupSeq[topicID]++
	return s.groupSeq[topicID]
}

// CreateUserMessage obtains a server-issued id from the persistence
// boundary and caches a message shell for it. A user message is never the
// subject of a streaming task.
func (s *Service) CreateUserMessage(ctx context.Context, topicID, parentID string) (Message, error) {
	return s.createMessageShell(ctx, topicID, "user", parentID, 0)
}

// CreateAssistantMessage obtains a server-issued id and caches a message
// shell for it; the caller follows up with StartTask to begin streaming.
func (s *Service) CreateAssistantMessage(ctx context.Context, topicID, parentID string, siblingsGroupID int) (Message, error) {
	return s.createMessageShell(ctx, topicID, "assistant", parentID, siblingsGroupID)
}

func (s *Service) createMessageShell(ctx context.Context, topicID, role, parentID string, siblingsGroupID int) (Message, error) {
	id, createdAt, err := s.persistence.CreateMessage(ctx, topicID, role, parentID, siblingsGroupID)
	if err != nil {
		return Message{}, fmt.Errorf("streamcache: creating %s message: %w", role, err)
	}

	msg := Message{
		ID:              id,
		TopicID:         topicID,
		ParentID:        parentID,
		Role:            role,
		Status:          "success",
		SiblingsGroupID: siblingsGroupID,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}

	s.mu.Lock()
	s.messages[id] = messageEntry{message: msg, expiresAt: time.Now().Add(s.ttl)}
	s.notifyLocked(messageKey(id))
	s.mu.Unlock()

	return msg, nil
}

// Finalize converts a task's accumulated blocks and message into a
// persistence payload and hands it to the appropriate persistence path,
// then ends the task. Remaining blocks left in a non-terminal status are
// forced to status before conversion.
func (s *Service) Finalize(ctx context.Context, messageID string, status string) error {
	s.mu.Lock()
	te, ok := s.tasks[messageID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("streamcache: no task for message %s", messageID)
	}
	task := te.task

	blocks := make([]mapping.NewBlock, 0, len(task.Message.BlockIDs))
	for _, blockID := range task.Message.BlockIDs {
		b, ok := task.Blocks[blockID]
		if !ok {
			continue
		}
		if b.Status == "streaming" || b.Status == "processing" {
			b.Status = status
		}
		blocks = append(blocks, mapping.NewBlock{
			Type:       b.Type,
			Content:    b.Content,
			ThinkingMs: b.ThinkingMs,
			FileID:     b.FileID,
			URL:        b.URL,
			ToolCallID: b.ToolCallID,
			ToolName:   b.ToolName,
			Extra:      b.Extra,
		})
	}

	payload := FinalizedMessage{
		MessageID:       messageID,
		TopicID:         task.TopicID,
		ParentID:        task.ParentID,
		Role:            task.Message.Role,
		Blocks:          blocks,
		SearchableText:  mapping.BuildSearchableText(blocks),
		Status:          status,
		SiblingsGroupID: task.SiblingsGroupID,
		AssistantID:     task.Message.AssistantID,
		ModelID:         task.Message.ModelID,
		TraceID:         task.Message.TraceID,
		Stats:           buildStats(task.Message.Usage, task.Message.Metrics),
		CreatedAt:       task.Message.CreatedAt,
		UpdatedAt:       time.Now().UnixMilli(),
	}

	log := observability.Component("completions.streamcache")
	var err error
	if task.IsAgentSession {
		err = s.persistence.SaveAgentSessionMessage(ctx, payload)
	} else {
		err = s.persistence.SaveTopicMessage(ctx, payload)
	}
	if err != nil {
		return fmt.Errorf("streamcache: persisting message %s: %w", messageID, err)
	}
	log.Info().Str("message_id", messageID).Int("blocks", len(blocks)).Msg("finalized streaming task")

	s.EndTask(messageID)
	return nil
}

// buildStats merges observed usage and timing into a persistence Stats
// object, nil if neither carries a non-zero field. Mirrors
// mapping.MergeStats's "nil unless something is set" rule, against the
// completions pipeline's vendor-neutral chunk types rather than the
// migration engine's legacy JSON shapes.
func buildStats(usage *chunk.Usage, metrics *chunk.Metrics) *mapping.Stats {
	if usage == nil && metrics == nil {
		return nil
	}
	s := mapping.Stats{}
	hasAny := false
	if usage != nil {
		if usage.PromptTokens != 0 {
			s.PromptTokens = usage.PromptTokens
			hasAny = true
		}
		if usage.CompletionTokens != 0 {
			s.CompletionTokens = usage.CompletionTokens
			hasAny = true
		}
		if usage.TotalTokens != 0 {
			s.TotalTokens = usage.TotalTokens
			hasAny = true
		}
		if usage.ThoughtsTokens != 0 {
			s.ThoughtsTokens = usage.ThoughtsTokens
			hasAny = true
		}
		if usage.Cost != 0 {
			s.Cost = usage.Cost
			hasAny = true
		}
	}
	if metrics != nil {
		if metrics.TimeFirstTokenMillsec != 0 {
			s.TimeFirstTokenMillsec = metrics.TimeFirstTokenMillsec
			hasAny = true
		}
		if metrics.TimeCompletionMillsec != 0 {
			s.TimeCompletionMillsec = metrics.TimeCompletionMillsec
			hasAny = true
		}
		if metrics.TimeThinkingMillsec != 0 {
			s.TimeThinkingMillsec = metrics.TimeThinkingMillsec
			hasAny = true
		}
	}
	if !hasAny {
		return nil
	}
	return &s
}

// EndTask deletes every key the task owns and removes it from the
// topic-tasks index.
func (s *Service) EndTask(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteTaskLocked(messageID)
}

func (s *Service) deleteTaskLocked(messageID string) {
	te, ok := s.tasks[messageID]
	if !ok {
		return
	}
	for blockID := range te.task.Blocks {
		delete(s.blocks, blockID)
		delete(s.blockOwner, blockID)
	}
	delete(s.tasks, messageID)
	delete(s.messages, messageID)
	if set, ok := s.topicTasks[te.task.TopicID]; ok {
		delete(set, messageID)
		if len(set) == 0 {
			delete(s.topicTasks, te.task.TopicID)
		}
	}
}
