// Package blockmanager implements the Block Manager & Callbacks (C8):
// mediates between generic-chunk events and the streaming cache (C5),
// deciding when a block update is applied immediately versus throttled, and
// dispatching the per-kind callback family spec.md §4.8 names.
package blockmanager

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"chatforge/internal/completions/chunk"
	"chatforge/internal/completions/streamcache"
	"chatforge/internal/migration/mapping"
	"chatforge/internal/observability"
)

// ThrottledUpdateFunc schedules a deferred updateBlock call; the caller
// supplies the throttling policy (e.g. time.AfterFunc-debounced) so tests
// can run synchronously with an immediate implementation.
type ThrottledUpdateFunc func(blockID string, changes streamcache.BlockChanges)

// CancelThrottleFunc cancels any pending throttled update scheduled for
// blockID. A no-op if none is pending.
type CancelThrottleFunc func(blockID string)

type activeBlock struct {
	id        string
	blockType mapping.NewBlockType
}

// BlockManager owns the per-message streaming state: which block is
// currently active, the type of the block last written, and the running
// text/thinking accumulators a throttled stream of deltas builds up.
type BlockManager struct {
	cache     *streamcache.Service
	topicID   string
	messageID string

	throttledUpdate ThrottledUpdateFunc
	cancelThrottle  CancelThrottleFunc

	activeBlockInfo *activeBlock
	lastBlockType   mapping.NewBlockType

	textBlockID     string
	textAccumulated string

	thinkingBlockID     string
	thinkingAccumulated string

	citations []mapping.ContentReference
}

// New builds a BlockManager for one streaming message. throttledUpdate and
// cancelThrottle are the injected throttle hook pair spec.md §4.8 names;
// pass a synchronous implementation (call updateBlock directly) in tests.
func New(cache *streamcache.Service, topicID, messageID string, throttledUpdate ThrottledUpdateFunc, cancelThrottle CancelThrottleFunc) *BlockManager {
	return &BlockManager{
		cache:           cache,
		topicID:         topicID,
		messageID:       messageID,
		throttledUpdate: throttledUpdate,
		cancelThrottle:  cancelThrottle,
	}
}

// HasBlockOfType guards against duplicate block creation when the
// generic-chunk stream over-fires (e.g. a vendor emitting two
// image_created events for one image).
func (m *BlockManager) HasBlockOfType(blockType mapping.NewBlockType) bool {
	task, ok := m.cache.GetTask(m.messageID)
	if !ok {
		return false
	}
	for _, b := range task.Blocks {
		if b.Type == blockType {
			return true
		}
	}
	return false
}

// HandleBlockTransition adds a new block to the cache, appends its id to
// the message's block-id list (via AddBlock), and marks it active.
func (m *BlockManager) HandleBlockTransition(block streamcache.Block) error {
	if err := m.cache.AddBlock(m.messageID, block); err != nil {
		return err
	}
	m.activeBlockInfo = &activeBlock{id: block.ID, blockType: block.Type}
	m.lastBlockType = block.Type
	return nil
}

// SmartBlockUpdate applies or schedules an update to blockID. A type
// transition or a completing update cancels any pending throttled update
// (on the previous active block, and on this one if completing) and writes
// through to the cache immediately; otherwise the update is handed to the
// injected throttler.
func (m *BlockManager) SmartBlockUpdate(blockID string, changes streamcache.BlockChanges, blockType mapping.NewBlockType, isComplete bool) error {
	transition := m.lastBlockType != "" && m.lastBlockType != blockType

	if transition || isComplete {
		if m.activeBlockInfo != nil && m.activeBlockInfo.id != blockID {
			m.cancelThrottle(m.activeBlockInfo.id)
		}
		if isComplete {
			m.cancelThrottle(blockID)
		}
		if err := m.cache.UpdateBlock(blockID, changes); err != nil {
			return err
		}
		if isComplete {
			m.activeBlockInfo = nil
		} else {
			m.activeBlockInfo = &activeBlock{id: blockID, blockType: blockType}
		}
		m.lastBlockType = blockType
		return nil
	}

	m.activeBlockInfo = &activeBlock{id: blockID, blockType: blockType}
	m.throttledUpdate(blockID, changes)
	return nil
}

// Consume drains stream, dispatching each chunk to the matching callback,
// until the stream ends or ctx is cancelled. It does not call Finalize —
// that is the caller's responsibility once Consume returns successfully,
// since only the caller knows the terminal message status.
func (m *BlockManager) Consume(ctx context.Context, stream chunk.Stream) error {
	for {
		c, ok, err := stream.Next(ctx)
		if err != nil {
			return m.onError(err)
		}
		if !ok {
			break
		}
		if err := m.dispatch(ctx, c); err != nil {
			return err
		}
	}
	return m.closeActiveTextOrThinking()
}

func (m *BlockManager) dispatch(_ context.Context, c chunk.Chunk) error {
	switch c.Kind {
	case chunk.KindResponseCreated:
		return m.onLLMResponseCreated()
	case chunk.KindTextDelta:
		return m.onTextChunk(c.Text)
	case chunk.KindThinkingDelta:
		return m.onThinkingDelta(c.Text, c.ThinkingMillsec)
	case chunk.KindThinkingComplete:
		return m.onThinkingComplete(c.Text, c.ThinkingMillsec)
	case chunk.KindWebSearchInProgress:
		return m.onWebSearchInProgress()
	case chunk.KindWebSearchComplete:
		return m.onWebSearchComplete(c.Citations)
	case chunk.KindMcpToolCreated:
		return m.onToolCreated(c.ToolCalls)
	case chunk.KindMcpToolInProgress:
		return m.onToolProgress(c.ToolCallID, c.ToolStatus)
	case chunk.KindImageCreated:
		return m.onImageCreated(c.ImageID)
	case chunk.KindImageComplete:
		return m.onImageComplete(c.ImageID, c.ImageURL)
	case chunk.KindResponseComplete, chunk.KindBlockComplete:
		return m.onComplete(c.Usage, c.Metrics)
	case chunk.KindError:
		return m.onError(c.Err)
	default:
		return nil
	}
}

// onLLMResponseCreated opens a placeholder block of type unknown, promoted
// to a real type (main_text, thinking, ...) by the first content event.
func (m *BlockManager) onLLMResponseCreated() error {
	id := uuid.NewString()
	return m.HandleBlockTransition(streamcache.Block{
		ID:     id,
		Type:   mapping.BlockUnknown,
		Status: "streaming",
	})
}

// onError marks whatever block was active when the stream failed as
// errored, and clears the text/thinking accumulators so the end-of-stream
// cleanup in Consume does not try to finalize them a second time with a
// success status.
func (m *BlockManager) onError(cause error) error {
	log := observability.Component("completions.blockmanager")
	log.Error().Err(cause).Str("message_id", m.messageID).Msg("stream error")

	active := m.activeBlockInfo
	m.textBlockID = ""
	m.textAccumulated = ""
	m.thinkingBlockID = ""
	m.thinkingAccumulated = ""

	if active != nil {
		errStatus := "error"
		return m.SmartBlockUpdate(active.id, streamcache.BlockChanges{Status: &errStatus}, active.blockType, true)
	}
	return nil
}

func (m *BlockManager) onComplete(usage *chunk.Usage, metrics *chunk.Metrics) error {
	if usage == nil && metrics == nil {
		return nil
	}
	return m.cache.UpdateMessage(m.messageID, streamcache.MessageUpdates{Usage: usage, Metrics: metrics})
}

// openContentBlock promotes the response's unknown placeholder block (left
// by onLLMResponseCreated) to blockType if one is still waiting and unused
// by another content kind; otherwise it opens a fresh block. Only the first
// content event of a response ever sees the placeholder.
func (m *BlockManager) openContentBlock(blockType mapping.NewBlockType, initial string) (string, error) {
	if m.activeBlockInfo != nil && m.activeBlockInfo.blockType == mapping.BlockUnknown {
		id := m.activeBlockInfo.id
		content := initial
		if err := m.SmartBlockUpdate(id, streamcache.BlockChanges{Content: &content}, blockType, false); err != nil {
			return "", err
		}
		return id, nil
	}
	id := uuid.NewString()
	if err := m.HandleBlockTransition(streamcache.Block{
		ID:      id,
		Type:    blockType,
		Status:  "streaming",
		Content: initial,
	}); err != nil {
		return "", err
	}
	return id, nil
}

// onTextStart promotes the response's placeholder block to main_text if
// one is waiting, otherwise opens a fresh main_text block.
func (m *BlockManager) onTextStart(initial string) error {
	id, err := m.openContentBlock(mapping.BlockMainText, initial)
	if err != nil {
		return err
	}
	m.textBlockID = id
	m.textAccumulated = initial
	return nil
}

func (m *BlockManager) onTextChunk(delta string) error {
	if m.textBlockID == "" {
		return m.onTextStart(delta)
	}
	m.textAccumulated += delta
	content := m.textAccumulated
	return m.SmartBlockUpdate(m.textBlockID, streamcache.BlockChanges{Content: &content}, mapping.BlockMainText, false)
}

func (m *BlockManager) onTextComplete() error {
	if m.textBlockID == "" {
		return nil
	}
	content := m.textAccumulated
	successStatus := "success"
	id := m.textBlockID
	m.textBlockID = ""
	m.textAccumulated = ""
	if err := m.SmartBlockUpdate(id, streamcache.BlockChanges{Content: &content, Status: &successStatus}, mapping.BlockMainText, true); err != nil {
		return err
	}
	return m.applyPendingCitations(id)
}

func (m *BlockManager) onThinkingDelta(delta string, ms int64) error {
	if m.thinkingBlockID == "" {
		id, err := m.openContentBlock(mapping.BlockThinking, delta)
		if err != nil {
			return err
		}
		m.thinkingBlockID = id
		m.thinkingAccumulated = delta
		if ms == 0 {
			return nil
		}
		return m.cache.UpdateBlock(id, streamcache.BlockChanges{ThinkingMs: &ms})
	}
	m.thinkingAccumulated += delta
	content := m.thinkingAccumulated
	return m.SmartBlockUpdate(m.thinkingBlockID, streamcache.BlockChanges{Content: &content, ThinkingMs: &ms}, mapping.BlockThinking, false)
}

func (m *BlockManager) onThinkingComplete(final string, ms int64) error {
	if m.thinkingBlockID == "" {
		return nil
	}
	content := final
	if content == "" {
		content = m.thinkingAccumulated
	}
	successStatus := "success"
	id := m.thinkingBlockID
	m.thinkingBlockID = ""
	m.thinkingAccumulated = ""
	return m.SmartBlockUpdate(id, streamcache.BlockChanges{Content: &content, ThinkingMs: &ms, Status: &successStatus}, mapping.BlockThinking, true)
}

// onToolCreated opens one pending tool block per call, keyed by the
// tool-call id, so onToolProgress can address each independently.
func (m *BlockManager) onToolCreated(calls []chunk.ToolCall) error {
	for _, call := range calls {
		if err := m.HandleBlockTransition(streamcache.Block{
			ID:         call.ID,
			Type:       mapping.BlockTool,
			Status:     "pending",
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Content:    call.Arguments,
		}); err != nil {
			return err
		}
	}
	return nil
}

// onToolProgress updates one tool block's status (pending → streaming →
// success|error|cancelled).
func (m *BlockManager) onToolProgress(toolCallID, status string) error {
	if toolCallID == "" {
		return nil
	}
	isTerminal := status == "success" || status == "error" || status == "cancelled"
	return m.SmartBlockUpdate(toolCallID, streamcache.BlockChanges{Status: &status}, mapping.BlockTool, isTerminal)
}

func (m *BlockManager) onWebSearchInProgress() error {
	return nil
}

// onWebSearchComplete folds citations into the open main_text block's
// Extra["citations"]; with no main_text block open, they are held and
// applied when the next main_text block completes. This mirrors the migration
// engine's chat-migrator treatment of citation blocks: a citation never
// becomes a standalone persisted block, it annotates the text it supports.
func (m *BlockManager) onWebSearchComplete(citations []chunk.Citation) error {
	for _, c := range citations {
		m.citations = append(m.citations, mapping.ContentReference{Kind: c.Kind, URL: c.URL, Title: c.Title, Snippet: c.Snippet})
	}
	if m.textBlockID != "" {
		return m.applyPendingCitations(m.textBlockID)
	}
	return nil
}

func (m *BlockManager) applyPendingCitations(textBlockID string) error {
	if len(m.citations) == 0 {
		return nil
	}
	return m.cache.UpdateBlock(textBlockID, streamcache.BlockChanges{Extra: map[string]any{"citations": m.citations}})
}

func (m *BlockManager) onImageCreated(imageID string) error {
	if m.HasBlockOfType(mapping.BlockImage) {
		return nil
	}
	return m.HandleBlockTransition(streamcache.Block{
		ID:     imageID,
		Type:   mapping.BlockImage,
		Status: "streaming",
	})
}

func (m *BlockManager) onImageComplete(imageID, url string) error {
	if imageID == "" {
		return fmt.Errorf("blockmanager: image_complete with empty image id")
	}
	successStatus := "success"
	changes := streamcache.BlockChanges{Status: &successStatus}
	if url != "" {
		changes.Extra = map[string]any{"url": url}
	}
	return m.SmartBlockUpdate(imageID, changes, mapping.BlockImage, true)
}

// closeActiveTextOrThinking finalizes whatever block was left open when the
// stream ended without an explicit completion event for it.
func (m *BlockManager) closeActiveTextOrThinking() error {
	if m.textBlockID != "" {
		if err := m.onTextComplete(); err != nil {
			return err
		}
	}
	if m.thinkingBlockID != "" {
		if err := m.onThinkingComplete("", 0); err != nil {
			return err
		}
	}
	return nil
}
