package migrator

import (
	"context"
	"encoding/json"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/google/uuid"

	"chatforge/internal/migration/mapping"
	"chatforge/internal/observability"
)

const (
	chatTopicsTable        = "topics"
	chatMessageBlocksTable = "message_blocks"
	chatExecuteBatchSize   = 50
	chatInsertChunkSize    = 100
)

// topicMetaRow is the on-disk shape of one entry in the topicMetas
// persisted-state category.
type topicMetaRow struct {
	Name                 string `json:"name"`
	Pinned               bool   `json:"pinned"`
	Prompt               string `json:"prompt"`
	IsNameManuallyEdited bool   `json:"isNameManuallyEdited"`
}

// NewChatMigrator builds the chat-history migrator: the largest and last of
// the domain migrators, since migrated messages reference assistant ids the
// assistants migrator is expected to have already created.
func NewChatMigrator() Migrator {
	state := &chatMigratorState{}
	return Migrator{
		ID:           "chat",
		Name:         "Chat History",
		Description:  "Migrates topics and their message trees from the legacy conversation log",
		Order:        40,
		TargetTables: []string{"messages", "topics"},
		Prepare:      state.prepare,
		Execute:      state.execute,
		Validate:     state.validate,
	}
}

// chatMigratorState carries prepare's output into execute and validate.
// A fresh Migrator (and therefore a fresh state) is expected per engine run.
type chatMigratorState struct {
	blocksByMessage map[string][]mapping.LegacyBlock
	topicMeta       map[string]topicMetaRow
	assistantOf     map[string]string
	sourceTopics    int

	sourceMessages  int
	skippedMessages int
}

func (s *chatMigratorState) prepare(_ context.Context, mc *Context) (PrepareResult, error) {
	if !mc.Sources.Tables.TableExists(chatTopicsTable) {
		missing := &SourceMissingError{Name: chatTopicsTable}
		return PrepareResult{Success: true, ItemCount: 0, Warnings: []string{missing.Error()}}, nil
	}

	var warnings []string

	if mc.Sources.Tables.TableExists(chatMessageBlocksTable) {
		raw, err := mc.Sources.Tables.ReadTable(chatMessageBlocksTable)
		if err != nil {
			return PrepareResult{}, fmt.Errorf("chat migrator: reading %s: %w", chatMessageBlocksTable, err)
		}
		s.blocksByMessage = make(map[string][]mapping.LegacyBlock, len(raw))
		for _, r := range raw {
			var b mapping.LegacyBlock
			// message_blocks is the largest table in the export; json-iterator's
			// faster decode path is worth it here even though the rest of the
			// migrator sticks to encoding/json for small, infrequent decodes.
			if err := jsoniter.ConfigFastest.Unmarshal(r, &b); err != nil {
				return PrepareResult{}, fmt.Errorf("chat migrator: decoding a message block: %w", err)
			}
			s.blocksByMessage[b.MessageID] = append(s.blocksByMessage[b.MessageID], b)
		}
	} else {
		warnings = append(warnings, "message_blocks table absent: all messages will migrate with empty block lists")
		s.blocksByMessage = map[string][]mapping.LegacyBlock{}
	}

	s.topicMeta = loadTopicMeta(mc.Sources.PersistedState)
	s.assistantOf = loadAssistantOwnership(mc.Sources.PersistedState)

	count, err := mc.Sources.Tables.OpenStreamCount(chatTopicsTable)
	if err != nil {
		return PrepareResult{}, fmt.Errorf("chat migrator: counting %s: %w", chatTopicsTable, err)
	}
	s.sourceTopics = count

	return PrepareResult{Success: true, ItemCount: count, Warnings: warnings}, nil
}

func loadTopicMeta(ps PersistedStateReader) map[string]topicMetaRow {
	out := map[string]topicMetaRow{}
	raw, ok := ps.GetCategory("topicMetas")
	if !ok {
		return out
	}
	var byID map[string]topicMetaRow
	if err := json.Unmarshal(raw, &byID); err != nil {
		return out
	}
	return byID
}

func loadAssistantOwnership(ps PersistedStateReader) map[string]string {
	out := map[string]string{}
	raw, ok := ps.GetCategory("assistants")
	if !ok {
		return out
	}
	var assistants []struct {
		ID     string `json:"id"`
		Topics []struct {
			ID string `json:"id"`
		} `json:"topics"`
	}
	if err := json.Unmarshal(raw, &assistants); err != nil {
		return out
	}
	for _, a := range assistants {
		for _, t := range a.Topics {
			out[t.ID] = a.ID
		}
	}
	return out
}

func (s *chatMigratorState) execute(ctx context.Context, mc *Context) (ExecuteResult, error) {
	log := observability.Component("migration.chat")
	if !mc.Sources.Tables.TableExists(chatTopicsTable) {
		return ExecuteResult{Success: true, ProcessedCount: 0}, nil
	}
	processed := 0

	total, err := mc.Sources.Tables.OpenStreamForEachBatch(chatTopicsTable, chatExecuteBatchSize, func(batch []RawRecord, batchIndex int) error {
		tx, err := mc.DB.BeginTx(ctx)
		if err != nil {
			return fmt.Errorf("beginning batch %d transaction: %w", batchIndex, err)
		}

		for _, raw := range batch {
			var topic mapping.LegacyTopic
			if err := json.Unmarshal(raw, &topic); err != nil {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("decoding topic in batch %d: %w", batchIndex, err)
			}
			if err := s.migrateTopic(ctx, tx, topic); err != nil {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("migrating topic %s: %w", topic.ID, err)
			}
			processed++
		}

		if err := tx.Commit(ctx); err != nil {
			return &TransactionFailureError{Migrator: "chat", Cause: err}
		}

		if mc.Progress != nil {
			pct := 0
			if s.sourceTopics > 0 {
				pct = (processed * 100) / s.sourceTopics
			}
			mc.Progress(pct, fmt.Sprintf("migrated %d/%d topics", processed, s.sourceTopics), "migration.chat.progress")
		}
		log.Debug().Int("batch", batchIndex).Int("processed", processed).Msg("chat batch committed")
		return nil
	})
	if err != nil {
		return ExecuteResult{Err: err}, err
	}

	log.Info().Int("topics", total).Int("messages", s.sourceMessages).Int("skipped", s.skippedMessages).Msg("chat migration execute complete")
	return ExecuteResult{Success: true, ProcessedCount: processed}, nil
}

// migrateTopic transforms one legacy topic and its message tree and inserts
// the result into tx.
func (s *chatMigratorState) migrateTopic(ctx context.Context, tx Tx, topic mapping.LegacyTopic) error {
	meta := s.topicMeta[topic.ID]
	merged := mapping.MergeTopicMeta(topic, mapping.LegacyTopicMeta{
		Name:                 meta.Name,
		Pinned:               meta.Pinned,
		Prompt:               meta.Prompt,
		IsNameManuallyEdited: meta.IsNameManuallyEdited,
		HasMeta:              hasTopicMeta(s.topicMeta, topic.ID),
	}, s.assistantOf[topic.ID])

	tree, _ := mapping.BuildMessageTree(topic.Messages)

	idRemap := map[string]string{}
	seen := map[string]bool{}
	rows := make([]NewMessageRow, 0, len(topic.Messages))
	resolvedCounts := make(map[string]int, len(topic.Messages))
	migrated := map[string]bool{}

	for _, m := range topic.Messages {
		s.sourceMessages++

		finalID := m.ID
		if seen[m.ID] {
			finalID = uuid.NewString()
			idRemap[m.ID] = finalID
		}
		seen[m.ID] = true

		blocks, citations := s.transformBlocks(m.ID)
		resolvedCounts[m.ID] = len(blocks)
		if len(blocks) == 0 {
			s.skippedMessages++
			continue
		}
		migrated[m.ID] = true
		applyCitations(blocks, citations)

		createdAt, _ := mapping.ParseTimestamp(m.CreatedAt)
		updatedAt, _ := mapping.ParseTimestamp(m.UpdatedAt)

		rows = append(rows, NewMessageRow{
			ID:              finalID,
			TopicID:         topic.ID,
			Role:            m.Role,
			Blocks:          blocks,
			SearchableText:  mapping.BuildSearchableText(blocks),
			Status:          mapping.NormalizeStatus(m.Status),
			SiblingsGroupID: tree[m.ID].SiblingsGroupID,
			AssistantID:     merged.AssistantID,
			ModelID:         m.ModelID,
			TraceID:         m.TraceID,
			Stats:           mapping.MergeStats(m.Usage, m.Metrics),
			CreatedAt:       createdAt,
			UpdatedAt:       updatedAt,
		})
	}

	skipped := mapping.DetectSkipped(resolvedCounts)
	resolvedTree := mapping.ResolveSkippedParents(tree, skipped)
	for i := range rows {
		originalID := rows[i].ID
		if mapped, ok := reverseRemap(idRemap, originalID); ok {
			originalID = mapped
		}
		parent := resolvedTree[originalID].ParentID
		if remapped, ok := idRemap[parent]; ok {
			parent = remapped
		}
		rows[i].ParentID = parent
	}

	activeNodeID := mapping.FindActiveNodeID(topic.Messages, migrated, resolvedTree)
	if remapped, ok := idRemap[activeNodeID]; ok {
		activeNodeID = remapped
	}

	topicCreatedAt, _ := mapping.ParseTimestamp(topic.CreatedAt)
	topicUpdatedAt, _ := mapping.ParseTimestamp(topic.UpdatedAt)

	if err := tx.InsertTopic(ctx, NewTopicRow{
		ID:                   topic.ID,
		Name:                 merged.Name,
		IsNameManuallyEdited: merged.IsNameManuallyEdited,
		AssistantID:          merged.AssistantID,
		Prompt:               merged.Prompt,
		ActiveNodeID:         activeNodeID,
		IsPinned:             merged.Pinned,
		CreatedAt:            topicCreatedAt,
		UpdatedAt:            topicUpdatedAt,
	}); err != nil {
		return err
	}

	for start := 0; start < len(rows); start += chatInsertChunkSize {
		end := start + chatInsertChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := tx.InsertMessages(ctx, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// transformBlocks maps every legacy block for messageID, dropping
// unknown/citation blocks per TransformBlock's contract, and returns the
// accumulated citation references separately for the caller to fold in.
func (s *chatMigratorState) transformBlocks(messageID string) ([]mapping.NewBlock, []mapping.ContentReference) {
	legacy := s.blocksByMessage[messageID]
	blocks := make([]mapping.NewBlock, 0, len(legacy))
	var refs []mapping.ContentReference
	for _, b := range legacy {
		nb, r, ok := mapping.TransformBlock(b)
		if len(r) > 0 {
			refs = append(refs, r...)
		}
		if ok {
			blocks = append(blocks, nb)
		}
	}
	return blocks, refs
}

// applyCitations folds citation references into the first main_text block,
// per spec §4.3 ("merge into the message's first main_text block").
func applyCitations(blocks []mapping.NewBlock, refs []mapping.ContentReference) {
	if len(refs) == 0 {
		return
	}
	for i := range blocks {
		if blocks[i].Type == mapping.BlockMainText {
			if blocks[i].Extra == nil {
				blocks[i].Extra = map[string]any{}
			}
			blocks[i].Extra["citations"] = refs
			return
		}
	}
}

func hasTopicMeta(m map[string]topicMetaRow, id string) bool {
	_, ok := m[id]
	return ok
}

// reverseRemap finds the original id that was remapped to newID, if any.
func reverseRemap(idRemap map[string]string, newID string) (string, bool) {
	for orig, mapped := range idRemap {
		if mapped == newID {
			return orig, true
		}
	}
	return "", false
}

func (s *chatMigratorState) validate(ctx context.Context, mc *Context) (ValidateResult, error) {
	log := observability.Component("migration.chat")

	targetTopics, err := mc.DB.CountRows(ctx, "topics")
	if err != nil {
		return ValidateResult{}, err
	}
	targetMessages, err := mc.DB.CountRows(ctx, "messages")
	if err != nil {
		return ValidateResult{}, err
	}

	expectedMessages := s.sourceMessages - s.skippedMessages
	stats := ValidationStats{
		SourceCount:  s.sourceMessages,
		TargetCount:  targetMessages,
		SkippedCount: s.skippedMessages,
	}

	var errs []string
	if targetMessages < expectedMessages {
		stats.MismatchReason = fmt.Sprintf("expected at least %d messages, found %d", expectedMessages, targetMessages)
		errs = append(errs, stats.MismatchReason)
	} else if targetMessages > expectedMessages {
		log.Warn().Int("expected", expectedMessages).Int("actual", targetMessages).
			Msg("target message count exceeds expected count; continuing (warning only)")
	}

	if targetTopics < s.sourceTopics {
		errs = append(errs, fmt.Sprintf("expected %d topics, found %d", s.sourceTopics, targetTopics))
	}

	orphans, err := mc.DB.FindOrphanMessages(ctx)
	if err != nil {
		return ValidateResult{}, err
	}
	if len(orphans) > 0 {
		errs = append(errs, fmt.Sprintf("%d orphan messages reference no migrated topic", len(orphans)))
	}

	return ValidateResult{Success: len(errs) == 0, Errors: errs, Stats: stats}, nil
}
