package migrator

import (
	"context"
	"encoding/json"
	"fmt"

	"chatforge/internal/migration/mapping"
	"chatforge/internal/observability"
)

const (
	knowledgeNotesTable       = "knowledge_notes"
	knowledgeExecuteBatchSize = 100
)

// legacyKnowledgeNote is one record of the exported knowledge_notes table
// (spec.md §6.1 lists knowledge_notes among the known exported tables).
type legacyKnowledgeNote struct {
	ID          string `json:"id"`
	AssistantID string `json:"assistantId"`
	Content     string `json:"content"`
	SourceURL   string `json:"sourceUrl"`
	CreatedAt   any    `json:"createdAt"`
	UpdatedAt   any    `json:"updatedAt"`
}

// NewKnowledgeMigrator builds the migrator for assistant knowledge notes.
// Runs after assistants, since a note's assistantId should resolve to an
// already-migrated assistant row.
func NewKnowledgeMigrator() Migrator {
	state := &knowledgeMigratorState{}
	return Migrator{
		ID:           "knowledge",
		Name:         "Knowledge",
		Description:  "Migrates assistant knowledge notes from the exported knowledge_notes table",
		Order:        30,
		TargetTables: []string{knowledgeNotesTable},
		Prepare:      state.prepare,
		Execute:      state.execute,
		Validate:     state.validate,
	}
}

type knowledgeMigratorState struct {
	sourceCount int
}

func (s *knowledgeMigratorState) prepare(_ context.Context, mc *Context) (PrepareResult, error) {
	if !mc.Sources.Tables.TableExists(knowledgeNotesTable) {
		return PrepareResult{Success: true, ItemCount: 0, Warnings: []string{"knowledge_notes table absent"}}, nil
	}
	count, err := mc.Sources.Tables.OpenStreamCount(knowledgeNotesTable)
	if err != nil {
		return PrepareResult{}, fmt.Errorf("knowledge migrator: counting %s: %w", knowledgeNotesTable, err)
	}
	s.sourceCount = count
	return PrepareResult{Success: true, ItemCount: count}, nil
}

func (s *knowledgeMigratorState) execute(ctx context.Context, mc *Context) (ExecuteResult, error) {
	log := observability.Component("migration.knowledge")
	if !mc.Sources.Tables.TableExists(knowledgeNotesTable) {
		return ExecuteResult{Success: true, ProcessedCount: 0}, nil
	}

	processed := 0
	total, err := mc.Sources.Tables.OpenStreamForEachBatch(knowledgeNotesTable, knowledgeExecuteBatchSize, func(batch []RawRecord, batchIndex int) error {
		for _, raw := range batch {
			var note legacyKnowledgeNote
			if err := json.Unmarshal(raw, &note); err != nil {
				return fmt.Errorf("decoding knowledge note in batch %d: %w", batchIndex, err)
			}
			createdAt, _ := mapping.ParseTimestamp(note.CreatedAt)
			updatedAt, _ := mapping.ParseTimestamp(note.UpdatedAt)
			if err := mc.DB.UpsertKnowledgeNote(ctx, KnowledgeNoteRow{
				ID:          note.ID,
				AssistantID: note.AssistantID,
				Content:     note.Content,
				SourceURL:   note.SourceURL,
				CreatedAt:   createdAt,
				UpdatedAt:   updatedAt,
			}); err != nil {
				return fmt.Errorf("upserting knowledge note %s: %w", note.ID, err)
			}
			processed++
		}
		return nil
	})
	if err != nil {
		return ExecuteResult{Err: err}, err
	}

	log.Info().Int("count", total).Msg("knowledge migration execute complete")
	return ExecuteResult{Success: true, ProcessedCount: processed}, nil
}

func (s *knowledgeMigratorState) validate(ctx context.Context, mc *Context) (ValidateResult, error) {
	targetCount, err := mc.DB.CountRows(ctx, knowledgeNotesTable)
	if err != nil {
		return ValidateResult{}, err
	}
	stats := ValidationStats{SourceCount: s.sourceCount, TargetCount: targetCount}
	if targetCount < s.sourceCount {
		stats.MismatchReason = fmt.Sprintf("expected %d knowledge notes, found %d", s.sourceCount, targetCount)
		return ValidateResult{Success: false, Errors: []string{stats.MismatchReason}, Stats: stats}, nil
	}
	return ValidateResult{Success: true, Stats: stats}, nil
}
