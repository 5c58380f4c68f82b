package migrator

import (
	"context"
	"encoding/json"
	"fmt"

	"chatforge/internal/migration/mapping"
	"chatforge/internal/observability"
)

const assistantsTable = "assistants"

// legacyAssistant is one record of the exported assistants table.
type legacyAssistant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Prompt    string `json:"prompt"`
	Model     string `json:"model"`
	Emoji     string `json:"emoji"`
	CreatedAt any    `json:"createdAt"`
	UpdatedAt any    `json:"updatedAt"`
}

// NewAssistantsMigrator builds the migrator for assistant profiles. Runs
// after preferences, before chat, since the chat migrator resolves each
// topic's owning assistant id but does not need the assistant row itself.
func NewAssistantsMigrator() Migrator {
	state := &assistantsMigratorState{}
	return Migrator{
		ID:           "assistants",
		Name:         "Assistants",
		Description:  "Migrates assistant profiles from the exported assistants table",
		Order:        20,
		TargetTables: []string{"assistants"},
		Prepare:      state.prepare,
		Execute:      state.execute,
		Validate:     state.validate,
	}
}

type assistantsMigratorState struct {
	assistants []legacyAssistant
}

func (s *assistantsMigratorState) prepare(_ context.Context, mc *Context) (PrepareResult, error) {
	if !mc.Sources.Tables.TableExists(assistantsTable) {
		return PrepareResult{Success: true, ItemCount: 0, Warnings: []string{"assistants table absent"}}, nil
	}
	raw, err := mc.Sources.Tables.ReadTable(assistantsTable)
	if err != nil {
		return PrepareResult{}, fmt.Errorf("assistants migrator: reading %s: %w", assistantsTable, err)
	}
	assistants := make([]legacyAssistant, 0, len(raw))
	for _, r := range raw {
		var a legacyAssistant
		if err := json.Unmarshal(r, &a); err != nil {
			return PrepareResult{}, fmt.Errorf("assistants migrator: decoding an assistant: %w", err)
		}
		assistants = append(assistants, a)
	}
	s.assistants = assistants
	return PrepareResult{Success: true, ItemCount: len(assistants)}, nil
}

func (s *assistantsMigratorState) execute(ctx context.Context, mc *Context) (ExecuteResult, error) {
	log := observability.Component("migration.assistants")
	processed := 0
	for _, a := range s.assistants {
		createdAt, _ := mapping.ParseTimestamp(a.CreatedAt)
		updatedAt, _ := mapping.ParseTimestamp(a.UpdatedAt)
		err := mc.DB.UpsertAssistant(ctx, AssistantRow{
			ID:           a.ID,
			Name:         a.Name,
			Prompt:       a.Prompt,
			DefaultModel: a.Model,
			Emoji:        a.Emoji,
			CreatedAt:    createdAt,
			UpdatedAt:    updatedAt,
		})
		if err != nil {
			return ExecuteResult{Err: err}, err
		}
		processed++
	}
	log.Info().Int("count", processed).Msg("assistants migration execute complete")
	return ExecuteResult{Success: true, ProcessedCount: processed}, nil
}

func (s *assistantsMigratorState) validate(ctx context.Context, mc *Context) (ValidateResult, error) {
	targetCount, err := mc.DB.CountRows(ctx, assistantsTable)
	if err != nil {
		return ValidateResult{}, err
	}
	stats := ValidationStats{SourceCount: len(s.assistants), TargetCount: targetCount}
	if targetCount < len(s.assistants) {
		stats.MismatchReason = fmt.Sprintf("expected %d assistants, found %d", len(s.assistants), targetCount)
		return ValidateResult{Success: false, Errors: []string{stats.MismatchReason}, Stats: stats}, nil
	}
	return ValidateResult{Success: true, Stats: stats}, nil
}
