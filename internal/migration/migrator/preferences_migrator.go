package migrator

import (
	"context"
	"encoding/json"
	"fmt"

	"chatforge/internal/observability"
)

// preferencesConfigKey is the legacy config-store key holding the whole
// flat preferences map.
const preferencesConfigKey = "preferences"

// NewPreferencesMigrator builds the migrator for the legacy key-value
// preferences store, run first since no other migrator depends on it.
func NewPreferencesMigrator() Migrator {
	state := &preferencesMigratorState{}
	return Migrator{
		ID:           "preferences",
		Name:         "Preferences",
		Description:  "Migrates flat app preferences from the legacy config store",
		Order:        10,
		TargetTables: []string{"preferences"},
		Prepare:      state.prepare,
		Execute:      state.execute,
		Validate:     state.validate,
	}
}

type preferencesMigratorState struct {
	values map[string]json.RawMessage
}

func (s *preferencesMigratorState) prepare(_ context.Context, mc *Context) (PrepareResult, error) {
	raw, ok, err := mc.Sources.ConfigStore.Get(preferencesConfigKey)
	if err != nil {
		return PrepareResult{}, fmt.Errorf("preferences migrator: reading config: %w", err)
	}
	if !ok {
		return PrepareResult{Success: true, ItemCount: 0, Warnings: []string{"no preferences record found in config store"}}, nil
	}

	var values map[string]json.RawMessage
	if err := json.Unmarshal(raw, &values); err != nil {
		return PrepareResult{}, fmt.Errorf("preferences migrator: preferences record is not a flat object: %w", err)
	}
	s.values = values
	return PrepareResult{Success: true, ItemCount: len(values)}, nil
}

func (s *preferencesMigratorState) execute(ctx context.Context, mc *Context) (ExecuteResult, error) {
	log := observability.Component("migration.preferences")
	processed := 0
	for key, value := range s.values {
		if err := mc.DB.UpsertPreference(ctx, key, []byte(value), 0); err != nil {
			return ExecuteResult{Err: err}, err
		}
		processed++
	}
	log.Info().Int("count", processed).Msg("preferences migration execute complete")
	return ExecuteResult{Success: true, ProcessedCount: processed}, nil
}

func (s *preferencesMigratorState) validate(ctx context.Context, mc *Context) (ValidateResult, error) {
	targetCount, err := mc.DB.CountRows(ctx, "preferences")
	if err != nil {
		return ValidateResult{}, err
	}
	stats := ValidationStats{SourceCount: len(s.values), TargetCount: targetCount}
	if targetCount < len(s.values) {
		stats.MismatchReason = fmt.Sprintf("expected %d preferences, found %d", len(s.values), targetCount)
		return ValidateResult{Success: false, Errors: []string{stats.MismatchReason}, Stats: stats}, nil
	}
	return ValidateResult{Success: true, Stats: stats}, nil
}
