package migrator

import (
	"context"
	"fmt"
	"os"
	"sort"

	"golang.org/x/sync/singleflight"

	"chatforge/internal/observability"
)

// engineVersion is stamped into the persisted status record on completion.
const engineVersion = "2.0.0"

// Engine registers migrators and runs them in order, enforcing fail-fast
// count-validated semantics (spec §4.4 "Engine contract").
type Engine struct {
	migrators []Migrator
	status    StatusStore

	needsMigrationGroup singleflight.Group
}

// NewEngine builds an engine backed by the given status store.
func NewEngine(status StatusStore) *Engine {
	return &Engine{status: status}
}

// Register adds migrators to the engine and keeps the set sorted ascending
// by Order, so Run always executes them in a stable, explicit sequence.
func (e *Engine) Register(migrators ...Migrator) {
	e.migrators = append(e.migrators, migrators...)
	sort.SliceStable(e.migrators, func(i, j int) bool {
		return e.migrators[i].Order < e.migrators[j].Order
	})
}

// NeedsMigration reports whether a run is required: true when no status
// record exists yet, or the last recorded run did not complete
// successfully. A fresh install (no status record at all) is treated as
// "needs migration" rather than an error. Concurrent callers (the CLI's
// startup check and the controller's own check, say) collapse onto one
// status-store read via singleflight rather than each hitting disk.
func (e *Engine) NeedsMigration() (bool, error) {
	v, err, _ := e.needsMigrationGroup.Do("needs-migration", func() (any, error) {
		status, ok, err := e.status.ReadStatus()
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		return status.Status != StatusCompleted, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// RunResult summarizes one engine run for callers (cmd/migrate, controller).
type RunResult struct {
	MigratorResults []MigratorRunResult
}

// MigratorRunResult captures one migrator's outcome within a run.
type MigratorRunResult struct {
	ID         string
	Prepare    PrepareResult
	Execute    ExecuteResult
	Validate   ValidateResult
	SourceRoot string
}

// Run executes every registered migrator in order: prepare, then execute,
// then validate, aborting the whole run (fail-fast) on the first failure.
// exportDir is removed once every migrator has validated successfully.
func (e *Engine) Run(ctx context.Context, sources Sources, db TargetDB, progress ProgressFunc) (RunResult, error) {
	log := observability.Component("migration.engine")

	if err := e.clearTargetTables(ctx, db); err != nil {
		e.markFailed(err)
		return RunResult{}, err
	}

	mc := &Context{
		Sources:    sources,
		DB:         db,
		SharedData: map[string]any{},
		Progress:   progress,
	}

	if err := e.status.WriteStatus(Status{Status: StatusInProgress, Version: engineVersion}); err != nil {
		log.Warn().Err(err).Msg("failed to persist in_progress status")
	}

	result := RunResult{}
	for _, m := range e.migrators {
		log.Info().Str("migrator", m.ID).Int("order", m.Order).Msg("running migrator")

		prep, err := m.Prepare(ctx, mc)
		if err == nil && !prep.Success {
			err = fmt.Errorf("migrator %s: prepare reported failure", m.ID)
		}
		if err != nil {
			abortErr := &AbortRequestedError{Migrator: m.ID, Cause: err}
			e.markFailed(abortErr)
			return result, abortErr
		}

		exec, err := m.Execute(ctx, mc)
		if err == nil && exec.Err != nil {
			err = exec.Err
		}
		if err == nil && !exec.Success {
			err = fmt.Errorf("migrator %s: execute reported failure", m.ID)
		}
		if err != nil {
			abortErr := &AbortRequestedError{Migrator: m.ID, Cause: err}
			e.markFailed(abortErr)
			return result, abortErr
		}

		val, err := m.Validate(ctx, mc)
		if err == nil && !val.Success {
			err = &ValidationError{Migrator: m.ID, Reasons: val.Errors}
		}
		if err != nil {
			abortErr := &AbortRequestedError{Migrator: m.ID, Cause: err}
			e.markFailed(abortErr)
			return result, abortErr
		}

		result.MigratorResults = append(result.MigratorResults, MigratorRunResult{
			ID: m.ID, Prepare: prep, Execute: exec, Validate: val,
		})
	}

	if err := e.status.WriteStatus(Status{Status: StatusCompleted, Version: engineVersion}); err != nil {
		log.Warn().Err(err).Msg("failed to persist completed status")
	}

	if sources.ExportDir != "" {
		if err := os.RemoveAll(sources.ExportDir); err != nil {
			log.Warn().Err(err).Str("dir", sources.ExportDir).Msg("failed to remove exported-tables directory")
		}
	}

	return result, nil
}

// clearTargetTables clears every migrator's declared target tables in
// reverse registration order, so a table with dependents is cleared before
// the tables it depends on.
func (e *Engine) clearTargetTables(ctx context.Context, db TargetDB) error {
	for i := len(e.migrators) - 1; i >= 0; i-- {
		for _, table := range e.migrators[i].TargetTables {
			n, err := db.CountRows(ctx, table)
			if err != nil {
				return fmt.Errorf("counting table %s: %w", table, err)
			}
			if n > 0 {
				observability.Component("migration.engine").Info().
					Str("table", table).Int("existing_rows", n).
					Msg("clearing pre-existing rows before migration")
			}
			if err := db.ClearTable(ctx, table); err != nil {
				return fmt.Errorf("clearing table %s: %w", table, err)
			}
		}
	}
	return nil
}

func (e *Engine) markFailed(cause error) {
	msg := cause.Error()
	if err := e.status.WriteStatus(Status{Status: StatusFailed, Version: engineVersion, Error: &msg}); err != nil {
		observability.Component("migration.engine").Warn().Err(err).Msg("failed to persist failed status")
	}
}
