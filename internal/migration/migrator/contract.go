// Package migrator implements the Migrator Contract & Engine (C4): an
// ordered prepare→execute→validate pipeline per domain migrator, with count
// validation and fail-fast semantics.
package migrator

import "context"

// ProgressFunc reports execute-phase progress: percent in [0,100], a
// human-readable message, and an optional i18n key for the UI to localize.
type ProgressFunc func(percent int, message string, i18nKey string)

// PrepareResult is what prepare(ctx) returns.
type PrepareResult struct {
	Success   bool
	ItemCount int
	Warnings  []string
}

// ExecuteResult is what execute(ctx) returns.
type ExecuteResult struct {
	Success        bool
	ProcessedCount int
	Err            error
}

// ValidationStats carries the count-validation inputs and outcome.
type ValidationStats struct {
	SourceCount    int
	TargetCount    int
	SkippedCount   int
	MismatchReason string
}

// ValidateResult is what validate(ctx) returns.
type ValidateResult struct {
	Success bool
	Errors  []string
	Stats   ValidationStats
}

// Context is the shared migration context threaded through every phase of
// every migrator: sources, the target database, a scratch space for
// cross-migrator communication, and a logger. There is deliberately no
// migrator base class — per spec §9 "No chain-of-inheritance in migrators" —
// this struct plus the three function fields on Migrator is the entire
// contract.
type Context struct {
	Sources    Sources
	DB         TargetDB
	SharedData map[string]any
	Progress   ProgressFunc
}

// Migrator is a domain-specific unit moving one category of data from
// legacy to new storage. It is a data-carrying record plus three function
// fields, not an interface implementation — the engine invokes functions
// through the record, matching the source system's retrofit of the legacy
// base-class shape.
type Migrator struct {
	ID          string
	Name        string
	Description string
	Order       int

	// TargetTables lists the new-schema tables this migrator owns, used by
	// the engine's clear-and-restart pre-check (cleared in reverse
	// registration order so dependents are cleared before their
	// dependencies).
	TargetTables []string

	Prepare  func(ctx context.Context, mc *Context) (PrepareResult, error)
	Execute  func(ctx context.Context, mc *Context) (ExecuteResult, error)
	Validate func(ctx context.Context, mc *Context) (ValidateResult, error)
}
