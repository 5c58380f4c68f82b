// Package controller implements the Migration Orchestration Controller
// (C9): the UI-facing state machine that drives a migration run from
// introduction through backup through execution to completion, broadcasting
// progress snapshots to subscribers.
package controller

import (
	"context"
	"sync"

	"chatforge/internal/migration/migrator"
	"chatforge/internal/observability"
)

// Stage is one state of the controller's state machine (spec.md §4.9).
type Stage string

const (
	StageIntroduction    Stage = "introduction"
	StageBackupRequired  Stage = "backup_required"
	StageBackupProgress  Stage = "backup_progress"
	StageBackupConfirmed Stage = "backup_confirmed"
	StageMigration       Stage = "migration"
	StageCompleted       Stage = "completed"
	StageError           Stage = "error"
)

// MigratorStatus is one entry in a snapshot's migrators list.
type MigratorStatus struct {
	ID     string
	Name   string
	Status string // "pending" | "running" | "completed" | "failed"
}

// Snapshot is one progress broadcast (spec.md §4.9).
type Snapshot struct {
	Stage           Stage
	OverallProgress int
	CurrentMessage  string
	Migrators       []MigratorStatus
	Error           string
}

// BackupFunc performs the user-initiated backup step (e.g. copying the
// legacy export aside) and reports success/failure.
type BackupFunc func(ctx context.Context) error

// RestartFunc relaunches the application (production) or tells the
// development harness to show-and-quit, per spec.md §4.9.
type RestartFunc func()

// Controller drives the state machine and fans snapshots out to
// subscribers. It owns the cached legacy persisted-state bytes and export
// directory path across the backup→migration transition, since re-reading
// either from disk a second time is both wasteful and racy against a
// concurrent legacy-app write.
type Controller struct {
	mu    sync.Mutex
	stage Stage

	cachedLegacyPersistedState []byte
	cachedExportDir            string
	migratorNames              []MigratorStatus

	subscribers []chan Snapshot

	engine  *migrator.Engine
	backup  BackupFunc
	restart RestartFunc

	isDev      bool
	lastResult migrator.RunResult
}

// New builds a controller in the introduction stage.
func New(engine *migrator.Engine, backup BackupFunc, restart RestartFunc, isDev bool) *Controller {
	return &Controller{
		stage:   StageIntroduction,
		engine:  engine,
		backup:  backup,
		restart: restart,
		isDev:   isDev,
	}
}

// Subscribe returns a channel receiving every future snapshot, starting
// with the controller's current state. Closing the returned stop function
// unsubscribes and closes the channel.
func (c *Controller) Subscribe() (ch <-chan Snapshot, stop func()) {
	c.mu.Lock()
	sub := make(chan Snapshot, 16)
	c.subscribers = append(c.subscribers, sub)
	snapshot := c.snapshotLocked("")
	c.mu.Unlock()

	sub <- snapshot

	stopFn := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subscribers {
			if s == sub {
				c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
				close(sub)
				return
			}
		}
	}
	return sub, stopFn
}

func (c *Controller) broadcast(message string) {
	snapshot := c.snapshotLocked(message)
	for _, sub := range c.subscribers {
		select {
		case sub <- snapshot:
		default:
			// a slow subscriber does not block the state machine; it will
			// see a later snapshot instead.
		}
	}
}

func (c *Controller) snapshotLocked(message string) Snapshot {
	s := Snapshot{
		Stage:           c.stage,
		CurrentMessage:  message,
		Migrators:       append([]MigratorStatus(nil), c.migratorNames...),
		OverallProgress: overallProgress(c.stage),
	}
	return s
}

func overallProgress(stage Stage) int {
	switch stage {
	case StageIntroduction:
		return 0
	case StageBackupRequired, StageBackupProgress:
		return 10
	case StageBackupConfirmed:
		return 20
	case StageMigration:
		return 50
	case StageCompleted:
		return 100
	default:
		return 0
	}
}

// Proceed transitions introduction → backup_required.
func (c *Controller) Proceed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stage != StageIntroduction {
		return
	}
	c.stage = StageBackupRequired
	c.broadcast("")
}

// RunBackup transitions backup_required → backup_progress, runs the backup
// function, then moves to backup_confirmed on success or back to
// backup_required on cancel/failure.
func (c *Controller) RunBackup(ctx context.Context) {
	c.mu.Lock()
	if c.stage != StageBackupRequired {
		c.mu.Unlock()
		return
	}
	c.stage = StageBackupProgress
	c.broadcast("running backup")
	backupFn := c.backup
	c.mu.Unlock()

	var err error
	if backupFn != nil {
		err = backupFn(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.stage = StageBackupRequired
		c.broadcast("backup failed: " + err.Error())
		return
	}
	c.stage = StageBackupConfirmed
	c.broadcast("backup confirmed")
}

// CacheLegacyState stashes the persisted-state bytes and export directory
// path read during the backup step, so Start's migration run does not need
// to re-open either.
func (c *Controller) CacheLegacyState(persistedState []byte, exportDir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cachedLegacyPersistedState = persistedState
	c.cachedExportDir = exportDir
}

// CachedLegacyPersistedState returns the cached persisted-state bytes.
func (c *Controller) CachedLegacyPersistedState() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cachedLegacyPersistedState
}

// CachedExportDir returns the cached export directory path.
func (c *Controller) CachedExportDir() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cachedExportDir
}

// Start transitions backup_confirmed → migration and runs the engine,
// updating stage to completed or error when it finishes. It blocks until
// the run finishes; callers that want the state machine to run
// concurrently with the rest of the app should invoke it in a goroutine.
func (c *Controller) Start(ctx context.Context, sources migrator.Sources, db migrator.TargetDB) {
	c.mu.Lock()
	if c.stage != StageBackupConfirmed {
		c.mu.Unlock()
		return
	}
	c.stage = StageMigration
	c.broadcast("starting migration")
	c.mu.Unlock()

	log := observability.Component("migration.controller")
	result, err := c.engine.Run(ctx, sources, db, c.onEngineProgress)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastResult = result
	if err != nil {
		log.Error().Err(err).Msg("migration run failed")
		c.stage = StageError
		c.broadcast(err.Error())
		return
	}
	c.stage = StageCompleted
	c.broadcast("migration complete")
}

func (c *Controller) onEngineProgress(percent int, message string, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := c.snapshotLocked(message)
	snapshot.OverallProgress = percent
	for _, sub := range c.subscribers {
		select {
		case sub <- snapshot:
		default:
		}
	}
}

// Retry transitions error → backup_confirmed, per spec.md §4.9.
func (c *Controller) Retry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stage != StageError {
		return
	}
	c.stage = StageBackupConfirmed
	c.broadcast("retrying")
}

// Restart relaunches the app (production) or signals show-and-quit
// (development), delegating to the constructor-supplied RestartFunc.
func (c *Controller) Restart() {
	log := observability.Component("migration.controller")
	if c.isDev {
		log.Info().Msg("development restart: showing completion screen instead of relaunching")
	} else {
		log.Info().Msg("relaunching application after migration")
	}
	if c.restart != nil {
		c.restart()
	}
}

// Stage returns the controller's current stage.
func (c *Controller) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// LastResult returns the most recent engine run's per-migrator results, for
// callers (cmd/migrate) that want a stats summary after Start returns.
func (c *Controller) LastResult() migrator.RunResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResult
}
