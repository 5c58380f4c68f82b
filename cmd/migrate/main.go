/*
migrate runs the one-shot legacy-to-relational data migration: it reads the
exported-tables directory and persisted-state snapshot produced by the
legacy desktop build, merges them with the flat preferences config store,
and writes topics, messages, preferences, assistants and knowledge notes
into the new schema.

Usage:

	go run cmd/migrate/main.go [flags]

Flags:

	-workdir string
	    Base directory holding export/, persisted-state.json and
	    config-store.json (required, or via WORKDIR env)
	-dsn string
	    PostgreSQL connection string (required unless -dry-run, or via
	    MIGRATION_TARGET_DSN env)
	-status-path string
	    Path to the migration status JSON file (default <workdir>/app-state.json)
	-dry-run
	    Run against an in-memory target instead of Postgres and leave the
	    legacy export untouched
	-yes
	    Skip the interactive backup confirmation prompt
	-verbose
	    Print every stage transition, not just the final summary

Example:

	go run cmd/migrate/main.go -workdir /data/legacy -dsn "postgres://..." -yes
*/
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"chatforge/internal/migration/controller"
	"chatforge/internal/migration/migrator"
	"chatforge/internal/migration/migrator/memtarget"
	"chatforge/internal/migration/migrator/pgtarget"
	"chatforge/internal/migration/source"
	"chatforge/internal/observability"
)

func main() {
	workdir := flag.String("workdir", os.Getenv("WORKDIR"), "Base workdir holding export/, persisted-state.json, config-store.json (WORKDIR env)")
	dsn := flag.String("dsn", os.Getenv("MIGRATION_TARGET_DSN"), "Postgres DSN (MIGRATION_TARGET_DSN env)")
	statusPath := flag.String("status-path", os.Getenv("MIGRATION_STATUS_PATH"), "Path to the migration status file (defaults to <workdir>/app-state.json)")
	dryRun := flag.Bool("dry-run", false, "Run against an in-memory target, skip Postgres and leave the export in place")
	yes := flag.Bool("yes", false, "Skip the interactive backup confirmation prompt")
	verbose := flag.Bool("verbose", false, "Print every stage transition")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	if *workdir == "" {
		fmt.Fprintln(os.Stderr, "error: -workdir or WORKDIR env required")
		os.Exit(1)
	}
	if *dsn == "" && !*dryRun {
		fmt.Fprintln(os.Stderr, "error: -dsn or MIGRATION_TARGET_DSN env required (or pass -dry-run)")
		os.Exit(1)
	}
	if *statusPath == "" {
		*statusPath = filepath.Join(*workdir, "app-state.json")
	}

	if err := observability.InitLogger("", *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "error: init logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := run(ctx, *workdir, *dsn, *statusPath, *dryRun, *yes, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, workdir, dsn, statusPath string, dryRun, autoConfirm, verbose bool) error {
	exportDir := filepath.Join(workdir, "export")
	persistedStatePath := filepath.Join(workdir, "persisted-state.json")
	configStorePath := filepath.Join(workdir, "config-store.json")

	persistedStateBytes, err := os.ReadFile(persistedStatePath)
	if err != nil {
		return fmt.Errorf("reading persisted state: %w", err)
	}
	persistedState, err := source.NewPersistedStateReader(persistedStateBytes)
	if err != nil {
		return fmt.Errorf("parsing persisted state: %w", err)
	}

	configStore, err := newFileConfigStore(configStorePath)
	if err != nil {
		return fmt.Errorf("reading config store: %w", err)
	}

	tables := source.NewExportedTableReader(exportDir)

	sources := migrator.Sources{
		ExportDir:      exportDir,
		ConfigStore:    migrator.ConfigStoreAdapter{Store: configStore},
		PersistedState: migrator.PersistedStateAdapter{Reader: persistedState},
		Tables:         migrator.ExportedTableAdapter{Reader: tables},
	}
	if dryRun {
		// Engine.Run removes Sources.ExportDir after a successful run.
		sources.ExportDir = ""
	}

	var db migrator.TargetDB
	if dryRun {
		db = memtarget.New()
	} else {
		store, err := pgtarget.Open(ctx, dsn)
		if err != nil {
			return fmt.Errorf("connecting to target database: %w", err)
		}
		defer store.Close()
		db = store
	}

	status := source.NewAppStateStore(statusPath)
	engine := migrator.NewEngine(migrator.StatusStoreAdapter{Store: status})
	engine.Register(
		migrator.NewPreferencesMigrator(),
		migrator.NewAssistantsMigrator(),
		migrator.NewKnowledgeMigrator(),
		migrator.NewChatMigrator(),
	)

	needsMigration, err := engine.NeedsMigration()
	if err != nil {
		return fmt.Errorf("checking migration status: %w", err)
	}
	if !needsMigration {
		fmt.Println("Migration already completed, nothing to do.")
		return nil
	}

	backupFn := func(ctx context.Context) error {
		if dryRun {
			return nil
		}
		return backupExportDir(exportDir)
	}
	restartFn := func() {}

	ctrl := controller.New(engine, backupFn, restartFn, dryRun)
	ch, stop := ctrl.Subscribe()
	defer stop()

	go func() {
		for snapshot := range ch {
			if verbose || snapshot.Stage == controller.StageError {
				fmt.Printf("[%s] %d%% %s\n", snapshot.Stage, snapshot.OverallProgress, snapshot.CurrentMessage)
			}
		}
	}()

	ctrl.Proceed()

	if !autoConfirm {
		fmt.Print("A backup of the legacy export will be made before migrating. Continue? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		if line != "y\n" && line != "Y\n" && line != "yes\n" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	ctrl.RunBackup(ctx)
	if ctrl.Stage() != controller.StageBackupConfirmed {
		return fmt.Errorf("backup did not complete, aborting")
	}

	ctrl.Start(ctx, sources, db)

	result := ctrl.LastResult()
	printSummary(result, ctrl.Stage())

	if ctrl.Stage() == controller.StageError {
		return fmt.Errorf("migration failed")
	}
	return nil
}

func printSummary(result migrator.RunResult, finalStage controller.Stage) {
	fmt.Println("\n--- Migration Summary ---")
	for _, r := range result.MigratorResults {
		fmt.Printf("%-14s prepared=%-6d processed=%-6d target=%-6d status=%s\n",
			r.ID, r.Prepare.ItemCount, r.Execute.ProcessedCount, r.Validate.Stats.TargetCount, statusWord(r.Validate.Success))
	}
	fmt.Printf("\nFinal stage: %s\n", finalStage)
}

func statusWord(success bool) string {
	if success {
		return "ok"
	}
	return "failed"
}

// backupExportDir copies the exported-tables directory next to itself as
// export.bak, so a failed migration can be retried against the original
// export rather than whatever partial state a crash left behind.
func backupExportDir(exportDir string) error {
	backupDir := exportDir + ".bak"
	if _, err := os.Stat(backupDir); err == nil {
		return nil
	}
	entries, err := os.ReadDir(exportDir)
	if err != nil {
		return fmt.Errorf("reading export dir: %w", err)
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return fmt.Errorf("creating backup dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(exportDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		if err := os.WriteFile(filepath.Join(backupDir, entry.Name()), data, 0o644); err != nil {
			return fmt.Errorf("writing backup of %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// fileConfigStore is a minimal get-by-key reader over a single flat JSON
// object file, standing in for the legacy key-value configuration store
// (named only by interface; out of scope beyond that contract).
type fileConfigStore struct {
	values map[string]json.RawMessage
}

func newFileConfigStore(path string) (*fileConfigStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileConfigStore{values: map[string]json.RawMessage{}}, nil
		}
		return nil, err
	}
	var values map[string]json.RawMessage
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("config store is not a flat JSON object: %w", err)
	}
	return &fileConfigStore{values: values}, nil
}

func (f *fileConfigStore) Get(key string) (json.RawMessage, bool, error) {
	v, ok := f.values[key]
	return v, ok, nil
}
