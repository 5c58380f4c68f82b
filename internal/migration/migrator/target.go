package migrator

import (
	"context"

	"chatforge/internal/migration/mapping"
)

// Tx is an open transaction boundary a migrator owns for the duration of
// one batch (spec §4.4: "execute owns its own transaction boundaries").
type Tx interface {
	InsertTopic(ctx context.Context, topic NewTopicRow) error
	InsertMessages(ctx context.Context, messages []NewMessageRow) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// NewTopicRow is one row of the new-schema topics table.
type NewTopicRow struct {
	ID                   string
	Name                 string
	IsNameManuallyEdited bool
	AssistantID          string
	Prompt               string
	ActiveNodeID         string
	SortOrder            int
	IsPinned             bool
	PinnedOrder          int
	CreatedAt            int64
	UpdatedAt            int64
}

// NewMessageRow is one row of the new-schema messages table.
type NewMessageRow struct {
	ID              string
	ParentID        string
	TopicID         string
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

// TargetDB is "the embedded relational database driver" (spec §1), named
// only by interface: out of scope beyond this contract. pgtarget provides a
// pgx-backed implementation; memtarget backs unit tests.
type TargetDB interface {
	// BeginTx opens a transaction scoped to one migrator's batch.
	BeginTx(ctx context.Context) (Tx, error)

	// CountRows returns the current row count of a new-schema table, used
	// by the engine's pre-run "log counts if non-empty" check and by
	// validate's re-count.
	CountRows(ctx context.Context, table string) (int, error)

	// ClearTable deletes all rows of table, used by the engine's
	// clear-and-restart pre-check, in reverse dependency order.
	ClearTable(ctx context.Context, table string) error

	// UpsertPreference writes one key→value preference/app-state record
	// (used by the preferences migrator).
	UpsertPreference(ctx context.Context, key string, value []byte, updatedAt int64) error

	// UpsertAssistant writes one assistant profile row (used by the
	// assistants migrator).
	UpsertAssistant(ctx context.Context, row AssistantRow) error

	// UpsertKnowledgeNote writes one knowledge-note row (used by the
	// knowledge migrator).
	UpsertKnowledgeNote(ctx context.Context, row KnowledgeNoteRow) error

	// FindOrphanMessages returns message ids whose topicId does not match
	// any migrated topic, used by the chat migrator's validate phase.
	FindOrphanMessages(ctx context.Context) ([]string, error)
}

// AssistantRow is one row of the new-schema assistants table.
type AssistantRow struct {
	ID           string
	Name         string
	Prompt       string
	DefaultModel string
	Emoji        string
	CreatedAt    int64
	UpdatedAt    int64
}

// KnowledgeNoteRow is one row of the new-schema knowledge_notes table.
type KnowledgeNoteRow struct {
	ID          string
	AssistantID string
	Content     string
	SourceURL   string
	CreatedAt   int64
	UpdatedAt   int64
}

// Sources bundles the C2 source readers a migrator needs, already opened by
// the engine's caller.
type Sources struct {
	ExportDir      string
	ConfigStore    ConfigStoreReader
	PersistedState PersistedStateReader
	Tables         ExportedTableReader
}

// ConfigStoreReader mirrors source.ConfigStore, so the engine, the
// migrators and their tests depend on this narrow seam rather than on the
// source types (only adapters.go and status.go import source).
type ConfigStoreReader interface {
	Get(key string) (raw []byte, ok bool, err error)
}

// PersistedStateReader mirrors source.PersistedStateReader's read surface.
type PersistedStateReader interface {
	HasCategory(name string) bool
	GetCategory(name string) (raw []byte, ok bool)
	Get(category, dottedPath string) (any, bool)
	Categories() []string
}

// ExportedTableReader mirrors source.ExportedTableReader's read surface.
type ExportedTableReader interface {
	TableExists(name string) bool
	TableSize(name string) int64
	ReadTable(name string) ([]RawRecord, error)
	OpenStreamCount(name string) (int, error)
	OpenStreamForEachBatch(name string, batchSize int, fn func(batch []RawRecord, batchIndex int) error) (int, error)
}

// RawRecord is one undecoded record from an exported table.
type RawRecord = []byte
