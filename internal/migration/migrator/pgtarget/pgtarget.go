// Package pgtarget is the pgx-backed implementation of migrator.TargetDB —
// "the embedded relational database driver" spec.md §1 names only by
// interface. Schema and pool conventions are adapted from the teacher's
// Postgres chat store (CREATE TABLE IF NOT EXISTS, a pool with conservative
// connection limits, per-batch transactions).
package pgtarget

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatforge/internal/migration/migrator"
)

// Store is a pgx-pool-backed migrator.TargetDB.
type Store struct {
	pool *pgxpool.Pool
}

// Open parses dsn, opens a pool with conservative defaults, pings it, and
// creates the new-schema tables if they do not already exist.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing target dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening target pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging target pool: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS topics (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    is_name_manually_edited BOOLEAN NOT NULL DEFAULT FALSE,
    assistant_id TEXT NOT NULL DEFAULT '',
    prompt TEXT NOT NULL DEFAULT '',
    active_node_id TEXT NOT NULL DEFAULT '',
    sort_order INTEGER NOT NULL DEFAULT 0,
    is_pinned BOOLEAN NOT NULL DEFAULT FALSE,
    pinned_order INTEGER NOT NULL DEFAULT 0,
    created_at BIGINT NOT NULL DEFAULT 0,
    updated_at BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    parent_id TEXT NOT NULL DEFAULT '',
    topic_id TEXT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    blocks JSONB NOT NULL DEFAULT '[]',
    searchable_text TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'success',
    siblings_group_id INTEGER NOT NULL DEFAULT 0,
    assistant_id TEXT NOT NULL DEFAULT '',
    model_id TEXT NOT NULL DEFAULT '',
    trace_id TEXT NOT NULL DEFAULT '',
    stats JSONB,
    created_at BIGINT NOT NULL DEFAULT 0,
    updated_at BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS messages_topic_idx ON messages(topic_id);

CREATE TABLE IF NOT EXISTS preferences (
    key TEXT PRIMARY KEY,
    value JSONB NOT NULL,
    updated_at BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS assistants (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    prompt TEXT NOT NULL DEFAULT '',
    default_model TEXT NOT NULL DEFAULT '',
    emoji TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL DEFAULT 0,
    updated_at BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS knowledge_notes (
    id TEXT PRIMARY KEY,
    assistant_id TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    source_url TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL DEFAULT 0,
    updated_at BIGINT NOT NULL DEFAULT 0
);
`)
	return err
}

func (s *Store) BeginTx(ctx context.Context) (migrator.Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

func (s *Store) CountRows(ctx context.Context, table string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", pgx.Identifier{table}.Sanitize())).Scan(&n)
	return n, err
}

func (s *Store) ClearTable(ctx context.Context, table string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", pgx.Identifier{table}.Sanitize()))
	return err
}

func (s *Store) UpsertPreference(ctx context.Context, key string, value []byte, updatedAt int64) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO preferences (key, value, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, updatedAt)
	return err
}

func (s *Store) UpsertAssistant(ctx context.Context, row migrator.AssistantRow) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO assistants (id, name, prompt, default_model, emoji, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    prompt = EXCLUDED.prompt,
    default_model = EXCLUDED.default_model,
    emoji = EXCLUDED.emoji,
    updated_at = EXCLUDED.updated_at`,
		row.ID, row.Name, row.Prompt, row.DefaultModel, row.Emoji, row.CreatedAt, row.UpdatedAt)
	return err
}

func (s *Store) UpsertKnowledgeNote(ctx context.Context, row migrator.KnowledgeNoteRow) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO knowledge_notes (id, assistant_id, content, source_url, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    assistant_id = EXCLUDED.assistant_id,
    content = EXCLUDED.content,
    source_url = EXCLUDED.source_url,
    updated_at = EXCLUDED.updated_at`,
		row.ID, row.AssistantID, row.Content, row.SourceURL, row.CreatedAt, row.UpdatedAt)
	return err
}

func (s *Store) FindOrphanMessages(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT m.id FROM messages m
LEFT JOIN topics t ON t.id = m.topic_id
WHERE t.id IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertTopic(ctx context.Context, topic migrator.NewTopicRow) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO topics (id, name, is_name_manually_edited, assistant_id, prompt, active_node_id, sort_order, is_pinned, pinned_order, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    is_name_manually_edited = EXCLUDED.is_name_manually_edited,
    assistant_id = EXCLUDED.assistant_id,
    prompt = EXCLUDED.prompt,
    active_node_id = EXCLUDED.active_node_id,
    sort_order = EXCLUDED.sort_order,
    is_pinned = EXCLUDED.is_pinned,
    pinned_order = EXCLUDED.pinned_order,
    updated_at = EXCLUDED.updated_at`,
		topic.ID, topic.Name, topic.IsNameManuallyEdited, topic.AssistantID, topic.Prompt,
		topic.ActiveNodeID, topic.SortOrder, topic.IsPinned, topic.PinnedOrder, topic.CreatedAt, topic.UpdatedAt)
	return err
}

func (t *pgTx) InsertMessages(ctx context.Context, messages []migrator.NewMessageRow) error {
	for _, m := range messages {
		blocksJSON, err := json.Marshal(m.Blocks)
		if err != nil {
			return fmt.Errorf("marshaling blocks for message %s: %w", m.ID, err)
		}
		var statsJSON []byte
		if m.Stats != nil {
			statsJSON, err = json.Marshal(m.Stats)
			if err != nil {
				return fmt.Errorf("marshaling stats for message %s: %w", m.ID, err)
			}
		}
		if _, err := t.tx.Exec(ctx, `
INSERT INTO messages (id, parent_id, topic_id, role, blocks, searchable_text, status, siblings_group_id, assistant_id, model_id, trace_id, stats, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO NOTHING`,
			m.ID, m.ParentID, m.TopicID, m.Role, blocksJSON, m.SearchableText, m.Status,
			m.SiblingsGroupID, m.AssistantID, m.ModelID, m.TraceID, statsJSON, m.CreatedAt, m.UpdatedAt); err != nil {
			return fmt.Errorf("inserting message %s: %w", m.ID, err)
		}
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }
