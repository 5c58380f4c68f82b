// Package memtarget is an in-memory migrator.TargetDB used by migrator unit
// tests and by cmd/migrate's --dry-run mode, so a real Postgres instance is
// never required to exercise prepare/execute/validate logic.
package memtarget

import (
	"context"
	"fmt"
	"sync"

	"chatforge/internal/migration/migrator"
)

// Store is a goroutine-safe in-memory migrator.TargetDB.
type Store struct {
	mu          sync.Mutex
	topics      map[string]migrator.NewTopicRow
	messages    map[string]migrator.NewMessageRow
	preferences map[string][]byte
	assistants  map[string]migrator.AssistantRow
	knowledge   map[string]migrator.KnowledgeNoteRow
}

// New returns an empty in-memory target.
func New() *Store {
	return &Store{
		topics:      map[string]migrator.NewTopicRow{},
		messages:    map[string]migrator.NewMessageRow{},
		preferences: map[string][]byte{},
		assistants:  map[string]migrator.AssistantRow{},
		knowledge:   map[string]migrator.KnowledgeNoteRow{},
	}
}

func (s *Store) BeginTx(context.Context) (migrator.Tx, error) {
	return &memTx{store: s}, nil
}

func (s *Store) CountRows(_ context.Context, table string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch table {
	case "topics":
		return len(s.topics), nil
	case "messages":
		return len(s.messages), nil
	case "preferences":
		return len(s.preferences), nil
	case "assistants":
		return len(s.assistants), nil
	case "knowledge_notes":
		return len(s.knowledge), nil
	default:
		return 0, fmt.Errorf("memtarget: unknown table %q", table)
	}
}

func (s *Store) ClearTable(_ context.Context, table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch table {
	case "topics":
		s.topics = map[string]migrator.NewTopicRow{}
	case "messages":
		s.messages = map[string]migrator.NewMessageRow{}
	case "preferences":
		s.preferences = map[string][]byte{}
	case "assistants":
		s.assistants = map[string]migrator.AssistantRow{}
	case "knowledge_notes":
		s.knowledge = map[string]migrator.KnowledgeNoteRow{}
	default:
		return fmt.Errorf("memtarget: unknown table %q", table)
	}
	return nil
}

func (s *Store) UpsertPreference(_ context.Context, key string, value []byte, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[key] = value
	return nil
}

func (s *Store) UpsertAssistant(_ context.Context, row migrator.AssistantRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assistants[row.ID] = row
	return nil
}

func (s *Store) UpsertKnowledgeNote(_ context.Context, row migrator.KnowledgeNoteRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.knowledge[row.ID] = row
	return nil
}

// Assistants returns a snapshot of the stored assistants, for test assertions.
func (s *Store) Assistants() map[string]migrator.AssistantRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]migrator.AssistantRow, len(s.assistants))
	for k, v := range s.assistants {
		out[k] = v
	}
	return out
}

// KnowledgeNotes returns a snapshot of the stored knowledge notes, for test
// assertions.
func (s *Store) KnowledgeNotes() map[string]migrator.KnowledgeNoteRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]migrator.KnowledgeNoteRow, len(s.knowledge))
	for k, v := range s.knowledge {
		out[k] = v
	}
	return out
}

func (s *Store) FindOrphanMessages(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, m := range s.messages {
		if _, ok := s.topics[m.TopicID]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// Topics returns a snapshot of the stored topics, for test assertions.
func (s *Store) Topics() map[string]migrator.NewTopicRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]migrator.NewTopicRow, len(s.topics))
	for k, v := range s.topics {
		out[k] = v
	}
	return out
}

// Messages returns a snapshot of the stored messages, for test assertions.
func (s *Store) Messages() map[string]migrator.NewMessageRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]migrator.NewMessageRow, len(s.messages))
	for k, v := range s.messages {
		out[k] = v
	}
	return out
}

type memTx struct {
	store      *Store
	topics     []migrator.NewTopicRow
	messages   []migrator.NewMessageRow
	rolledBack bool
	committed  bool
}

func (t *memTx) InsertTopic(_ context.Context, topic migrator.NewTopicRow) error {
	t.topics = append(t.topics, topic)
	return nil
}

func (t *memTx) InsertMessages(_ context.Context, messages []migrator.NewMessageRow) error {
	t.messages = append(t.messages, messages...)
	return nil
}

func (t *memTx) Commit(context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, topic := range t.topics {
		t.store.topics[topic.ID] = topic
	}
	for _, m := range t.messages {
		t.store.messages[m.ID] = m
	}
	t.committed = true
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}
