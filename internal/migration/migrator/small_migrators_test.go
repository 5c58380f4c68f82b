package migrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"chatforge/internal/migration/migrator/memtarget"
)

type fakeConfigStore struct {
	values map[string][]byte
}

func (f fakeConfigStore) Get(key string) ([]byte, bool, error) {
	v, ok := f.values[key]
	return v, ok, nil
}

func TestPreferencesMigrator(t *testing.T) {
	cs := fakeConfigStore{values: map[string][]byte{
		"preferences": []byte(`{"theme":"dark","fontSize":14}`),
	}}
	db := memtarget.New()
	mc := &Context{Sources: Sources{ConfigStore: cs}, DB: db}

	m := NewPreferencesMigrator()
	prep, err := m.Prepare(context.Background(), mc)
	require.NoError(t, err)
	require.Equal(t, 2, prep.ItemCount)

	exec, err := m.Execute(context.Background(), mc)
	require.NoError(t, err)
	require.Equal(t, 2, exec.ProcessedCount)

	val, err := m.Validate(context.Background(), mc)
	require.NoError(t, err)
	require.True(t, val.Success)
}

func TestAssistantsMigrator(t *testing.T) {
	tables := fakeTables{tables: map[string][]RawRecord{
		"assistants": {
			[]byte(`{"id":"a1","name":"Helper","prompt":"be nice","model":"gpt-4"}`),
		},
	}}
	db := memtarget.New()
	mc := &Context{Sources: Sources{Tables: tables}, DB: db}

	m := NewAssistantsMigrator()
	_, err := m.Prepare(context.Background(), mc)
	require.NoError(t, err)
	exec, err := m.Execute(context.Background(), mc)
	require.NoError(t, err)
	require.Equal(t, 1, exec.ProcessedCount)

	assistants := db.Assistants()
	require.Equal(t, "Helper", assistants["a1"].Name)
}

func TestKnowledgeMigrator(t *testing.T) {
	tables := fakeTables{tables: map[string][]RawRecord{
		"knowledge_notes": {
			[]byte(`{"id":"n1","assistantId":"a1","content":"some fact"}`),
		},
	}}
	db := memtarget.New()
	mc := &Context{Sources: Sources{Tables: tables}, DB: db}

	m := NewKnowledgeMigrator()
	_, err := m.Prepare(context.Background(), mc)
	require.NoError(t, err)
	exec, err := m.Execute(context.Background(), mc)
	require.NoError(t, err)
	require.Equal(t, 1, exec.ProcessedCount)

	notes := db.KnowledgeNotes()
	require.Equal(t, "some fact", notes["n1"].Content)
}
