package migrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	topics   *[]NewTopicRow
	messages *[]NewMessageRow
}

func (t *fakeTx) InsertTopic(_ context.Context, topic NewTopicRow) error {
	*t.topics = append(*t.topics, topic)
	return nil
}

func (t *fakeTx) InsertMessages(_ context.Context, messages []NewMessageRow) error {
	*t.messages = append(*t.messages, messages...)
	return nil
}

func (t *fakeTx) Commit(_ context.Context) error   { return nil }
func (t *fakeTx) Rollback(_ context.Context) error { return nil }

type fakeDB struct {
	rows    map[string]int
	cleared []string
	topics  []NewTopicRow
	msgs    []NewMessageRow
}

func newFakeDB() *fakeDB { return &fakeDB{rows: map[string]int{}} }

func (d *fakeDB) BeginTx(context.Context) (Tx, error) {
	return &fakeTx{topics: &d.topics, messages: &d.msgs}, nil
}

func (d *fakeDB) CountRows(_ context.Context, table string) (int, error) {
	if table == "messages" {
		return len(d.msgs), nil
	}
	if table == "topics" {
		return len(d.topics), nil
	}
	return d.rows[table], nil
}

func (d *fakeDB) ClearTable(_ context.Context, table string) error {
	d.cleared = append(d.cleared, table)
	d.rows[table] = 0
	if table == "messages" {
		d.msgs = nil
	}
	if table == "topics" {
		d.topics = nil
	}
	return nil
}

func (d *fakeDB) UpsertPreference(context.Context, string, []byte, int64) error { return nil }

func (d *fakeDB) UpsertAssistant(context.Context, AssistantRow) error { return nil }

func (d *fakeDB) UpsertKnowledgeNote(context.Context, KnowledgeNoteRow) error { return nil }

func (d *fakeDB) FindOrphanMessages(context.Context) ([]string, error) { return nil, nil }

type fakeStatusStore struct {
	status Status
	exists bool
}

func (f *fakeStatusStore) ReadStatus() (Status, bool, error) { return f.status, f.exists, nil }

func (f *fakeStatusStore) WriteStatus(status Status) error {
	f.status = status
	f.exists = true
	return nil
}

func TestEngineNeedsMigrationFreshInstall(t *testing.T) {
	store := &fakeStatusStore{}
	e := NewEngine(store)
	needs, err := e.NeedsMigration()
	require.NoError(t, err)
	require.True(t, needs)
}

func TestEngineNeedsMigrationAlreadyCompleted(t *testing.T) {
	store := &fakeStatusStore{status: Status{Status: StatusCompleted}, exists: true}
	e := NewEngine(store)
	needs, err := e.NeedsMigration()
	require.NoError(t, err)
	require.False(t, needs)
}

func TestEngineRegisterSortsByOrder(t *testing.T) {
	e := NewEngine(&fakeStatusStore{})
	e.Register(
		Migrator{ID: "b", Order: 2},
		Migrator{ID: "a", Order: 1},
		Migrator{ID: "c", Order: 3},
	)
	require.Equal(t, []string{"a", "b", "c"}, []string{e.migrators[0].ID, e.migrators[1].ID, e.migrators[2].ID})
}

func TestEngineRunSuccess(t *testing.T) {
	db := newFakeDB()
	store := &fakeStatusStore{}
	e := NewEngine(store)

	ran := []string{}
	e.Register(Migrator{
		ID: "prefs", Order: 1, TargetTables: []string{"preferences"},
		Prepare: func(context.Context, *Context) (PrepareResult, error) {
			ran = append(ran, "prepare")
			return PrepareResult{Success: true, ItemCount: 1}, nil
		},
		Execute: func(context.Context, *Context) (ExecuteResult, error) {
			ran = append(ran, "execute")
			return ExecuteResult{Success: true, ProcessedCount: 1}, nil
		},
		Validate: func(context.Context, *Context) (ValidateResult, error) {
			ran = append(ran, "validate")
			return ValidateResult{Success: true, Stats: ValidationStats{SourceCount: 1, TargetCount: 1}}, nil
		},
	})

	result, err := e.Run(context.Background(), Sources{}, db, nil)
	require.NoError(t, err)
	require.Len(t, result.MigratorResults, 1)
	require.Equal(t, []string{"prepare", "execute", "validate"}, ran)
	require.Equal(t, StatusCompleted, store.status.Status)
	require.Contains(t, db.cleared, "preferences")
}

func TestEngineRunAbortsOnValidationFailure(t *testing.T) {
	db := newFakeDB()
	store := &fakeStatusStore{}
	e := NewEngine(store)

	secondRan := false
	e.Register(
		Migrator{
			ID: "first", Order: 1,
			Prepare:  func(context.Context, *Context) (PrepareResult, error) { return PrepareResult{Success: true}, nil },
			Execute:  func(context.Context, *Context) (ExecuteResult, error) { return ExecuteResult{Success: true}, nil },
			Validate: func(context.Context, *Context) (ValidateResult, error) { return ValidateResult{Success: false, Errors: []string{"count mismatch"}}, nil },
		},
		Migrator{
			ID: "second", Order: 2,
			Prepare: func(context.Context, *Context) (PrepareResult, error) {
				secondRan = true
				return PrepareResult{Success: true}, nil
			},
			Execute:  func(context.Context, *Context) (ExecuteResult, error) { return ExecuteResult{Success: true}, nil },
			Validate: func(context.Context, *Context) (ValidateResult, error) { return ValidateResult{Success: true}, nil },
		},
	)

	_, err := e.Run(context.Background(), Sources{}, db, nil)
	require.Error(t, err)
	require.False(t, secondRan)
	require.Equal(t, StatusFailed, store.status.Status)
	require.NotNil(t, store.status.Error)
}
