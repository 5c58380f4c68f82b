package memtarget

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"chatforge/internal/migration/migrator"
)

func TestStoreInsertAndCommit(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertTopic(ctx, migrator.NewTopicRow{ID: "t1", Name: "Topic 1"}))
	require.NoError(t, tx.InsertMessages(ctx, []migrator.NewMessageRow{{ID: "m1", TopicID: "t1", Role: "user"}}))
	require.NoError(t, tx.Commit(ctx))

	n, err := s.CountRows(ctx, "topics")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = s.CountRows(ctx, "messages")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestStoreFindOrphanMessages(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertMessages(ctx, []migrator.NewMessageRow{{ID: "orphan", TopicID: "missing-topic"}}))
	require.NoError(t, tx.Commit(ctx))

	orphans, err := s.FindOrphanMessages(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"orphan"}, orphans)
}

func TestStoreClearTable(t *testing.T) {
	s := New()
	ctx := context.Background()
	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertTopic(ctx, migrator.NewTopicRow{ID: "t1"}))
	require.NoError(t, tx.Commit(ctx))

	require.NoError(t, s.ClearTable(ctx, "topics"))
	n, err := s.CountRows(ctx, "topics")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestStoreUnknownTable(t *testing.T) {
	s := New()
	_, err := s.CountRows(context.Background(), "nonsense")
	require.Error(t, err)
}
