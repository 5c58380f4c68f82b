package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatforge/internal/migration/migrator"
	"chatforge/internal/migration/migrator/memtarget"
)

type fakeStatusStore struct {
	status migrator.Status
	exists bool
}

func (f *fakeStatusStore) ReadStatus() (migrator.Status, bool, error) { return f.status, f.exists, nil }
func (f *fakeStatusStore) WriteStatus(status migrator.Status) error {
	f.status = status
	f.exists = true
	return nil
}

func drain(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func TestControllerHappyPath(t *testing.T) {
	engine := migrator.NewEngine(&fakeStatusStore{})
	engine.Register(migrator.Migrator{
		ID: "noop", Order: 1,
		Prepare:  func(context.Context, *migrator.Context) (migrator.PrepareResult, error) { return migrator.PrepareResult{Success: true}, nil },
		Execute:  func(context.Context, *migrator.Context) (migrator.ExecuteResult, error) { return migrator.ExecuteResult{Success: true}, nil },
		Validate: func(context.Context, *migrator.Context) (migrator.ValidateResult, error) { return migrator.ValidateResult{Success: true}, nil },
	})

	backupRan := false
	c := New(engine, func(context.Context) error { backupRan = true; return nil }, func() {}, true)

	ch, stop := c.Subscribe()
	defer stop()
	require.Equal(t, StageIntroduction, drain(t, ch).Stage)

	c.Proceed()
	require.Equal(t, StageBackupRequired, drain(t, ch).Stage)

	c.RunBackup(context.Background())
	require.Equal(t, StageBackupProgress, drain(t, ch).Stage)
	require.Equal(t, StageBackupConfirmed, drain(t, ch).Stage)
	require.True(t, backupRan)

	db := memtarget.New()
	c.Start(context.Background(), migrator.Sources{}, db)
	require.Equal(t, StageMigration, drain(t, ch).Stage)
	require.Equal(t, StageCompleted, drain(t, ch).Stage)
}

func TestControllerBackupFailureReturnsToRequired(t *testing.T) {
	engine := migrator.NewEngine(&fakeStatusStore{})
	c := New(engine, func(context.Context) error { return errors.New("disk full") }, func() {}, false)

	ch, stop := c.Subscribe()
	defer stop()
	drain(t, ch) // introduction

	c.Proceed()
	drain(t, ch) // backup_required

	c.RunBackup(context.Background())
	drain(t, ch) // backup_progress
	s := drain(t, ch)
	require.Equal(t, StageBackupRequired, s.Stage)
	require.Contains(t, s.CurrentMessage, "disk full")
}

func TestControllerRetryFromError(t *testing.T) {
	engine := migrator.NewEngine(&fakeStatusStore{})
	engine.Register(migrator.Migrator{
		ID: "fails", Order: 1,
		Prepare: func(context.Context, *migrator.Context) (migrator.PrepareResult, error) {
			return migrator.PrepareResult{}, errors.New("boom")
		},
	})
	c := New(engine, func(context.Context) error { return nil }, func() {}, false)

	ch, stop := c.Subscribe()
	defer stop()
	drain(t, ch)
	c.Proceed()
	drain(t, ch)
	c.RunBackup(context.Background())
	drain(t, ch)
	drain(t, ch)

	db := memtarget.New()
	c.Start(context.Background(), migrator.Sources{}, db)
	drain(t, ch) // migration
	s := drain(t, ch)
	require.Equal(t, StageError, s.Stage)

	c.Retry()
	require.Equal(t, StageBackupConfirmed, c.Stage())
}
