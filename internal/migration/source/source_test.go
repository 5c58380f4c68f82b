package source

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPersistedStateReaderDotPath(t *testing.T) {
	raw := []byte(`{"settings":{"codeEditor":{"enabled":true},"theme":"dark"},"ui":{}}`)
	r, err := NewPersistedStateReader(raw)
	require.NoError(t, err)

	v, ok := r.Get("settings", "codeEditor.enabled")
	require.True(t, ok)
	require.Equal(t, true, v)

	_, ok = r.Get("settings", "codeEditor.missing.deeper")
	require.False(t, ok)

	_, ok = r.Get("missingCategory", "x")
	require.False(t, ok)

	require.True(t, r.HasCategory("ui"))
	require.False(t, r.HasCategory("nope"))
}

func TestExportedTableReader(t *testing.T) {
	dir := t.TempDir()
	topics := []map[string]any{{"id": "t1"}, {"id": "t2"}}
	data, _ := json.Marshal(topics)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "topics.json"), data, 0o644))

	r := NewExportedTableReader(dir)
	require.True(t, r.TableExists("topics"))
	require.False(t, r.TableExists("missing"))

	rows, err := r.ReadTable("topics")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	stream, err := r.OpenStream("topics")
	require.NoError(t, err)
	count, err := stream.Count()
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestAppStateStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app-state.json")
	store := NewAppStateStore(path)

	_, ok, err := store.ReadStatus()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.WriteStatus(MigrationStatus{Status: "in_progress"}))

	status, ok, err := store.ReadStatus()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "in_progress", status.Status)
	require.Equal(t, migrationStatusVersion, status.Version)

	require.NoError(t, store.WriteStatus(MigrationStatus{Status: "completed"}))
	status, ok, err = store.ReadStatus()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "completed", status.Status)
}
