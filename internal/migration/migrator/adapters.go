package migrator

import (
	"encoding/json"

	"chatforge/internal/migration/source"
)

// The adapters below wrap the concrete C2 source-reader types into the
// narrow interfaces this package depends on. This file and status.go are
// the only files here that import chatforge/internal/migration/source; the
// engine, the migrators and their tests see only the interfaces, so mock
// implementations stay trivial to write.

// ConfigStoreAdapter adapts source.ConfigStore.
type ConfigStoreAdapter struct{ Store source.ConfigStore }

func (a ConfigStoreAdapter) Get(key string) ([]byte, bool, error) {
	raw, ok, err := a.Store.Get(key)
	return []byte(raw), ok, err
}

// PersistedStateAdapter adapts *source.PersistedStateReader.
type PersistedStateAdapter struct{ Reader *source.PersistedStateReader }

func (a PersistedStateAdapter) HasCategory(name string) bool { return a.Reader.HasCategory(name) }

func (a PersistedStateAdapter) GetCategory(name string) ([]byte, bool) {
	raw, ok := a.Reader.GetCategory(name)
	return []byte(raw), ok
}

func (a PersistedStateAdapter) Get(category, dottedPath string) (any, bool) {
	return a.Reader.Get(category, dottedPath)
}

func (a PersistedStateAdapter) Categories() []string { return a.Reader.Categories() }

// ExportedTableAdapter adapts *source.ExportedTableReader.
type ExportedTableAdapter struct{ Reader *source.ExportedTableReader }

func (a ExportedTableAdapter) TableExists(name string) bool { return a.Reader.TableExists(name) }
func (a ExportedTableAdapter) TableSize(name string) int64  { return a.Reader.TableSize(name) }

func (a ExportedTableAdapter) ReadTable(name string) ([]RawRecord, error) {
	rows, err := a.Reader.ReadTable(name)
	if err != nil {
		return nil, err
	}
	out := make([]RawRecord, len(rows))
	for i, r := range rows {
		out[i] = []byte(r)
	}
	return out, nil
}

func (a ExportedTableAdapter) OpenStreamCount(name string) (int, error) {
	s, err := a.Reader.OpenStream(name)
	if err != nil {
		return 0, err
	}
	return s.Count()
}

func (a ExportedTableAdapter) OpenStreamForEachBatch(name string, batchSize int, fn func(batch []RawRecord, batchIndex int) error) (int, error) {
	s, err := a.Reader.OpenStream(name)
	if err != nil {
		return 0, err
	}
	return s.ForEachBatch(batchSize, func(batch []json.RawMessage, idx int) error {
		converted := make([]RawRecord, len(batch))
		for i, b := range batch {
			converted[i] = []byte(b)
		}
		return fn(converted, idx)
	})
}
