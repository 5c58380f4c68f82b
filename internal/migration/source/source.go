// Package source implements the Source Readers (C2): thin typed accessors
// over the two legacy stores — a key-value configuration store and the
// exported-tables directory — plus the persisted-state dot-path reader.
package source

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chatforge/internal/migration/jsonstream"
)

// ConfigStore is an opaque get-by-key accessor over the legacy key-value
// configuration store. Out of scope per spec §1 beyond this interface; the
// migration engine is given a concrete implementation by its caller.
type ConfigStore interface {
	Get(key string) (json.RawMessage, bool, error)
}

// PersistedStateReader wraps the nested category→JSON map handed to the
// engine and resolves dot-paths into it.
type PersistedStateReader struct {
	data map[string]json.RawMessage
}

// NewPersistedStateReader parses rawData as a category-keyed JSON object.
func NewPersistedStateReader(rawData []byte) (*PersistedStateReader, error) {
	var data map[string]json.RawMessage
	if err := json.Unmarshal(rawData, &data); err != nil {
		return nil, fmt.Errorf("source: parsing persisted state: %w", err)
	}
	return &PersistedStateReader{data: data}, nil
}

// Categories returns every top-level category name.
func (p *PersistedStateReader) Categories() []string {
	out := make([]string, 0, len(p.data))
	for k := range p.data {
		out = append(out, k)
	}
	return out
}

// HasCategory reports whether name exists at the top level.
func (p *PersistedStateReader) HasCategory(name string) bool {
	_, ok := p.data[name]
	return ok
}

// GetCategory returns the raw JSON for one top-level category.
func (p *PersistedStateReader) GetCategory(name string) (json.RawMessage, bool) {
	v, ok := p.data[name]
	return v, ok
}

// Get looks up category, then walks dottedPath through nested JSON objects.
// Any missing segment (including a non-object intermediate) returns
// (nil, false) rather than an error, matching the source contract's
// "undefined on any missing segment".
func (p *PersistedStateReader) Get(category, dottedPath string) (any, bool) {
	raw, ok := p.data[category]
	if !ok {
		return nil, false
	}

	var cur any
	if err := json.Unmarshal(raw, &cur); err != nil {
		return nil, false
	}

	if dottedPath == "" {
		return cur, true
	}

	for _, segment := range strings.Split(dottedPath, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// ExportedTableReader exposes the exported-tables directory (spec §6.1):
// one JSON file per legacy table, each a top-level JSON array.
type ExportedTableReader struct {
	dir string
}

// NewExportedTableReader returns a reader rooted at dir.
func NewExportedTableReader(dir string) *ExportedTableReader {
	return &ExportedTableReader{dir: dir}
}

func (e *ExportedTableReader) tablePath(name string) string {
	return filepath.Join(e.dir, name+".json")
}

// TableExists reports whether a table's export file is present.
func (e *ExportedTableReader) TableExists(name string) bool {
	_, err := os.Stat(e.tablePath(name))
	return err == nil
}

// TableSize returns the export file's size in bytes, or 0 if absent.
func (e *ExportedTableReader) TableSize(name string) int64 {
	info, err := os.Stat(e.tablePath(name))
	if err != nil {
		return 0
	}
	return info.Size()
}

// ReadTable reads a whole table into memory. The assistants migrator reads
// its table this way, and so does the chat migrator for message_blocks.
func (e *ExportedTableReader) ReadTable(name string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(e.tablePath(name))
	if err != nil {
		return nil, fmt.Errorf("source: reading table %q: %w", name, err)
	}
	var out []json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("source: table %q is not a JSON array: %w", name, err)
	}
	return out, nil
}

// OpenStream returns a Stream JSON Reader (C1) over a table, used for the
// tables read in batches (topics, knowledge_notes).
func (e *ExportedTableReader) OpenStream(name string) (*jsonstream.Reader, error) {
	return jsonstream.Open(e.tablePath(name))
}
