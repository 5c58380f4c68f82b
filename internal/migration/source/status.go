package source

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/sjson"
)

// MigrationStatus is the record persisted under appState["migration_v2_status"]
// (spec §6.3). Only "completed" means migration is not needed on next
// startup.
type MigrationStatus struct {
	Status      string  `json:"status"` // "completed" | "failed" | "in_progress"
	CompletedAt *int64  `json:"completedAt,omitempty"`
	FailedAt    *int64  `json:"failedAt,omitempty"`
	Version     string  `json:"version"`
	Error       *string `json:"error,omitempty"`
}

const migrationStatusKey = "migration_v2_status"
const migrationStatusVersion = "2.0.0"

// AppStateStore persists the migration status record as a single JSON file
// keyed map, standing in for the host application's key-value preference
// store (out of scope per spec §1 beyond this interface).
type AppStateStore struct {
	path string
}

// NewAppStateStore returns a store backed by a JSON file at path. The file
// need not exist yet; it is created on the first WriteStatus.
func NewAppStateStore(path string) *AppStateStore {
	return &AppStateStore{path: path}
}

// ReadStatus returns the persisted status, or ok=false if no status record
// has ever been written (a fresh install).
func (s *AppStateStore) ReadStatus() (MigrationStatus, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return MigrationStatus{}, false, nil
		}
		return MigrationStatus{}, false, fmt.Errorf("source: reading app state: %w", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return MigrationStatus{}, false, fmt.Errorf("source: parsing app state: %w", err)
	}

	raw, ok := doc[migrationStatusKey]
	if !ok {
		return MigrationStatus{}, false, nil
	}

	var status MigrationStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return MigrationStatus{}, false, fmt.Errorf("source: parsing migration status: %w", err)
	}
	return status, true, nil
}

// WriteStatus persists status under the migration_v2_status key, patching
// that key in place via sjson so the rest of the app-state document (other
// preference keys this process does not otherwise know about) survives
// untouched.
func (s *AppStateStore) WriteStatus(status MigrationStatus) error {
	status.Version = migrationStatusVersion

	existing, err := os.ReadFile(s.path)
	doc := "{}"
	if err == nil {
		doc = string(existing)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("source: reading app state: %w", err)
	}

	statusJSON, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("source: marshalling migration status: %w", err)
	}

	patched, err := sjson.SetRawBytes([]byte(doc), migrationStatusKey, statusJSON)
	if err != nil {
		return fmt.Errorf("source: patching app state: %w", err)
	}

	if err := os.WriteFile(s.path, patched, 0o644); err != nil {
		return fmt.Errorf("source: writing app state: %w", err)
	}
	return nil
}
