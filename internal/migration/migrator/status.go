package migrator

import "chatforge/internal/migration/source"

// Status mirrors source.MigrationStatus so the engine and its tests depend
// only on this type; StatusStoreAdapter below converts between the two
// (see adapters.go).
type Status struct {
	Status      string
	CompletedAt *int64
	FailedAt    *int64
	Version     string
	Error       *string
}

const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// StatusStore mirrors *source.AppStateStore's read/write surface.
type StatusStore interface {
	ReadStatus() (Status, bool, error)
	WriteStatus(status Status) error
}

// StatusStoreAdapter adapts *source.AppStateStore to StatusStore.
type StatusStoreAdapter struct{ Store *source.AppStateStore }

func (a StatusStoreAdapter) ReadStatus() (Status, bool, error) {
	s, ok, err := a.Store.ReadStatus()
	if err != nil || !ok {
		return Status{}, ok, err
	}
	return Status{
		Status:      s.Status,
		CompletedAt: s.CompletedAt,
		FailedAt:    s.FailedAt,
		Version:     s.Version,
		Error:       s.Error,
	}, true, nil
}

func (a StatusStoreAdapter) WriteStatus(status Status) error {
	return a.Store.WriteStatus(source.MigrationStatus{
		Status:      status.Status,
		CompletedAt: status.CompletedAt,
		FailedAt:    status.FailedAt,
		Version:     status.Version,
		Error:       status.Error,
	})
}
