// Package taskcontext owns the single "taskContext" key in the shared
// memory: the task id, original query, database name, evidence hint, start
// time, and status. It is a thin facade per DESIGN NOTES — all reads and
// writes go through kvmemory.Store, so it never holds a reference to any
// other manager.
package taskcontext

import (
	"time"

	"github.com/threefoldo/texttosql-go/internal/kvmemory"
)

const storeKey = "taskContext"

// Status is the task lifecycle state.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusProcessing   Status = "processing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// TaskContext is the record owned by Manager.
type TaskContext struct {
	TaskID        string    `json:"taskId"`
	OriginalQuery string    `json:"originalQuery"`
	DatabaseName  string    `json:"databaseName"`
	Evidence      string    `json:"evidence,omitempty"`
	StartTime     time.Time `json:"startTime"`
	Status        Status    `json:"status"`
}

// Manager is a facade over kvmemory.Store for the taskContext key.
type Manager struct {
	store *kvmemory.Store
}

// New creates a Manager bound to store.
func New(store *kvmemory.Store) *Manager {
	return &Manager{store: store}
}

// Initialize creates the task context once at task start, with status
// initializing.
func (m *Manager) Initialize(taskID, query, dbName, evidence string) error {
	tc := TaskContext{
		TaskID:        taskID,
		OriginalQuery: query,
		DatabaseName:  dbName,
		Evidence:      evidence,
		StartTime:     time.Now(),
		Status:        StatusInitializing,
	}
	return m.store.SetJSON(storeKey, tc)
}

// Get returns the current task context, or nil if none has been
// initialized. Missing-context reads return nil rather than an error.
func (m *Manager) Get() (*TaskContext, error) {
	var tc TaskContext
	ok, err := m.store.GetJSON(storeKey, &tc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &tc, nil
}

// UpdateStatus overwrites the status field. The layer enforces no state
// machine — callers (the orchestrator) are responsible for meaningful
// ordering.
func (m *Manager) UpdateStatus(newStatus Status) error {
	tc, err := m.Get()
	if err != nil {
		return err
	}
	if tc == nil {
		return nil
	}
	tc.Status = newStatus
	return m.store.SetJSON(storeKey, *tc)
}

// MarkAsProcessing is convenience for UpdateStatus(StatusProcessing).
func (m *Manager) MarkAsProcessing() error { return m.UpdateStatus(StatusProcessing) }

// MarkAsCompleted is convenience for UpdateStatus(StatusCompleted).
func (m *Manager) MarkAsCompleted() error { return m.UpdateStatus(StatusCompleted) }

// MarkAsFailed is convenience for UpdateStatus(StatusFailed).
func (m *Manager) MarkAsFailed() error { return m.UpdateStatus(StatusFailed) }
