package domain

import (
	"database/sql"
	"time"
)

// Step runtime statuses as persisted on the instance.
const (
	StepStatusPending   = "pending"
	StepStatusCompleted = "completed"
	StepStatusFailed    = "failed"
)

// StepRuntime records the execution status of a single definition step on a
// running instance.
type StepRuntime struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// WorkflowInstance is a single running execution of a workflow definition.
// The Data bag and Steps list are owned exclusively by the engine; step
// handlers only ever return data, they never write here directly.
type WorkflowInstance struct {
	ID         int64
	TenantID   string
	ExternalID string
	Type       string
	State      string
	Trigger    string
	CompanyID  sql.NullString
	CustomerID sql.NullString
	TemplateID sql.NullInt64
	Data       map[string]any
	Steps      []StepRuntime
	Version    int64
	Created    time.Time
	Updated    time.Time
}

// StepByID returns a pointer into Steps for the given id, or nil.
func (w *WorkflowInstance) StepByID(id string) *StepRuntime {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}

// MergeData shallow-merges src into the instance data bag. Later writes for
// the same key overwrite, never duplicate.
func (w *WorkflowInstance) MergeData(src map[string]any) {
	if len(src) == 0 {
		return
	}
	if w.Data == nil {
		w.Data = make(map[string]any, len(src))
	}
	for k, v := range src {
		w.Data[k] = v
	}
}
