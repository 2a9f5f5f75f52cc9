package domain

import "time"

// StepTemplate is a reusable, versioned ordering of definition step ids used
// to seed workflow creation. Deletion is soft: templates are deactivated,
// never removed.
type StepTemplate struct {
	ID           int64
	TenantID     string
	Name         string
	Version      int
	WorkflowType string
	StepIDs      []string
	Active       bool
	Created      time.Time
	Updated      time.Time
}
