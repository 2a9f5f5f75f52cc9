package domain

import "time"

// Retry task kinds.
const (
	RetryKindKsefSubmission = "ksef_submission_retry"
)

// Retry task statuses.
const (
	RetryStatusPending    = "pending"
	RetryStatusProcessing = "processing"
	RetryStatusCompleted  = "completed"
	RetryStatusFailed     = "failed"
)

// RetryTask is a durable record of one pending or exhausted asynchronous
// retry of an external submission. Rows are never deleted; exhausted tasks
// stay in status failed for audit until a manual retry resets them.
type RetryTask struct {
	ID             int64
	TenantID       string
	Kind           string
	Payload        string
	Attempt        int
	MaxAttempts    int
	Priority       int
	Status         string
	NextEligibleAt time.Time
	LastError      string
	Created        time.Time
	Updated        time.Time
}

// Exhausted reports whether the task has used up its attempt ceiling.
func (t *RetryTask) Exhausted() bool {
	return t.Attempt >= t.MaxAttempts
}
