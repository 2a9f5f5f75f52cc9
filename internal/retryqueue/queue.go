package retryqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkowalczyk/taxflow/internal/core"
	"github.com/mkowalczyk/taxflow/internal/domain"
	"github.com/mkowalczyk/taxflow/internal/metrics"
)

var (
	ErrTaskNotFound = errors.New("retry task not found")
	// ErrNotRetryable is returned by ManualRetry when the task is not parked
	// in status failed.
	ErrNotRetryable = errors.New("task is not in a retryable state")
)

// TaskRepo is the persistence surface the queue needs, matching
// repository.RetryTaskRepository.
type TaskRepo interface {
	Save(t *domain.RetryTask) (int64, error)
	FindByID(id int64) (*domain.RetryTask, error)
	FindEligible(limit int) ([]domain.RetryTask, error)
	MarkProcessing(id int64) bool
	Complete(id int64) error
	Reschedule(id int64, attempt int, nextEligibleAt time.Time, lastError string) error
	MarkFailed(id int64, attempt int, lastError string) error
	ResetForManualRetry(id int64) bool
}

// FailureMarker marks the owning business entity permanently failed once a
// task exhausts its attempts. Implemented outside the core.
type FailureMarker interface {
	MarkSubmissionFailed(ctx context.Context, tenantID, payload, reason string) error
}

// Notifier raises a terminal alert when a task is exhausted. Fire and forget.
type Notifier interface {
	NotifyExhausted(ctx context.Context, tenantID, kind, payload string) error
}

// Queue is the durable at-least-once retry queue over the retry_tasks table.
type Queue struct {
	repo     TaskRepo
	backoff  Backoff
	failures FailureMarker
	notifier Notifier
	clock    core.Clock
}

func NewQueue(repo TaskRepo, backoff Backoff, failures FailureMarker, notifier Notifier, clock core.Clock) *Queue {
	return &Queue{repo: repo, backoff: backoff, failures: failures, notifier: notifier, clock: clock}
}

// Enqueue creates a pending task eligible immediately.
func (q *Queue) Enqueue(ctx context.Context, tenantID, kind, payload string, maxAttempts int) (*domain.RetryTask, error) {
	now := q.clock.Now()
	task := &domain.RetryTask{
		TenantID:       tenantID,
		Kind:           kind,
		Payload:        payload,
		Attempt:        0,
		MaxAttempts:    maxAttempts,
		Status:         domain.RetryStatusPending,
		NextEligibleAt: now,
		Created:        now,
		Updated:        now,
	}
	if _, err := q.repo.Save(task); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Enqueued retry task",
		"task_id", task.ID, "tenant_id", tenantID, "kind", kind, "max_attempts", maxAttempts)
	return task, nil
}

// DrainEligible selects up to batchSize eligible tasks and claims each one
// via the conditional status update, so two concurrent drains never pick the
// same task.
func (q *Queue) DrainEligible(ctx context.Context, batchSize int) ([]domain.RetryTask, error) {
	candidates, err := q.repo.FindEligible(batchSize)
	if err != nil {
		return nil, err
	}
	claimed := make([]domain.RetryTask, 0, len(candidates))
	for _, task := range candidates {
		if !q.repo.MarkProcessing(task.ID) {
			slog.DebugContext(ctx, "Retry task claimed elsewhere, skipping", "task_id", task.ID)
			continue
		}
		task.Status = domain.RetryStatusProcessing
		claimed = append(claimed, task)
	}
	return claimed, nil
}

// Complete marks the task done.
func (q *Queue) Complete(ctx context.Context, taskID int64) error {
	return q.repo.Complete(taskID)
}

// Reschedule increments the attempt counter. Below the ceiling the task goes
// back to pending with an exponential-backoff eligibility time; at the
// ceiling it is parked failed, the owning business entity is marked and a
// terminal alert is raised.
func (q *Queue) Reschedule(ctx context.Context, taskID int64, cause error) error {
	task, err := q.repo.FindByID(taskID)
	if err != nil {
		return fmt.Errorf("%w: id %d", ErrTaskNotFound, taskID)
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	attempt := task.Attempt + 1
	if attempt >= task.MaxAttempts {
		if err := q.repo.MarkFailed(taskID, attempt, reason); err != nil {
			return err
		}
		metrics.RetryTasksProcessed.WithLabelValues(task.Kind, "exhausted").Inc()
		slog.ErrorContext(ctx, "Retry task exhausted",
			"task_id", taskID, "tenant_id", task.TenantID, "kind", task.Kind, "attempt", attempt)
		if q.failures != nil {
			if err := q.failures.MarkSubmissionFailed(ctx, task.TenantID, task.Payload, reason); err != nil {
				slog.ErrorContext(ctx, "Failed to mark business entity failed", "task_id", taskID, "error", err)
			}
		}
		if q.notifier != nil {
			if err := q.notifier.NotifyExhausted(ctx, task.TenantID, task.Kind, task.Payload); err != nil {
				slog.WarnContext(ctx, "Exhaustion notification failed", "task_id", taskID, "error", err)
			}
		}
		return nil
	}

	next := q.clock.Now().Add(q.backoff.Delay(attempt))
	if err := q.repo.Reschedule(taskID, attempt, next, reason); err != nil {
		return err
	}
	metrics.RetryTasksProcessed.WithLabelValues(task.Kind, "rescheduled").Inc()
	slog.InfoContext(ctx, "Rescheduled retry task",
		"task_id", taskID, "attempt", attempt, "next_eligible_at", next)
	return nil
}

// ManualRetry resets an exhausted task for another round of attempts. Only
// legal on tasks in status failed.
func (q *Queue) ManualRetry(ctx context.Context, taskID int64) (*domain.RetryTask, error) {
	if !q.repo.ResetForManualRetry(taskID) {
		task, err := q.repo.FindByID(taskID)
		if err != nil {
			return nil, fmt.Errorf("%w: id %d", ErrTaskNotFound, taskID)
		}
		return nil, fmt.Errorf("%w: task %d is %s", ErrNotRetryable, taskID, task.Status)
	}
	task, err := q.repo.FindByID(taskID)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Manually retrying task", "task_id", taskID, "tenant_id", task.TenantID)
	return task, nil
}
