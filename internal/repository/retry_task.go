package repository

import (
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/mkowalczyk/taxflow/internal/core"
	"github.com/mkowalczyk/taxflow/internal/domain"
)

// RetryTaskRepository persists retry queue tasks. Rows are never deleted;
// terminal tasks are kept for audit.
type RetryTaskRepository struct {
	db    *sql.DB
	clock core.Clock
}

const retryTaskColumns = ` id, tenant_id, kind, payload, attempt, max_attempts, priority,
	       status, next_eligible_at, last_error, created, updated `

func NewRetryTaskRepository(db *sql.DB, clock core.Clock) *RetryTaskRepository {
	return &RetryTaskRepository{db: db, clock: clock}
}

func (r *RetryTaskRepository) Save(t *domain.RetryTask) (int64, error) {
	vals := []interface{}{
		t.TenantID, t.Kind, t.Payload, t.Attempt, t.MaxAttempts, t.Priority,
		t.Status, formatDateInDatabase(t.NextEligibleAt), t.LastError,
		formatDateInDatabase(t.Created), formatDateInDatabase(t.Updated),
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	query := `INSERT INTO retry_tasks (
		tenant_id, kind, payload, attempt, max_attempts, priority,
		status, next_eligible_at, last_error, created, updated
	) VALUES (` + strings.Join(pps, ", ") + `)`

	id, err := insertReturningID(r.db, query, vals...)
	if err != nil {
		return 0, err
	}
	t.ID = id
	return id, nil
}

func (r *RetryTaskRepository) FindByID(id int64) (*domain.RetryTask, error) {
	query := `
		SELECT ` + retryTaskColumns + `
		FROM retry_tasks WHERE id = ` + placeholder(1) + `
	`
	var t domain.RetryTask
	err := r.db.QueryRow(query, id).Scan(
		&t.ID,
		&t.TenantID,
		&t.Kind,
		&t.Payload,
		&t.Attempt,
		&t.MaxAttempts,
		&t.Priority,
		&t.Status,
		&t.NextEligibleAt,
		&t.LastError,
		&t.Created,
		&t.Updated,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *RetryTaskRepository) ListByTenantAndStatus(tenantID, status string, limit int) ([]domain.RetryTask, error) {
	query := `
		SELECT ` + retryTaskColumns + `
		FROM retry_tasks
		WHERE tenant_id = ` + placeholder(1) + ` AND status = ` + placeholder(2) + `
		ORDER BY id DESC
		LIMIT ` + placeholder(3) + `
	`
	rows, err := r.db.Query(query, tenantID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.RetryTask
	for rows.Next() {
		var t domain.RetryTask
		if err := rows.Scan(
			&t.ID,
			&t.TenantID,
			&t.Kind,
			&t.Payload,
			&t.Attempt,
			&t.MaxAttempts,
			&t.Priority,
			&t.Status,
			&t.NextEligibleAt,
			&t.LastError,
			&t.Created,
			&t.Updated,
		); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// FindEligible returns pending tasks whose next_eligible_at has passed,
// highest priority first, oldest first within a priority.
func (r *RetryTaskRepository) FindEligible(limit int) ([]domain.RetryTask, error) {
	query := `
		SELECT ` + retryTaskColumns + `
		FROM retry_tasks
		WHERE status = 'pending'
		  AND ` + dateBeforeNow("next_eligible_at", r.clock) + `
		ORDER BY priority DESC, created ASC
		LIMIT ` + placeholder(1) + `
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.RetryTask
	for rows.Next() {
		var t domain.RetryTask
		if err := rows.Scan(
			&t.ID,
			&t.TenantID,
			&t.Kind,
			&t.Payload,
			&t.Attempt,
			&t.MaxAttempts,
			&t.Priority,
			&t.Status,
			&t.NextEligibleAt,
			&t.LastError,
			&t.Created,
			&t.Updated,
		); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// MarkProcessing claims a pending task. The conditional update on status
// guarantees two concurrent drains never pick the same task.
func (r *RetryTaskRepository) MarkProcessing(id int64) bool {
	query := `
		UPDATE retry_tasks
		SET status = 'processing', updated = ` + nowExpr(r.clock) + `
		WHERE id = ` + placeholder(1) + ` AND status = 'pending'
	`
	result, err := r.db.Exec(query, id)
	if err != nil {
		slog.Error("Failed to mark retry task processing", "error", err, "task_id", id)
		return false
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rowsAffected == 1
}

func (r *RetryTaskRepository) Complete(id int64) error {
	query := `
		UPDATE retry_tasks
		SET status = 'completed', updated = ` + nowExpr(r.clock) + `
		WHERE id = ` + placeholder(1) + `
	`
	_, err := r.db.Exec(query, id)
	return err
}

// Reschedule puts a task back in the pending pool with the incremented
// attempt counter and the computed next eligible time.
func (r *RetryTaskRepository) Reschedule(id int64, attempt int, nextEligibleAt time.Time, lastError string) error {
	query := `
		UPDATE retry_tasks
		SET status = 'pending', attempt = ` + placeholder(1) + `,
		    next_eligible_at = ` + placeholder(2) + `, last_error = ` + placeholder(3) + `,
		    updated = ` + nowExpr(r.clock) + `
		WHERE id = ` + placeholder(4) + `
	`
	_, err := r.db.Exec(query, attempt, formatDateInDatabase(nextEligibleAt), lastError, id)
	return err
}

// MarkFailed parks an exhausted task permanently.
func (r *RetryTaskRepository) MarkFailed(id int64, attempt int, lastError string) error {
	query := `
		UPDATE retry_tasks
		SET status = 'failed', attempt = ` + placeholder(1) + `, last_error = ` + placeholder(2) + `,
		    updated = ` + nowExpr(r.clock) + `
		WHERE id = ` + placeholder(3) + `
	`
	_, err := r.db.Exec(query, attempt, lastError, id)
	return err
}

// ResetForManualRetry moves a failed task back to pending with attempt 0.
// Returns false when the task was not in status failed.
func (r *RetryTaskRepository) ResetForManualRetry(id int64) bool {
	query := `
		UPDATE retry_tasks
		SET status = 'pending', attempt = 0, next_eligible_at = ` + nowExpr(r.clock) + `,
		    updated = ` + nowExpr(r.clock) + `
		WHERE id = ` + placeholder(1) + ` AND status = 'failed'
	`
	result, err := r.db.Exec(query, id)
	if err != nil {
		slog.Error("Failed to reset retry task", "error", err, "task_id", id)
		return false
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rowsAffected == 1
}
