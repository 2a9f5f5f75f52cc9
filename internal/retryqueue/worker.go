package retryqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkowalczyk/taxflow/internal/domain"
	"github.com/mkowalczyk/taxflow/internal/metrics"
)

// Submitter re-invokes the external KSeF submission for a drained task. The
// worker depends only on this capability, never on the engine package.
type Submitter interface {
	SubmitInvoice(ctx context.Context, tenantID, invoiceID, invoiceNumber string) (string, error)
}

// ksefRetryPayload mirrors the payload written by the submission step
// handlers.
type ksefRetryPayload struct {
	WorkflowID    int64  `json:"workflowId"`
	TenantID      string `json:"tenantId"`
	InvoiceID     string `json:"invoiceId"`
	InvoiceNumber string `json:"invoiceNumber"`
}

// Worker drains the retry queue on a fixed interval and re-invokes the
// external submission for each claimed task. Tasks are processed
// independently: one failure never aborts the batch.
type Worker struct {
	queue             *Queue
	submitter         Submitter
	batchSize         int
	pollInterval      time.Duration
	submissionTimeout time.Duration
	wakeup            chan struct{}
}

func NewWorker(queue *Queue, submitter Submitter, batchSize int, pollInterval, submissionTimeout time.Duration) *Worker {
	return &Worker{
		queue:             queue,
		submitter:         submitter,
		batchSize:         batchSize,
		pollInterval:      pollInterval,
		submissionTimeout: submissionTimeout,
		wakeup:            make(chan struct{}, 1),
	}
}

// Start runs the polling loop until the context is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	slog.Info("Retry queue worker started",
		"poll_interval", w.pollInterval.String(), "batch_size", w.batchSize)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Retry queue worker stopping due to context cancel")
			return
		case <-ticker.C:
			w.drainAndProcess(ctx)
		case <-w.wakeup:
			w.drainAndProcess(ctx)
		}
	}
}

// Wakeup triggers an immediate drain outside the regular interval.
func (w *Worker) Wakeup() {
	select {
	case w.wakeup <- struct{}{}:
	default:
	}
}

func (w *Worker) drainAndProcess(ctx context.Context) {
	tasks, err := w.queue.DrainEligible(ctx, w.batchSize)
	if err != nil {
		slog.Error("Error draining retry queue", "error", err)
		return
	}
	metrics.RetryQueueBatchSize.Observe(float64(len(tasks)))
	if len(tasks) == 0 {
		return
	}
	slog.InfoContext(ctx, "Processing retry batch", "tasks", len(tasks))
	for _, task := range tasks {
		w.processTask(ctx, task)
	}
}

func (w *Worker) processTask(ctx context.Context, task domain.RetryTask) {
	err := w.attempt(ctx, task)
	if err != nil {
		slog.WarnContext(ctx, "Retry attempt failed",
			"task_id", task.ID, "tenant_id", task.TenantID, "attempt", task.Attempt, "error", err)
		if rerr := w.queue.Reschedule(ctx, task.ID, err); rerr != nil {
			slog.Error("Error rescheduling retry task", "task_id", task.ID, "error", rerr)
		}
		return
	}
	if cerr := w.queue.Complete(ctx, task.ID); cerr != nil {
		slog.Error("Error completing retry task", "task_id", task.ID, "error", cerr)
		return
	}
	metrics.RetryTasksProcessed.WithLabelValues(task.Kind, "completed").Inc()
	slog.InfoContext(ctx, "Retry task completed", "task_id", task.ID, "tenant_id", task.TenantID)
}

func (w *Worker) attempt(ctx context.Context, task domain.RetryTask) error {
	switch task.Kind {
	case domain.RetryKindKsefSubmission:
		var payload ksefRetryPayload
		if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
			return fmt.Errorf("decoding payload: %w", err)
		}
		subCtx, cancel := context.WithTimeout(ctx, w.submissionTimeout)
		defer cancel()
		ref, err := w.submitter.SubmitInvoice(subCtx, payload.TenantID, payload.InvoiceID, payload.InvoiceNumber)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "KSeF submission retry succeeded",
			"task_id", task.ID, "invoice_id", payload.InvoiceID, "reference_number", ref)
		return nil
	default:
		return fmt.Errorf("no processor for task kind %q", task.Kind)
	}
}
