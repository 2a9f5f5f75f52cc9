package retryqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkowalczyk/taxflow/internal/domain"
)

type mockSubmitter struct {
	submit func(ctx context.Context, tenantID, invoiceID, invoiceNumber string) (string, error)
}

func (m *mockSubmitter) SubmitInvoice(ctx context.Context, tenantID, invoiceID, invoiceNumber string) (string, error) {
	return m.submit(ctx, tenantID, invoiceID, invoiceNumber)
}

const submissionPayload = `{"workflowId":1,"tenantId":"tenant-1","invoiceId":"inv-1","invoiceNumber":"INV-1"}`

func newWorkerFixture(t *testing.T, submitter Submitter) (*Worker, *queueFixture) {
	t.Helper()
	f := newQueueFixture(t)
	w := NewWorker(f.queue, submitter, 10, time.Minute, time.Second)
	return w, f
}

func TestWorkerCompletesSuccessfulRetry(t *testing.T) {
	var submitted []string
	w, f := newWorkerFixture(t, &mockSubmitter{
		submit: func(ctx context.Context, tenantID, invoiceID, invoiceNumber string) (string, error) {
			submitted = append(submitted, invoiceID)
			return "KSEF-REF-1", nil
		},
	})

	task, err := f.queue.Enqueue(context.Background(), "tenant-1", domain.RetryKindKsefSubmission, submissionPayload, 5)
	require.NoError(t, err)

	w.drainAndProcess(context.Background())

	assert.Equal(t, []string{"inv-1"}, submitted)
	got, err := f.repo.FindByID(task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RetryStatusCompleted, got.Status)
}

func TestWorkerReschedulesFailedRetry(t *testing.T) {
	w, f := newWorkerFixture(t, &mockSubmitter{
		submit: func(ctx context.Context, tenantID, invoiceID, invoiceNumber string) (string, error) {
			return "", errors.New("gateway down")
		},
	})

	task, err := f.queue.Enqueue(context.Background(), "tenant-1", domain.RetryKindKsefSubmission, submissionPayload, 5)
	require.NoError(t, err)

	w.drainAndProcess(context.Background())

	got, err := f.repo.FindByID(task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RetryStatusPending, got.Status)
	assert.Equal(t, 1, got.Attempt)
	assert.Equal(t, "gateway down", got.LastError)
	assert.True(t, got.NextEligibleAt.After(f.clock.now))
}

func TestWorkerIsolatesTaskFailures(t *testing.T) {
	w, f := newWorkerFixture(t, &mockSubmitter{
		submit: func(ctx context.Context, tenantID, invoiceID, invoiceNumber string) (string, error) {
			if invoiceID == "inv-bad" {
				return "", errors.New("rejected")
			}
			return "KSEF-REF-1", nil
		},
	})

	bad, err := f.queue.Enqueue(context.Background(), "tenant-1", domain.RetryKindKsefSubmission,
		`{"workflowId":1,"tenantId":"tenant-1","invoiceId":"inv-bad","invoiceNumber":"INV-1"}`, 5)
	require.NoError(t, err)
	good, err := f.queue.Enqueue(context.Background(), "tenant-1", domain.RetryKindKsefSubmission,
		`{"workflowId":2,"tenantId":"tenant-1","invoiceId":"inv-good","invoiceNumber":"INV-2"}`, 5)
	require.NoError(t, err)

	w.drainAndProcess(context.Background())

	gotBad, err := f.repo.FindByID(bad.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RetryStatusPending, gotBad.Status, "failed task goes back to pending")

	gotGood, err := f.repo.FindByID(good.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RetryStatusCompleted, gotGood.Status, "one failure must not abort the batch")
}

func TestWorkerReschedulesUndecodablePayload(t *testing.T) {
	w, f := newWorkerFixture(t, &mockSubmitter{
		submit: func(ctx context.Context, tenantID, invoiceID, invoiceNumber string) (string, error) {
			t.Fatal("submitter must not be called for a broken payload")
			return "", nil
		},
	})

	task, err := f.queue.Enqueue(context.Background(), "tenant-1", domain.RetryKindKsefSubmission, "not json", 5)
	require.NoError(t, err)

	w.drainAndProcess(context.Background())

	got, err := f.repo.FindByID(task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempt)
}

func TestWorkerReschedulesUnknownKind(t *testing.T) {
	w, f := newWorkerFixture(t, &mockSubmitter{
		submit: func(ctx context.Context, tenantID, invoiceID, invoiceNumber string) (string, error) {
			return "", nil
		},
	})

	task, err := f.queue.Enqueue(context.Background(), "tenant-1", "unknown_kind", "{}", 1)
	require.NoError(t, err)

	w.drainAndProcess(context.Background())

	got, err := f.repo.FindByID(task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RetryStatusFailed, got.Status, "single-attempt task exhausts immediately")
}

func TestWakeupNeverBlocks(t *testing.T) {
	w, _ := newWorkerFixture(t, &mockSubmitter{})

	for i := 0; i < 10; i++ {
		w.Wakeup()
	}
}
