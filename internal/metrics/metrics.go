package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine and retry queue counters. Unknown-step lookups get their own series
// so configuration mismatches are visible separately from business failures.
var (
	StepExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxflow_step_executions_total",
		Help: "Step executions by workflow type, step and result.",
	}, []string{"workflow_type", "step", "result"})

	UnknownSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxflow_unknown_steps_total",
		Help: "Step dispatch lookups that hit no registered handler.",
	}, []string{"workflow_type", "step"})

	RejectedTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxflow_rejected_transitions_total",
		Help: "State transitions rejected as illegal.",
	}, []string{"workflow_type"})

	RetryTasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxflow_retry_tasks_processed_total",
		Help: "Retry queue tasks processed by outcome (completed, rescheduled, exhausted).",
	}, []string{"kind", "outcome"})

	RetryQueueBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "taxflow_retry_queue_batch_size",
		Help:    "Number of tasks drained per worker tick.",
		Buckets: prometheus.LinearBuckets(0, 2, 11),
	})
)
