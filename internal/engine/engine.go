package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/mkowalczyk/taxflow/internal/core"
	"github.com/mkowalczyk/taxflow/internal/domain"
	"github.com/mkowalczyk/taxflow/internal/metrics"
	"github.com/mkowalczyk/taxflow/internal/workflow"
)

// Engine orchestrates workflow instances: it validates transitions, invokes
// the step dispatcher and persists the resulting state. Every mutation goes
// through a version-conditional write; on a conflict the engine reloads and
// retries the operation once before surfacing ErrConflict.
type Engine struct {
	registry          *workflow.Registry
	dispatcher        *Dispatcher
	instances         InstanceRepo
	templates         TemplateRepo
	retries           RetryEnqueuer
	access            AccessChecker
	audit             AuditRecorder
	clock             core.Clock
	retryMaxAttempts  int
	conflictRetryWait time.Duration
}

func NewEngine(
	registry *workflow.Registry,
	dispatcher *Dispatcher,
	instances InstanceRepo,
	templates TemplateRepo,
	retries RetryEnqueuer,
	access AccessChecker,
	audit AuditRecorder,
	clock core.Clock,
	retryMaxAttempts int,
) *Engine {
	return &Engine{
		registry:          registry,
		dispatcher:        dispatcher,
		instances:         instances,
		templates:         templates,
		retries:           retries,
		access:            access,
		audit:             audit,
		clock:             clock,
		retryMaxAttempts:  retryMaxAttempts,
		conflictRetryWait: 25 * time.Millisecond,
	}
}

// CreateWorkflow persists a new instance in the definition's initial state
// with every step pending.
func (e *Engine) CreateWorkflow(ctx context.Context, req CreateWorkflowRequest) (*domain.WorkflowInstance, error) {
	def, ok := e.registry.Get(workflow.Type(req.Type))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedWorkflowType, req.Type)
	}

	if req.CompanyID != "" {
		if err := e.access.ResolveCompany(ctx, req.TenantID, req.CompanyID); err != nil {
			return nil, fmt.Errorf("%w: company %s: %v", ErrAccessDenied, req.CompanyID, err)
		}
	}
	if req.CustomerID != "" {
		if err := e.access.ResolveCustomer(ctx, req.TenantID, req.CustomerID); err != nil {
			return nil, fmt.Errorf("%w: customer %s: %v", ErrAccessDenied, req.CustomerID, err)
		}
	}

	steps, err := e.seedSteps(def, req.TemplateID)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	inst := &domain.WorkflowInstance{
		TenantID:   req.TenantID,
		ExternalID: uuid.NewString(),
		Type:       req.Type,
		State:      string(def.Initial),
		Trigger:    req.Trigger,
		Data:       req.InitialData,
		Steps:      steps,
		Version:    1,
		Created:    now,
		Updated:    now,
	}
	if req.CompanyID != "" {
		inst.CompanyID = sql.NullString{String: req.CompanyID, Valid: true}
	}
	if req.CustomerID != "" {
		inst.CustomerID = sql.NullString{String: req.CustomerID, Valid: true}
	}
	if req.TemplateID != 0 {
		inst.TemplateID = sql.NullInt64{Int64: req.TemplateID, Valid: true}
	}

	if _, err := e.instances.Save(inst); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Created workflow instance",
		"workflow_id", inst.ID, "tenant_id", inst.TenantID, "type", inst.Type, "state", inst.State)
	e.recordAudit(ctx, inst.TenantID, "workflow.created", inst.ExternalID,
		fmt.Sprintf("type=%s trigger=%s", inst.Type, inst.Trigger))
	return inst, nil
}

// seedSteps builds the pending runtime step list, honoring the template's
// ordering when one is referenced. Template steps must be a subset of the
// definition's steps.
func (e *Engine) seedSteps(def *workflow.Definition, templateID int64) ([]domain.StepRuntime, error) {
	stepIDs := make([]string, 0, len(def.Steps))
	if templateID != 0 {
		tpl, err := e.templates.FindByID(templateID)
		if err != nil {
			return nil, fmt.Errorf("%w: template %d: %v", ErrInvalidTemplate, templateID, err)
		}
		if !tpl.Active {
			return nil, fmt.Errorf("%w: template %d is inactive", ErrInvalidTemplate, templateID)
		}
		if tpl.WorkflowType != string(def.Type) {
			return nil, fmt.Errorf("%w: template %d targets %s", ErrInvalidTemplate, templateID, tpl.WorkflowType)
		}
		for _, id := range tpl.StepIDs {
			if def.Step(id) == nil {
				return nil, fmt.Errorf("%w: template step %q not in definition %s", ErrInvalidTemplate, id, def.Type)
			}
			stepIDs = append(stepIDs, id)
		}
	} else {
		for _, s := range def.Steps {
			stepIDs = append(stepIDs, s.ID)
		}
	}

	steps := make([]domain.StepRuntime, 0, len(stepIDs))
	for _, id := range stepIDs {
		steps = append(steps, domain.StepRuntime{ID: id, Status: domain.StepStatusPending})
	}
	return steps, nil
}

// ExecuteStep routes one step through the dispatcher and applies its effect:
// data merge, step runtime status and, when the result carries a target
// state, a validated transition.
func (e *Engine) ExecuteStep(ctx context.Context, workflowID int64, stepID string, input map[string]any) (*StepResult, error) {
	var result *StepResult
	err := e.withConflictRetry(ctx, func() error {
		inst, def, err := e.load(workflowID)
		if err != nil {
			return err
		}
		if def.Step(stepID) == nil {
			return fmt.Errorf("%w: %q in definition %s", ErrStepNotFound, stepID, def.Type)
		}
		handler, ok := e.dispatcher.Resolve(def.Type, stepID)
		if !ok {
			// Definition and dispatch table disagree: a configuration error,
			// not a business failure.
			metrics.UnknownSteps.WithLabelValues(string(def.Type), stepID).Inc()
			slog.ErrorContext(ctx, "No handler registered for step",
				"workflow_id", workflowID, "type", def.Type, "step", stepID)
			return fmt.Errorf("%w: %q for type %s", ErrUnknownStep, stepID, def.Type)
		}

		started := e.clock.Now()
		result = handler(ctx, inst, input)
		if result == nil {
			result = failed("step handler returned no result")
		}
		if err := e.applyStepResult(ctx, inst, def, stepID, started, result); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyStepResult persists the step effect against the version the instance
// was read at. The runtime status is written even when no state change
// occurred, so a failure is never swallowed silently.
func (e *Engine) applyStepResult(ctx context.Context, inst *domain.WorkflowInstance, def *workflow.Definition, stepID string, started time.Time, result *StepResult) error {
	inst.MergeData(result.Data)

	completed := e.clock.Now()
	step := inst.StepByID(stepID)
	if step == nil {
		// Template seeding may have restricted the runtime list; track the
		// execution anyway.
		inst.Steps = append(inst.Steps, domain.StepRuntime{ID: stepID})
		step = &inst.Steps[len(inst.Steps)-1]
	}
	step.StartedAt = &started
	step.CompletedAt = &completed
	if result.Success {
		step.Status = domain.StepStatusCompleted
		step.ErrorMessage = ""
		metrics.StepExecutions.WithLabelValues(string(def.Type), stepID, "success").Inc()
	} else {
		step.Status = domain.StepStatusFailed
		step.ErrorMessage = result.ErrorMessage
		metrics.StepExecutions.WithLabelValues(string(def.Type), stepID, "failure").Inc()
	}

	newState := inst.State
	if result.TargetState != "" && result.TargetState != inst.State {
		if !def.CanTransition(workflow.State(inst.State), workflow.State(result.TargetState)) {
			metrics.RejectedTransitions.WithLabelValues(string(def.Type)).Inc()
			return fmt.Errorf("%w: %s -> %s for type %s", ErrInvalidTransition, inst.State, result.TargetState, def.Type)
		}
		slog.InfoContext(ctx, "Transitioning state",
			"workflow_id", inst.ID, "from", inst.State, "to", result.TargetState, "step", stepID)
		newState = result.TargetState
	}

	ok, err := e.instances.UpdateInstance(inst.ID, newState, inst.Data, inst.Steps, inst.Version)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	inst.State = newState
	inst.Version++

	if result.Retry != nil {
		if err := e.enqueueRetry(ctx, inst, result.Retry); err != nil {
			// The step status is already persisted; losing the retry task
			// would strand the submission, so surface the error.
			return err
		}
	}
	e.recordAudit(ctx, inst.TenantID, "workflow.step_executed", inst.ExternalID,
		fmt.Sprintf("step=%s status=%s state=%s", stepID, step.Status, inst.State))
	return nil
}

func (e *Engine) enqueueRetry(ctx context.Context, inst *domain.WorkflowInstance, intent *RetryIntent) error {
	maxAttempts := intent.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.retryMaxAttempts
	}
	task, err := e.retries.Enqueue(ctx, inst.TenantID, intent.Kind, intent.Payload, maxAttempts)
	if err != nil {
		return fmt.Errorf("enqueueing retry task: %w", err)
	}
	slog.InfoContext(ctx, "Enqueued retry task",
		"workflow_id", inst.ID, "task_id", task.ID, "kind", task.Kind, "max_attempts", task.MaxAttempts)
	return nil
}

// Transition moves the instance to newState, merging mergeData into the data
// bag. This is the single choke point enforcing the state machine invariant.
func (e *Engine) Transition(ctx context.Context, workflowID int64, newState string, mergeData map[string]any) (*domain.WorkflowInstance, error) {
	var out *domain.WorkflowInstance
	err := e.withConflictRetry(ctx, func() error {
		inst, def, err := e.load(workflowID)
		if err != nil {
			return err
		}
		if !def.CanTransition(workflow.State(inst.State), workflow.State(newState)) {
			metrics.RejectedTransitions.WithLabelValues(string(def.Type)).Inc()
			return fmt.Errorf("%w: %s -> %s for type %s", ErrInvalidTransition, inst.State, newState, def.Type)
		}
		inst.MergeData(mergeData)
		ok, err := e.instances.UpdateInstance(inst.ID, newState, inst.Data, inst.Steps, inst.Version)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		slog.InfoContext(ctx, "Transitioning state", "workflow_id", inst.ID, "from", inst.State, "to", newState)
		inst.State = newState
		inst.Version++
		out = inst
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.recordAudit(ctx, out.TenantID, "workflow.transitioned", out.ExternalID, "state="+out.State)
	return out, nil
}

// CancelWorkflow marks the instance cancelled through the regular transition
// path. Cancellation is cooperative: an in-flight step is not interrupted.
func (e *Engine) CancelWorkflow(ctx context.Context, tenantID string, workflowID int64) (*domain.WorkflowInstance, error) {
	inst, def, err := e.load(workflowID)
	if err != nil {
		return nil, err
	}
	if inst.TenantID != tenantID {
		return nil, fmt.Errorf("%w: workflow %d", ErrAccessDenied, workflowID)
	}
	if def.IsTerminal(workflow.State(inst.State)) {
		return nil, fmt.Errorf("%w: workflow %d already %s", ErrInvalidOperation, workflowID, inst.State)
	}
	out, err := e.Transition(ctx, workflowID, string(workflow.StateCancelled), nil)
	if err != nil {
		return nil, err
	}
	e.recordAudit(ctx, tenantID, "workflow.cancelled", out.ExternalID, "")
	return out, nil
}

// GetWorkflow returns the instance by id.
func (e *Engine) GetWorkflow(ctx context.Context, workflowID int64) (*domain.WorkflowInstance, error) {
	inst, _, err := e.load(workflowID)
	return inst, err
}

func (e *Engine) load(workflowID int64) (*domain.WorkflowInstance, *workflow.Definition, error) {
	inst, err := e.instances.FindByID(workflowID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: id %d", ErrWorkflowNotFound, workflowID)
		}
		return nil, nil, err
	}
	def, ok := e.registry.Get(workflow.Type(inst.Type))
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedWorkflowType, inst.Type)
	}
	return inst, def, nil
}

// withConflictRetry runs op and, when it reports a version conflict, retries
// it exactly once after a short pause. The op re-reads the instance on every
// attempt.
func (e *Engine) withConflictRetry(ctx context.Context, op func() error) error {
	backoff := retry.WithMaxRetries(1, retry.NewConstant(e.conflictRetryWait))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := op(); err != nil {
			if errors.Is(err, ErrConflict) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}

func (e *Engine) recordAudit(ctx context.Context, tenantID, action, entityID, details string) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, tenantID, action, entityID, details); err != nil {
		slog.WarnContext(ctx, "Audit record failed", "action", action, "entity_id", entityID, "error", err)
	}
}
