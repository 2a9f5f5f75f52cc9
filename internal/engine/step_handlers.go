package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mkowalczyk/taxflow/internal/domain"
	"github.com/mkowalczyk/taxflow/internal/workflow"
)

// stepHandlers implements the per-type step logic. Real work happens in the
// collaborators; handlers shape inputs, fold errors and pick target states.
type stepHandlers struct {
	collab            Collaborators
	submissionTimeout time.Duration
}

func succeeded(data map[string]any, targetState workflow.State) *StepResult {
	return &StepResult{Success: true, Data: data, TargetState: string(targetState)}
}

func failed(msg string) *StepResult {
	return &StepResult{Success: false, ErrorMessage: msg}
}

func stringFromBag(bag map[string]any, key string) string {
	if bag == nil {
		return ""
	}
	if v, ok := bag[key].(string); ok {
		return v
	}
	return ""
}

// inputOrData prefers the step input over the accumulated data bag.
func inputOrData(inst *domain.WorkflowInstance, input map[string]any, key string) string {
	if v := stringFromBag(input, key); v != "" {
		return v
	}
	return stringFromBag(inst.Data, key)
}

// --- invoice_creation ---

func (h *stepHandlers) draftInvoice(ctx context.Context, inst *domain.WorkflowInstance, input map[string]any) *StepResult {
	inv, err := h.collab.Invoices.CreateInvoice(ctx, inst.TenantID, input)
	if err != nil {
		return failed(fmt.Sprintf("creating invoice: %v", err))
	}
	return succeeded(map[string]any{
		"invoiceId":     inv.ID,
		"invoiceNumber": inv.Number,
	}, "")
}

func (h *stepHandlers) validateInvoice(ctx context.Context, inst *domain.WorkflowInstance, input map[string]any) *StepResult {
	outcome, err := h.collab.Validator.ValidateInvoice(ctx, inst.TenantID, inst.Data)
	if err != nil {
		return failed(fmt.Sprintf("validating invoice: %v", err))
	}
	if !outcome.Valid {
		res := failed("invoice validation failed: " + strings.Join(outcome.Errors, "; "))
		res.TargetState = string(workflow.StateFailed)
		return res
	}
	data := map[string]any{}
	if len(outcome.Warnings) > 0 {
		data["validationWarnings"] = strings.Join(outcome.Warnings, "; ")
	}
	return succeeded(data, "pending_approval")
}

func (h *stepHandlers) approveInvoice(ctx context.Context, inst *domain.WorkflowInstance, input map[string]any) *StepResult {
	approver := stringFromBag(input, "approvedBy")
	if approver == "" {
		return failed("approvedBy is required")
	}
	return succeeded(map[string]any{"approvedBy": approver}, "approved")
}

func (h *stepHandlers) submitKsef(ctx context.Context, inst *domain.WorkflowInstance, input map[string]any) *StepResult {
	invoiceID := inputOrData(inst, input, "invoiceId")
	invoiceNumber := inputOrData(inst, input, "invoiceNumber")
	if invoiceID == "" {
		return failed("no invoiceId in workflow data")
	}
	receipt, err := h.submitWithTimeout(ctx, inst.TenantID, invoiceID, invoiceNumber)
	if err != nil {
		slog.WarnContext(ctx, "KSeF submission failed, requesting retry",
			"workflow_id", inst.ID, "tenant_id", inst.TenantID, "invoice_id", invoiceID, "error", err)
		res := failed(fmt.Sprintf("submitting invoice to KSeF: %v", err))
		res.TargetState = string(workflow.StateFailed)
		res.Retry = h.submissionRetryIntent(inst, invoiceID, invoiceNumber)
		return res
	}
	return succeeded(map[string]any{
		"ksefReferenceNumber": receipt.ReferenceNumber,
		"ksefStatus":          receipt.Status,
	}, workflow.StateCompleted)
}

// submitWithTimeout bounds the external submission call. A timeout is a
// retryable failure, not a fatal one.
func (h *stepHandlers) submitWithTimeout(ctx context.Context, tenantID, invoiceID, invoiceNumber string) (*SubmissionReceipt, error) {
	subCtx, cancel := context.WithTimeout(ctx, h.submissionTimeout)
	defer cancel()
	return h.collab.Submitter.SubmitInvoice(subCtx, tenantID, invoiceID, invoiceNumber)
}

func (h *stepHandlers) submissionRetryIntent(inst *domain.WorkflowInstance, invoiceID, invoiceNumber string) *RetryIntent {
	payload, err := json.Marshal(submissionRetryPayload{
		WorkflowID:    inst.ID,
		TenantID:      inst.TenantID,
		InvoiceID:     invoiceID,
		InvoiceNumber: invoiceNumber,
	})
	if err != nil {
		slog.Error("Failed to marshal retry payload", "workflow_id", inst.ID, "error", err)
		return nil
	}
	return &RetryIntent{Kind: domain.RetryKindKsefSubmission, Payload: string(payload)}
}

// --- tax_calculation ---

func (h *stepHandlers) collectPeriodData(ctx context.Context, inst *domain.WorkflowInstance, input map[string]any) *StepResult {
	period := inputOrData(inst, input, "period")
	if period == "" {
		return failed("period is required")
	}
	inputs, err := h.collab.Declarations.CollectPeriodData(ctx, inst.TenantID, period)
	if err != nil {
		return failed(fmt.Sprintf("collecting period data: %v", err))
	}
	data := map[string]any{"period": period}
	for k, v := range inputs {
		data[k] = v
	}
	return succeeded(data, "calculating")
}

func (h *stepHandlers) calculateLiability(ctx context.Context, inst *domain.WorkflowInstance, input map[string]any) *StepResult {
	figures, err := h.collab.Declarations.CalculateLiability(ctx, inst.TenantID, inst.Data)
	if err != nil {
		res := failed(fmt.Sprintf("calculating liability: %v", err))
		res.TargetState = string(workflow.StateFailed)
		return res
	}
	return succeeded(figures, "review")
}

func (h *stepHandlers) finalizeDeclaration(ctx context.Context, inst *domain.WorkflowInstance, input map[string]any) *StepResult {
	ref, err := h.collab.Declarations.FinalizeDeclaration(ctx, inst.TenantID, inst.Data)
	if err != nil {
		return failed(fmt.Sprintf("finalizing declaration: %v", err))
	}
	return succeeded(map[string]any{"declarationRef": ref}, workflow.StateCompleted)
}

// --- ksef_submission ---

func (h *stepHandlers) preparePayload(ctx context.Context, inst *domain.WorkflowInstance, input map[string]any) *StepResult {
	invoiceID := inputOrData(inst, input, "invoiceId")
	if invoiceID == "" {
		return failed("invoiceId is required")
	}
	inv, err := h.collab.Invoices.GetInvoiceByID(ctx, inst.TenantID, invoiceID)
	if err != nil {
		return failed(fmt.Sprintf("loading invoice %s: %v", invoiceID, err))
	}
	return succeeded(map[string]any{
		"invoiceId":     inv.ID,
		"invoiceNumber": inv.Number,
	}, "submitting")
}

func (h *stepHandlers) submitInvoice(ctx context.Context, inst *domain.WorkflowInstance, input map[string]any) *StepResult {
	invoiceID := stringFromBag(inst.Data, "invoiceId")
	invoiceNumber := stringFromBag(inst.Data, "invoiceNumber")
	if invoiceID == "" {
		return failed("no invoiceId in workflow data")
	}
	receipt, err := h.submitWithTimeout(ctx, inst.TenantID, invoiceID, invoiceNumber)
	if err != nil {
		res := failed(fmt.Sprintf("submitting invoice to KSeF: %v", err))
		res.TargetState = string(workflow.StateFailed)
		res.Retry = h.submissionRetryIntent(inst, invoiceID, invoiceNumber)
		return res
	}
	return succeeded(map[string]any{
		"ksefReferenceNumber": receipt.ReferenceNumber,
		"ksefStatus":          receipt.Status,
	}, "awaiting_upo")
}

func (h *stepHandlers) confirmUpo(ctx context.Context, inst *domain.WorkflowInstance, input map[string]any) *StepResult {
	ref := stringFromBag(inst.Data, "ksefReferenceNumber")
	if ref == "" {
		return failed("no ksefReferenceNumber in workflow data")
	}
	upoID, err := h.collab.Upo.ConfirmUpo(ctx, inst.TenantID, ref)
	if err != nil {
		// UPO issuance lags submission; leave the state alone so the caller
		// can poll again.
		return failed(fmt.Sprintf("confirming UPO: %v", err))
	}
	return succeeded(map[string]any{"upoId": upoID}, workflow.StateCompleted)
}

// --- customer_onboarding ---

func (h *stepHandlers) registerCompany(ctx context.Context, inst *domain.WorkflowInstance, input map[string]any) *StepResult {
	nip := stringFromBag(input, "nip")
	name := stringFromBag(input, "companyName")
	if nip == "" || name == "" {
		return failed("nip and companyName are required")
	}
	return succeeded(map[string]any{"nip": nip, "companyName": name}, "verification")
}

func (h *stepHandlers) verifyNip(ctx context.Context, inst *domain.WorkflowInstance, input map[string]any) *StepResult {
	nip := stringFromBag(inst.Data, "nip")
	if nip == "" {
		return failed("no nip in workflow data")
	}
	ok, err := h.collab.Nip.VerifyNIP(ctx, nip)
	if err != nil {
		return failed(fmt.Sprintf("verifying NIP: %v", err))
	}
	if !ok {
		res := failed("NIP " + nip + " not found in registry")
		res.TargetState = string(workflow.StateFailed)
		return res
	}
	return succeeded(map[string]any{"nipVerified": true}, "provisioning")
}

func (h *stepHandlers) activateAccount(ctx context.Context, inst *domain.WorkflowInstance, input map[string]any) *StepResult {
	return succeeded(map[string]any{"activatedAt": time.Now().UTC().Format(time.RFC3339)}, workflow.StateCompleted)
}
