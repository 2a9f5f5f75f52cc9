package engine

import (
	"context"

	"github.com/mkowalczyk/taxflow/internal/domain"
)

// InstanceRepo is the persistence surface the engine needs, matching
// repository.WorkflowInstanceRepository.
type InstanceRepo interface {
	Save(wf *domain.WorkflowInstance) (int64, error)
	FindByID(id int64) (*domain.WorkflowInstance, error)
	FindByExternalID(externalID string) (*domain.WorkflowInstance, error)
	ListByTenantAndState(tenantID, state string, limit int) ([]domain.WorkflowInstance, error)
	CountActiveByTemplate(templateID int64) (int, error)
	UpdateInstance(id int64, state string, data map[string]any, steps []domain.StepRuntime, version int64) (bool, error)
}

// TemplateRepo is the template lookup the engine needs when seeding steps.
type TemplateRepo interface {
	FindByID(id int64) (*domain.StepTemplate, error)
}

// RetryEnqueuer creates retry tasks for failed external submissions,
// matching retryqueue.Queue.
type RetryEnqueuer interface {
	Enqueue(ctx context.Context, tenantID, kind, payload string, maxAttempts int) (*domain.RetryTask, error)
}

// Invoice is the opaque shape returned by the invoicing collaborator.
type Invoice struct {
	ID     string
	Number string
	NIP    string
}

// ValidationOutcome is the invoicing collaborator's verdict on invoice data.
type ValidationOutcome struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// SubmissionReceipt is the KSeF collaborator's acknowledgement.
type SubmissionReceipt struct {
	ReferenceNumber string
	Status          string
}

// InvoiceCreator creates and fetches invoices. Implemented outside the core.
type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, tenantID string, data map[string]any) (*Invoice, error)
	GetInvoiceByID(ctx context.Context, tenantID, id string) (*Invoice, error)
}

// InvoiceValidator validates invoice data against business rules.
type InvoiceValidator interface {
	ValidateInvoice(ctx context.Context, tenantID string, data map[string]any) (*ValidationOutcome, error)
}

// InvoiceSubmitter submits an invoice to KSeF. Submission is not guaranteed
// idempotent; the caller passes the invoice number so a deduplicating gateway
// can reject duplicates.
type InvoiceSubmitter interface {
	SubmitInvoice(ctx context.Context, tenantID, invoiceID, invoiceNumber string) (*SubmissionReceipt, error)
}

// UpoConfirmer fetches the UPO confirmation for a submitted invoice.
type UpoConfirmer interface {
	ConfirmUpo(ctx context.Context, tenantID, referenceNumber string) (string, error)
}

// NIPVerifier checks a company's NIP against the official registry.
type NIPVerifier interface {
	VerifyNIP(ctx context.Context, nip string) (bool, error)
}

// DeclarationCalculator produces VAT/ZUS declaration figures. The arithmetic
// lives entirely behind this boundary.
type DeclarationCalculator interface {
	CollectPeriodData(ctx context.Context, tenantID, period string) (map[string]any, error)
	CalculateLiability(ctx context.Context, tenantID string, inputs map[string]any) (map[string]any, error)
	FinalizeDeclaration(ctx context.Context, tenantID string, figures map[string]any) (string, error)
}

// AccessChecker resolves tenant/company/customer cross references. A non-nil
// error means the caller may not create the workflow.
type AccessChecker interface {
	ResolveCompany(ctx context.Context, tenantID, companyID string) error
	ResolveCustomer(ctx context.Context, tenantID, customerID string) error
}

// AuditRecorder records an audit trail entry. Fire and forget: failures are
// logged and never abort the primary operation.
type AuditRecorder interface {
	Record(ctx context.Context, tenantID, action, entityID, details string) error
}

// CreateWorkflowRequest is the payload for creating a workflow instance.
type CreateWorkflowRequest struct {
	TenantID    string         `json:"tenantId"`
	Type        string         `json:"type"`
	Trigger     string         `json:"trigger"`
	InitialData map[string]any `json:"initialData"`
	CompanyID   string         `json:"companyId,omitempty"`
	CustomerID  string         `json:"customerId,omitempty"`
	TemplateID  int64          `json:"templateId,omitempty"`
}

// StepResult is what a step handler returns to the engine. Handlers fold
// every collaborator error into ErrorMessage so the engine can always persist
// a clean runtime status.
type StepResult struct {
	Success      bool           `json:"success"`
	Data         map[string]any `json:"data,omitempty"`
	ErrorMessage string         `json:"error,omitempty"`
	// TargetState, when set, is applied by the engine through the same
	// transition path as an explicit Transition call.
	TargetState string `json:"targetState,omitempty"`
	// Retry, when set, asks the engine to enqueue a retry task for a failed
	// external submission.
	Retry *RetryIntent `json:"-"`
}

// RetryIntent describes the retry task a failed step wants enqueued.
type RetryIntent struct {
	Kind        string
	Payload     string
	MaxAttempts int
}

// submissionRetryPayload is the opaque payload carried by a
// ksef_submission_retry task: enough to re-invoke the external call and to
// find the owning workflow afterwards.
type submissionRetryPayload struct {
	WorkflowID    int64  `json:"workflowId"`
	TenantID      string `json:"tenantId"`
	InvoiceID     string `json:"invoiceId"`
	InvoiceNumber string `json:"invoiceNumber"`
}
