package engine

import (
	"context"
	"time"

	"github.com/mkowalczyk/taxflow/internal/domain"
	"github.com/mkowalczyk/taxflow/internal/workflow"
)

// StepHandler executes one step against an instance and returns its effect.
// Handlers must not propagate collaborator errors; they translate them into a
// failed StepResult so the engine can always persist a clean status.
type StepHandler func(ctx context.Context, inst *domain.WorkflowInstance, input map[string]any) *StepResult

type dispatchKey struct {
	Type workflow.Type
	Step string
}

// Dispatcher resolves (workflow type, step id) to the handler implementing
// it. The table is built once at construction; unknown combinations fail
// closed.
type Dispatcher struct {
	handlers map[dispatchKey]StepHandler
}

// Collaborators bundles the external capability interfaces the step handlers
// call out to.
type Collaborators struct {
	Invoices     InvoiceCreator
	Validator    InvoiceValidator
	Submitter    InvoiceSubmitter
	Upo          UpoConfirmer
	Nip          NIPVerifier
	Declarations DeclarationCalculator
}

// NewDispatcher builds the full dispatch table for all compiled-in workflow
// types.
func NewDispatcher(c Collaborators, submissionTimeout time.Duration) *Dispatcher {
	d := &Dispatcher{handlers: make(map[dispatchKey]StepHandler)}
	h := &stepHandlers{collab: c, submissionTimeout: submissionTimeout}

	d.register(workflow.TypeInvoiceCreation, workflow.StepDraftInvoice, h.draftInvoice)
	d.register(workflow.TypeInvoiceCreation, workflow.StepValidateInvoice, h.validateInvoice)
	d.register(workflow.TypeInvoiceCreation, workflow.StepApproveInvoice, h.approveInvoice)
	d.register(workflow.TypeInvoiceCreation, workflow.StepSubmitKsef, h.submitKsef)

	d.register(workflow.TypeTaxCalculation, workflow.StepCollectPeriodData, h.collectPeriodData)
	d.register(workflow.TypeTaxCalculation, workflow.StepCalculateLiability, h.calculateLiability)
	d.register(workflow.TypeTaxCalculation, workflow.StepFinalizeDeclaration, h.finalizeDeclaration)

	d.register(workflow.TypeKsefSubmission, workflow.StepPreparePayload, h.preparePayload)
	d.register(workflow.TypeKsefSubmission, workflow.StepSubmitInvoice, h.submitInvoice)
	d.register(workflow.TypeKsefSubmission, workflow.StepConfirmUpo, h.confirmUpo)

	d.register(workflow.TypeCustomerOnboarding, workflow.StepRegisterCompany, h.registerCompany)
	d.register(workflow.TypeCustomerOnboarding, workflow.StepVerifyNip, h.verifyNip)
	d.register(workflow.TypeCustomerOnboarding, workflow.StepActivateAccount, h.activateAccount)

	return d
}

func (d *Dispatcher) register(t workflow.Type, step string, h StepHandler) {
	d.handlers[dispatchKey{Type: t, Step: step}] = h
}

// Resolve returns the handler for the given combination, or false when no
// handler is registered.
func (d *Dispatcher) Resolve(t workflow.Type, step string) (StepHandler, bool) {
	h, ok := d.handlers[dispatchKey{Type: t, Step: step}]
	return h, ok
}
