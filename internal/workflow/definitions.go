package workflow

// Step ids per definition. Handlers in internal/engine dispatch on these.
const (
	StepDraftInvoice    = "draft_invoice"
	StepValidateInvoice = "validate_invoice"
	StepApproveInvoice  = "approve_invoice"
	StepSubmitKsef      = "submit_ksef"

	StepCollectPeriodData   = "collect_period_data"
	StepCalculateLiability  = "calculate_liability"
	StepFinalizeDeclaration = "finalize_declaration"

	StepPreparePayload = "prepare_payload"
	StepSubmitInvoice  = "submit_invoice"
	StepConfirmUpo     = "confirm_upo"

	StepRegisterCompany = "register_company"
	StepVerifyNip       = "verify_nip"
	StepActivateAccount = "activate_account"
)

func allDefinitions() []*Definition {
	return []*Definition{
		invoiceCreationDefinition(),
		taxCalculationDefinition(),
		ksefSubmissionDefinition(),
		customerOnboardingDefinition(),
	}
}

// invoiceCreationDefinition drives an invoice from draft through validation
// and approval to KSeF submission.
func invoiceCreationDefinition() *Definition {
	const (
		stateDraft           State = "draft"
		statePendingApproval State = "pending_approval"
		stateApproved        State = "approved"
	)
	return &Definition{
		Type:        TypeInvoiceCreation,
		Description: "Invoice issuance: draft, validate, approve, submit to KSeF",
		Initial:     stateDraft,
		States: []State{
			stateDraft, statePendingApproval, stateApproved,
			StateCompleted, StateFailed, StateCancelled,
		},
		Transitions: []Transition{
			{From: stateDraft, To: statePendingApproval, Action: "validate"},
			{From: stateDraft, To: StateFailed, Action: "validation_failed"},
			{From: statePendingApproval, To: stateApproved, Action: "approve"},
			{From: stateApproved, To: StateCompleted, Action: "submit"},
			{From: stateApproved, To: StateFailed, Action: "submission_failed"},
			{From: stateDraft, To: StateCancelled, Action: ActionCancel},
			{From: statePendingApproval, To: StateCancelled, Action: ActionCancel},
			{From: stateApproved, To: StateCancelled, Action: ActionCancel},
		},
		Steps: []StepSpec{
			{ID: StepDraftInvoice, Name: "Draft invoice", BelongsTo: stateDraft},
			{ID: StepValidateInvoice, Name: "Validate invoice", BelongsTo: stateDraft},
			{ID: StepApproveInvoice, Name: "Approve invoice", BelongsTo: statePendingApproval},
			{ID: StepSubmitKsef, Name: "Submit to KSeF", BelongsTo: stateApproved},
		},
	}
}

// taxCalculationDefinition drives a periodic VAT/ZUS declaration from data
// collection to a finalized declaration. The arithmetic itself lives behind
// the DeclarationCalculator collaborator.
func taxCalculationDefinition() *Definition {
	const (
		stateCollecting  State = "collecting"
		stateCalculating State = "calculating"
		stateReview      State = "review"
	)
	return &Definition{
		Type:        TypeTaxCalculation,
		Description: "Periodic VAT/ZUS declaration preparation",
		Initial:     stateCollecting,
		States: []State{
			stateCollecting, stateCalculating, stateReview,
			StateCompleted, StateFailed, StateCancelled,
		},
		Transitions: []Transition{
			{From: stateCollecting, To: stateCalculating, Action: "collected"},
			{From: stateCalculating, To: stateReview, Action: "calculated"},
			{From: stateCalculating, To: StateFailed, Action: "calculation_failed"},
			{From: stateReview, To: StateCompleted, Action: "finalize"},
			{From: stateCollecting, To: StateCancelled, Action: ActionCancel},
			{From: stateCalculating, To: StateCancelled, Action: ActionCancel},
			{From: stateReview, To: StateCancelled, Action: ActionCancel},
		},
		Steps: []StepSpec{
			{ID: StepCollectPeriodData, Name: "Collect period data", BelongsTo: stateCollecting},
			{ID: StepCalculateLiability, Name: "Calculate liability", BelongsTo: stateCalculating},
			{ID: StepFinalizeDeclaration, Name: "Finalize declaration", BelongsTo: stateReview},
		},
	}
}

// ksefSubmissionDefinition drives a standalone submission of an existing
// invoice to KSeF, including waiting for the UPO confirmation.
func ksefSubmissionDefinition() *Definition {
	const (
		statePreparing   State = "preparing"
		stateSubmitting  State = "submitting"
		stateAwaitingUpo State = "awaiting_upo"
	)
	return &Definition{
		Type:        TypeKsefSubmission,
		Description: "Standalone KSeF submission with UPO confirmation",
		Initial:     statePreparing,
		States: []State{
			statePreparing, stateSubmitting, stateAwaitingUpo,
			StateCompleted, StateFailed, StateCancelled,
		},
		Transitions: []Transition{
			{From: statePreparing, To: stateSubmitting, Action: "prepared"},
			{From: stateSubmitting, To: stateAwaitingUpo, Action: "submitted"},
			{From: stateSubmitting, To: StateFailed, Action: "submission_failed"},
			{From: stateAwaitingUpo, To: StateCompleted, Action: "confirmed"},
			{From: stateAwaitingUpo, To: StateFailed, Action: "confirmation_failed"},
			{From: statePreparing, To: StateCancelled, Action: ActionCancel},
			{From: stateSubmitting, To: StateCancelled, Action: ActionCancel},
			{From: stateAwaitingUpo, To: StateCancelled, Action: ActionCancel},
		},
		Steps: []StepSpec{
			{ID: StepPreparePayload, Name: "Prepare submission payload", BelongsTo: statePreparing},
			{ID: StepSubmitInvoice, Name: "Submit invoice", BelongsTo: stateSubmitting},
			{ID: StepConfirmUpo, Name: "Confirm UPO receipt", BelongsTo: stateAwaitingUpo},
		},
	}
}

// customerOnboardingDefinition drives a new tenant company through NIP
// verification to an active account.
func customerOnboardingDefinition() *Definition {
	const (
		stateRegistration State = "registration"
		stateVerification State = "verification"
		stateProvisioning State = "provisioning"
	)
	return &Definition{
		Type:        TypeCustomerOnboarding,
		Description: "Customer onboarding with NIP verification",
		Initial:     stateRegistration,
		States: []State{
			stateRegistration, stateVerification, stateProvisioning,
			StateCompleted, StateFailed, StateCancelled,
		},
		Transitions: []Transition{
			{From: stateRegistration, To: stateVerification, Action: "registered"},
			{From: stateVerification, To: stateProvisioning, Action: "verified"},
			{From: stateVerification, To: StateFailed, Action: "verification_failed"},
			{From: stateProvisioning, To: StateCompleted, Action: "activated"},
			{From: stateRegistration, To: StateCancelled, Action: ActionCancel},
			{From: stateVerification, To: StateCancelled, Action: ActionCancel},
			{From: stateProvisioning, To: StateCancelled, Action: ActionCancel},
		},
		Steps: []StepSpec{
			{ID: StepRegisterCompany, Name: "Register company", BelongsTo: stateRegistration},
			{ID: StepVerifyNip, Name: "Verify NIP", BelongsTo: stateVerification},
			{ID: StepActivateAccount, Name: "Activate account", BelongsTo: stateProvisioning},
		},
	}
}
