package engine

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/mkowalczyk/taxflow/internal/domain"
	"github.com/mkowalczyk/taxflow/internal/workflow"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time                         { return c.now }
func (c *fakeClock) After(d time.Duration) <-chan time.Time { return time.After(0) }
func (c *fakeClock) Sleep(d time.Duration)                  {}

// memInstanceRepo is an in-memory InstanceRepo honoring the version check the
// way the SQL repository does.
type memInstanceRepo struct {
	instances map[int64]*domain.WorkflowInstance
	nextID    int64

	// failUpdates forces the next n UpdateInstance calls to report a version
	// conflict.
	failUpdates int
}

func newMemInstanceRepo() *memInstanceRepo {
	return &memInstanceRepo{instances: make(map[int64]*domain.WorkflowInstance), nextID: 1}
}

func (r *memInstanceRepo) Save(wf *domain.WorkflowInstance) (int64, error) {
	wf.ID = r.nextID
	r.nextID++
	cp := *wf
	r.instances[wf.ID] = &cp
	return wf.ID, nil
}

func (r *memInstanceRepo) FindByID(id int64) (*domain.WorkflowInstance, error) {
	wf, ok := r.instances[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *wf
	cp.Data = cloneBag(wf.Data)
	cp.Steps = append([]domain.StepRuntime(nil), wf.Steps...)
	return &cp, nil
}

func (r *memInstanceRepo) FindByExternalID(externalID string) (*domain.WorkflowInstance, error) {
	for _, wf := range r.instances {
		if wf.ExternalID == externalID {
			return r.FindByID(wf.ID)
		}
	}
	return nil, sql.ErrNoRows
}

func (r *memInstanceRepo) ListByTenantAndState(tenantID, state string, limit int) ([]domain.WorkflowInstance, error) {
	var out []domain.WorkflowInstance
	for _, wf := range r.instances {
		if wf.TenantID == tenantID && wf.State == state {
			out = append(out, *wf)
		}
	}
	return out, nil
}

func (r *memInstanceRepo) CountActiveByTemplate(templateID int64) (int, error) {
	return 0, nil
}

func (r *memInstanceRepo) UpdateInstance(id int64, state string, data map[string]any, steps []domain.StepRuntime, version int64) (bool, error) {
	if r.failUpdates > 0 {
		r.failUpdates--
		return false, nil
	}
	wf, ok := r.instances[id]
	if !ok || wf.Version != version {
		return false, nil
	}
	wf.State = state
	wf.Data = cloneBag(data)
	wf.Steps = append([]domain.StepRuntime(nil), steps...)
	wf.Version++
	return true, nil
}

func cloneBag(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

type mockTemplateRepo struct {
	findByID func(id int64) (*domain.StepTemplate, error)
}

func (m *mockTemplateRepo) FindByID(id int64) (*domain.StepTemplate, error) {
	return m.findByID(id)
}

type mockRetryEnqueuer struct {
	tasks []domain.RetryTask
}

func (m *mockRetryEnqueuer) Enqueue(ctx context.Context, tenantID, kind, payload string, maxAttempts int) (*domain.RetryTask, error) {
	task := domain.RetryTask{
		ID:          int64(len(m.tasks) + 1),
		TenantID:    tenantID,
		Kind:        kind,
		Payload:     payload,
		MaxAttempts: maxAttempts,
		Status:      domain.RetryStatusPending,
	}
	m.tasks = append(m.tasks, task)
	return &task, nil
}

type mockAccess struct {
	resolveCompany  func(ctx context.Context, tenantID, companyID string) error
	resolveCustomer func(ctx context.Context, tenantID, customerID string) error
}

func (m *mockAccess) ResolveCompany(ctx context.Context, tenantID, companyID string) error {
	if m.resolveCompany != nil {
		return m.resolveCompany(ctx, tenantID, companyID)
	}
	return nil
}

func (m *mockAccess) ResolveCustomer(ctx context.Context, tenantID, customerID string) error {
	if m.resolveCustomer != nil {
		return m.resolveCustomer(ctx, tenantID, customerID)
	}
	return nil
}

type mockAudit struct {
	entries []string
}

func (m *mockAudit) Record(ctx context.Context, tenantID, action, entityID, details string) error {
	m.entries = append(m.entries, action)
	return nil
}

// mockCollaborators bundles func-field fakes for every external capability.
type mockCollaborators struct {
	createInvoice   func(ctx context.Context, tenantID string, data map[string]any) (*Invoice, error)
	getInvoice      func(ctx context.Context, tenantID, id string) (*Invoice, error)
	validateInvoice func(ctx context.Context, tenantID string, data map[string]any) (*ValidationOutcome, error)
	submitInvoice   func(ctx context.Context, tenantID, invoiceID, invoiceNumber string) (*SubmissionReceipt, error)
	confirmUpo      func(ctx context.Context, tenantID, referenceNumber string) (string, error)
	verifyNIP       func(ctx context.Context, nip string) (bool, error)
}

func (m *mockCollaborators) CreateInvoice(ctx context.Context, tenantID string, data map[string]any) (*Invoice, error) {
	return m.createInvoice(ctx, tenantID, data)
}

func (m *mockCollaborators) GetInvoiceByID(ctx context.Context, tenantID, id string) (*Invoice, error) {
	return m.getInvoice(ctx, tenantID, id)
}

func (m *mockCollaborators) ValidateInvoice(ctx context.Context, tenantID string, data map[string]any) (*ValidationOutcome, error) {
	return m.validateInvoice(ctx, tenantID, data)
}

func (m *mockCollaborators) SubmitInvoice(ctx context.Context, tenantID, invoiceID, invoiceNumber string) (*SubmissionReceipt, error) {
	return m.submitInvoice(ctx, tenantID, invoiceID, invoiceNumber)
}

func (m *mockCollaborators) ConfirmUpo(ctx context.Context, tenantID, referenceNumber string) (string, error) {
	return m.confirmUpo(ctx, tenantID, referenceNumber)
}

func (m *mockCollaborators) VerifyNIP(ctx context.Context, nip string) (bool, error) {
	return m.verifyNIP(ctx, nip)
}

type mockCalculator struct {
	collect   func(ctx context.Context, tenantID, period string) (map[string]any, error)
	calculate func(ctx context.Context, tenantID string, inputs map[string]any) (map[string]any, error)
	finalize  func(ctx context.Context, tenantID string, figures map[string]any) (string, error)
}

func (m *mockCalculator) CollectPeriodData(ctx context.Context, tenantID, period string) (map[string]any, error) {
	return m.collect(ctx, tenantID, period)
}

func (m *mockCalculator) CalculateLiability(ctx context.Context, tenantID string, inputs map[string]any) (map[string]any, error) {
	return m.calculate(ctx, tenantID, inputs)
}

func (m *mockCalculator) FinalizeDeclaration(ctx context.Context, tenantID string, figures map[string]any) (string, error) {
	return m.finalize(ctx, tenantID, figures)
}

type engineFixture struct {
	engine    *Engine
	instances *memInstanceRepo
	retries   *mockRetryEnqueuer
	audit     *mockAudit
	collab    *mockCollaborators
	calc      *mockCalculator
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	collab := &mockCollaborators{
		createInvoice: func(ctx context.Context, tenantID string, data map[string]any) (*Invoice, error) {
			return &Invoice{ID: "inv-1", Number: "INV-1"}, nil
		},
		getInvoice: func(ctx context.Context, tenantID, id string) (*Invoice, error) {
			return &Invoice{ID: id, Number: "INV-" + id}, nil
		},
		validateInvoice: func(ctx context.Context, tenantID string, data map[string]any) (*ValidationOutcome, error) {
			return &ValidationOutcome{Valid: true}, nil
		},
		submitInvoice: func(ctx context.Context, tenantID, invoiceID, invoiceNumber string) (*SubmissionReceipt, error) {
			return &SubmissionReceipt{ReferenceNumber: "REF-1", Status: "accepted"}, nil
		},
		confirmUpo: func(ctx context.Context, tenantID, referenceNumber string) (string, error) {
			return "UPO-1", nil
		},
		verifyNIP: func(ctx context.Context, nip string) (bool, error) {
			return true, nil
		},
	}
	calc := &mockCalculator{
		collect: func(ctx context.Context, tenantID, period string) (map[string]any, error) {
			return map[string]any{"salesNet": 1000.0}, nil
		},
		calculate: func(ctx context.Context, tenantID string, inputs map[string]any) (map[string]any, error) {
			return map[string]any{"vatDue": 230.0}, nil
		},
		finalize: func(ctx context.Context, tenantID string, figures map[string]any) (string, error) {
			return "DECL-1", nil
		},
	}

	instances := newMemInstanceRepo()
	retries := &mockRetryEnqueuer{}
	audit := &mockAudit{}
	dispatcher := NewDispatcher(Collaborators{
		Invoices:     collab,
		Validator:    collab,
		Submitter:    collab,
		Upo:          collab,
		Nip:          collab,
		Declarations: calc,
	}, 30*time.Second)

	eng := NewEngine(
		workflow.NewRegistry(),
		dispatcher,
		instances,
		&mockTemplateRepo{findByID: func(id int64) (*domain.StepTemplate, error) {
			return nil, sql.ErrNoRows
		}},
		retries,
		&mockAccess{},
		audit,
		&fakeClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)},
		5,
	)
	return &engineFixture{engine: eng, instances: instances, retries: retries, audit: audit, collab: collab, calc: calc}
}

func TestCreateWorkflowStartsInInitialState(t *testing.T) {
	f := newEngineFixture(t)

	inst, err := f.engine.CreateWorkflow(context.Background(), CreateWorkflowRequest{
		TenantID: "tenant-1",
		Type:     "invoice_creation",
		Trigger:  "api",
	})
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	if inst.State != "draft" {
		t.Errorf("expected initial state draft, got %s", inst.State)
	}
	if inst.Version != 1 {
		t.Errorf("expected version 1, got %d", inst.Version)
	}
	if inst.ExternalID == "" {
		t.Error("expected external id to be assigned")
	}
	if len(inst.Steps) != 4 {
		t.Fatalf("expected 4 seeded steps, got %d", len(inst.Steps))
	}
	for _, s := range inst.Steps {
		if s.Status != domain.StepStatusPending {
			t.Errorf("step %s seeded with status %s", s.ID, s.Status)
		}
	}
}

func TestCreateWorkflowRejectsUnknownType(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.CreateWorkflow(context.Background(), CreateWorkflowRequest{
		TenantID: "tenant-1",
		Type:     "payroll_run",
	})
	if !errors.Is(err, ErrUnsupportedWorkflowType) {
		t.Errorf("expected ErrUnsupportedWorkflowType, got %v", err)
	}
}

func TestCreateWorkflowChecksCompanyAccess(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.access = &mockAccess{
		resolveCompany: func(ctx context.Context, tenantID, companyID string) error {
			return errors.New("no such company")
		},
	}

	_, err := f.engine.CreateWorkflow(context.Background(), CreateWorkflowRequest{
		TenantID:  "tenant-1",
		Type:      "invoice_creation",
		CompanyID: "company-9",
	})
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}
}

func TestCreateWorkflowWithTemplateRestrictsSteps(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.templates = &mockTemplateRepo{findByID: func(id int64) (*domain.StepTemplate, error) {
		return &domain.StepTemplate{
			ID:           id,
			WorkflowType: "invoice_creation",
			StepIDs:      []string{"draft_invoice", "submit_ksef"},
			Active:       true,
		}, nil
	}}

	inst, err := f.engine.CreateWorkflow(context.Background(), CreateWorkflowRequest{
		TenantID:   "tenant-1",
		Type:       "invoice_creation",
		TemplateID: 7,
	})
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	if len(inst.Steps) != 2 {
		t.Fatalf("expected 2 templated steps, got %d", len(inst.Steps))
	}
	if inst.Steps[0].ID != "draft_invoice" || inst.Steps[1].ID != "submit_ksef" {
		t.Errorf("unexpected step order: %+v", inst.Steps)
	}
}

func TestCreateWorkflowRejectsBadTemplates(t *testing.T) {
	cases := []struct {
		name string
		tpl  *domain.StepTemplate
	}{
		{"inactive", &domain.StepTemplate{WorkflowType: "invoice_creation", StepIDs: []string{"draft_invoice"}, Active: false}},
		{"wrong type", &domain.StepTemplate{WorkflowType: "tax_calculation", StepIDs: []string{"collect_period_data"}, Active: true}},
		{"foreign step", &domain.StepTemplate{WorkflowType: "invoice_creation", StepIDs: []string{"verify_nip"}, Active: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newEngineFixture(t)
			f.engine.templates = &mockTemplateRepo{findByID: func(id int64) (*domain.StepTemplate, error) {
				return tc.tpl, nil
			}}
			_, err := f.engine.CreateWorkflow(context.Background(), CreateWorkflowRequest{
				TenantID:   "tenant-1",
				Type:       "invoice_creation",
				TemplateID: 7,
			})
			if !errors.Is(err, ErrInvalidTemplate) {
				t.Errorf("expected ErrInvalidTemplate, got %v", err)
			}
		})
	}
}

func TestInvoiceCreationHappyPath(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	inst, err := f.engine.CreateWorkflow(ctx, CreateWorkflowRequest{
		TenantID: "tenant-1",
		Type:     "invoice_creation",
		Trigger:  "api",
	})
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}

	if _, err := f.engine.ExecuteStep(ctx, inst.ID, "draft_invoice", map[string]any{"nip": "1234567890"}); err != nil {
		t.Fatalf("draft_invoice: %v", err)
	}
	got, _ := f.engine.GetWorkflow(ctx, inst.ID)
	if got.State != "draft" {
		t.Errorf("drafting must not change state, got %s", got.State)
	}
	if got.Data["invoiceNumber"] != "INV-1" {
		t.Errorf("expected invoiceNumber INV-1 in data, got %v", got.Data["invoiceNumber"])
	}

	if _, err := f.engine.ExecuteStep(ctx, inst.ID, "validate_invoice", nil); err != nil {
		t.Fatalf("validate_invoice: %v", err)
	}
	got, _ = f.engine.GetWorkflow(ctx, inst.ID)
	if got.State != "pending_approval" {
		t.Errorf("expected pending_approval after validation, got %s", got.State)
	}

	if _, err := f.engine.ExecuteStep(ctx, inst.ID, "approve_invoice", map[string]any{"approvedBy": "alice"}); err != nil {
		t.Fatalf("approve_invoice: %v", err)
	}
	got, _ = f.engine.GetWorkflow(ctx, inst.ID)
	if got.State != "approved" {
		t.Errorf("expected approved, got %s", got.State)
	}

	if _, err := f.engine.ExecuteStep(ctx, inst.ID, "submit_ksef", nil); err != nil {
		t.Fatalf("submit_ksef: %v", err)
	}
	got, _ = f.engine.GetWorkflow(ctx, inst.ID)
	if got.State != "completed" {
		t.Errorf("expected completed, got %s", got.State)
	}
	if got.Data["ksefReferenceNumber"] != "REF-1" {
		t.Errorf("expected ksefReferenceNumber REF-1, got %v", got.Data["ksefReferenceNumber"])
	}
	for _, s := range got.Steps {
		if s.Status != domain.StepStatusCompleted {
			t.Errorf("step %s not completed: %s", s.ID, s.Status)
		}
	}
	if len(f.retries.tasks) != 0 {
		t.Errorf("no retry task expected on the happy path, got %d", len(f.retries.tasks))
	}
}

func TestSubmissionFailureParksWorkflowAndEnqueuesRetry(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.collab.submitInvoice = func(ctx context.Context, tenantID, invoiceID, invoiceNumber string) (*SubmissionReceipt, error) {
		return nil, errors.New("KSeF gateway unavailable")
	}

	inst, _ := f.engine.CreateWorkflow(ctx, CreateWorkflowRequest{TenantID: "tenant-1", Type: "invoice_creation"})
	mustExecute(t, f, inst.ID, "draft_invoice", map[string]any{"nip": "1234567890"})
	mustExecute(t, f, inst.ID, "validate_invoice", nil)
	mustExecute(t, f, inst.ID, "approve_invoice", map[string]any{"approvedBy": "alice"})

	result, err := f.engine.ExecuteStep(ctx, inst.ID, "submit_ksef", nil)
	if err != nil {
		t.Fatalf("ExecuteStep: %v", err)
	}
	if result.Success {
		t.Error("expected a failed step result")
	}

	got, _ := f.engine.GetWorkflow(ctx, inst.ID)
	if got.State != "failed" {
		t.Errorf("expected state failed, got %s", got.State)
	}
	step := got.StepByID("submit_ksef")
	if step == nil || step.Status != domain.StepStatusFailed {
		t.Errorf("expected submit_ksef runtime status failed, got %+v", step)
	}

	if len(f.retries.tasks) != 1 {
		t.Fatalf("expected 1 retry task, got %d", len(f.retries.tasks))
	}
	task := f.retries.tasks[0]
	if task.Kind != domain.RetryKindKsefSubmission {
		t.Errorf("expected kind %s, got %s", domain.RetryKindKsefSubmission, task.Kind)
	}
	if task.Attempt != 0 {
		t.Errorf("expected attempt 0 on a fresh task, got %d", task.Attempt)
	}
	if task.MaxAttempts != 5 {
		t.Errorf("expected engine default max attempts 5, got %d", task.MaxAttempts)
	}
}

func mustExecute(t *testing.T, f *engineFixture, id int64, step string, input map[string]any) {
	t.Helper()
	if _, err := f.engine.ExecuteStep(context.Background(), id, step, input); err != nil {
		t.Fatalf("%s: %v", step, err)
	}
}

func TestValidationFailureTransitionsToFailed(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.collab.validateInvoice = func(ctx context.Context, tenantID string, data map[string]any) (*ValidationOutcome, error) {
		return &ValidationOutcome{Valid: false, Errors: []string{"missing nip"}}, nil
	}

	inst, _ := f.engine.CreateWorkflow(ctx, CreateWorkflowRequest{TenantID: "tenant-1", Type: "invoice_creation"})
	result, err := f.engine.ExecuteStep(ctx, inst.ID, "validate_invoice", nil)
	if err != nil {
		t.Fatalf("ExecuteStep: %v", err)
	}
	if result.Success {
		t.Error("expected failed result")
	}
	got, _ := f.engine.GetWorkflow(ctx, inst.ID)
	if got.State != "failed" {
		t.Errorf("expected state failed, got %s", got.State)
	}
	if len(f.retries.tasks) != 0 {
		t.Error("validation failures must not enqueue retries")
	}
}

func TestExecuteStepMergesDataShallowly(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	inst, _ := f.engine.CreateWorkflow(ctx, CreateWorkflowRequest{
		TenantID:    "tenant-1",
		Type:        "customer_onboarding",
		InitialData: map[string]any{"nip": "0000000000", "source": "signup"},
	})
	mustExecute(t, f, inst.ID, "register_company", map[string]any{"nip": "1234567890", "companyName": "Acme"})

	got, _ := f.engine.GetWorkflow(ctx, inst.ID)
	if got.Data["nip"] != "1234567890" {
		t.Errorf("later write must win: got %v", got.Data["nip"])
	}
	if got.Data["source"] != "signup" {
		t.Errorf("untouched keys must survive: got %v", got.Data["source"])
	}
	if got.Data["companyName"] != "Acme" {
		t.Errorf("new keys must be added: got %v", got.Data["companyName"])
	}
}

func TestExecuteStepRejectsUndeclaredStep(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	inst, _ := f.engine.CreateWorkflow(ctx, CreateWorkflowRequest{TenantID: "tenant-1", Type: "invoice_creation"})
	_, err := f.engine.ExecuteStep(ctx, inst.ID, "collect_period_data", nil)
	if !errors.Is(err, ErrStepNotFound) {
		t.Errorf("expected ErrStepNotFound, got %v", err)
	}
}

func TestExecuteStepFailsClosedWithoutHandler(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	inst, _ := f.engine.CreateWorkflow(ctx, CreateWorkflowRequest{TenantID: "tenant-1", Type: "invoice_creation"})
	delete(f.engine.dispatcher.handlers, dispatchKey{Type: workflow.TypeInvoiceCreation, Step: "draft_invoice"})

	_, err := f.engine.ExecuteStep(ctx, inst.ID, "draft_invoice", nil)
	if !errors.Is(err, ErrUnknownStep) {
		t.Errorf("expected ErrUnknownStep, got %v", err)
	}
	got, _ := f.engine.GetWorkflow(ctx, inst.ID)
	if got.State != "draft" || got.Version != 1 {
		t.Errorf("instance must be untouched, got state=%s version=%d", got.State, got.Version)
	}
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	inst, _ := f.engine.CreateWorkflow(ctx, CreateWorkflowRequest{TenantID: "tenant-1", Type: "invoice_creation"})
	_, err := f.engine.Transition(ctx, inst.ID, "completed", nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	got, _ := f.engine.GetWorkflow(ctx, inst.ID)
	if got.State != "draft" {
		t.Errorf("rejected transition must leave the state unchanged, got %s", got.State)
	}
}

func TestTransitionSurvivesOneVersionConflict(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	inst, _ := f.engine.CreateWorkflow(ctx, CreateWorkflowRequest{TenantID: "tenant-1", Type: "invoice_creation"})
	f.instances.failUpdates = 1

	out, err := f.engine.Transition(ctx, inst.ID, "pending_approval", nil)
	if err != nil {
		t.Fatalf("expected one transparent retry to absorb the conflict: %v", err)
	}
	if out.State != "pending_approval" {
		t.Errorf("expected pending_approval, got %s", out.State)
	}
}

func TestTransitionSurfacesRepeatedConflicts(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	inst, _ := f.engine.CreateWorkflow(ctx, CreateWorkflowRequest{TenantID: "tenant-1", Type: "invoice_creation"})
	f.instances.failUpdates = 2

	_, err := f.engine.Transition(ctx, inst.ID, "pending_approval", nil)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict after the retry budget, got %v", err)
	}
}

func TestCancelWorkflow(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	inst, _ := f.engine.CreateWorkflow(ctx, CreateWorkflowRequest{TenantID: "tenant-1", Type: "invoice_creation"})
	out, err := f.engine.CancelWorkflow(ctx, "tenant-1", inst.ID)
	if err != nil {
		t.Fatalf("CancelWorkflow: %v", err)
	}
	if out.State != "cancelled" {
		t.Errorf("expected cancelled, got %s", out.State)
	}
}

func TestCancelWorkflowRejectsOtherTenants(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	inst, _ := f.engine.CreateWorkflow(ctx, CreateWorkflowRequest{TenantID: "tenant-1", Type: "invoice_creation"})
	_, err := f.engine.CancelWorkflow(ctx, "tenant-2", inst.ID)
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}
}

func TestCancelWorkflowRejectsTerminalInstances(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	inst, _ := f.engine.CreateWorkflow(ctx, CreateWorkflowRequest{TenantID: "tenant-1", Type: "invoice_creation"})
	if _, err := f.engine.CancelWorkflow(ctx, "tenant-1", inst.ID); err != nil {
		t.Fatalf("first cancel: %v", err)
	}

	_, err := f.engine.CancelWorkflow(ctx, "tenant-1", inst.ID)
	if !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation on a terminal instance, got %v", err)
	}
}

func TestGetWorkflowNotFound(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.GetWorkflow(context.Background(), 999)
	if !errors.Is(err, ErrWorkflowNotFound) {
		t.Errorf("expected ErrWorkflowNotFound, got %v", err)
	}
}
