// Package collaborators provides in-process stand-ins for the external
// services the engine delegates to. They are wired by the standalone binary
// so the core can run end to end without the invoicing service, the KSeF
// gateway or the registry lookups being reachable.
package collaborators

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mkowalczyk/taxflow/internal/engine"
)

// LocalInvoicing is a development invoicing backend backed by nothing.
type LocalInvoicing struct{}

func (LocalInvoicing) CreateInvoice(ctx context.Context, tenantID string, data map[string]any) (*engine.Invoice, error) {
	id := uuid.NewString()
	number, _ := data["invoiceNumber"].(string)
	if number == "" {
		number = "INV-" + id[:8]
	}
	nip, _ := data["nip"].(string)
	slog.Info("Created local invoice", "tenantId", tenantID, "invoiceId", id, "number", number)
	return &engine.Invoice{ID: id, Number: number, NIP: nip}, nil
}

func (LocalInvoicing) GetInvoiceByID(ctx context.Context, tenantID, id string) (*engine.Invoice, error) {
	return &engine.Invoice{ID: id, Number: "INV-" + id}, nil
}

func (LocalInvoicing) ValidateInvoice(ctx context.Context, tenantID string, data map[string]any) (*engine.ValidationOutcome, error) {
	outcome := &engine.ValidationOutcome{Valid: true}
	if nip, _ := data["nip"].(string); nip != "" && len(nip) != 10 {
		outcome.Valid = false
		outcome.Errors = append(outcome.Errors, "nip must be 10 digits")
	}
	return outcome, nil
}

// LocalKsefGateway fakes the KSeF API. Every submission is accepted and the
// UPO is available immediately.
type LocalKsefGateway struct{}

func (LocalKsefGateway) SubmitInvoice(ctx context.Context, tenantID, invoiceID, invoiceNumber string) (*engine.SubmissionReceipt, error) {
	ref := "KSEF-" + uuid.NewString()[:13]
	slog.Info("Submitted invoice to local gateway", "tenantId", tenantID, "invoiceId", invoiceID, "reference", ref)
	return &engine.SubmissionReceipt{ReferenceNumber: ref, Status: "accepted"}, nil
}

func (LocalKsefGateway) ConfirmUpo(ctx context.Context, tenantID, referenceNumber string) (string, error) {
	return "UPO-" + referenceNumber, nil
}

// LocalRegistry answers NIP checks without calling the white list API.
type LocalRegistry struct{}

func (LocalRegistry) VerifyNIP(ctx context.Context, nip string) (bool, error) {
	return len(nip) == 10, nil
}

// LocalCalculator returns zeroed declaration figures.
type LocalCalculator struct{}

func (LocalCalculator) CollectPeriodData(ctx context.Context, tenantID, period string) (map[string]any, error) {
	return map[string]any{"period": period, "salesNet": 0.0, "purchasesNet": 0.0}, nil
}

func (LocalCalculator) CalculateLiability(ctx context.Context, tenantID string, inputs map[string]any) (map[string]any, error) {
	return map[string]any{"vatDue": 0.0, "zusDue": 0.0}, nil
}

func (LocalCalculator) FinalizeDeclaration(ctx context.Context, tenantID string, figures map[string]any) (string, error) {
	return "DECL-" + uuid.NewString()[:8], nil
}

// OpenAccess lets every tenant reference every company and customer.
type OpenAccess struct{}

func (OpenAccess) ResolveCompany(ctx context.Context, tenantID, companyID string) error { return nil }
func (OpenAccess) ResolveCustomer(ctx context.Context, tenantID, customerID string) error { return nil }

// LogAudit writes audit entries to the application log.
type LogAudit struct{}

func (LogAudit) Record(ctx context.Context, tenantID, action, entityID, details string) error {
	slog.Info("Audit", "tenantId", tenantID, "action", action, "entityId", entityID, "details", details)
	return nil
}

// LogFailures records submission failures in the log instead of an invoice
// store.
type LogFailures struct{}

func (LogFailures) MarkSubmissionFailed(ctx context.Context, tenantID, payload, reason string) error {
	slog.Warn("Submission permanently failed", "tenantId", tenantID, "reason", reason)
	return nil
}

// LogNotifier replaces the operator notification channel with a log line.
type LogNotifier struct{}

func (LogNotifier) NotifyExhausted(ctx context.Context, tenantID, kind, payload string) error {
	slog.Warn("Retry task exhausted", "tenantId", tenantID, "kind", kind)
	return nil
}
