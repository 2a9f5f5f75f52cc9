package repository

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/mkowalczyk/taxflow/internal/core"
	"github.com/mkowalczyk/taxflow/internal/domain"
)

// WorkflowInstanceRepository persists workflow instances. All engine
// mutations funnel through UpdateInstance, a conditional write keyed on the
// version column so concurrent step executions against the same instance
// cannot both commit.
type WorkflowInstanceRepository struct {
	db    *sql.DB
	clock core.Clock
}

const instanceColumns = ` id, tenant_id, external_id, workflow_type, state, trigger_source,
	       company_id, customer_id, template_id, data, steps, version, created, updated `

func NewWorkflowInstanceRepository(db *sql.DB, clock core.Clock) *WorkflowInstanceRepository {
	return &WorkflowInstanceRepository{db: db, clock: clock}
}

func (r *WorkflowInstanceRepository) Save(wf *domain.WorkflowInstance) (int64, error) {
	dataJSON, err := marshalData(wf.Data)
	if err != nil {
		return 0, err
	}
	stepsJSON, err := marshalSteps(wf.Steps)
	if err != nil {
		return 0, err
	}

	vals := []interface{}{
		wf.TenantID, wf.ExternalID, wf.Type, wf.State, wf.Trigger,
		wf.CompanyID, wf.CustomerID, wf.TemplateID, dataJSON, stepsJSON,
		wf.Version, formatDateInDatabase(wf.Created), formatDateInDatabase(wf.Updated),
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	query := `INSERT INTO workflow_instances (
		tenant_id, external_id, workflow_type, state, trigger_source,
		company_id, customer_id, template_id, data, steps, version, created, updated
	) VALUES (` + strings.Join(pps, ", ") + `)`

	id, err := insertReturningID(r.db, query, vals...)
	if err != nil {
		return 0, err
	}
	wf.ID = id
	return id, nil
}

func (r *WorkflowInstanceRepository) FindByID(id int64) (*domain.WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances WHERE id = ` + placeholder(1) + `
	`
	return r.scanOne(r.db.QueryRow(query, id))
}

func (r *WorkflowInstanceRepository) FindByExternalID(externalID string) (*domain.WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances WHERE external_id = ` + placeholder(1) + `
	`
	return r.scanOne(r.db.QueryRow(query, externalID))
}

// ListByTenantAndState returns instances for a tenant, optionally filtered by
// state, newest first.
func (r *WorkflowInstanceRepository) ListByTenantAndState(tenantID, state string, limit int) ([]domain.WorkflowInstance, error) {
	args := []interface{}{tenantID}
	where := "tenant_id = " + placeholder(1)
	if state != "" {
		args = append(args, state)
		where += " AND state = " + placeholder(2)
	}
	args = append(args, limit)
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE ` + where + `
		ORDER BY id DESC
		LIMIT ` + placeholder(len(args))

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WorkflowInstance
	for rows.Next() {
		wf, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *wf)
	}
	return out, rows.Err()
}

// CountActiveByTemplate counts instances referencing the template that have
// not reached a terminal state. Used to refuse template deactivation.
func (r *WorkflowInstanceRepository) CountActiveByTemplate(templateID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM workflow_instances
		WHERE template_id = ` + placeholder(1) + `
		  AND state NOT IN ('completed', 'failed', 'cancelled')
	`
	var n int
	err := r.db.QueryRow(query, templateID).Scan(&n)
	return n, err
}

// UpdateInstance writes state, data and steps conditionally on the version
// the caller read. Returns false when another writer got there first.
func (r *WorkflowInstanceRepository) UpdateInstance(id int64, state string, data map[string]any, steps []domain.StepRuntime, version int64) (bool, error) {
	dataJSON, err := marshalData(data)
	if err != nil {
		return false, err
	}
	stepsJSON, err := marshalSteps(steps)
	if err != nil {
		return false, err
	}
	query := `
		UPDATE workflow_instances
		SET state = ` + placeholder(1) + `, data = ` + placeholder(2) + `, steps = ` + placeholder(3) + `,
		    version = version + 1, updated = ` + nowExpr(r.clock) + `
		WHERE id = ` + placeholder(4) + ` AND version = ` + placeholder(5) + `
	`
	result, err := r.db.Exec(query, state, dataJSON, stepsJSON, id, version)
	if err != nil {
		slog.Error("Failed to update workflow instance", "error", err, "workflow_id", id)
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}

func (r *WorkflowInstanceRepository) scanOne(row *sql.Row) (*domain.WorkflowInstance, error) {
	var wf domain.WorkflowInstance
	var dataJSON, stepsJSON string
	err := row.Scan(
		&wf.ID,
		&wf.TenantID,
		&wf.ExternalID,
		&wf.Type,
		&wf.State,
		&wf.Trigger,
		&wf.CompanyID,
		&wf.CustomerID,
		&wf.TemplateID,
		&dataJSON,
		&stepsJSON,
		&wf.Version,
		&wf.Created,
		&wf.Updated,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalInstance(&wf, dataJSON, stepsJSON); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (r *WorkflowInstanceRepository) scanRow(rows *sql.Rows) (*domain.WorkflowInstance, error) {
	var wf domain.WorkflowInstance
	var dataJSON, stepsJSON string
	err := rows.Scan(
		&wf.ID,
		&wf.TenantID,
		&wf.ExternalID,
		&wf.Type,
		&wf.State,
		&wf.Trigger,
		&wf.CompanyID,
		&wf.CustomerID,
		&wf.TemplateID,
		&dataJSON,
		&stepsJSON,
		&wf.Version,
		&wf.Created,
		&wf.Updated,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalInstance(&wf, dataJSON, stepsJSON); err != nil {
		return nil, err
	}
	return &wf, nil
}

func unmarshalInstance(wf *domain.WorkflowInstance, dataJSON, stepsJSON string) error {
	wf.Data = make(map[string]any)
	if dataJSON != "" && dataJSON != "null" {
		if err := json.Unmarshal([]byte(dataJSON), &wf.Data); err != nil {
			return err
		}
	}
	wf.Steps = nil
	if stepsJSON != "" && stepsJSON != "null" {
		if err := json.Unmarshal([]byte(stepsJSON), &wf.Steps); err != nil {
			return err
		}
	}
	return nil
}

func marshalData(data map[string]any) (string, error) {
	if data == nil {
		return "{}", nil
	}
	b, err := json.Marshal(data)
	return string(b), err
}

func marshalSteps(steps []domain.StepRuntime) (string, error) {
	if steps == nil {
		return "[]", nil
	}
	b, err := json.Marshal(steps)
	return string(b), err
}
