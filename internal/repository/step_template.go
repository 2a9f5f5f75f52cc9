package repository

import (
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/mkowalczyk/taxflow/internal/core"
	"github.com/mkowalczyk/taxflow/internal/domain"
)

// StepTemplateRepository persists reusable step-list templates.
type StepTemplateRepository struct {
	db    *sql.DB
	clock core.Clock
}

const templateColumns = ` id, tenant_id, name, version, workflow_type, steps, active, created, updated `

func NewStepTemplateRepository(db *sql.DB, clock core.Clock) *StepTemplateRepository {
	return &StepTemplateRepository{db: db, clock: clock}
}

func (r *StepTemplateRepository) Save(t *domain.StepTemplate) (int64, error) {
	stepsJSON, err := json.Marshal(t.StepIDs)
	if err != nil {
		return 0, err
	}
	vals := []interface{}{
		t.TenantID, t.Name, t.Version, t.WorkflowType, string(stepsJSON), t.Active,
		formatDateInDatabase(t.Created), formatDateInDatabase(t.Updated),
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	query := `INSERT INTO step_templates (
		tenant_id, name, version, workflow_type, steps, active, created, updated
	) VALUES (` + strings.Join(pps, ", ") + `)`

	id, err := insertReturningID(r.db, query, vals...)
	if err != nil {
		return 0, err
	}
	t.ID = id
	return id, nil
}

func (r *StepTemplateRepository) FindByID(id int64) (*domain.StepTemplate, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM step_templates WHERE id = ` + placeholder(1) + `
	`
	return r.scan(r.db.QueryRow(query, id))
}

func (r *StepTemplateRepository) ListByTenant(tenantID string, includeInactive bool) ([]domain.StepTemplate, error) {
	where := "tenant_id = " + placeholder(1)
	if !includeInactive {
		where += " AND active = " + boolLiteral(true)
	}
	query := `
		SELECT ` + templateColumns + `
		FROM step_templates
		WHERE ` + where + `
		ORDER BY name, version DESC
	`
	rows, err := r.db.Query(query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []domain.StepTemplate
	for rows.Next() {
		var t domain.StepTemplate
		var stepsJSON string
		if err := rows.Scan(
			&t.ID, &t.TenantID, &t.Name, &t.Version, &t.WorkflowType,
			&stepsJSON, &t.Active, &t.Created, &t.Updated,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(stepsJSON), &t.StepIDs); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// Update replaces name, steps and bumps version on the stored template.
func (r *StepTemplateRepository) Update(t *domain.StepTemplate) error {
	stepsJSON, err := json.Marshal(t.StepIDs)
	if err != nil {
		return err
	}
	query := `
		UPDATE step_templates
		SET name = ` + placeholder(1) + `, version = ` + placeholder(2) + `, steps = ` + placeholder(3) + `,
		    updated = ` + nowExpr(r.clock) + `
		WHERE id = ` + placeholder(4) + `
	`
	_, err = r.db.Exec(query, t.Name, t.Version, string(stepsJSON), t.ID)
	return err
}

// Deactivate soft-deletes the template.
func (r *StepTemplateRepository) Deactivate(id int64) error {
	query := `
		UPDATE step_templates
		SET active = ` + boolLiteral(false) + `, updated = ` + nowExpr(r.clock) + `
		WHERE id = ` + placeholder(1) + `
	`
	_, err := r.db.Exec(query, id)
	return err
}

func (r *StepTemplateRepository) scan(row *sql.Row) (*domain.StepTemplate, error) {
	var t domain.StepTemplate
	var stepsJSON string
	err := row.Scan(
		&t.ID, &t.TenantID, &t.Name, &t.Version, &t.WorkflowType,
		&stepsJSON, &t.Active, &t.Created, &t.Updated,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stepsJSON), &t.StepIDs); err != nil {
		return nil, err
	}
	return &t, nil
}

// boolLiteral renders a boolean constant valid across all three dialects.
func boolLiteral(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}
