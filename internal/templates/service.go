package templates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/mkowalczyk/taxflow/internal/core"
	"github.com/mkowalczyk/taxflow/internal/domain"
	"github.com/mkowalczyk/taxflow/internal/workflow"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	// ErrTemplateInUse is returned when deactivation is refused because a
	// non-terminal workflow instance still references the template.
	ErrTemplateInUse = errors.New("template in use")
)

// TemplateRepo matches repository.StepTemplateRepository.
type TemplateRepo interface {
	Save(t *domain.StepTemplate) (int64, error)
	FindByID(id int64) (*domain.StepTemplate, error)
	ListByTenant(tenantID string, includeInactive bool) ([]domain.StepTemplate, error)
	Update(t *domain.StepTemplate) error
	Deactivate(id int64) error
}

// InstanceCounter reports how many non-terminal instances reference a
// template.
type InstanceCounter interface {
	CountActiveByTemplate(templateID int64) (int, error)
}

// Service is the thin CRUD layer over reusable step templates.
type Service struct {
	repo      TemplateRepo
	instances InstanceCounter
	registry  *workflow.Registry
	clock     core.Clock
}

func NewService(repo TemplateRepo, instances InstanceCounter, registry *workflow.Registry, clock core.Clock) *Service {
	return &Service{repo: repo, instances: instances, registry: registry, clock: clock}
}

// Create validates and stores a new template at version 1.
func (s *Service) Create(ctx context.Context, tenantID, name, workflowType string, stepIDs []string) (*domain.StepTemplate, error) {
	if err := s.validate(name, workflowType, stepIDs); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	tpl := &domain.StepTemplate{
		TenantID:     tenantID,
		Name:         name,
		Version:      1,
		WorkflowType: workflowType,
		StepIDs:      stepIDs,
		Active:       true,
		Created:      now,
		Updated:      now,
	}
	if _, err := s.repo.Save(tpl); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Created step template", "template_id", tpl.ID, "tenant_id", tenantID, "name", name)
	return tpl, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.StepTemplate, error) {
	tpl, err := s.repo.FindByID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: id %d", ErrTemplateNotFound, id)
	}
	return tpl, nil
}

func (s *Service) List(ctx context.Context, tenantID string, includeInactive bool) ([]domain.StepTemplate, error) {
	return s.repo.ListByTenant(tenantID, includeInactive)
}

// Update replaces the template's name and steps and bumps its version.
func (s *Service) Update(ctx context.Context, id int64, name string, stepIDs []string) (*domain.StepTemplate, error) {
	tpl, err := s.repo.FindByID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: id %d", ErrTemplateNotFound, id)
	}
	if err := s.validate(name, tpl.WorkflowType, stepIDs); err != nil {
		return nil, err
	}
	tpl.Name = name
	tpl.StepIDs = stepIDs
	tpl.Version++
	if err := s.repo.Update(tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// Deactivate soft-deletes the template. Refused while any non-terminal
// workflow instance still references it.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	if _, err := s.repo.FindByID(id); err != nil {
		return fmt.Errorf("%w: id %d", ErrTemplateNotFound, id)
	}
	active, err := s.instances.CountActiveByTemplate(id)
	if err != nil {
		return err
	}
	if active > 0 {
		return fmt.Errorf("%w: %d active workflow(s) reference template %d", ErrTemplateInUse, active, id)
	}
	slog.InfoContext(ctx, "Deactivating step template", "template_id", id)
	return s.repo.Deactivate(id)
}

// validate aggregates every violation so the caller sees all of them at
// once.
func (s *Service) validate(name, workflowType string, stepIDs []string) error {
	var result *multierror.Error
	if name == "" {
		result = multierror.Append(result, errors.New("template name must not be empty"))
	}
	if len(stepIDs) == 0 {
		result = multierror.Append(result, errors.New("template must contain at least one step"))
	}
	def, ok := s.registry.Get(workflow.Type(workflowType))
	if !ok {
		result = multierror.Append(result, fmt.Errorf("unknown workflow type %q", workflowType))
	}
	seen := make(map[string]bool, len(stepIDs))
	for _, id := range stepIDs {
		if seen[id] {
			result = multierror.Append(result, fmt.Errorf("duplicate step id %q", id))
			continue
		}
		seen[id] = true
		if ok && def.Step(id) == nil {
			result = multierror.Append(result, fmt.Errorf("step %q not declared by workflow type %q", id, workflowType))
		}
	}
	return result.ErrorOrNil()
}
