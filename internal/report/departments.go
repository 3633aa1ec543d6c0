package report

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

// RouteReport re-runs department matching for a report, for example after
// departments were edited. It returns the updated report and the matched
// department, or nil when nothing matched and the assignment was cleared.
func (s *Service) RouteReport(ctx context.Context, actor Actor, reportID string) (*Report, *Department, error) {
	r, err := s.loadAuthorized(ctx, actor, OpRouteReport, reportID)
	if err != nil {
		return nil, nil, err
	}
	return s.route(ctx, r)
}

func (s *Service) route(ctx context.Context, r *Report) (*Report, *Department, error) {
	departments, err := s.store.ListDepartments(ctx, r.OrganizationID)
	if err != nil {
		return nil, nil, err
	}
	match := MatchDepartment(r.OrganizationID, r.Attributes, departments)
	if s.hooks.OnRoute != nil {
		s.hooks.OnRoute(match != nil)
	}

	var departmentID *string
	if match != nil {
		id := match.ID
		departmentID = &id
	}
	if sameDepartment(r.AssignedDepartmentID, departmentID) {
		return r, match, nil
	}

	updated, err := s.store.AssignDepartment(ctx, r.ID, departmentID, s.now())
	if err != nil {
		return nil, nil, err
	}
	if match == nil {
		s.logger.Info(ctx, "no department matched", "report_id", r.ID)
	} else {
		s.logger.Info(ctx, "report routed", "report_id", r.ID, "department_id", match.ID, "department", match.Name)
	}
	return updated, match, nil
}

// AssignDepartment overrides routing and assigns a report to a department
// directly. A nil departmentID clears the assignment.
func (s *Service) AssignDepartment(ctx context.Context, actor Actor, reportID string, departmentID *string) (*Report, error) {
	r, err := s.loadAuthorized(ctx, actor, OpOverrideDepartment, reportID)
	if err != nil {
		return nil, err
	}
	if departmentID != nil {
		d, ok, err := s.store.GetDepartment(ctx, *departmentID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, Errorf(KindNotFound, "department %s not found", *departmentID)
		}
		if d.OrganizationID != r.OrganizationID {
			return nil, Errorf(KindValidation, "department %s belongs to another organisation", d.ID)
		}
		if !d.IsActive {
			return nil, Errorf(KindValidation, "department %s is inactive", d.ID)
		}
	}
	updated, err := s.store.AssignDepartment(ctx, r.ID, departmentID, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "department overridden", "report_id", r.ID, "department_id", departmentID, "actor", actor.ID)
	return updated, nil
}

// PutDepartment creates or replaces a department. An empty ID creates a new
// one. A department cannot move between organisations.
func (s *Service) PutDepartment(ctx context.Context, actor Actor, d Department) (*Department, error) {
	d.OrganizationID = strings.TrimSpace(d.OrganizationID)
	d.Name = strings.TrimSpace(d.Name)
	if d.OrganizationID == "" || d.Name == "" {
		return nil, Errorf(KindValidation, "organization_id and name are required")
	}
	if err := AuthorizeOrganization(actor, OpManageDepartments, d.OrganizationID); err != nil {
		return nil, err
	}

	if d.ID == "" {
		d.ID = ulid.Make().String()
	} else {
		existing, ok, err := s.store.GetDepartment(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		if ok && existing.OrganizationID != d.OrganizationID {
			return nil, Errorf(KindValidation, "department %s belongs to another organisation", d.ID)
		}
	}
	if !d.Scope.Countries.IsWildcard() {
		codes := d.Scope.Countries.Values()
		for i, c := range codes {
			codes[i] = strings.ToUpper(strings.TrimSpace(c))
		}
		d.Scope.Countries = ScopeOf(codes...)
	}

	if err := s.store.PutDepartment(ctx, &d); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "department saved", "department_id", d.ID, "organization_id", d.OrganizationID, "priority", d.Priority, "active", d.IsActive)
	return &d, nil
}

// ListDepartments returns an organisation's departments in routing order.
func (s *Service) ListDepartments(ctx context.Context, actor Actor, organizationID string) ([]Department, error) {
	if strings.TrimSpace(organizationID) == "" {
		return nil, Errorf(KindValidation, "organization id is required")
	}
	if err := AuthorizeOrganization(actor, OpManageDepartments, organizationID); err != nil {
		return nil, err
	}
	return s.store.ListDepartments(ctx, organizationID)
}

func sameDepartment(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
