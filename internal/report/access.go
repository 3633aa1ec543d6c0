package report

import "slices"

// Role is the closed set of actor kinds.
type Role string

const (
	RoleReporter  Role = "reporter"
	RoleOrgMember Role = "org_member"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleReporter || r == RoleOrgMember || r == RoleAdmin
}

// Actor is the authenticated caller of an engine operation.
type Actor struct {
	ID             string   `json:"id"`
	Role           Role     `json:"role"`
	OrganizationID string   `json:"organization_id,omitempty"`
	DepartmentIDs  []string `json:"department_ids,omitempty"`
	// RestrictToDepartments limits an org member to reports assigned to one
	// of DepartmentIDs.
	RestrictToDepartments bool `json:"restrict_to_departments,omitempty"`
}

// Operation names an engine entry point for the capability table.
type Operation string

const (
	OpCreateReport       Operation = "create_report"
	OpReadReport         Operation = "read_report"
	OpReadHistory        Operation = "read_history"
	OpTransition         Operation = "transition"
	OpFilterDecision     Operation = "filter_decision"
	OpManageActions      Operation = "manage_actions"
	OpRouteReport        Operation = "route_report"
	OpOverrideDepartment Operation = "override_department"
	OpManageDepartments  Operation = "manage_departments"
	OpReloadCatalog      Operation = "reload_catalog"
)

// capabilities lists which roles may call which operation at all. Report and
// organisation scoping is applied on top by Authorize.
var capabilities = map[Role]map[Operation]bool{
	RoleReporter: {
		OpCreateReport: true,
		OpReadReport:   true,
		OpReadHistory:  true,
	},
	RoleOrgMember: {
		OpCreateReport:      true,
		OpReadReport:        true,
		OpReadHistory:       true,
		OpTransition:        true,
		OpFilterDecision:    true,
		OpManageActions:     true,
		OpRouteReport:       true,
		OpManageDepartments: true,
	},
	RoleAdmin: {
		OpCreateReport:       true,
		OpReadReport:         true,
		OpReadHistory:        true,
		OpTransition:         true,
		OpFilterDecision:     true,
		OpManageActions:      true,
		OpRouteReport:        true,
		OpOverrideDepartment: true,
		OpManageDepartments:  true,
		OpReloadCatalog:      true,
	},
}

// Can reports whether the actor's role grants op, ignoring report scope.
func (a Actor) Can(op Operation) bool {
	return capabilities[a.Role][op]
}

// Authorize checks that actor may perform op on r. A nil report checks the
// capability only.
func Authorize(actor Actor, op Operation, r *Report) error {
	if actor.ID == "" || !actor.Role.Valid() {
		return Errorf(KindAuthorization, "unauthenticated actor")
	}
	if !actor.Can(op) {
		return Errorf(KindAuthorization, "role %s may not %s", actor.Role, op)
	}
	if r == nil {
		return nil
	}

	switch actor.Role {
	case RoleAdmin:
		return nil
	case RoleReporter:
		if r.ReporterID == nil || *r.ReporterID != actor.ID {
			return Errorf(KindAuthorization, "report %s does not belong to %s", r.ID, actor.ID)
		}
		return nil
	case RoleOrgMember:
		if r.OrganizationID != actor.OrganizationID {
			return Errorf(KindAuthorization, "report %s belongs to another organisation", r.ID)
		}
		if actor.RestrictToDepartments {
			if r.AssignedDepartmentID == nil || !slices.Contains(actor.DepartmentIDs, *r.AssignedDepartmentID) {
				return Errorf(KindAuthorization, "report %s is outside the actor's departments", r.ID)
			}
		}
		return nil
	}
	return Errorf(KindAuthorization, "unknown role %q", actor.Role)
}

// AuthorizeOrganization checks that actor may perform op within an
// organisation, for operations that are not tied to one report.
func AuthorizeOrganization(actor Actor, op Operation, organizationID string) error {
	if err := Authorize(actor, op, nil); err != nil {
		return err
	}
	if actor.Role == RoleAdmin {
		return nil
	}
	if actor.OrganizationID == "" || actor.OrganizationID != organizationID {
		return Errorf(KindAuthorization, "organisation %s is outside the actor's scope", organizationID)
	}
	return nil
}
