package report

import (
	"errors"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestAuthorize(t *testing.T) {
	t.Parallel()

	r := &Report{ID: "r-1", OrganizationID: "org-1", ReporterID: strPtr("rep-1"), AssignedDepartmentID: strPtr("d-1")}
	unassigned := &Report{ID: "r-2", OrganizationID: "org-1"}

	tests := []struct {
		name   string
		actor  Actor
		op     Operation
		report *Report
		ok     bool
	}{
		{"admin anything", Actor{ID: "a", Role: RoleAdmin}, OpReloadCatalog, nil, true},
		{"admin other org", Actor{ID: "a", Role: RoleAdmin, OrganizationID: "org-9"}, OpTransition, r, true},
		{"reporter reads own", Actor{ID: "rep-1", Role: RoleReporter}, OpReadReport, r, true},
		{"reporter reads other", Actor{ID: "rep-2", Role: RoleReporter}, OpReadReport, r, false},
		{"reporter cannot transition", Actor{ID: "rep-1", Role: RoleReporter}, OpTransition, r, false},
		{"reporter cannot filter", Actor{ID: "rep-1", Role: RoleReporter}, OpFilterDecision, r, false},
		{"member same org", Actor{ID: "m", Role: RoleOrgMember, OrganizationID: "org-1"}, OpTransition, r, true},
		{"member other org", Actor{ID: "m", Role: RoleOrgMember, OrganizationID: "org-2"}, OpTransition, r, false},
		{"member cannot override", Actor{ID: "m", Role: RoleOrgMember, OrganizationID: "org-1"}, OpOverrideDepartment, r, false},
		{"member cannot reload", Actor{ID: "m", Role: RoleOrgMember, OrganizationID: "org-1"}, OpReloadCatalog, nil, false},
		{"restricted member in dept", Actor{ID: "m", Role: RoleOrgMember, OrganizationID: "org-1", DepartmentIDs: []string{"d-1"}, RestrictToDepartments: true}, OpTransition, r, true},
		{"restricted member out of dept", Actor{ID: "m", Role: RoleOrgMember, OrganizationID: "org-1", DepartmentIDs: []string{"d-2"}, RestrictToDepartments: true}, OpTransition, r, false},
		{"restricted member unassigned", Actor{ID: "m", Role: RoleOrgMember, OrganizationID: "org-1", DepartmentIDs: []string{"d-1"}, RestrictToDepartments: true}, OpReadReport, unassigned, false},
		{"no id", Actor{Role: RoleAdmin}, OpReadReport, r, false},
		{"unknown role", Actor{ID: "x", Role: "auditor"}, OpReadReport, r, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Authorize(tt.actor, tt.op, tt.report)
			if tt.ok && err != nil {
				t.Errorf("Authorize: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrAuthorization) {
				t.Errorf("err = %v, want authorization", err)
			}
		})
	}
}

func TestAuthorizeOrganization(t *testing.T) {
	t.Parallel()

	member := Actor{ID: "m", Role: RoleOrgMember, OrganizationID: "org-1"}
	if err := AuthorizeOrganization(member, OpManageDepartments, "org-1"); err != nil {
		t.Errorf("own org: %v", err)
	}
	if err := AuthorizeOrganization(member, OpManageDepartments, "org-2"); !errors.Is(err, ErrAuthorization) {
		t.Errorf("other org err = %v, want authorization", err)
	}
	if err := AuthorizeOrganization(Actor{ID: "a", Role: RoleAdmin}, OpManageDepartments, "org-2"); err != nil {
		t.Errorf("admin: %v", err)
	}
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	err := Errorf(KindConflict, "report %s changed", "r-1")
	if !errors.Is(err, ErrConflict) {
		t.Error("errors.Is should match by kind")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("different kinds should not match")
	}
	if got := KindOf(errors.Join(errors.New("ctx"), err)); got != KindConflict {
		t.Errorf("KindOf = %q, want %q", got, KindConflict)
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("plain errors have no kind")
	}
	if err.Error() != "conflict: report r-1 changed" {
		t.Errorf("Error() = %q", err.Error())
	}
}
