package report

import (
	"cmp"
	"slices"
)

// MatchDepartment selects the department that owns a report with the given
// attributes. Only active departments of organizationID are candidates; they
// are tried by ascending priority (ties broken by id) and the first whose
// scope matches on every axis wins. It returns nil when nothing matches.
func MatchDepartment(organizationID string, attrs Attributes, departments []Department) *Department {
	candidates := make([]Department, 0, len(departments))
	for _, d := range departments {
		if d.IsActive && d.OrganizationID == organizationID {
			candidates = append(candidates, d)
		}
	}
	slices.SortStableFunc(candidates, func(a, b Department) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	for i := range candidates {
		if candidates[i].Scope.Matches(attrs) {
			d := candidates[i]
			return &d
		}
	}
	return nil
}

// Matches reports whether every axis of the scope accepts the attributes.
func (s DepartmentScope) Matches(attrs Attributes) bool {
	return s.RiskCategories.Matches(attrs.RiskCategoryID) &&
		s.RiskSubcategories.Matches(attrs.RiskSubcategoryID) &&
		s.Countries.Matches(attrs.CountryCode) &&
		s.SupplierOrgs.Matches(attrs.SupplierOrgID) &&
		s.Worksites.Matches(attrs.WorksiteID)
}
