package report

import "testing"

func TestMatchDepartment(t *testing.T) {
	t.Parallel()

	attrs := Attributes{RiskCategoryID: "labour", RiskSubcategoryID: "wages", CountryCode: "BD", SupplierOrgID: "sup-1", WorksiteID: "ws-1"}

	tests := []struct {
		name  string
		depts []Department
		want  string
	}{
		{
			name: "lower priority number wins",
			depts: []Department{
				{ID: "b", OrganizationID: "org", Priority: 20, IsActive: true},
				{ID: "a", OrganizationID: "org", Priority: 10, IsActive: true},
			},
			want: "a",
		},
		{
			name: "inactive skipped",
			depts: []Department{
				{ID: "a", OrganizationID: "org", Priority: 10},
				{ID: "b", OrganizationID: "org", Priority: 20, IsActive: true},
			},
			want: "b",
		},
		{
			name: "other organisation skipped",
			depts: []Department{
				{ID: "a", OrganizationID: "other", Priority: 1, IsActive: true},
			},
			want: "",
		},
		{
			name: "every axis must match",
			depts: []Department{
				{ID: "a", OrganizationID: "org", Priority: 1, IsActive: true, Scope: DepartmentScope{
					RiskCategories: ScopeOf("labour"),
					Countries:      ScopeOf("VN"),
				}},
				{ID: "b", OrganizationID: "org", Priority: 2, IsActive: true, Scope: DepartmentScope{
					RiskCategories:    ScopeOf("labour", "safety"),
					RiskSubcategories: ScopeOf("wages"),
					Countries:         ScopeOf("BD"),
					SupplierOrgs:      ScopeOf("sup-1"),
					Worksites:         ScopeOf("ws-1"),
				}},
			},
			want: "b",
		},
		{
			name: "empty restricted scope matches nothing",
			depts: []Department{
				{ID: "a", OrganizationID: "org", Priority: 1, IsActive: true, Scope: DepartmentScope{Worksites: ScopeOf()}},
			},
			want: "",
		},
		{
			name: "equal priority broken by id",
			depts: []Department{
				{ID: "z", OrganizationID: "org", Priority: 5, IsActive: true},
				{ID: "m", OrganizationID: "org", Priority: 5, IsActive: true},
			},
			want: "m",
		},
		{name: "no departments", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := MatchDepartment("org", attrs, tt.depts)
			var id string
			if got != nil {
				id = got.ID
			}
			if id != tt.want {
				t.Errorf("MatchDepartment = %q, want %q", id, tt.want)
			}
		})
	}
}

func TestScope(t *testing.T) {
	t.Parallel()

	if !AnyScope().Matches("anything") || !AnyScope().IsWildcard() {
		t.Error("wildcard should match everything")
	}
	if ScopeOf().Matches("") || ScopeOf().IsWildcard() {
		t.Error("empty restricted scope should match nothing")
	}
	if AnyScope().Values() != nil {
		t.Error("wildcard Values should be nil")
	}
	if v := ScopeOf().Values(); v == nil || len(v) != 0 {
		t.Errorf("empty scope Values = %#v, want empty non-nil", v)
	}
}

func TestScopeJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       string
		wildcard bool
		match    string
		matches  bool
	}{
		{"null", `null`, true, "x", true},
		{"empty", `[]`, false, "x", false},
		{"values", `["DE","PL"]`, false, "PL", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var s Scope
			if err := s.UnmarshalJSON([]byte(tt.in)); err != nil {
				t.Fatalf("UnmarshalJSON: %v", err)
			}
			if s.IsWildcard() != tt.wildcard {
				t.Errorf("IsWildcard = %v, want %v", s.IsWildcard(), tt.wildcard)
			}
			if s.Matches(tt.match) != tt.matches {
				t.Errorf("Matches(%q) = %v, want %v", tt.match, s.Matches(tt.match), tt.matches)
			}
			out, err := s.MarshalJSON()
			if err != nil {
				t.Fatalf("MarshalJSON: %v", err)
			}
			if string(out) != tt.in {
				t.Errorf("MarshalJSON = %s, want %s", out, tt.in)
			}
		})
	}
}
