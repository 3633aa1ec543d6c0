package report

import "time"

// Status codes the engine depends on. Every other status is catalog data.
const (
	StatusPreEvaluation = "pre_evaluation"
	StatusArchived      = "archived"
)

// Attributes are the report fields the department router matches on.
type Attributes struct {
	RiskCategoryID    string `json:"risk_category_id,omitempty"`
	RiskSubcategoryID string `json:"risk_subcategory_id,omitempty"`
	CountryCode       string `json:"country_code,omitempty"`
	SupplierOrgID     string `json:"supplier_org_id,omitempty"`
	WorksiteID        string `json:"worksite_id,omitempty"`
}

// Report is a filed grievance. StatusID, FilterResultID, IsSpam and
// AssignedDepartmentID only change through the Service.
type Report struct {
	ID                   string     `json:"id"`
	Code                 string     `json:"code"`
	OrganizationID       string     `json:"organization_id"`
	ReporterID           *string    `json:"reporter_id,omitempty"`
	StatusID             int        `json:"status_id"`
	FilterResultID       *int       `json:"filter_result_id,omitempty"`
	IsSpam               bool       `json:"is_spam"`
	Title                string     `json:"title"`
	Description          string     `json:"description,omitempty"`
	Location             string     `json:"location,omitempty"`
	Attributes           Attributes `json:"attributes"`
	AssignedDepartmentID *string    `json:"assigned_department_id,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// StatusDefinition is one entry of the status catalog.
type StatusDefinition struct {
	ID           int    `json:"id" yaml:"id"`
	Code         string `json:"code" yaml:"code"`
	Label        string `json:"label" yaml:"label"`
	DisplayOrder int    `json:"display_order" yaml:"display_order"`
}

// TransitionRule allows a move between two statuses.
type TransitionRule struct {
	FromStatusID    int  `json:"from_status_id"`
	ToStatusID      int  `json:"to_status_id"`
	RequiresComment bool `json:"requires_comment"`
	RequiresAction  bool `json:"requires_action"`
}

// FilterCode classifies a report during the first triage step.
type FilterCode string

const (
	FilterAdmitted   FilterCode = "admitted"
	FilterOutOfScope FilterCode = "out_of_scope"
	FilterUnfounded  FilterCode = "unfounded"
	FilterSpam       FilterCode = "spam"
)

// filterTargets maps every filter result to the status it moves a report to.
var filterTargets = map[FilterCode]string{
	FilterAdmitted:   "waiting_admitted",
	FilterOutOfScope: StatusArchived,
	FilterUnfounded:  StatusArchived,
	FilterSpam:       StatusArchived,
}

// FilterResult is a catalog entry for a filter code.
type FilterResult struct {
	ID    int        `json:"id" yaml:"id"`
	Code  FilterCode `json:"code" yaml:"code"`
	Label string     `json:"label" yaml:"label"`
}

// FilterDecision records how and by whom a report was classified.
type FilterDecision struct {
	ReportID         string    `json:"report_id"`
	FilterResultID   int       `json:"filter_result_id"`
	Reasoning        string    `json:"reasoning,omitempty"`
	IsAuto           bool      `json:"is_auto"`
	NeedsSuperReview bool      `json:"needs_super_review"`
	DecidedBy        string    `json:"decided_by"`
	DecidedAt        time.Time `json:"decided_at"`
}

// StatusHistoryEntry is one append-only row of a report's audit trail.
type StatusHistoryEntry struct {
	ID        string    `json:"id"`
	ReportID  string    `json:"report_id"`
	StatusID  int       `json:"status_id"`
	Comment   *string   `json:"comment_text,omitempty"`
	ChangedBy string    `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
}

// ActionStatus is the remediation task vocabulary. It is independent of the
// report transition table.
type ActionStatus string

const (
	ActionSuggested         ActionStatus = "suggested"
	ActionFormulation       ActionStatus = "action_formulation"
	ActionImplemented       ActionStatus = "action_implemented"
	ActionFailed            ActionStatus = "failed"
	ActionExtendedDue       ActionStatus = "extended_due"
	ActionSuccessful        ActionStatus = "successful"
	ActionFeedbackRequested ActionStatus = "feedback_requested"
	ActionResolved          ActionStatus = "resolved"
)

// Valid reports whether s belongs to the action vocabulary.
func (s ActionStatus) Valid() bool {
	switch s {
	case ActionSuggested, ActionFormulation, ActionImplemented, ActionFailed,
		ActionExtendedDue, ActionSuccessful, ActionFeedbackRequested, ActionResolved:
		return true
	}
	return false
}

// Action is a remediation task linked to a report.
type Action struct {
	ID          string       `json:"id"`
	ReportID    string       `json:"report_id"`
	Description string       `json:"description"`
	StatusCode  ActionStatus `json:"status_code"`
	DueDate     *time.Time   `json:"due_date,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Department owns reports whose attributes fall inside its scope.
type Department struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	Name           string          `json:"name"`
	Priority       int             `json:"priority"`
	IsActive       bool            `json:"is_active"`
	Scope          DepartmentScope `json:"scope"`
}

// DepartmentScope holds one Scope per routing axis.
type DepartmentScope struct {
	RiskCategories    Scope `json:"risk_categories"`
	RiskSubcategories Scope `json:"risk_subcategories"`
	Countries         Scope `json:"countries"`
	SupplierOrgs      Scope `json:"supplier_orgs"`
	Worksites         Scope `json:"worksites"`
}

// Event is emitted after a committed status change.
type Event struct {
	Report     *Report
	FromStatus StatusDefinition
	ToStatus   StatusDefinition
	Comment    string
	ActorID    string
	Filter     *FilterResult
}
