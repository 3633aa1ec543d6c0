package report

import (
	"context"
	"time"
)

// TransitionCommit is one atomic status change. The store applies it only if
// the report is still at ExpectedStatusID (ErrConflict otherwise), re-checks
// RequireAction and Filter preconditions, updates the report and appends
// exactly one history row.
type TransitionCommit struct {
	ReportID         string
	ExpectedStatusID int
	TargetStatusID   int
	RequireAction    bool
	History          StatusHistoryEntry
	// Filter is set when the change is a filter decision. The store fails
	// with ErrAlreadyDecided if the report already carries one.
	Filter   *FilterDecision
	MarkSpam bool
	At       time.Time
}

// Store is the persistence interface for the report lifecycle.
type Store interface {
	LoadCatalog(ctx context.Context) (*Catalog, error)

	CreateReport(ctx context.Context, r *Report) error
	GetReport(ctx context.Context, id string) (*Report, bool, error)
	CommitTransition(ctx context.Context, c *TransitionCommit) (*Report, error)
	AssignDepartment(ctx context.Context, reportID string, departmentID *string, at time.Time) (*Report, error)

	ListStatusHistory(ctx context.Context, reportID string) ([]StatusHistoryEntry, error)
	GetFilterDecision(ctx context.Context, reportID string) (*FilterDecision, bool, error)

	CreateAction(ctx context.Context, a *Action) error
	GetAction(ctx context.Context, id string) (*Action, bool, error)
	UpdateActionStatus(ctx context.Context, id string, status ActionStatus, at time.Time) (*Action, error)
	ListActions(ctx context.Context, reportID string) ([]Action, error)

	PutDepartment(ctx context.Context, d *Department) error
	GetDepartment(ctx context.Context, id string) (*Department, bool, error)
	ListDepartments(ctx context.Context, organizationID string) ([]Department, error)
}

// Notifier is told about committed status changes.
type Notifier interface {
	Notify(ctx context.Context, ev *Event) error
}

// Classification is a filter decision proposed by a Classifier.
type Classification struct {
	ResultCode FilterCode
	Reasoning  string
	Confident  bool
}

// Classifier proposes a filter decision for a newly filed report.
type Classifier interface {
	Classify(ctx context.Context, r *Report) (*Classification, error)
}
