// Package memstore provides an in-memory implementation of report.Store.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/linnemanlabs/grievance/internal/report"
)

// Store holds reports and their lifecycle records in memory. Suitable for
// dev/testing. All writes take the same lock, so a TransitionCommit's
// checks and effects are atomic.
type Store struct {
	mu          sync.RWMutex
	catalog     *report.Catalog
	reports     map[string]*report.Report
	codes       map[string]string                      // public code -> report ID
	history     map[string][]report.StatusHistoryEntry // report ID -> entries, oldest first
	decisions   map[string]*report.FilterDecision      // report ID -> decision
	actions     map[string]*report.Action
	byReport    map[string][]string // report ID -> action IDs, creation order
	departments map[string]*report.Department
}

// New initializes a new in-memory Store serving cat. A nil cat uses the
// built-in default catalog.
func New(cat *report.Catalog) *Store {
	if cat == nil {
		cat = report.DefaultCatalog()
	}
	return &Store{
		catalog:     cat,
		reports:     make(map[string]*report.Report),
		codes:       make(map[string]string),
		history:     make(map[string][]report.StatusHistoryEntry),
		decisions:   make(map[string]*report.FilterDecision),
		actions:     make(map[string]*report.Action),
		byReport:    make(map[string][]string),
		departments: make(map[string]*report.Department),
	}
}

// LoadCatalog returns the catalog last given to New or SetCatalog. There is
// no other way to edit it, so a Service reload only picks up SetCatalog.
func (s *Store) LoadCatalog(_ context.Context) (*report.Catalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog, nil
}

// SetCatalog replaces the catalog returned by LoadCatalog. It is the
// in-memory counterpart of editing the catalog tables.
func (s *Store) SetCatalog(cat *report.Catalog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = cat
}

// CreateReport stores a copy of r.
func (s *Store) CreateReport(_ context.Context, r *report.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[r.ID]; ok {
		return report.Errorf(report.KindConflict, "report %s already exists", r.ID)
	}
	if _, ok := s.codes[r.Code]; ok {
		return report.Errorf(report.KindConflict, "report code %s already exists", r.Code)
	}
	s.reports[r.ID] = copyReport(r)
	s.codes[r.Code] = r.ID
	return nil
}

// GetReport retrieves a report by ID. Returns a copy.
func (s *Store) GetReport(_ context.Context, id string) (*report.Report, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, false, nil
	}
	return copyReport(r), true, nil
}

// CommitTransition applies c if the report is still at c.ExpectedStatusID.
func (s *Store) CommitTransition(_ context.Context, c *report.TransitionCommit) (*report.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[c.ReportID]
	if !ok {
		return nil, report.Errorf(report.KindNotFound, "report %s not found", c.ReportID)
	}
	if r.StatusID != c.ExpectedStatusID {
		return nil, report.Errorf(report.KindConflict, "report %s changed status concurrently", c.ReportID)
	}
	if c.RequireAction && len(s.byReport[c.ReportID]) == 0 {
		return nil, report.Errorf(report.KindMissingAction, "report %s has no actions", c.ReportID)
	}
	if c.Filter != nil {
		if _, decided := s.decisions[c.ReportID]; decided || r.FilterResultID != nil {
			return nil, report.Errorf(report.KindAlreadyDecided, "report %s has already been filtered", c.ReportID)
		}
	}

	r.StatusID = c.TargetStatusID
	r.UpdatedAt = c.At
	if c.Filter != nil {
		id := c.Filter.FilterResultID
		r.FilterResultID = &id
		d := *c.Filter
		s.decisions[c.ReportID] = &d
	}
	if c.MarkSpam {
		r.IsSpam = true
	}
	s.history[c.ReportID] = append(s.history[c.ReportID], copyHistory(c.History))

	return copyReport(r), nil
}

// AssignDepartment sets or clears the report's department.
func (s *Store) AssignDepartment(_ context.Context, reportID string, departmentID *string, at time.Time) (*report.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[reportID]
	if !ok {
		return nil, report.Errorf(report.KindNotFound, "report %s not found", reportID)
	}
	r.AssignedDepartmentID = clonePtr(departmentID)
	r.UpdatedAt = at
	return copyReport(r), nil
}

// ListStatusHistory returns the report's history, most recent first.
func (s *Store) ListStatusHistory(_ context.Context, reportID string) ([]report.StatusHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[reportID]
	out := make([]report.StatusHistoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, copyHistory(entries[i]))
	}
	return out, nil
}

// GetFilterDecision returns the report's filter decision. Returns a copy.
func (s *Store) GetFilterDecision(_ context.Context, reportID string) (*report.FilterDecision, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[reportID]
	if !ok {
		return nil, false, nil
	}
	cp := *d
	return &cp, true, nil
}

// CreateAction stores a copy of a.
func (s *Store) CreateAction(_ context.Context, a *report.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[a.ReportID]; !ok {
		return report.Errorf(report.KindNotFound, "report %s not found", a.ReportID)
	}
	if _, ok := s.actions[a.ID]; ok {
		return report.Errorf(report.KindConflict, "action %s already exists", a.ID)
	}
	s.actions[a.ID] = copyAction(a)
	s.byReport[a.ReportID] = append(s.byReport[a.ReportID], a.ID)
	return nil
}

// GetAction retrieves an action by ID. Returns a copy.
func (s *Store) GetAction(_ context.Context, id string) (*report.Action, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, false, nil
	}
	return copyAction(a), true, nil
}

// UpdateActionStatus changes an action's status.
func (s *Store) UpdateActionStatus(_ context.Context, id string, status report.ActionStatus, at time.Time) (*report.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, report.Errorf(report.KindNotFound, "action %s not found", id)
	}
	a.StatusCode = status
	a.UpdatedAt = at
	return copyAction(a), nil
}

// ListActions returns the report's actions in creation order.
func (s *Store) ListActions(_ context.Context, reportID string) ([]report.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byReport[reportID]
	out := make([]report.Action, 0, len(ids))
	for _, id := range ids {
		out = append(out, *copyAction(s.actions[id]))
	}
	return out, nil
}

// PutDepartment stores a copy of d, replacing any department with its ID.
func (s *Store) PutDepartment(_ context.Context, d *report.Department) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.departments[d.ID] = &cp
	return nil
}

// GetDepartment retrieves a department by ID. Returns a copy.
func (s *Store) GetDepartment(_ context.Context, id string) (*report.Department, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.departments[id]
	if !ok {
		return nil, false, nil
	}
	cp := *d
	return &cp, true, nil
}

// ListDepartments returns an organisation's departments ordered by priority.
func (s *Store) ListDepartments(_ context.Context, organizationID string) ([]report.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []report.Department
	for _, d := range s.departments {
		if d.OrganizationID == organizationID {
			out = append(out, *d)
		}
	}
	slices.SortFunc(out, func(a, b report.Department) int {
		return cmp.Or(cmp.Compare(a.Priority, b.Priority), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func copyReport(r *report.Report) *report.Report {
	cp := *r
	cp.ReporterID = clonePtr(r.ReporterID)
	cp.FilterResultID = clonePtr(r.FilterResultID)
	cp.AssignedDepartmentID = clonePtr(r.AssignedDepartmentID)
	return &cp
}

func copyAction(a *report.Action) *report.Action {
	cp := *a
	cp.DueDate = clonePtr(a.DueDate)
	return &cp
}

func copyHistory(e report.StatusHistoryEntry) report.StatusHistoryEntry {
	e.Comment = clonePtr(e.Comment)
	return e
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

var _ report.Store = (*Store)(nil)
