package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// Service is the business boundary for report lifecycle operations. Every
// method receives the calling Actor and re-checks its rights before touching
// the store.
type Service struct {
	store      Store
	catalog    atomic.Pointer[Catalog]
	logger     log.Logger
	hooks      Hooks
	notifier   Notifier
	classifier Classifier
	now        func() time.Time
}

// NewService loads and validates the catalog from the store and returns a
// ready Service. A broken catalog fails here rather than per request.
// notifier and classifier may be nil.
func NewService(ctx context.Context, store Store, logger log.Logger, hooks Hooks, notifier Notifier, classifier Classifier) (*Service, error) {
	if logger == nil {
		logger = log.Nop()
	}
	cat, err := store.LoadCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	s := &Service{
		store:      store,
		logger:     logger,
		hooks:      hooks,
		notifier:   notifier,
		classifier: classifier,
		now:        time.Now,
	}
	s.catalog.Store(cat)
	return s, nil
}

// Catalog returns the catalog currently in use.
func (s *Service) Catalog() *Catalog {
	return s.catalog.Load()
}

// ReloadCatalog re-reads the catalog from the store after an admin edit. The
// old catalog stays active if the new one does not validate.
func (s *Service) ReloadCatalog(ctx context.Context, actor Actor) (*Catalog, error) {
	if err := Authorize(actor, OpReloadCatalog, nil); err != nil {
		return nil, err
	}
	cat, err := s.store.LoadCatalog(ctx)
	if s.hooks.OnCatalogReload != nil {
		s.hooks.OnCatalogReload(err)
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	s.catalog.Store(cat)
	s.logger.Info(ctx, "catalog reloaded", "actor", actor.ID, "statuses", len(cat.Statuses()), "rules", len(cat.Rules()))
	return cat, nil
}

// NewReport is the intake form for CreateReport.
type NewReport struct {
	OrganizationID string     `json:"organization_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Location       string     `json:"location,omitempty"`
	Attributes     Attributes `json:"attributes"`
	Anonymous      bool       `json:"anonymous,omitempty"`
}

// CreateReport files a new report in the initial status and routes it to a
// department. A routing failure is logged and leaves the report unassigned.
func (s *Service) CreateReport(ctx context.Context, actor Actor, in NewReport) (*Report, error) {
	if err := Authorize(actor, OpCreateReport, nil); err != nil {
		return nil, err
	}
	in.OrganizationID = strings.TrimSpace(in.OrganizationID)
	in.Title = strings.TrimSpace(in.Title)
	if in.OrganizationID == "" || in.Title == "" {
		return nil, Errorf(KindValidation, "organization_id and title are required")
	}
	if actor.Role == RoleOrgMember && actor.OrganizationID != in.OrganizationID {
		return nil, Errorf(KindAuthorization, "organisation %s is outside the actor's scope", in.OrganizationID)
	}

	now := s.now()
	r := &Report{
		OrganizationID: in.OrganizationID,
		StatusID:       s.Catalog().Initial().ID,
		Title:          in.Title,
		Description:    in.Description,
		Location:       in.Location,
		Attributes:     normalizeAttributes(in.Attributes),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if !in.Anonymous {
		reporter := actor.ID
		r.ReporterID = &reporter
	}

	// The public code is a short suffix of the id and can collide; a
	// collision gets a fresh id.
	for attempt := 1; ; attempt++ {
		r.ID = ulid.Make().String()
		r.Code = reportCode(r.ID)
		err := s.store.CreateReport(ctx, r)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrConflict) || attempt == maxCreateAttempts {
			return nil, err
		}
		s.logger.Warn(ctx, "report id or code collision, retrying", "code", r.Code, "attempt", attempt)
	}
	s.logger.Info(ctx, "report created", "report_id", r.ID, "code", r.Code, "organization_id", r.OrganizationID, "anonymous", in.Anonymous)

	routed, _, err := s.route(ctx, r)
	if err != nil {
		s.logger.Error(ctx, err, "initial routing failed", "report_id", r.ID)
		return r, nil
	}
	return routed, nil
}

// GetReport returns a report the actor may read.
func (s *Service) GetReport(ctx context.Context, actor Actor, id string) (*Report, error) {
	return s.loadAuthorized(ctx, actor, OpReadReport, id)
}

// ListStatusHistory returns the report's history, most recent first.
func (s *Service) ListStatusHistory(ctx context.Context, actor Actor, reportID string) ([]StatusHistoryEntry, error) {
	if _, err := s.loadAuthorized(ctx, actor, OpReadHistory, reportID); err != nil {
		return nil, err
	}
	return s.store.ListStatusHistory(ctx, reportID)
}

func (s *Service) loadAuthorized(ctx context.Context, actor Actor, op Operation, id string) (*Report, error) {
	if err := Authorize(actor, op, nil); err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, Errorf(KindValidation, "report id is required")
	}
	r, ok, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, Errorf(KindNotFound, "report %s not found", id)
	}
	if err := Authorize(actor, op, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) notify(ctx context.Context, ev *Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.logger.Warn(ctx, "notification failed", "report_id", ev.Report.ID, "error", err)
	}
}

const maxCreateAttempts = 3

func reportCode(id string) string {
	return "RPT-" + id[len(id)-8:]
}

func normalizeAttributes(a Attributes) Attributes {
	a.RiskCategoryID = strings.TrimSpace(a.RiskCategoryID)
	a.RiskSubcategoryID = strings.TrimSpace(a.RiskSubcategoryID)
	a.CountryCode = strings.ToUpper(strings.TrimSpace(a.CountryCode))
	a.SupplierOrgID = strings.TrimSpace(a.SupplierOrgID)
	a.WorksiteID = strings.TrimSpace(a.WorksiteID)
	return a
}
