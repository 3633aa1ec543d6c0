// Package reportapi exposes the report Service over HTTP/JSON.
package reportapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/grievance/internal/authmw"
	"github.com/linnemanlabs/grievance/internal/report"
)

// ReportService defines the business operations reportapi needs.
type ReportService interface {
	Catalog() *report.Catalog
	ReloadCatalog(ctx context.Context, actor report.Actor) (*report.Catalog, error)

	CreateReport(ctx context.Context, actor report.Actor, in report.NewReport) (*report.Report, error)
	GetReport(ctx context.Context, actor report.Actor, id string) (*report.Report, error)
	ApplyTransition(ctx context.Context, actor report.Actor, in report.TransitionInput) (*report.Report, error)
	ListStatusHistory(ctx context.Context, actor report.Actor, reportID string) ([]report.StatusHistoryEntry, error)

	ApplyFilterDecision(ctx context.Context, actor report.Actor, in report.FilterDecisionInput) (*report.Report, error)
	GetFilterDecision(ctx context.Context, actor report.Actor, reportID string) (*report.FilterDecision, error)
	AutoFilter(ctx context.Context, actor report.Actor, reportID string) (*report.Report, *report.Classification, error)

	CreateAction(ctx context.Context, actor report.Actor, in report.ActionInput) (*report.Action, error)
	ListActions(ctx context.Context, actor report.Actor, reportID string) ([]report.Action, error)
	UpdateActionStatus(ctx context.Context, actor report.Actor, actionID string, status report.ActionStatus) (*report.Action, error)

	RouteReport(ctx context.Context, actor report.Actor, reportID string) (*report.Report, *report.Department, error)
	AssignDepartment(ctx context.Context, actor report.Actor, reportID string, departmentID *string) (*report.Report, error)
	PutDepartment(ctx context.Context, actor report.Actor, d report.Department) (*report.Department, error)
	ListDepartments(ctx context.Context, actor report.Actor, organizationID string) ([]report.Department, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    ReportService
}

// New creates a new API handler.
func New(logger log.Logger, svc ReportService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("report service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router. Every route expects
// an authenticated actor in the request context (see authmw).
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/reports", a.handleCreateReport)
		r.Route("/reports/{id}", func(r chi.Router) {
			r.Get("/", a.handleGetReport)
			r.Post("/status", a.handleTransition)
			r.Get("/history", a.handleHistory)
			r.Post("/filter-decision", a.handleFilterDecision)
			r.Get("/filter-decision", a.handleGetFilterDecision)
			r.Post("/auto-filter", a.handleAutoFilter)
			r.Post("/actions", a.handleCreateAction)
			r.Get("/actions", a.handleListActions)
			r.Post("/route", a.handleRoute)
			r.Put("/department", a.handleAssignDepartment)
		})
		r.Patch("/actions/{id}", a.handleUpdateAction)

		r.Get("/catalog", a.handleGetCatalog)
		r.Post("/catalog/reload", a.handleReloadCatalog)

		r.Post("/departments", a.handlePutDepartment)
		r.Put("/departments/{id}", a.handlePutDepartment)
		r.Get("/organizations/{org}/departments", a.handleListDepartments)
	})
}

type errorBody struct {
	Error string      `json:"error"`
	Kind  report.Kind `json:"kind,omitempty"`
}

func statusFor(kind report.Kind) int {
	switch kind {
	case report.KindValidation, report.KindUnknownResultCode:
		return http.StatusBadRequest
	case report.KindAuthorization:
		return http.StatusForbidden
	case report.KindNotFound:
		return http.StatusNotFound
	case report.KindConflict, report.KindAlreadyDecided:
		return http.StatusConflict
	case report.KindInvalidTransition, report.KindMissingComment, report.KindMissingAction:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeError maps engine errors to their HTTP status. Anything else is
// logged and reported as an internal error.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *report.Error
	if !errors.As(err, &e) {
		a.logger.Error(r.Context(), err, "request failed", "path", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("grievance.error_kind", string(e.Kind)))
	writeJSON(w, statusFor(e.Kind), errorBody{Error: e.Message, Kind: e.Kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return report.Errorf(report.KindValidation, "invalid payload: %v", err)
	}
	return nil
}

// actor returns the authenticated actor or writes 401.
func actor(w http.ResponseWriter, r *http.Request) (report.Actor, bool) {
	act, ok := authmw.ActorFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
		return report.Actor{}, false
	}
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("grievance.actor.id", act.ID),
		attribute.String("grievance.actor.role", string(act.Role)),
	)
	return act, true
}

func reportID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("grievance.report.id", id))
	return id
}
