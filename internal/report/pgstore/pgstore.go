// Package pgstore provides a PostgreSQL implementation of report.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/grievance/internal/report"
)

const tracerName = "github.com/linnemanlabs/grievance/internal/report/pgstore"

//go:embed schema.sql
var schema string

// Store persists reports, their history and the catalog in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema (including the default catalog seed) on pool and
// returns a ready Store. The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "pgstore."+name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

// fail marks span as failed and returns err unchanged. Domain errors are
// expected outcomes and leave the span status alone.
func fail(span trace.Span, err error) error {
	if report.KindOf(err) != "" {
		span.SetAttributes(attribute.String("report.error_kind", string(report.KindOf(err))))
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// LoadCatalog reads and validates the status, transition and filter tables.
func (s *Store) LoadCatalog(ctx context.Context) (*report.Catalog, error) {
	ctx, span := startSpan(ctx, "LoadCatalog", "SELECT")
	defer span.End()

	statuses, err := collect(ctx, s.pool,
		`SELECT id, code, label, display_order FROM status_definitions ORDER BY display_order, id`,
		nil, func(row pgx.Row) (report.StatusDefinition, error) {
			var d report.StatusDefinition
			err := row.Scan(&d.ID, &d.Code, &d.Label, &d.DisplayOrder)
			return d, err
		})
	if err != nil {
		return nil, fail(span, fmt.Errorf("query statuses: %w", err))
	}

	rules, err := collect(ctx, s.pool,
		`SELECT from_status_id, to_status_id, requires_comment, requires_action FROM transition_rules`,
		nil, func(row pgx.Row) (report.TransitionRule, error) {
			var r report.TransitionRule
			err := row.Scan(&r.FromStatusID, &r.ToStatusID, &r.RequiresComment, &r.RequiresAction)
			return r, err
		})
	if err != nil {
		return nil, fail(span, fmt.Errorf("query transition rules: %w", err))
	}

	filters, err := collect(ctx, s.pool,
		`SELECT id, code, label FROM filter_results ORDER BY id`,
		nil, func(row pgx.Row) (report.FilterResult, error) {
			var f report.FilterResult
			var code string
			err := row.Scan(&f.ID, &code, &f.Label)
			f.Code = report.FilterCode(code)
			return f, err
		})
	if err != nil {
		return nil, fail(span, fmt.Errorf("query filter results: %w", err))
	}

	cat, err := report.NewCatalog(statuses, rules, filters)
	if err != nil {
		return nil, fail(span, err)
	}
	return cat, nil
}

// SeedCatalog replaces the catalog tables with cat in one transaction.
// Statuses and filter results are upserted by id; rows cat no longer names
// are deleted, and the transition table is rewritten from cat.Rules(). A
// status or filter result still referenced by a report cannot be dropped.
func (s *Store) SeedCatalog(ctx context.Context, cat *report.Catalog) error {
	ctx, span := startSpan(ctx, "SeedCatalog", "UPSERT")
	defer span.End()

	statusIDs := make([]int, 0, len(cat.Statuses()))
	filterIDs := make([]int, 0, len(cat.FilterResults()))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM transition_rules`)
	for _, d := range cat.Statuses() {
		statusIDs = append(statusIDs, d.ID)
		batch.Queue(`INSERT INTO status_definitions (id, code, label, display_order) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, label = EXCLUDED.label, display_order = EXCLUDED.display_order`,
			d.ID, d.Code, d.Label, d.DisplayOrder)
	}
	for _, f := range cat.FilterResults() {
		filterIDs = append(filterIDs, f.ID)
		batch.Queue(`INSERT INTO filter_results (id, code, label) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, label = EXCLUDED.label`,
			f.ID, string(f.Code), f.Label)
	}
	batch.Queue(`DELETE FROM filter_results WHERE id <> ALL($1::int[])`, filterIDs)
	batch.Queue(`DELETE FROM status_definitions WHERE id <> ALL($1::int[])`, statusIDs)
	for _, r := range cat.Rules() {
		batch.Queue(`INSERT INTO transition_rules (from_status_id, to_status_id, requires_comment, requires_action) VALUES ($1, $2, $3, $4)`,
			r.FromStatusID, r.ToStatusID, r.RequiresComment, r.RequiresAction)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		if isForeignKeyViolation(err) {
			return fail(span, report.Errorf(report.KindValidation, "catalog drops a status or filter result that is still in use"))
		}
		return fail(span, fmt.Errorf("seed catalog: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	span.SetAttributes(
		attribute.Int("catalog.statuses", len(statusIDs)),
		attribute.Int("catalog.rules", len(cat.Rules())),
	)
	return nil
}

const reportColumns = `id, code, organization_id, reporter_id, status_id, filter_result_id, is_spam,
	title, description, location, risk_category_id, risk_subcategory_id, country_code,
	supplier_org_id, worksite_id, assigned_department_id, created_at, updated_at`

// CreateReport inserts r.
func (s *Store) CreateReport(ctx context.Context, r *report.Report) error {
	ctx, span := startSpan(ctx, "CreateReport", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx, `INSERT INTO reports (`+reportColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		r.ID, r.Code, r.OrganizationID, r.ReporterID, r.StatusID, r.FilterResultID, r.IsSpam,
		r.Title, r.Description, r.Location,
		r.Attributes.RiskCategoryID, r.Attributes.RiskSubcategoryID, r.Attributes.CountryCode,
		r.Attributes.SupplierOrgID, r.Attributes.WorksiteID,
		r.AssignedDepartmentID, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fail(span, report.Errorf(report.KindConflict, "report %s already exists", r.ID))
		}
		return fail(span, fmt.Errorf("insert report: %w", err))
	}
	return nil
}

// GetReport retrieves a report by ID.
func (s *Store) GetReport(ctx context.Context, id string) (*report.Report, bool, error) {
	ctx, span := startSpan(ctx, "GetReport", "SELECT")
	defer span.End()

	r, err := scanReport(s.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fail(span, fmt.Errorf("get report: %w", err))
	}
	return r, true, nil
}

// CommitTransition locks the report row, re-checks the commit's
// preconditions and writes the status, history and decision in one
// transaction.
func (s *Store) CommitTransition(ctx context.Context, c *report.TransitionCommit) (*report.Report, error) {
	ctx, span := startSpan(ctx, "CommitTransition", "UPDATE")
	defer span.End()
	span.SetAttributes(
		attribute.String("report.id", c.ReportID),
		attribute.Int("report.from_status_id", c.ExpectedStatusID),
		attribute.Int("report.to_status_id", c.TargetStatusID),
	)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	var (
		statusID int
		filterID *int
	)
	err = tx.QueryRow(ctx, `SELECT status_id, filter_result_id FROM reports WHERE id = $1 FOR UPDATE`, c.ReportID).
		Scan(&statusID, &filterID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fail(span, report.Errorf(report.KindNotFound, "report %s not found", c.ReportID))
		}
		return nil, fail(span, fmt.Errorf("lock report: %w", err))
	}
	if statusID != c.ExpectedStatusID {
		return nil, fail(span, report.Errorf(report.KindConflict, "report %s changed status concurrently", c.ReportID))
	}
	if c.Filter != nil && filterID != nil {
		return nil, fail(span, report.Errorf(report.KindAlreadyDecided, "report %s has already been filtered", c.ReportID))
	}
	if c.RequireAction {
		var hasAction bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM report_actions WHERE report_id = $1)`, c.ReportID).Scan(&hasAction); err != nil {
			return nil, fail(span, fmt.Errorf("check actions: %w", err))
		}
		if !hasAction {
			return nil, fail(span, report.Errorf(report.KindMissingAction, "report %s has no actions", c.ReportID))
		}
	}

	var newFilterID *int
	if c.Filter != nil {
		id := c.Filter.FilterResultID
		newFilterID = &id
	}
	r, err := scanReport(tx.QueryRow(ctx, `UPDATE reports SET
			status_id = $2,
			filter_result_id = COALESCE($3, filter_result_id),
			is_spam = is_spam OR $4,
			updated_at = $5
		WHERE id = $1
		RETURNING `+reportColumns,
		c.ReportID, c.TargetStatusID, newFilterID, c.MarkSpam, c.At,
	))
	if err != nil {
		return nil, fail(span, fmt.Errorf("update report: %w", err))
	}

	h := c.History
	if _, err := tx.Exec(ctx, `INSERT INTO report_status_history (id, report_id, status_id, comment_text, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		h.ID, c.ReportID, h.StatusID, h.Comment, h.ChangedBy, h.ChangedAt,
	); err != nil {
		return nil, fail(span, fmt.Errorf("insert history: %w", err))
	}

	if d := c.Filter; d != nil {
		if _, err := tx.Exec(ctx, `INSERT INTO report_filter_decisions
			(report_id, filter_result_id, reasoning, is_auto, needs_super_review, decided_by, decided_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			c.ReportID, d.FilterResultID, d.Reasoning, d.IsAuto, d.NeedsSuperReview, d.DecidedBy, d.DecidedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return nil, fail(span, report.Errorf(report.KindAlreadyDecided, "report %s has already been filtered", c.ReportID))
			}
			return nil, fail(span, fmt.Errorf("insert filter decision: %w", err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fail(span, fmt.Errorf("commit: %w", err))
	}
	return r, nil
}

// AssignDepartment sets or clears the report's department.
func (s *Store) AssignDepartment(ctx context.Context, reportID string, departmentID *string, at time.Time) (*report.Report, error) {
	ctx, span := startSpan(ctx, "AssignDepartment", "UPDATE")
	defer span.End()

	r, err := scanReport(s.pool.QueryRow(ctx,
		`UPDATE reports SET assigned_department_id = $2, updated_at = $3 WHERE id = $1 RETURNING `+reportColumns,
		reportID, departmentID, at,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fail(span, report.Errorf(report.KindNotFound, "report %s not found", reportID))
		}
		return nil, fail(span, fmt.Errorf("assign department: %w", err))
	}
	return r, nil
}

// ListStatusHistory returns the report's history, most recent first.
func (s *Store) ListStatusHistory(ctx context.Context, reportID string) ([]report.StatusHistoryEntry, error) {
	ctx, span := startSpan(ctx, "ListStatusHistory", "SELECT")
	defer span.End()

	entries, err := collect(ctx, s.pool,
		`SELECT id, report_id, status_id, comment_text, changed_by, changed_at
		 FROM report_status_history WHERE report_id = $1 ORDER BY changed_at DESC, id DESC`,
		[]any{reportID}, func(row pgx.Row) (report.StatusHistoryEntry, error) {
			var e report.StatusHistoryEntry
			err := row.Scan(&e.ID, &e.ReportID, &e.StatusID, &e.Comment, &e.ChangedBy, &e.ChangedAt)
			return e, err
		})
	if err != nil {
		return nil, fail(span, fmt.Errorf("query history: %w", err))
	}
	return entries, nil
}

// GetFilterDecision returns the report's filter decision.
func (s *Store) GetFilterDecision(ctx context.Context, reportID string) (*report.FilterDecision, bool, error) {
	ctx, span := startSpan(ctx, "GetFilterDecision", "SELECT")
	defer span.End()

	var d report.FilterDecision
	err := s.pool.QueryRow(ctx,
		`SELECT report_id, filter_result_id, reasoning, is_auto, needs_super_review, decided_by, decided_at
		 FROM report_filter_decisions WHERE report_id = $1`, reportID,
	).Scan(&d.ReportID, &d.FilterResultID, &d.Reasoning, &d.IsAuto, &d.NeedsSuperReview, &d.DecidedBy, &d.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fail(span, fmt.Errorf("get filter decision: %w", err))
	}
	return &d, true, nil
}

const actionColumns = `id, report_id, description, status_code, due_date, created_at, updated_at`

// CreateAction inserts a.
func (s *Store) CreateAction(ctx context.Context, a *report.Action) error {
	ctx, span := startSpan(ctx, "CreateAction", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx, `INSERT INTO report_actions (`+actionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.ReportID, a.Description, string(a.StatusCode), a.DueDate, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return fail(span, report.Errorf(report.KindConflict, "action %s already exists", a.ID))
		case isForeignKeyViolation(err):
			return fail(span, report.Errorf(report.KindNotFound, "report %s not found", a.ReportID))
		}
		return fail(span, fmt.Errorf("insert action: %w", err))
	}
	return nil
}

// GetAction retrieves an action by ID.
func (s *Store) GetAction(ctx context.Context, id string) (*report.Action, bool, error) {
	ctx, span := startSpan(ctx, "GetAction", "SELECT")
	defer span.End()

	a, err := scanAction(s.pool.QueryRow(ctx, `SELECT `+actionColumns+` FROM report_actions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fail(span, fmt.Errorf("get action: %w", err))
	}
	return &a, true, nil
}

// UpdateActionStatus changes an action's status.
func (s *Store) UpdateActionStatus(ctx context.Context, id string, status report.ActionStatus, at time.Time) (*report.Action, error) {
	ctx, span := startSpan(ctx, "UpdateActionStatus", "UPDATE")
	defer span.End()

	a, err := scanAction(s.pool.QueryRow(ctx,
		`UPDATE report_actions SET status_code = $2, updated_at = $3 WHERE id = $1 RETURNING `+actionColumns,
		id, string(status), at,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fail(span, report.Errorf(report.KindNotFound, "action %s not found", id))
		}
		return nil, fail(span, fmt.Errorf("update action: %w", err))
	}
	return &a, nil
}

// ListActions returns the report's actions in creation order.
func (s *Store) ListActions(ctx context.Context, reportID string) ([]report.Action, error) {
	ctx, span := startSpan(ctx, "ListActions", "SELECT")
	defer span.End()

	actions, err := collect(ctx, s.pool,
		`SELECT `+actionColumns+` FROM report_actions WHERE report_id = $1 ORDER BY created_at, id`,
		[]any{reportID}, scanAction)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query actions: %w", err))
	}
	return actions, nil
}

const departmentColumns = `id, organization_id, name, priority, is_active,
	risk_categories, risk_subcategories, countries, supplier_orgs, worksites`

// PutDepartment inserts or replaces d.
func (s *Store) PutDepartment(ctx context.Context, d *report.Department) error {
	ctx, span := startSpan(ctx, "PutDepartment", "UPSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx, `INSERT INTO departments (`+departmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name               = EXCLUDED.name,
			priority           = EXCLUDED.priority,
			is_active          = EXCLUDED.is_active,
			risk_categories    = EXCLUDED.risk_categories,
			risk_subcategories = EXCLUDED.risk_subcategories,
			countries          = EXCLUDED.countries,
			supplier_orgs      = EXCLUDED.supplier_orgs,
			worksites          = EXCLUDED.worksites`,
		d.ID, d.OrganizationID, d.Name, d.Priority, d.IsActive,
		scopeArg(d.Scope.RiskCategories), scopeArg(d.Scope.RiskSubcategories), scopeArg(d.Scope.Countries),
		scopeArg(d.Scope.SupplierOrgs), scopeArg(d.Scope.Worksites),
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert department: %w", err))
	}
	return nil
}

// GetDepartment retrieves a department by ID.
func (s *Store) GetDepartment(ctx context.Context, id string) (*report.Department, bool, error) {
	ctx, span := startSpan(ctx, "GetDepartment", "SELECT")
	defer span.End()

	d, err := scanDepartment(s.pool.QueryRow(ctx, `SELECT `+departmentColumns+` FROM departments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fail(span, fmt.Errorf("get department: %w", err))
	}
	return &d, true, nil
}

// ListDepartments returns an organisation's departments ordered by priority.
func (s *Store) ListDepartments(ctx context.Context, organizationID string) ([]report.Department, error) {
	ctx, span := startSpan(ctx, "ListDepartments", "SELECT")
	defer span.End()

	departments, err := collect(ctx, s.pool,
		`SELECT `+departmentColumns+` FROM departments WHERE organization_id = $1 ORDER BY priority, id`,
		[]any{organizationID}, scanDepartment)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query departments: %w", err))
	}
	return departments, nil
}

func collect[T any](ctx context.Context, pool *pgxpool.Pool, query string, args []any, scan func(pgx.Row) (T, error)) ([]T, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return out, nil
}

func scanReport(row pgx.Row) (*report.Report, error) {
	var r report.Report
	err := row.Scan(
		&r.ID, &r.Code, &r.OrganizationID, &r.ReporterID, &r.StatusID, &r.FilterResultID, &r.IsSpam,
		&r.Title, &r.Description, &r.Location,
		&r.Attributes.RiskCategoryID, &r.Attributes.RiskSubcategoryID, &r.Attributes.CountryCode,
		&r.Attributes.SupplierOrgID, &r.Attributes.WorksiteID,
		&r.AssignedDepartmentID, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanAction(row pgx.Row) (report.Action, error) {
	var (
		a      report.Action
		status string
	)
	err := row.Scan(&a.ID, &a.ReportID, &a.Description, &status, &a.DueDate, &a.CreatedAt, &a.UpdatedAt)
	a.StatusCode = report.ActionStatus(status)
	return a, err
}

func scanDepartment(row pgx.Row) (report.Department, error) {
	var (
		d                                  report.Department
		cats, subcats, countries, sup, wks *[]string
	)
	err := row.Scan(&d.ID, &d.OrganizationID, &d.Name, &d.Priority, &d.IsActive,
		&cats, &subcats, &countries, &sup, &wks)
	if err != nil {
		return d, err
	}
	d.Scope = report.DepartmentScope{
		RiskCategories:    scopeFromColumn(cats),
		RiskSubcategories: scopeFromColumn(subcats),
		Countries:         scopeFromColumn(countries),
		SupplierOrgs:      scopeFromColumn(sup),
		Worksites:         scopeFromColumn(wks),
	}
	return d, nil
}

// scopeArg encodes a wildcard as SQL NULL and a restricted scope as an
// array, possibly empty.
func scopeArg(s report.Scope) any {
	if s.IsWildcard() {
		return nil
	}
	return s.Values()
}

func scopeFromColumn(v *[]string) report.Scope {
	if v == nil {
		return report.AnyScope()
	}
	return report.ScopeOf(*v...)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

var _ report.Store = (*Store)(nil)
